package resilience

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"
)

func newGroup(names ...string) *FallbackGroup[string] {
	fg := NewFallbackGroup(names[0], names[0], FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour},
	})
	for _, n := range names[1:] {
		fg.AddFallback(n, n)
	}
	return fg
}

func TestFallbackGroup_Execute(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		failing []string
		want    []string
		wantErr error
	}{
		{"primary succeeds", nil, []string{"primary"}, nil},
		{"fails over", []string{"primary"}, []string{"primary", "secondary"}, nil},
		{"all fail", []string{"primary", "secondary"}, []string{"primary", "secondary"}, ErrAllFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fg := newGroup("primary", "secondary")
			var called []string
			err := fg.Execute(context.Background(), func(_ context.Context, v string) error {
				called = append(called, v)
				if slices.Contains(tt.failing, v) {
					return errTest
				}
				return nil
			})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil && !errors.Is(err, errTest) {
				t.Errorf("err = %v does not wrap the last backend error", err)
			}
			if !slices.Equal(called, tt.want) {
				t.Errorf("called = %v, want %v", called, tt.want)
			}
		})
	}
}

func TestFallbackGroup_SkipsOpenEntry(t *testing.T) {
	t.Parallel()
	fg := newGroup("primary", "secondary")
	for range 2 {
		_ = fg.Execute(context.Background(), func(_ context.Context, v string) error {
			if v == "primary" {
				return errTest
			}
			return nil
		})
	}

	want := []EntryStatus{{"primary", StateOpen}, {"secondary", StateClosed}}
	if got := fg.Status(); !slices.Equal(got, want) {
		t.Errorf("Status = %v, want %v", got, want)
	}
	if !fg.Healthy() {
		t.Error("Healthy = false with a closed entry")
	}

	got, err := ExecuteWithResult(context.Background(), fg, func(_ context.Context, v string) (string, error) {
		return "from " + v, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if got != "from secondary" {
		t.Errorf("result = %q, want from secondary", got)
	}
}

func TestFallbackGroup_Unhealthy(t *testing.T) {
	t.Parallel()
	fg := newGroup("only")
	for range 2 {
		_ = fg.Execute(context.Background(), func(context.Context, string) error { return errTest })
	}
	if fg.Healthy() {
		t.Error("Healthy = true with every breaker open")
	}
	err := fg.Execute(context.Background(), func(context.Context, string) error { return nil })
	if !errors.Is(err, ErrAllFailed) || !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("err = %v, want ErrAllFailed wrapping ErrCircuitOpen", err)
	}
}

func TestFallbackGroup_CancellationStopsFailover(t *testing.T) {
	t.Parallel()
	fg := newGroup("primary", "secondary")
	ctx, cancel := context.WithCancel(context.Background())

	var called []string
	err := fg.Execute(ctx, func(ctx context.Context, v string) error {
		called = append(called, v)
		cancel()
		return ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if errors.Is(err, ErrAllFailed) {
		t.Error("cancellation reported as ErrAllFailed")
	}
	if !slices.Equal(called, []string{"primary"}) {
		t.Errorf("called = %v, want only primary", called)
	}
	for _, st := range fg.Status() {
		if st.State != StateClosed {
			t.Errorf("%s: state = %v after cancellation", st.Name, st.State)
		}
	}
}

func TestFallbackGroup_Each(t *testing.T) {
	t.Parallel()
	fg := newGroup("a", "b", "c")
	var names []string
	fg.Each(func(name, _ string) { names = append(names, name) })
	if !slices.Equal(names, []string{"a", "b", "c"}) || fg.Len() != 3 {
		t.Errorf("names = %v, Len = %d", names, fg.Len())
	}
}
