package audio

import (
	"sync"
	"sync/atomic"
)

// pauseLatch blocks the capture producer while the session is paused.
//
// Two independent holders can close the latch: the user (Pause/Resume) and
// any number of suspensions taken by the consumer while it gates a segment.
// The producer proceeds only when neither holds it. The atomic flag keeps the
// unpaused fast path lock-free.
type pauseLatch struct {
	paused atomic.Bool

	mu     sync.Mutex
	cond   *sync.Cond
	user   bool
	holds  int
	closed bool
	gen    uint64
}

func newPauseLatch() *pauseLatch {
	l := &pauseLatch{}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// wait blocks while the latch is held. It returns false once the latch has
// been closed for shutdown.
func (l *pauseLatch) wait() bool {
	if !l.paused.Load() {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for (l.user || l.holds > 0) && !l.closed {
		l.cond.Wait()
	}
	return !l.closed
}

func (l *pauseLatch) setUser(paused bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.user = paused
	l.updateLocked()
}

// hold closes the latch until the returned release func is called. Release
// is idempotent and becomes a no-op after the latch is reset.
func (l *pauseLatch) hold() (release func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.holds++
	l.updateLocked()
	gen := l.gen
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if gen != l.gen {
				return
			}
			l.holds--
			l.updateLocked()
		})
	}
}

// close wakes the producer for shutdown.
func (l *pauseLatch) close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	l.cond.Broadcast()
}

// reset reopens the latch for a new session and invalidates outstanding
// holds.
func (l *pauseLatch) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.user = false
	l.holds = 0
	l.closed = false
	l.gen++
	l.updateLocked()
}

func (l *pauseLatch) updateLocked() {
	paused := l.user || l.holds > 0
	l.paused.Store(paused)
	if !paused {
		l.cond.Broadcast()
	}
}

func (l *pauseLatch) isPaused() bool { return l.paused.Load() }
