// Package remote provides collaborators backed by an analysis service
// reachable over a WebSocket connection. A single [Client] implements
// quality.Scorer, liveness.Scorer and snr.Computer.
//
// The protocol is one JSON request and one JSON response per call over a
// persistent connection:
//
//	→ {"id":1,"op":"quality","sample_rate":16000,"pcm":"<base64>","thresholds":{...}}
//	← {"id":1,"description":"ok","metrics":{"snr_db":21.5,"speech_ms":1200,...}}
//
// Calls are serialised on the connection. A failed call drops the connection;
// the next call redials.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/voxgate/pkg/provider/liveness"
	"github.com/MrWong99/voxgate/pkg/provider/quality"
	"github.com/MrWong99/voxgate/pkg/provider/snr"
)

const (
	defaultTimeout  = 10 * time.Second
	defaultReadSize = 1 << 20
)

const (
	opQuality  = "quality"
	opLiveness = "liveness"
	opSNR      = "snr"
)

// Option is a functional option for configuring the Client.
type Option func(*Client)

// WithAPIKey sends the key as a bearer token when dialling.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithTimeout bounds each call, including a redial. Default: 10s.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// Client is a remote analysis client. It is safe for concurrent use.
type Client struct {
	url     string
	apiKey  string
	timeout time.Duration

	mu     sync.Mutex
	conn   *websocket.Conn
	nextID uint64
	closed bool
}

var (
	_ quality.Scorer  = (*Client)(nil)
	_ liveness.Scorer = (*Client)(nil)
	_ snr.Computer    = (*Client)(nil)
)

// New creates a Client for the ws:// or wss:// endpoint rawURL. The
// connection is established lazily on the first call.
func New(rawURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("remote: parse URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("remote: URL scheme must be ws or wss, got %q", u.Scheme)
	}
	c := &Client{url: rawURL, timeout: defaultTimeout}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

type thresholdsJSON struct {
	MinSNR                         float64 `json:"min_snr_db"`
	MinSpeechMs                    int64   `json:"min_speech_ms"`
	MinSpeechRelativeLength        float64 `json:"min_speech_relative"`
	MaxMultipleSpeakersProbability float64 `json:"max_multiple_speakers"`
}

type metricsJSON struct {
	SNR                  float64 `json:"snr_db"`
	SpeechMs             int64   `json:"speech_ms"`
	SpeechRelativeLength float64 `json:"speech_relative"`
	MultipleSpeakers     float64 `json:"multiple_speakers"`
}

type request struct {
	ID         uint64          `json:"id"`
	Op         string          `json:"op"`
	SampleRate int             `json:"sample_rate"`
	PCM        []byte          `json:"pcm"`
	Thresholds *thresholdsJSON `json:"thresholds,omitempty"`
}

type response struct {
	ID          uint64       `json:"id"`
	Error       string       `json:"error,omitempty"`
	Description string       `json:"description,omitempty"`
	Metrics     *metricsJSON `json:"metrics,omitempty"`
	Probability float64      `json:"probability,omitempty"`
	SNR         float64      `json:"snr_db,omitempty"`
}

// Score implements [quality.Scorer].
func (c *Client) Score(ctx context.Context, pcm []byte, sampleRate int, th quality.Thresholds) (quality.Result, error) {
	resp, err := c.call(ctx, request{
		Op:         opQuality,
		SampleRate: sampleRate,
		PCM:        pcm,
		Thresholds: &thresholdsJSON{
			MinSNR:                         th.MinSNR,
			MinSpeechMs:                    th.MinSpeechLength.Milliseconds(),
			MinSpeechRelativeLength:        th.MinSpeechRelativeLength,
			MaxMultipleSpeakersProbability: th.MaxMultipleSpeakersProbability,
		},
	})
	if err != nil {
		return quality.Result{}, err
	}
	desc, err := quality.ParseDescription(resp.Description)
	if err != nil {
		return quality.Result{}, fmt.Errorf("remote: %w", err)
	}
	res := quality.Result{Description: desc}
	if m := resp.Metrics; m != nil {
		res.Metrics = quality.Metrics{
			SNR:                         m.SNR,
			SpeechLength:                time.Duration(m.SpeechMs) * time.Millisecond,
			SpeechRelativeLength:        m.SpeechRelativeLength,
			MultipleSpeakersProbability: m.MultipleSpeakers,
		}
	}
	return res, nil
}

// Check implements [liveness.Scorer].
func (c *Client) Check(ctx context.Context, pcm []byte, sampleRate int) (float64, error) {
	resp, err := c.call(ctx, request{Op: opLiveness, SampleRate: sampleRate, PCM: pcm})
	if err != nil {
		return 0, err
	}
	if resp.Probability < 0 || resp.Probability > 1 {
		return 0, fmt.Errorf("remote: liveness probability %v out of range", resp.Probability)
	}
	return resp.Probability, nil
}

// Compute implements [snr.Computer].
func (c *Client) Compute(ctx context.Context, pcm []byte, sampleRate int) (float64, error) {
	resp, err := c.call(ctx, request{Op: opSNR, SampleRate: sampleRate, PCM: pcm})
	if err != nil {
		return 0, err
	}
	return resp.SNR, nil
}

// Close closes the connection. Subsequent calls fail.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close(websocket.StatusNormalClosure, "client closed")
	c.conn = nil
	return err
}

var errClosed = errors.New("remote: client closed")

func (c *Client) call(ctx context.Context, req request) (response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return response{}, errClosed
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if c.conn == nil {
		if err := c.dialLocked(ctx); err != nil {
			return response{}, err
		}
	}

	c.nextID++
	req.ID = c.nextID

	var resp response
	if err := wsjson.Write(ctx, c.conn, req); err != nil {
		c.dropLocked()
		return response{}, fmt.Errorf("remote: %s: write: %w", req.Op, err)
	}
	if err := wsjson.Read(ctx, c.conn, &resp); err != nil {
		c.dropLocked()
		return response{}, fmt.Errorf("remote: %s: read: %w", req.Op, err)
	}
	if resp.ID != req.ID {
		c.dropLocked()
		return response{}, fmt.Errorf("remote: %s: response id %d does not match request %d", req.Op, resp.ID, req.ID)
	}
	if resp.Error != "" {
		return response{}, fmt.Errorf("remote: %s: %s", req.Op, resp.Error)
	}
	return resp, nil
}

func (c *Client) dialLocked(ctx context.Context) error {
	opts := &websocket.DialOptions{}
	if c.apiKey != "" {
		headers := http.Header{}
		headers.Set("Authorization", "Bearer "+c.apiKey)
		opts.HTTPHeader = headers
	}
	conn, _, err := websocket.Dial(ctx, c.url, opts)
	if err != nil {
		return fmt.Errorf("remote: dial: %w", err)
	}
	conn.SetReadLimit(defaultReadSize)
	c.conn = conn
	return nil
}

func (c *Client) dropLocked() {
	if c.conn != nil {
		_ = c.conn.CloseNow()
		c.conn = nil
	}
}
