package convert

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrBackendDown is returned while a Breaker is open.
var ErrBackendDown = errors.New("convert: backend down, failing fast")

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case breakerOpen:
		return "open"
	case breakerHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// BreakerConfig configures a Breaker.
type BreakerConfig struct {
	Threshold int           // consecutive failures that open it. Default 5.
	Reset     time.Duration // time open before a trial call is let through. Default 30s.
	Logger    *slog.Logger
}

// Breaker stops calling an external backend after Threshold consecutive
// failures. While open, calls fail with ErrBackendDown; after Reset one
// trial call is let through, and its outcome closes or reopens it.
// Unsupported formats and caller cancellation are not failures.
type Breaker struct {
	next Converter
	cfg  BreakerConfig
	now  func() time.Time

	mu       sync.Mutex
	state    breakerState
	failures int
	openedAt time.Time
}

// NewBreaker wraps next.
func NewBreaker(next Converter, cfg BreakerConfig) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Reset <= 0 {
		cfg.Reset = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Breaker{next: next, cfg: cfg, now: time.Now}
}

func (b *Breaker) Convert(ctx context.Context, doc []byte, f Format) ([]byte, error) {
	if !b.allow() {
		return nil, ErrBackendDown
	}
	out, err := b.next.Convert(ctx, doc, f)
	switch {
	case err == nil:
		b.record(true)
	case errors.Is(err, ErrUnsupportedFormat), errors.Is(err, context.Canceled):
		b.release()
	default:
		b.record(false)
	}
	return out, err
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case breakerOpen:
		if b.now().Sub(b.openedAt) < b.cfg.Reset {
			return false
		}
		b.transition(breakerHalfOpen)
		return true
	case breakerHalfOpen:
		// A trial call is in flight.
		return false
	}
	return true
}

// release ends a trial call that proved nothing.
func (b *Breaker) release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == breakerHalfOpen {
		b.openedAt = b.now().Add(-b.cfg.Reset)
		b.transition(breakerOpen)
	}
}

func (b *Breaker) record(ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ok {
		b.failures = 0
		if b.state != breakerClosed {
			b.transition(breakerClosed)
		}
		return
	}
	b.failures++
	if b.state == breakerHalfOpen || b.failures >= b.cfg.Threshold {
		b.openedAt = b.now()
		if b.state != breakerOpen {
			b.transition(breakerOpen)
		}
	}
}

// transition must be called with mu held.
func (b *Breaker) transition(to breakerState) {
	b.cfg.Logger.Warn("convert: breaker", "from", b.state.String(), "to", to.String(), "failures", b.failures)
	b.state = to
}

// Close closes the wrapped converter when it has a Close method.
func (b *Breaker) Close() error {
	if c, ok := b.next.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
