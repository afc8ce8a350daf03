package convert

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// SerialConfig configures a Serial converter.
type SerialConfig struct {
	// Timeout bounds each call, queueing included. Default: 2m.
	Timeout time.Duration

	Logger *slog.Logger
}

func (c *SerialConfig) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 2 * time.Minute
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

type request struct {
	ctx   context.Context
	doc   []byte
	f     Format
	reply chan result
}

type result struct {
	out []byte
	err error
}

// Serial funnels every conversion through one worker goroutine, so the
// wrapped backend only ever sees one call at a time.
type Serial struct {
	next Converter
	cfg  SerialConfig

	reqs chan request
	quit chan struct{}
	done chan struct{}
	once sync.Once
}

// NewSerial starts the worker. Call Close to stop it.
func NewSerial(next Converter, cfg SerialConfig) *Serial {
	cfg.defaults()
	s := &Serial{
		next: next,
		cfg:  cfg,
		reqs: make(chan request),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go s.loop()
	return s
}

func (s *Serial) loop() {
	defer close(s.done)
	for {
		select {
		case req := <-s.reqs:
			start := time.Now()
			out, err := s.next.Convert(req.ctx, req.doc, req.f)
			s.cfg.Logger.Debug("convert: call done", "format", req.f, "duration", time.Since(start), "error", err)
			req.reply <- result{out: out, err: err}
		case <-s.quit:
			return
		}
	}
}

// Convert queues one conversion and waits at most Timeout for its result.
func (s *Serial) Convert(ctx context.Context, doc []byte, f Format) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	req := request{ctx: ctx, doc: doc, f: f, reply: make(chan result, 1)}
	select {
	case s.reqs <- req:
	case <-s.quit:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, fmt.Errorf("convert: waiting for session: %w", ctx.Err())
	}

	select {
	case r := <-req.reply:
		if r.err != nil {
			return nil, fmt.Errorf("convert: %s: %w", f, r.err)
		}
		return r.out, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("convert: %s: %w", f, ctx.Err())
	}
}

// Close stops the worker after its current call and closes the wrapped
// backend when it has a Close method.
func (s *Serial) Close() error {
	var err error
	s.once.Do(func() {
		close(s.quit)
		<-s.done
		if c, ok := s.next.(interface{ Close() error }); ok {
			err = c.Close()
		}
	})
	return err
}
