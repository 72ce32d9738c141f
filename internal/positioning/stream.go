package positioning

import (
	"context"
	"sync"
	"time"

	"navi/internal/types"
)

// stream is the Subscription shared by every Source in this package. It
// applies the watch options before a fix is delivered.
type stream struct {
	ctx       context.Context
	cancel    context.CancelFunc
	opts      WatchOptions
	now       func() time.Time
	positions chan types.Position
	errs      chan error
	stopOnce  sync.Once
}

func newStream(ctx context.Context, opts WatchOptions, now func() time.Time) *stream {
	if opts.MaximumAge <= 0 {
		opts.MaximumAge = DefaultMaximumAge
	}
	if now == nil {
		now = time.Now
	}
	ctx, cancel := context.WithCancel(ctx)
	return &stream{
		ctx:       ctx,
		cancel:    cancel,
		opts:      opts,
		now:       now,
		positions: make(chan types.Position, 16),
		errs:      make(chan error, 4),
	}
}

func (s *stream) Positions() <-chan types.Position { return s.positions }
func (s *stream) Errors() <-chan error             { return s.errs }

func (s *stream) Stop() {
	s.stopOnce.Do(s.cancel)
}

func (s *stream) Done() <-chan struct{} {
	return s.ctx.Done()
}

// accept reports whether p is fresh and accurate enough for the options.
func (s *stream) accept(p types.Position) bool {
	return Accept(s.opts, p, s.now())
}

// Accept applies the MaximumAge and high-accuracy filters to one fix.
func Accept(opts WatchOptions, p types.Position, now time.Time) bool {
	if opts.MaximumAge > 0 && now.Sub(p.Time()) > opts.MaximumAge {
		return false
	}
	if opts.EnableHighAccuracy && p.Coords.Accuracy > LowAccuracyMeters {
		return false
	}
	return true
}

// publish delivers p if it passes the filters. It blocks until the consumer
// reads it or the stream stops, and reports whether the stream is still live.
func (s *stream) publish(p types.Position) bool {
	if !s.accept(p) {
		return s.ctx.Err() == nil
	}
	select {
	case s.positions <- p:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// fail queues err without blocking; errors are dropped while the queue is full.
func (s *stream) fail(err error) {
	select {
	case s.errs <- err:
	case <-s.ctx.Done():
	default:
	}
}
