// Package batcher groups queued items and hands them to a flush function once
// enough items are buffered or a flush interval passes.
package batcher

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/ratelimit"
	"go.uber.org/zap"
)

// ErrStopped is returned by Add after Stop.
var ErrStopped = errors.New("batcher stopped")

// Config controls when a batch is flushed.
type Config struct {
	// Size flushes as soon as this many items are buffered.
	Size int
	// Interval flushes a partial batch at least this often.
	Interval time.Duration
	// RPS caps the number of flushes per second.
	RPS int
}

// Batcher buffers items in a background goroutine.
type Batcher[T any] struct {
	cfg     Config
	flushFn func(context.Context, []T) error
	queue   chan T
	limiter ratelimit.Limiter
	logger  *zap.Logger

	wg       sync.WaitGroup
	done     chan struct{}
	stopOnce sync.Once
}

// New constructs a Batcher. Non-positive config values fall back to a batch of
// one, a one second interval and an unlimited flush rate.
func New[T any](cfg Config, flush func(context.Context, []T) error, logger *zap.Logger) *Batcher[T] {
	if cfg.Size < 1 {
		cfg.Size = 1
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	limiter := ratelimit.NewUnlimited()
	if cfg.RPS > 0 {
		limiter = ratelimit.New(cfg.RPS)
	}
	return &Batcher[T]{
		cfg:     cfg,
		flushFn: flush,
		queue:   make(chan T, cfg.Size*2),
		limiter: limiter,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// Start launches the flushing loop. It ends when ctx is done or Stop is called.
func (b *Batcher[T]) Start(ctx context.Context) {
	b.wg.Add(1)
	go b.run(ctx)
}

// Stop flushes whatever is queued and waits for the loop to exit.
func (b *Batcher[T]) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
	})
	b.wg.Wait()
}

// Add queues item, blocking while the queue is full.
func (b *Batcher[T]) Add(ctx context.Context, item T) error {
	select {
	case <-b.done:
		return ErrStopped
	default:
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-b.done:
		return ErrStopped
	case b.queue <- item:
		return nil
	}
}

func (b *Batcher[T]) run(ctx context.Context) {
	defer b.wg.Done()

	ticker := time.NewTicker(b.cfg.Interval)
	defer ticker.Stop()

	buf := make([]T, 0, b.cfg.Size)
	flush := func(ctx context.Context) {
		if len(buf) == 0 {
			return
		}
		b.limiter.Take()
		if err := b.flushFn(ctx, buf); err != nil {
			b.logger.Error("batch not flushed", zap.Int("size", len(buf)), zap.Error(err))
		} else {
			b.logger.Debug("batch flushed", zap.Int("size", len(buf)))
		}
		buf = buf[:0]
	}
	drain := func() {
		final := context.WithoutCancel(ctx)
		for {
			select {
			case item := <-b.queue:
				buf = append(buf, item)
				if len(buf) >= b.cfg.Size {
					flush(final)
				}
			default:
				flush(final)
				return
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			drain()
			return
		case <-b.done:
			drain()
			return
		case item := <-b.queue:
			buf = append(buf, item)
			if len(buf) >= b.cfg.Size {
				flush(ctx)
			}
		case <-ticker.C:
			flush(ctx)
		}
	}
}
