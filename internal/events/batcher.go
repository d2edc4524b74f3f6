package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitewatch/internal/watch"
)

// batcher forwards events to sinks in size- or time-bounded batches.
type batcher struct {
	cfg    Config
	sinks  []Sink
	events chan watch.ChangeEvent
	stopCh chan struct{}
	doneCh chan struct{}
	logger *zap.Logger
	closed atomic.Bool

	closeOnce sync.Once
	closeCtx  context.Context
}

func newBatcher(cfg Config, logger *zap.Logger, sinks []Sink) *batcher {
	b := &batcher{
		cfg:    cfg,
		sinks:  append([]Sink(nil), sinks...),
		events: make(chan watch.ChangeEvent, cfg.SinkBuffer),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		logger: logger,
	}
	go b.run()
	return b
}

// offer enqueues evt without blocking and reports whether it was accepted.
func (b *batcher) offer(evt watch.ChangeEvent) bool {
	if b.closed.Load() {
		return false
	}
	select {
	case b.events <- evt:
		return true
	default:
		return false
	}
}

func (b *batcher) close(ctx context.Context) error {
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		b.closeCtx = ctx
		close(b.stopCh)
	})
	select {
	case <-b.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("sink drain wait: %w", ctx.Err())
	}
}

func (b *batcher) run() {
	defer close(b.doneCh)
	batch := make([]watch.ChangeEvent, 0, b.cfg.MaxBatchEvents)
	timer := time.NewTimer(b.cfg.MaxBatchWait)
	timer.Stop()
	timerActive := false
	for {
		select {
		case evt := <-b.events:
			batch = append(batch, evt)
			if len(batch) >= b.cfg.MaxBatchEvents {
				b.flush(batch)
				batch = batch[:0]
				stopTimer(timer, &timerActive)
			} else {
				resetTimer(timer, &timerActive, b.cfg.MaxBatchWait)
			}
		case <-timer.C:
			timerActive = false
			if len(batch) > 0 {
				b.flush(batch)
				batch = batch[:0]
			}
		case <-b.stopCh:
			stopTimer(timer, &timerActive)
			b.drain(batch)
			return
		}
	}
}

func (b *batcher) drain(batch []watch.ChangeEvent) {
	for {
		select {
		case evt := <-b.events:
			batch = append(batch, evt)
			if len(batch) >= b.cfg.MaxBatchEvents {
				b.flush(batch)
				batch = batch[:0]
			}
		default:
			if len(batch) > 0 {
				b.flush(batch)
			}
			b.closeSinks()
			return
		}
	}
}

func (b *batcher) flush(batch []watch.ChangeEvent) {
	copyBatch := append([]watch.ChangeEvent(nil), batch...)
	for _, sink := range b.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(b.cfg.BaseContext, b.cfg.SinkTimeout)
		if err := sink.Consume(ctx, copyBatch); err != nil {
			b.logger.Warn("event sink consume failed", zap.Int("batch", len(copyBatch)), zap.Error(err))
		}
		cancel()
	}
}

func (b *batcher) closeSinks() {
	ctx := b.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range b.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(ctx); err != nil {
			b.logger.Warn("event sink close failed", zap.Error(err))
		}
	}
}

func resetTimer(timer *time.Timer, active *bool, d time.Duration) {
	if *active {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
	}
	timer.Reset(d)
	*active = true
}

func stopTimer(timer *time.Timer, active *bool) {
	if !*active {
		return
	}
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	*active = false
}
