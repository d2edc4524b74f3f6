package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitewatch/internal/watch"
)

// Config controls buffering for the Bus.
//   - SubscriberBuffer: per-subscriber channel capacity (default 1000).
//   - SinkBuffer: capacity of the queue feeding sinks (default 4096).
//   - MaxBatchEvents: flush sinks once this many events queue (default 100).
//   - MaxBatchWait: flush sinks after this duration even if the batch is small (default 500ms).
//   - SinkTimeout: per-sink timeout while flushing (default 10s).
//   - BaseContext: parent context passed to sink calls (defaults to context.Background()).
//   - Logger: optional structured logger used for warnings.
type Config struct {
	SubscriberBuffer int
	SinkBuffer       int
	MaxBatchEvents   int
	MaxBatchWait     time.Duration
	SinkTimeout      time.Duration
	BaseContext      context.Context
	Logger           *zap.Logger
}

const (
	defaultSubscriberBuffer = 1000
	defaultSinkBuffer       = 4096
	defaultMaxBatchEvents   = 100
	defaultMaxBatchWait     = 500 * time.Millisecond
	defaultSinkTimeout      = 10 * time.Second
	dropLogInterval         = 5 * time.Second
)

// Bus is a best-effort publish/subscribe hub for ChangeEvents. It is safe for
// concurrent use and Publish never blocks.
type Bus struct {
	cfg    Config
	logger *zap.Logger

	mu   sync.RWMutex
	subs map[string]*Subscription

	batcher *batcher

	dropLimiter rateLimiter
	dropped     atomic.Int64
	published   atomic.Int64
	closed      atomic.Bool
	closeOnce   sync.Once
}

// NewBus builds a Bus. When sinks are supplied a background goroutine batches
// events to them until Close.
func NewBus(cfg Config, sinks ...Sink) *Bus {
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = defaultSubscriberBuffer
	}
	if cfg.SinkBuffer <= 0 {
		cfg.SinkBuffer = defaultSinkBuffer
	}
	if cfg.MaxBatchEvents <= 0 {
		cfg.MaxBatchEvents = defaultMaxBatchEvents
	}
	if cfg.MaxBatchWait <= 0 {
		cfg.MaxBatchWait = defaultMaxBatchWait
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Bus{
		cfg:         cfg,
		logger:      logger,
		subs:        make(map[string]*Subscription),
		dropLimiter: rateLimiter{interval: dropLogInterval},
	}
	if len(sinks) > 0 {
		b.batcher = newBatcher(cfg, logger, sinks)
	}
	return b
}

// Publish delivers evt to every current subscriber and to the sinks. Full
// buffers drop the event for that recipient only.
func (b *Bus) Publish(evt watch.ChangeEvent) {
	if b == nil || b.closed.Load() {
		return
	}
	b.published.Add(1)

	b.mu.RLock()
	for _, sub := range b.subs {
		select {
		case sub.ch <- evt:
		default:
			sub.dropped.Add(1)
			b.noteDrop("subscriber", sub.id)
		}
	}
	b.mu.RUnlock()

	if b.batcher != nil && !b.batcher.offer(evt) {
		b.noteDrop("sink", "")
	}
}

// Subscribe registers a new live subscriber. Events published before this
// call are not delivered.
func (b *Bus) Subscribe() *Subscription {
	sub := &Subscription{
		id:  uuid.NewString(),
		ch:  make(chan watch.ChangeEvent, b.cfg.SubscriberBuffer),
		bus: b,
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed.Load() {
		close(sub.ch)
		sub.closed.Store(true)
		return sub
	}
	b.subs[sub.id] = sub
	b.logger.Debug("subscriber added", zap.String("subscription_id", sub.id), zap.Int("subscribers", len(b.subs)))
	return sub
}

// Subscribers returns the number of live subscribers.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns the number of deliveries dropped since the last call.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Published returns the number of events accepted by Publish.
func (b *Bus) Published() int64 {
	return b.published.Load()
}

// Close detaches every subscriber, drains queued sink events, and closes the
// sinks. It is safe to call multiple times.
func (b *Bus) Close(ctx context.Context) error {
	if b == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed.Store(true)
		for id, sub := range b.subs {
			delete(b.subs, id)
			sub.closed.Store(true)
			close(sub.ch)
		}
		b.mu.Unlock()
	})
	if b.batcher == nil {
		return nil
	}
	if err := b.batcher.close(ctx); err != nil {
		return fmt.Errorf("event bus close: %w", err)
	}
	return nil
}

func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub.id]; !ok {
		return
	}
	delete(b.subs, sub.id)
	sub.closed.Store(true)
	close(sub.ch)
	b.logger.Debug("subscriber removed", zap.String("subscription_id", sub.id), zap.Int("subscribers", len(b.subs)))
}

func (b *Bus) noteDrop(target, id string) {
	total := b.dropped.Add(1)
	if b.dropLimiter.Allow(time.Now()) {
		b.logger.Warn("change events dropped due to backpressure",
			zap.String("target", target),
			zap.String("subscription_id", id),
			zap.Int64("dropped_total", total),
		)
	}
}

// Subscription is one live subscriber's view of the bus.
type Subscription struct {
	id      string
	ch      chan watch.ChangeEvent
	bus     *Bus
	dropped atomic.Int64
	closed  atomic.Bool
}

// ID returns the subscription identifier.
func (s *Subscription) ID() string {
	return s.id
}

// Events returns the delivery channel. It is closed when the subscription or
// the bus closes.
func (s *Subscription) Events() <-chan watch.ChangeEvent {
	return s.ch
}

// Dropped returns how many events this subscriber missed.
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

// Close stops delivery. It is idempotent.
func (s *Subscription) Close() {
	if s == nil || s.closed.Load() {
		return
	}
	s.bus.remove(s)
}

type rateLimiter struct {
	interval time.Duration
	last     atomic.Int64
}

func (r *rateLimiter) Allow(now time.Time) bool {
	if r == nil || r.interval <= 0 {
		return true
	}
	nano := now.UnixNano()
	last := r.last.Load()
	if nano-last < r.interval.Nanoseconds() {
		return false
	}
	return r.last.CompareAndSwap(last, nano)
}
