package sinks

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/sitewatch/internal/watch"
)

// PrometheusSink exports change-stream metrics: per-site change counts, the
// size of each change and the age of events when they reach the sink.
type PrometheusSink struct {
	changes      *prometheus.CounterVec
	diffRunes    *prometheus.CounterVec
	previewBytes prometheus.Histogram
	deliveryLag  prometheus.Histogram
	lastChange   *prometheus.GaugeVec

	now     func() time.Time
	tracker *siteTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		changes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sitewatch_events_changes_total",
			Help: "Change events delivered to sinks, partitioned by site id.",
		}, []string{"site_id"}),
		diffRunes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sitewatch_events_diff_runes_total",
			Help: "Characters added or removed across delivered changes.",
		}, []string{"kind"}),
		previewBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sitewatch_events_preview_bytes",
			Help:    "Length of the preview text carried by change events.",
			Buckets: []float64{0, 50, 100, 200, 300, 400, 800},
		}),
		deliveryLag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sitewatch_events_delivery_lag_seconds",
			Help:    "Time between the fetch and sink delivery of a change event.",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
		}),
		lastChange: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sitewatch_events_last_change_timestamp_seconds",
			Help: "Unix time of the most recent change per site id.",
		}, []string{"site_id"}),
		now:     time.Now,
		tracker: newSiteTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.changes,
		s.diffRunes,
		s.previewBytes,
		s.deliveryLag,
		s.lastChange,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register events collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch. It is safe for concurrent
// use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []watch.ChangeEvent) error {
	now := s.now()
	for _, evt := range batch {
		site := strconv.FormatInt(evt.ResourceID, 10)
		s.changes.WithLabelValues(site).Inc()
		s.previewBytes.Observe(float64(len(evt.PreviewText)))
		if evt.Diff != nil {
			s.diffRunes.WithLabelValues("added").Add(float64(evt.Diff.Added))
			s.diffRunes.WithLabelValues("removed").Add(float64(evt.Diff.Removed))
		}
		if !evt.FetchedAt.IsZero() {
			if lag := now.Sub(evt.FetchedAt); lag >= 0 {
				s.deliveryLag.Observe(lag.Seconds())
			}
			// Batches may arrive out of order across sites; keep the gauge monotonic.
			if s.tracker.advance(evt.ResourceID, evt.FetchedAt) {
				s.lastChange.WithLabelValues(site).Set(float64(evt.FetchedAt.Unix()))
			}
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type siteTracker struct {
	mu   sync.Mutex
	last map[int64]time.Time
}

func newSiteTracker() *siteTracker {
	return &siteTracker{last: make(map[int64]time.Time)}
}

func (t *siteTracker) advance(id int64, at time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if prev, ok := t.last[id]; ok && !at.After(prev) {
		return false
	}
	t.last[id] = at
	return true
}
