// Package worker implements the per-resource check pipeline the scheduler
// dispatches: fetch, canonicalize, fingerprint, record, write back and, on
// change, publish a preview-bearing event.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitewatch/internal/canon"
	"github.com/JakeFAU/sitewatch/internal/metrics"
	"github.com/JakeFAU/sitewatch/internal/preview"
	"github.com/JakeFAU/sitewatch/internal/schedule"
	"github.com/JakeFAU/sitewatch/internal/watch"
)

// History is the slice of the store a check needs.
type History interface {
	watch.HistoryStore
	LatestRecord(ctx context.Context, resourceID int64) (watch.FetchRecord, error)
}

// Limiter paces fetches per host.
type Limiter interface {
	Wait(ctx context.Context, url string) error
}

// Config controls Worker behavior.
type Config struct {
	PreviewMaxLength int
}

// Worker runs checks. It is safe for concurrent use; the scheduler never runs
// two checks of the same resource at once.
type Worker struct {
	registry  watch.Registry
	history   History
	fetcher   watch.Fetcher
	limiter   Limiter
	publisher watch.Publisher
	hasher    watch.Hasher
	clock     watch.Clock
	previewer *preview.Extractor
	logger    *zap.Logger
}

// New constructs a Worker. limiter may be nil.
func New(
	registry watch.Registry,
	history History,
	fetcher watch.Fetcher,
	limiter Limiter,
	publisher watch.Publisher,
	hasher watch.Hasher,
	clock watch.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		registry:  registry,
		history:   history,
		fetcher:   fetcher,
		limiter:   limiter,
		publisher: publisher,
		hasher:    hasher,
		clock:     clock,
		previewer: preview.New(cfg.PreviewMaxLength),
		logger:    logger,
	}
}

// Check runs one check of res. The result's OK flag reflects the fetch only;
// a storage failure is logged and abandons the rest of the check.
func (w *Worker) Check(ctx context.Context, res watch.Resource) schedule.Result {
	metrics.IncChecksInFlight()
	defer metrics.DecChecksInFlight()

	logger := w.logger.With(zap.Int64("site_id", res.ID), zap.String("url", res.URL))

	start := time.Now()
	body, err := w.fetch(ctx, res.URL)
	fetchedAt := w.clock.Now()
	policy := string(watch.ParsePolicy(string(res.Policy)))
	metrics.ObserveCheck(res.URL, policy, err == nil, len(body), time.Since(start))

	if err != nil {
		logger.Warn("fetch failed", zap.Error(err))
		if markErr := w.registry.MarkChecked(ctx, res.ID, fetchedAt, watch.StatusError); markErr != nil {
			metrics.ObserveStorageError("mark_checked")
			logger.Error("record check status failed", zap.Error(markErr))
		}
		return schedule.Result{FetchedAt: fetchedAt, OK: false}
	}

	if err := w.persistAndPublish(ctx, res, body, fetchedAt, logger); err != nil {
		logger.Error("check abandoned", zap.Error(err))
	}
	return schedule.Result{FetchedAt: fetchedAt, OK: true}
}

func (w *Worker) fetch(ctx context.Context, url string) ([]byte, error) {
	if w.limiter != nil {
		if err := w.limiter.Wait(ctx, url); err != nil {
			return nil, fmt.Errorf("%w: %w", watch.ErrFetch, err)
		}
	}
	body, err := w.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	return body, nil
}

func (w *Worker) persistAndPublish(
	ctx context.Context,
	res watch.Resource,
	body []byte,
	fetchedAt time.Time,
	logger *zap.Logger,
) error {
	raw := string(body)
	canonical := canon.Canonicalize(raw)
	fingerprint, err := w.hasher.Hash([]byte(canonical))
	if err != nil {
		return fmt.Errorf("hash body: %w", err)
	}

	previous, found, err := w.history.LatestFingerprint(ctx, res.ID)
	if err != nil {
		metrics.ObserveStorageError("latest_fingerprint")
		return fmt.Errorf("%w: latest fingerprint: %w", watch.ErrStorage, err)
	}
	changed := !found || previous != fingerprint

	var diff *watch.DiffStats
	if changed && found {
		diff = w.diffAgainstLatest(ctx, res.ID, canonical, logger)
	}

	record := watch.FetchRecord{
		ResourceID:  res.ID,
		FetchedAt:   fetchedAt,
		Fingerprint: fingerprint,
		Body:        raw,
	}
	if err := w.history.Record(ctx, record); err != nil {
		metrics.ObserveStorageError("record")
		return fmt.Errorf("%w: record: %w", watch.ErrStorage, err)
	}
	if err := w.registry.MarkChecked(ctx, res.ID, fetchedAt, watch.StatusOK); err != nil {
		metrics.ObserveStorageError("mark_checked")
		return fmt.Errorf("%w: mark checked: %w", watch.ErrStorage, err)
	}
	if !changed {
		logger.Debug("no change", zap.String("fingerprint", fingerprint))
		return nil
	}

	if err := w.registry.MarkChanged(ctx, res.ID, fetchedAt); err != nil {
		metrics.ObserveStorageError("mark_changed")
		return fmt.Errorf("%w: mark changed: %w", watch.ErrStorage, err)
	}
	w.publisher.Publish(watch.ChangeEvent{
		ResourceID:     res.ID,
		URL:            res.URL,
		FetchedAt:      fetchedAt,
		Fingerprint:    fingerprint,
		PreviewText:    w.previewer.Preview(raw),
		HasFullContent: true,
		Diff:           diff,
	})
	metrics.ObserveChange(res.URL)
	logger.Info("change detected", zap.String("fingerprint", fingerprint), zap.Bool("first", !found))
	return nil
}

// diffAgainstLatest returns nil when the previous body cannot be loaded; the
// event is still published without stats.
func (w *Worker) diffAgainstLatest(ctx context.Context, id int64, canonical string, logger *zap.Logger) *watch.DiffStats {
	prev, err := w.history.LatestRecord(ctx, id)
	if err != nil {
		if !errors.Is(err, watch.ErrNotFound) {
			logger.Warn("load previous record failed", zap.Error(err))
		}
		return nil
	}
	stats := canon.Diff(canon.Canonicalize(prev.Body), canonical)
	return &stats
}
