package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitewatch/internal/watch"
)

// LogSink writes one structured log line per change event.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []watch.ChangeEvent) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.Int64("site_id", evt.ResourceID),
			zap.String("url", evt.URL),
			zap.Time("fetched_at", evt.FetchedAt),
			zap.String("fingerprint", evt.Fingerprint),
			zap.Int("preview_len", len(evt.PreviewText)),
		}
		if evt.Diff != nil {
			fields = append(fields, zap.Int("added", evt.Diff.Added), zap.Int("removed", evt.Diff.Removed))
		}
		s.logger.Info("change detected", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
