package sinks

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitewatch/internal/publisher"
	"github.com/JakeFAU/sitewatch/internal/watch"
)

// PublishSink forwards each change event as JSON to a broker topic. Message
// attributes carry site_id, url and diff_hash so subscribers can filter
// without decoding the payload.
type PublishSink struct {
	pub    publisher.Publisher
	topic  string
	logger *zap.Logger
}

// NewPublishSink builds a sink that publishes to topic.
func NewPublishSink(pub publisher.Publisher, topic string, logger *zap.Logger) (*PublishSink, error) {
	if pub == nil {
		return nil, errors.New("publisher is required")
	}
	if topic == "" {
		return nil, errors.New("topic is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PublishSink{pub: pub, topic: topic, logger: logger}, nil
}

// Consume publishes every event and returns the joined publish errors. A
// failed event does not stop the rest of the batch.
func (s *PublishSink) Consume(ctx context.Context, batch []watch.ChangeEvent) error {
	var errs []error
	for _, evt := range batch {
		attrs := map[string]string{
			"site_id":   strconv.FormatInt(evt.ResourceID, 10),
			"url":       evt.URL,
			"diff_hash": evt.Fingerprint,
		}
		id, err := s.pub.Publish(ctx, s.topic, evt, attrs)
		if err != nil {
			errs = append(errs, fmt.Errorf("publish site %d: %w", evt.ResourceID, err))
			continue
		}
		s.logger.Debug("change published", zap.String("topic", s.topic), zap.String("message_id", id))
	}
	return errors.Join(errs...)
}

// Close releases the underlying publisher.
func (s *PublishSink) Close(context.Context) error {
	if err := s.pub.Close(); err != nil {
		return fmt.Errorf("close publisher: %w", err)
	}
	return nil
}
