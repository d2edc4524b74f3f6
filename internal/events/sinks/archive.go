package sinks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitewatch/internal/watch"
)

// BlobStore persists opaque objects and returns their URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
	Close() error
}

// Snapshot is the archived object written for each change.
type Snapshot struct {
	Event watch.ChangeEvent `json:"event"`
	Body  string            `json:"content,omitempty"`
}

// ArchiveSink copies the full body behind each change event to a blob store
// so changes outlive the bounded history retention. Objects are written to
// <prefix>/<site_id>/<fetched_at>.json.
type ArchiveSink struct {
	blobs   BlobStore
	history watch.HistoryReader
	prefix  string
	logger  *zap.Logger
}

// NewArchiveSink wires a blob store and the history reader used to look up
// bodies.
func NewArchiveSink(blobs BlobStore, history watch.HistoryReader, prefix string, logger *zap.Logger) (*ArchiveSink, error) {
	if blobs == nil {
		return nil, errors.New("blob store is required")
	}
	if history == nil {
		return nil, errors.New("history reader is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArchiveSink{blobs: blobs, history: history, prefix: prefix, logger: logger}, nil
}

// Consume archives each event. A record already pruned from history is
// archived without its body.
func (s *ArchiveSink) Consume(ctx context.Context, batch []watch.ChangeEvent) error {
	var errs []error
	for _, evt := range batch {
		snap := Snapshot{Event: evt}
		rec, err := s.recordFor(ctx, evt)
		switch {
		case err == nil:
			snap.Body = rec.Body
		case errors.Is(err, watch.ErrNotFound):
			s.logger.Warn("archived change without body", zap.Int64("site_id", evt.ResourceID))
		default:
			errs = append(errs, fmt.Errorf("load record for site %d: %w", evt.ResourceID, err))
			continue
		}

		payload, err := json.Marshal(snap)
		if err != nil {
			errs = append(errs, fmt.Errorf("encode snapshot: %w", err))
			continue
		}
		uri, err := s.blobs.PutObject(ctx, s.objectPath(evt), "application/json", bytes.NewReader(payload))
		if err != nil {
			errs = append(errs, fmt.Errorf("archive site %d: %w", evt.ResourceID, err))
			continue
		}
		s.logger.Debug("change archived", zap.String("uri", uri))
	}
	return errors.Join(errs...)
}

// recordFor finds the retained record behind evt. Several fetches can land in
// the same second, so the fingerprint decides and the timestamp only breaks
// ties between records carrying the same fingerprint.
func (s *ArchiveSink) recordFor(ctx context.Context, evt watch.ChangeEvent) (watch.FetchRecord, error) {
	records, err := s.history.ListRecords(ctx, evt.ResourceID)
	if err != nil {
		return watch.FetchRecord{}, err
	}
	var (
		match watch.FetchRecord
		found bool
	)
	for _, rec := range records {
		if rec.Fingerprint != evt.Fingerprint {
			continue
		}
		if sameInstant(rec.FetchedAt, evt.FetchedAt) {
			return rec, nil
		}
		if !found {
			match, found = rec, true
		}
	}
	if !found {
		return watch.FetchRecord{}, watch.ErrNotFound
	}
	return match, nil
}

// sameInstant compares at microsecond precision, the finest the SQL stores keep.
func sameInstant(a, b time.Time) bool {
	return a.Truncate(time.Microsecond).Equal(b.Truncate(time.Microsecond))
}

func (s *ArchiveSink) objectPath(evt watch.ChangeEvent) string {
	name := evt.FetchedAt.UTC().Format("20060102T150405.000000000Z") + ".json"
	return path.Join(s.prefix, strconv.FormatInt(evt.ResourceID, 10), name)
}

// Close releases the blob store.
func (s *ArchiveSink) Close(context.Context) error {
	if err := s.blobs.Close(); err != nil {
		return fmt.Errorf("close blob store: %w", err)
	}
	return nil
}
