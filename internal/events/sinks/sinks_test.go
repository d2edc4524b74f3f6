package sinks

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/sitewatch/internal/publisher/memory"
	"github.com/JakeFAU/sitewatch/internal/storage/local"
	memstore "github.com/JakeFAU/sitewatch/internal/storage/memory"
	"github.com/JakeFAU/sitewatch/internal/watch"
)

var fetched = time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)

func sampleEvent(id int64) watch.ChangeEvent {
	return watch.ChangeEvent{
		ResourceID:     id,
		URL:            "https://example.com/",
		FetchedAt:      fetched,
		Fingerprint:    "abc123",
		PreviewText:    "Example Domain",
		HasFullContent: true,
		Diff:           &watch.DiffStats{Added: 4, Removed: 1},
	}
}

func TestLogSinkWritesFields(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	sink := NewLogSink(zap.New(core))
	require.NoError(t, sink.Consume(context.Background(), []watch.ChangeEvent{sampleEvent(3)}))
	require.NoError(t, sink.Close(context.Background()))

	entries := logs.FilterMessage("change detected").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	require.Equal(t, int64(3), fields["site_id"])
	require.Equal(t, "abc123", fields["fingerprint"])
	require.Equal(t, int64(4), fields["added"])
}

func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	sink.now = func() time.Time { return fetched.Add(2 * time.Second) }

	older := sampleEvent(1)
	older.FetchedAt = fetched.Add(-time.Minute)
	batch := []watch.ChangeEvent{sampleEvent(1), sampleEvent(2), older}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.InDelta(t, 2.0, testutil.ToFloat64(sink.changes.WithLabelValues("1")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.changes.WithLabelValues("2")), 1e-9)
	require.InDelta(t, 12.0, testutil.ToFloat64(sink.diffRunes.WithLabelValues("added")), 1e-9)
	require.InDelta(t, float64(fetched.Unix()), testutil.ToFloat64(sink.lastChange.WithLabelValues("1")), 1e-9)
	require.Equal(t, 1, testutil.CollectAndCount(sink.deliveryLag, "sitewatch_events_delivery_lag_seconds"))

	_, err = NewPrometheusSink(reg)
	require.Error(t, err, "duplicate registration must fail")
}

func TestPublishSinkSendsEvents(t *testing.T) {
	t.Parallel()

	pub := memory.New()
	sink, err := NewPublishSink(pub, "site-changes", nil)
	require.NoError(t, err)

	require.NoError(t, sink.Consume(context.Background(), []watch.ChangeEvent{sampleEvent(9)}))
	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "site-changes", msgs[0].Topic)
	require.Equal(t, "9", msgs[0].Attributes["site_id"])

	var got watch.ChangeEvent
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	require.Equal(t, "abc123", got.Fingerprint)
	require.True(t, got.HasFullContent)

	require.NoError(t, sink.Close(context.Background()))
	err = sink.Consume(context.Background(), []watch.ChangeEvent{sampleEvent(9), sampleEvent(10)})
	require.Error(t, err)
}

func TestNewPublishSinkValidation(t *testing.T) {
	t.Parallel()

	_, err := NewPublishSink(nil, "t", nil)
	require.Error(t, err)
	_, err = NewPublishSink(memory.New(), "", nil)
	require.Error(t, err)
}

func TestArchiveSinkWritesSnapshot(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	history := memstore.New(5)
	require.NoError(t, history.Record(ctx, watch.FetchRecord{
		ResourceID:  4,
		FetchedAt:   fetched,
		Fingerprint: "abc123",
		Body:        "<html>body</html>",
	}))

	dir := t.TempDir()
	blobs, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)
	sink, err := NewArchiveSink(blobs, history, "changes", nil)
	require.NoError(t, err)

	// Site 5 has no retained history and is archived without a body.
	require.NoError(t, sink.Consume(ctx, []watch.ChangeEvent{sampleEvent(4), sampleEvent(5)}))

	// #nosec G304 -- test reads from the controlled temp directory.
	raw, err := os.ReadFile(filepath.Join(dir, "changes", "4", "20250304T050607.000000000Z.json"))
	require.NoError(t, err)
	var snap Snapshot
	require.NoError(t, json.Unmarshal(raw, &snap))
	require.Equal(t, "<html>body</html>", snap.Body)
	require.Equal(t, int64(4), snap.Event.ResourceID)

	// #nosec G304 -- test reads from the controlled temp directory.
	raw, err = os.ReadFile(filepath.Join(dir, "changes", "5", "20250304T050607.000000000Z.json"))
	require.NoError(t, err)
	snap = Snapshot{}
	require.NoError(t, json.Unmarshal(raw, &snap))
	require.Empty(t, snap.Body)
	require.NoError(t, sink.Close(ctx))
}

func TestArchiveSinkPicksBodyByFingerprintWithinSameSecond(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	history := memstore.New(5)
	first := fetched.Add(100 * time.Millisecond)
	second := fetched.Add(700 * time.Millisecond)
	require.NoError(t, history.Record(ctx, watch.FetchRecord{
		ResourceID: 6, FetchedAt: first, Fingerprint: "aaa", Body: "first body",
	}))
	require.NoError(t, history.Record(ctx, watch.FetchRecord{
		ResourceID: 6, FetchedAt: second, Fingerprint: "bbb", Body: "second body",
	}))

	dir := t.TempDir()
	blobs, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)
	sink, err := NewArchiveSink(blobs, history, "", nil)
	require.NoError(t, err)

	evt := sampleEvent(6)
	evt.FetchedAt = first
	evt.Fingerprint = "aaa"
	require.NoError(t, sink.Consume(ctx, []watch.ChangeEvent{evt}))

	// #nosec G304 -- test reads from the controlled temp directory.
	raw, err := os.ReadFile(filepath.Join(dir, "6", "20250304T050607.100000000Z.json"))
	require.NoError(t, err)
	var snap Snapshot
	require.NoError(t, json.Unmarshal(raw, &snap))
	require.Equal(t, "first body", snap.Body)

	// A fingerprint no longer retained is archived without a body.
	evt.Fingerprint = "gone"
	evt.FetchedAt = second
	require.NoError(t, sink.Consume(ctx, []watch.ChangeEvent{evt}))
	// #nosec G304 -- test reads from the controlled temp directory.
	raw, err = os.ReadFile(filepath.Join(dir, "6", "20250304T050607.700000000Z.json"))
	require.NoError(t, err)
	snap = Snapshot{}
	require.NoError(t, json.Unmarshal(raw, &snap))
	require.Empty(t, snap.Body)
}

type failingBlobs struct {
	mu    sync.Mutex
	calls int
}

func (f *failingBlobs) PutObject(context.Context, string, string, io.Reader) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return "", errors.New("bucket unavailable")
}

func (f *failingBlobs) Close() error { return nil }

func TestArchiveSinkReportsUploadErrors(t *testing.T) {
	t.Parallel()

	blobs := &failingBlobs{}
	sink, err := NewArchiveSink(blobs, memstore.New(5), "", zap.NewNop())
	require.NoError(t, err)

	err = sink.Consume(context.Background(), []watch.ChangeEvent{sampleEvent(1), sampleEvent(2)})
	require.ErrorContains(t, err, "bucket unavailable")
	require.Equal(t, 2, blobs.calls)

	_, err = NewArchiveSink(nil, memstore.New(1), "", nil)
	require.Error(t, err)
	_, err = NewArchiveSink(blobs, nil, "", nil)
	require.Error(t, err)
}
