package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitewatch/internal/hash/sha256"
	"github.com/JakeFAU/sitewatch/internal/storage/memory"
	"github.com/JakeFAU/sitewatch/internal/watch"
)

type fakeFetcher struct {
	mu     sync.Mutex
	bodies []string
	err    error
	calls  int
}

func (f *fakeFetcher) Fetch(context.Context, string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	body := f.bodies[0]
	if len(f.bodies) > 1 {
		f.bodies = f.bodies[1:]
	}
	return []byte(body), nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []watch.ChangeEvent
}

func (p *fakePublisher) Publish(evt watch.ChangeEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
}

func (p *fakePublisher) all() []watch.ChangeEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]watch.ChangeEvent(nil), p.events...)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type fakeLimiter struct {
	err   error
	waits int
}

func (l *fakeLimiter) Wait(context.Context, string) error {
	l.waits++
	return l.err
}

type brokenHistory struct {
	*memory.Store
}

func (brokenHistory) LatestFingerprint(context.Context, int64) (string, bool, error) {
	return "", false, errors.New("disk full")
}

type fixture struct {
	store   *memory.Store
	fetcher *fakeFetcher
	pub     *fakePublisher
	worker  *Worker
	res     watch.Resource
}

func newFixture(t *testing.T, bodies ...string) *fixture {
	t.Helper()
	store := memory.New(3)
	res, err := store.AddResource(context.Background(), watch.Resource{
		URL:      "https://example.com/news",
		Interval: 60,
		Policy:   watch.PolicyFixed,
	})
	require.NoError(t, err)

	f := &fixture{
		store:   store,
		fetcher: &fakeFetcher{bodies: bodies},
		pub:     &fakePublisher{},
		res:     res,
	}
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	f.worker = New(store, store, f.fetcher, nil, f.pub, sha256.New(), clock, Config{}, zap.NewNop())
	return f
}

func TestCheckFirstFetchIsChange(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "<html><title>Hello</title><body><p>First post.</p></body></html>")
	result := f.worker.Check(context.Background(), f.res)
	require.True(t, result.OK)

	events := f.pub.all()
	require.Len(t, events, 1)
	require.Equal(t, f.res.ID, events[0].ResourceID)
	require.Equal(t, result.FetchedAt, events[0].FetchedAt)
	require.Nil(t, events[0].Diff)
	require.True(t, events[0].HasFullContent)
	require.Contains(t, events[0].PreviewText, "Hello")

	got, err := f.store.GetResource(context.Background(), f.res.ID)
	require.NoError(t, err)
	require.Equal(t, watch.StatusOK, got.Status)
	require.NotNil(t, got.LastChangedAt)
	require.Equal(t, result.FetchedAt, *got.LastCheckedAt)
}

func TestCheckIgnoresVolatileNoise(t *testing.T) {
	t.Parallel()

	f := newFixture(t,
		"<html><body><p>Rates unchanged</p><span>10:15:02</span></body></html>",
		"<html><body><p>Rates unchanged</p><span>10:16:45</span></body></html>",
	)
	ctx := context.Background()
	f.worker.Check(ctx, f.res)
	f.worker.Check(ctx, f.res)

	require.Len(t, f.pub.all(), 1)
	records, err := f.store.ListRecords(ctx, f.res.ID)
	require.NoError(t, err)
	require.Len(t, records, 2, "every successful fetch is recorded")
	require.Equal(t, records[0].Fingerprint, records[1].Fingerprint)
}

func TestCheckChangeCarriesDiff(t *testing.T) {
	t.Parallel()

	f := newFixture(t,
		"<html><body><p>alpha</p></body></html>",
		"<html><body><p>alpha beta</p></body></html>",
	)
	ctx := context.Background()
	first := f.worker.Check(ctx, f.res)
	second := f.worker.Check(ctx, f.res)

	events := f.pub.all()
	require.Len(t, events, 2)
	require.NotEqual(t, events[0].Fingerprint, events[1].Fingerprint)
	require.NotNil(t, events[1].Diff)
	require.Equal(t, 5, events[1].Diff.Added)
	require.Equal(t, 0, events[1].Diff.Removed)

	got, err := f.store.GetResource(ctx, f.res.ID)
	require.NoError(t, err)
	require.Equal(t, second.FetchedAt, *got.LastChangedAt)
	require.True(t, first.FetchedAt.Before(second.FetchedAt))
}

func TestCheckFetchFailureMarksError(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.fetcher.err = errors.New("connection refused")

	result := f.worker.Check(context.Background(), f.res)
	require.False(t, result.OK)
	require.Empty(t, f.pub.all())

	got, err := f.store.GetResource(context.Background(), f.res.ID)
	require.NoError(t, err)
	require.Equal(t, watch.StatusError, got.Status)
	require.Nil(t, got.LastChangedAt)

	records, err := f.store.ListRecords(context.Background(), f.res.ID)
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestCheckRetentionBound(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "a", "b", "c", "d", "e")
	ctx := context.Background()
	for range 5 {
		f.worker.Check(ctx, f.res)
	}
	records, err := f.store.ListRecords(ctx, f.res.ID)
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.Equal(t, "e", records[0].Body)
}

func TestCheckStorageErrorAbandonsButReportsFetch(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "<p>x</p>")
	clock := &fakeClock{now: time.Unix(0, 0)}
	w := New(f.store, brokenHistory{f.store}, f.fetcher, nil, f.pub, sha256.New(), clock, Config{}, nil)

	result := w.Check(context.Background(), f.res)
	require.True(t, result.OK)
	require.Empty(t, f.pub.all())
}

func TestCheckLimiterFailureIsFetchFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "<p>x</p>")
	limiter := &fakeLimiter{err: context.Canceled}
	clock := &fakeClock{now: time.Unix(0, 0)}
	w := New(f.store, f.store, f.fetcher, limiter, f.pub, sha256.New(), clock, Config{}, nil)

	result := w.Check(context.Background(), f.res)
	require.False(t, result.OK)
	require.Equal(t, 1, limiter.waits)
	require.Equal(t, 0, f.fetcher.calls)
}
