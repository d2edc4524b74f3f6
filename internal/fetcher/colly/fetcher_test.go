package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitewatch/internal/watch"
)

func TestFetchReturnsBody(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		agents []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		agents = append(agents, r.UserAgent())
		mu.Unlock()
		_, _ = w.Write([]byte("<html><title>ok</title></html>"))
	}))
	t.Cleanup(srv.Close)

	f := New(Config{UserAgents: []string{"agent-a", "agent-b"}})
	f.pick = func(int) int { return 1 }

	// The same URL is fetched twice; revisits must be allowed.
	for range 2 {
		body, err := f.Fetch(context.Background(), srv.URL)
		require.NoError(t, err)
		require.Equal(t, "<html><title>ok</title></html>", string(body))
	}
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"agent-b", "agent-b"}, agents)
}

func TestFetchErrorStatusIsFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down for maintenance", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	_, err := New(Config{}).Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	require.ErrorIs(t, err, watch.ErrFetch)
	require.Contains(t, err.Error(), "503")
}

func TestFetchNonErrorStatusIsSuccess(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNonAuthoritativeInfo)
		_, _ = w.Write([]byte("cached copy"))
	}))
	t.Cleanup(srv.Close)

	body, err := New(Config{}).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, "cached copy", string(body))
}

func TestFetchTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	start := time.Now()
	_, err := New(Config{Timeout: 100 * time.Millisecond}).Fetch(context.Background(), srv.URL)
	require.ErrorIs(t, err, watch.ErrFetch)
	require.Less(t, time.Since(start), 5*time.Second)
}

func TestFetchHonorsContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(Config{}).Fetch(ctx, "http://127.0.0.1:1/")
	require.ErrorIs(t, err, watch.ErrFetch)
}

func TestFetchUnreachableHost(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Timeout: time.Second}).Fetch(context.Background(), "http://127.0.0.1:1/")
	require.Error(t, err)
	require.True(t, errors.Is(err, watch.ErrFetch))
}

func TestNewDefaults(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	require.Equal(t, DefaultUserAgents, f.agents)
	require.True(t, f.baseCollector.AllowURLRevisit)
	require.True(t, f.baseCollector.ParseHTTPErrorResponse)
}
