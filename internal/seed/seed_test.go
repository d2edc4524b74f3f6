package seed

import (
	"context"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitewatch/internal/storage/memory"
	"github.com/JakeFAU/sitewatch/internal/watch"
)

func TestParseAndResources(t *testing.T) {
	t.Parallel()

	entries, err := Parse(strings.NewReader(`
sites:
  - url: https://example.com/feed
    interval_secs: 30
    style: random
  - url: https://example.org/
`))
	require.NoError(t, err)
	require.Len(t, entries, 2)

	resources := Resources(entries, 5)
	require.Equal(t, watch.PolicyJittered, resources[0].Policy)
	require.Equal(t, watch.Interval(30), resources[0].Interval)
	require.Equal(t, watch.Interval(5), resources[1].Interval)
	require.Equal(t, watch.PolicyJittered, resources[1].Policy)
}

func TestParseRejectsInvalid(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"bad url":       "sites:\n  - url: not-a-url\n",
		"bad style":     "sites:\n  - url: https://a.example/\n    style: hourly\n",
		"bad interval":  "sites:\n  - url: https://a.example/\n    interval_secs: -4\n",
		"huge interval": "sites:\n  - url: https://a.example/\n    interval_secs: 9223372036854775807\n",
		"unknown key":   "sites:\n  - url: https://a.example/\n    cron: '* * *'\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse(strings.NewReader(body))
			require.Error(t, err)
		})
	}
}

func TestParseEmpty(t *testing.T) {
	t.Parallel()

	entries, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestApplySkipsDuplicates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.New(5)
	resources := []watch.Resource{
		{URL: "https://a.example/", Interval: 10, Policy: watch.PolicyFixed},
		{URL: "https://b.example/", Interval: 10, Policy: watch.PolicyFixed},
	}
	added, err := Apply(ctx, store, resources, nil)
	require.NoError(t, err)
	require.Equal(t, 2, added)

	added, err = Apply(ctx, store, resources, nil)
	require.NoError(t, err)
	require.Zero(t, added)

	added, err = ApplyIfEmpty(ctx, store, []watch.Resource{{URL: "https://c.example/", Interval: 1}}, nil)
	require.NoError(t, err)
	require.Zero(t, added)
}

func TestApplyIfEmptySeedsFreshCatalog(t *testing.T) {
	t.Parallel()

	store := memory.New(5)
	added, err := ApplyIfEmpty(context.Background(), store, []watch.Resource{{URL: "https://c.example/", Interval: 1}}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, added)
}

func TestBundledSeedFileLoads(t *testing.T) {
	t.Parallel()

	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	entries, err := Load(filepath.Join(filepath.Dir(file), "..", "..", "configs", "seeds.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, entries)
}
