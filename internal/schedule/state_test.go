package schedule

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitewatch/internal/watch"
)

func TestStateTableDue(t *testing.T) {
	t.Parallel()

	table := NewStateTable()
	now := time.Now()
	require.True(t, table.Due(1, now), "absent state is due")

	table.Update(1, func(watch.RuntimeState) watch.RuntimeState {
		return watch.RuntimeState{NextDueAt: now.Add(time.Second)}
	})
	require.False(t, table.Due(1, now))
	require.True(t, table.Due(1, now.Add(time.Second)))
}

func TestStateTableInFlight(t *testing.T) {
	t.Parallel()

	table := NewStateTable()
	require.True(t, table.TryAcquire(7))
	require.False(t, table.TryAcquire(7))
	table.Release(7)
	require.True(t, table.TryAcquire(7))
}

func TestStateTableRetain(t *testing.T) {
	t.Parallel()

	table := NewStateTable()
	for id := int64(1); id <= 3; id++ {
		table.Update(id, func(s watch.RuntimeState) watch.RuntimeState { return s })
	}
	removed := table.Retain(map[int64]struct{}{2: {}})
	require.Equal(t, 2, removed)
	require.Equal(t, 1, table.Len())
	_, ok := table.Get(1)
	require.False(t, ok)
}

func TestStateTableConcurrentUpdates(t *testing.T) {
	t.Parallel()

	table := NewStateTable()
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			table.Update(1, func(s watch.RuntimeState) watch.RuntimeState {
				s.BackoffCount++
				return s
			})
		}()
	}
	wg.Wait()
	st, ok := table.Get(1)
	require.True(t, ok)
	require.Equal(t, 50, st.BackoffCount)
}

func TestStateTableClear(t *testing.T) {
	t.Parallel()

	table := NewStateTable()
	later := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	table.Update(1, func(watch.RuntimeState) watch.RuntimeState {
		return watch.RuntimeState{NextDueAt: later, BackoffCount: 4}
	})
	require.True(t, table.TryAcquire(1))

	table.Clear()
	require.Zero(t, table.Len())
	require.True(t, table.Due(1, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
	require.False(t, table.TryAcquire(1), "in-flight marks survive a clear")
}
