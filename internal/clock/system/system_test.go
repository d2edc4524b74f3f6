// Package system exercises the real-time clock adapter.
package system

import (
	"testing"
	"time"
)

// TestClockNowUTC ensures the clock returns UTC timestamps.
func TestClockNowUTC(t *testing.T) {
	t.Parallel()

	clk := New()
	before := time.Now().UTC().Add(-time.Second)
	got := clk.Now()
	after := time.Now().UTC().Add(time.Second)

	if got.Location() != time.UTC {
		t.Fatalf("expected UTC location, got %v", got.Location())
	}
	if got.Before(before) || got.After(after) {
		t.Fatalf("expected %v to be between %v and %v", got, before, after)
	}
}

// TestClockTickFires checks the ticker delivers and can be stopped.
func TestClockTickFires(t *testing.T) {
	t.Parallel()

	ch, stop := New().Tick(5 * time.Millisecond)
	defer stop()
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected a tick within one second")
	}
}
