// Package memory provides an in-process registry and history store for
// development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/sitewatch/internal/watch"
)

// DefaultRetention is the number of records kept per resource.
const DefaultRetention = 5

// Store implements watch.Store in memory.
type Store struct {
	mu        sync.RWMutex
	retention int
	nextRes   int64
	nextRec   int64
	resources map[int64]watch.Resource
	history   map[int64][]watch.FetchRecord
}

// New constructs a Store keeping at most retention records per resource.
func New(retention int) *Store {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Store{
		retention: retention,
		resources: make(map[int64]watch.Resource),
		history:   make(map[int64][]watch.FetchRecord),
	}
}

// ListResources returns every resource ordered by id.
func (s *Store) ListResources(_ context.Context) ([]watch.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]watch.Resource, 0, len(s.resources))
	for _, res := range s.resources {
		out = append(out, res)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetResource returns one resource.
func (s *Store) GetResource(_ context.Context, id int64) (watch.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res, ok := s.resources[id]
	if !ok {
		return watch.Resource{}, fmt.Errorf("resource %d: %w", id, watch.ErrNotFound)
	}
	return res, nil
}

// AddResource assigns an id and stores res. URLs are unique.
func (s *Store) AddResource(_ context.Context, res watch.Resource) (watch.Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.resources {
		if existing.URL == res.URL {
			return watch.Resource{}, fmt.Errorf("resource %q: %w", res.URL, watch.ErrDuplicate)
		}
	}
	s.nextRes++
	res.ID = s.nextRes
	s.resources[res.ID] = res
	return res, nil
}

// DeleteResource removes a resource and its history.
func (s *Store) DeleteResource(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.resources[id]; !ok {
		return fmt.Errorf("resource %d: %w", id, watch.ErrNotFound)
	}
	delete(s.history, id)
	delete(s.resources, id)
	return nil
}

// MarkChecked records the check time and status.
func (s *Store) MarkChecked(_ context.Context, id int64, at time.Time, status watch.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.resources[id]
	if !ok {
		return fmt.Errorf("resource %d: %w", id, watch.ErrNotFound)
	}
	res.LastCheckedAt = &at
	res.Status = status
	s.resources[id] = res
	return nil
}

// MarkChanged records the time of the latest detected change.
func (s *Store) MarkChanged(_ context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.resources[id]
	if !ok {
		return fmt.Errorf("resource %d: %w", id, watch.ErrNotFound)
	}
	res.LastChangedAt = &at
	s.resources[id] = res
	return nil
}

// Record appends rec and prunes to the retention size.
func (s *Store) Record(_ context.Context, rec watch.FetchRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextRec++
	rec.ID = s.nextRec
	records := append(s.history[rec.ResourceID], rec)
	if len(records) > s.retention {
		records = append([]watch.FetchRecord(nil), records[len(records)-s.retention:]...)
	}
	s.history[rec.ResourceID] = records
	return nil
}

// LatestFingerprint returns the newest fingerprint for a resource.
func (s *Store) LatestFingerprint(_ context.Context, resourceID int64) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := s.history[resourceID]
	if len(records) == 0 {
		return "", false, nil
	}
	return records[len(records)-1].Fingerprint, true, nil
}

// LatestRecord returns the newest record for a resource.
func (s *Store) LatestRecord(_ context.Context, resourceID int64) (watch.FetchRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := s.history[resourceID]
	if len(records) == 0 {
		return watch.FetchRecord{}, fmt.Errorf("history of %d: %w", resourceID, watch.ErrNotFound)
	}
	return records[len(records)-1], nil
}

// ListRecords returns retained records newest first.
func (s *Store) ListRecords(_ context.Context, resourceID int64) ([]watch.FetchRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := s.history[resourceID]
	out := make([]watch.FetchRecord, 0, len(records))
	for i := len(records) - 1; i >= 0; i-- {
		out = append(out, records[i])
	}
	return out, nil
}

// RecordAt returns the newest record fetched within the second of at.
func (s *Store) RecordAt(_ context.Context, resourceID int64, at time.Time) (watch.FetchRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lo := at.Truncate(time.Second)
	hi := lo.Add(time.Second)
	records := s.history[resourceID]
	for i := len(records) - 1; i >= 0; i-- {
		ts := records[i].FetchedAt
		if !ts.Before(lo) && ts.Before(hi) {
			return records[i], nil
		}
	}
	return watch.FetchRecord{}, fmt.Errorf("record of %d at %s: %w", resourceID, at.Format(time.RFC3339), watch.ErrNotFound)
}

// Reset drops all resources and history. IDs keep counting from where they
// were so a reseeded resource never takes the ID of a dropped one.
func (s *Store) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resources = make(map[int64]watch.Resource)
	s.history = make(map[int64][]watch.FetchRecord)
	return nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}
