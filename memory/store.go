// Package memory provides a uuid-keyed in-memory RecordStore, suitable
// for tests, examples and single-process deployments. It does not handle
// persistence or crash recovery.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	schedule "github.com/h-shvedko/sociallyhub-scheduler"
)

// Store implements schedule.RecordStore in memory.
type Store struct {
	mu      sync.Mutex
	records map[string]*schedule.Record
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		records: make(map[string]*schedule.Record),
	}
}

// Add stores a copy of rec under a fresh uuid and returns the id.
func (s *Store) Add(rec schedule.Record) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	rec.ID = id
	s.records[id] = &rec
	return id
}

// Get returns a copy of the record with the given id.
func (s *Store) Get(id string) (schedule.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return schedule.Record{}, false
	}
	return *rec, true
}

// Len reports the number of stored records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// DueCount reports how many records are due at now.
func (s *Store) DueCount(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, rec := range s.records {
		if rec.IsActive && rec.NextRun != nil && !rec.NextRun.After(now) {
			count++
		}
	}
	return count
}

// LockNext atomically claims the next due active record.
func (s *Store) LockNext(ctx context.Context, lockUntil time.Time) (*schedule.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for _, rec := range s.records {
		if !rec.IsActive || rec.NextRun == nil || rec.NextRun.After(now) {
			continue
		}

		// Return the record as it was before the claim.
		snapshot := *rec

		// Claim it by pushing nextRun out to lockUntil.
		lock := lockUntil
		rec.NextRun = &lock

		return &snapshot, nil
	}
	return nil, nil
}

// Update rewrites a record's scheduling fields.
func (s *Store) Update(ctx context.Context, id interface{}, update schedule.RecordUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := id.(string)
	if !ok {
		return fmt.Errorf("unexpected id type %T", id)
	}
	rec, ok := s.records[key]
	if !ok {
		return fmt.Errorf("record not found: %v", id)
	}

	if update.NextRun != nil {
		rec.NextRun = *update.NextRun
	}
	if update.LastComputedAt != nil {
		rec.LastComputedAt = *update.LastComputedAt
	}
	return nil
}
