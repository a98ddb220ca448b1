package schedule

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// MockStore is a simple in-memory store for testing
type MockStore struct {
	mu        sync.Mutex
	records   map[interface{}]*Record
	idCounter int
}

func NewMockStore() *MockStore {
	return &MockStore{
		records:   make(map[interface{}]*Record),
		idCounter: 1,
	}
}

func (s *MockStore) AddRecord(rec *Record) interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.idCounter
	s.idCounter++
	rec.ID = id
	s.records[id] = rec
	return id
}

func (s *MockStore) GetRecord(id interface{}) *Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return nil
	}
	snapshot := *rec
	return &snapshot
}

func (s *MockStore) LockNext(ctx context.Context, lockUntil time.Time) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for _, rec := range s.records {
		if !rec.IsActive || rec.NextRun == nil || rec.NextRun.After(now) {
			continue
		}

		// Return a copy with the original nextRun
		snapshot := *rec

		// Lock the record
		lock := lockUntil
		rec.NextRun = &lock

		return &snapshot, nil
	}
	return nil, nil
}

func (s *MockStore) Update(ctx context.Context, id interface{}, update RecordUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.records[id]
	if !exists {
		return errors.New("record not found")
	}

	if update.NextRun != nil {
		rec.NextRun = *update.NextRun
	}
	if update.LastComputedAt != nil {
		rec.LastComputedAt = *update.LastComputedAt
	}
	return nil
}

func (s *MockStore) CountDue() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	count := 0
	for _, rec := range s.records {
		if rec.IsActive && rec.NextRun != nil && !rec.NextRun.After(now) {
			count++
		}
	}
	return count
}

// dueRecord builds an active record whose fire time has just come.
func dueRecord(d Descriptor) *Record {
	due := time.Now().Add(-time.Second)
	return &Record{
		Descriptor:     d,
		IsActive:       true,
		NextRun:        &due,
		LastComputedAt: due,
	}
}

func TestNew(t *testing.T) {
	t.Run("requires store", func(t *testing.T) {
		_, err := New(Config{})
		if err == nil {
			t.Error("expected error when store is nil")
		}
	})

	t.Run("sets default lock duration", func(t *testing.T) {
		store := NewMockStore()
		poller, err := New(Config{Store: store})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if poller.config.LockDuration != 10*time.Minute {
			t.Errorf("expected default lock duration of 10 minutes, got %v", poller.config.LockDuration)
		}
	})
}

func TestPoller_StartStop(t *testing.T) {
	store := NewMockStore()
	poller, _ := New(Config{Store: store})

	ctx := context.Background()

	// Start
	if err := poller.Start(ctx); err != nil {
		t.Fatalf("failed to start: %v", err)
	}

	if !poller.IsRunning() {
		t.Error("poller should be running")
	}

	// Stop
	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := poller.Stop(stopCtx); err != nil {
		t.Fatalf("failed to stop: %v", err)
	}

	if poller.IsRunning() {
		t.Error("poller should not be running")
	}
}

func TestPoller_DispatchesDueRecord(t *testing.T) {
	store := NewMockStore()
	dispatched := 0
	var mu sync.Mutex

	poller, _ := New(Config{
		Store: store,
		OnRecord: func(ctx context.Context, rec *Record) error {
			mu.Lock()
			dispatched++
			mu.Unlock()
			return nil
		},
		NextDelay:    50 * time.Millisecond,
		LockDuration: 1 * time.Minute,
	})

	id := store.AddRecord(dueRecord(Daily{At: TimeOfDay{Hour: 2, Minute: 0}}))

	before := time.Now()
	ctx := context.Background()
	poller.Start(ctx)

	// Wait for processing
	time.Sleep(500 * time.Millisecond)

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	poller.Stop(stopCtx)

	mu.Lock()
	count := dispatched
	mu.Unlock()

	// A daily schedule's recomputed fire time is far in the future, so
	// exactly one dispatch happens during the test window.
	if count != 1 {
		t.Errorf("expected 1 dispatch, got %d", count)
	}

	rec := store.GetRecord(id)
	if rec == nil {
		t.Fatal("record disappeared")
	}
	if rec.NextRun == nil {
		t.Fatal("record should have been rescheduled")
	}
	if !rec.NextRun.After(time.Now()) {
		t.Errorf("rescheduled next run %v is not in the future", rec.NextRun)
	}
	if !rec.LastComputedAt.After(before) {
		t.Errorf("lastComputedAt %v was not refreshed", rec.LastComputedAt)
	}
}

func TestPoller_SkipsInactiveRecord(t *testing.T) {
	store := NewMockStore()
	dispatched := false

	poller, _ := New(Config{
		Store: store,
		OnRecord: func(ctx context.Context, rec *Record) error {
			dispatched = true
			return nil
		},
		NextDelay:    50 * time.Millisecond,
		LockDuration: 1 * time.Minute,
	})

	rec := dueRecord(Daily{At: TimeOfDay{Hour: 2, Minute: 0}})
	rec.IsActive = false
	store.AddRecord(rec)

	ctx := context.Background()
	poller.Start(ctx)

	time.Sleep(300 * time.Millisecond)

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	poller.Stop(stopCtx)

	if dispatched {
		t.Error("inactive record should never be dispatched")
	}
}

func TestPoller_DeferredRecord(t *testing.T) {
	store := NewMockStore()
	dispatched := false

	poller, _ := New(Config{
		Store: store,
		OnRecord: func(ctx context.Context, rec *Record) error {
			dispatched = true
			return nil
		},
		NextDelay:    50 * time.Millisecond,
		LockDuration: 1 * time.Minute,
	})

	// A record whose fire time is 2 seconds out
	future := time.Now().Add(2 * time.Second)
	store.AddRecord(&Record{
		Descriptor: Daily{At: TimeOfDay{Hour: 2, Minute: 0}},
		IsActive:   true,
		NextRun:    &future,
	})

	ctx := context.Background()
	poller.Start(ctx)

	// Should not be dispatched yet
	time.Sleep(500 * time.Millisecond)
	if dispatched {
		t.Error("record should not be dispatched before its fire time")
	}

	// Wait until after the fire time
	time.Sleep(2 * time.Second)
	if !dispatched {
		t.Error("record should be dispatched after its fire time")
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	poller.Stop(stopCtx)
}

func TestPoller_OnIdleCallback(t *testing.T) {
	store := NewMockStore()
	idleCalled := 0

	poller, _ := New(Config{
		Store: store,
		OnIdle: func(ctx context.Context) error {
			idleCalled++
			return nil
		},
		NextDelay: 50 * time.Millisecond,
		IdleDelay: 100 * time.Millisecond,
	})

	ctx := context.Background()
	poller.Start(ctx)

	// Wait for idle state
	time.Sleep(500 * time.Millisecond)

	if !poller.IsIdle() {
		t.Error("poller should be idle")
	}

	if idleCalled != 1 {
		t.Errorf("expected OnIdle to be called once, got %d", idleCalled)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	poller.Stop(stopCtx)
}

func TestPoller_ParksNonAdvancingSchedule(t *testing.T) {
	store := NewMockStore()
	var mu sync.Mutex
	var seen []error

	poller, _ := New(Config{
		Store: store,
		OnError: func(ctx context.Context, err error) {
			mu.Lock()
			seen = append(seen, err)
			mu.Unlock()
		},
		NextDelay:    50 * time.Millisecond,
		LockDuration: 1 * time.Minute,
	})

	// A descriptor stuck in the past would refire forever if the guard
	// were missing.
	frozen := time.Now().Add(-time.Hour)
	id := store.AddRecord(dueRecord(frozenDescriptor{at: frozen}))

	ctx := context.Background()
	poller.Start(ctx)

	time.Sleep(500 * time.Millisecond)

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	poller.Stop(stopCtx)

	rec := store.GetRecord(id)
	if rec == nil {
		t.Fatal("record disappeared")
	}
	if rec.NextRun != nil {
		t.Errorf("record should be parked with a nil next run, got %v", rec.NextRun)
	}

	mu.Lock()
	defer mu.Unlock()
	found := false
	for _, err := range seen {
		if errors.Is(err, ErrNotAdvancing) {
			found = true
		}
	}
	if !found {
		t.Errorf("expected ErrNotAdvancing through OnError, got %v", seen)
	}
}
