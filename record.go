package schedule

import (
	"errors"
	"time"
)

// ErrNotAdvancing reports that recomputing a record's next run after a
// dispatch produced an instant at or before the dispatch instant. The
// returned record carries a nil NextRun so the schedule cannot refire in
// a loop; the error itself indicates a resolver defect.
var ErrNotAdvancing = errors.New("schedule: recomputed next run does not advance past dispatch time")

// Record is a persisted schedule. A nil NextRun means the schedule is
// inactive, or is a Cron schedule with no computable next fire time. An
// active record with a nil NextRun needs administrator attention; it is
// never dispatched.
type Record struct {
	// ID is the store-specific identifier.
	ID interface{}

	// Descriptor is the authored recurrence rule.
	Descriptor Descriptor

	// IsActive gates firing. Inactive records always have a nil NextRun.
	IsActive bool

	// NextRun is the next instant the schedule should fire.
	NextRun *time.Time

	// LastComputedAt is when NextRun was last recomputed. Diagnostics
	// only; correctness never depends on it.
	LastComputedAt time.Time
}

// NewRecord builds a record for a freshly created schedule, computing
// its NextRun from now. The caller assigns the ID when persisting.
func NewRecord(d Descriptor, active bool, now time.Time) Record {
	return Record{
		Descriptor:     d,
		IsActive:       active,
		NextRun:        computeNextRun(d, active, now),
		LastComputedAt: now,
	}
}

// Edit returns a copy of r with the descriptor and active flag replaced
// and NextRun recomputed from now, discarding the previous value.
// Editing twice with identical arguments yields identical results.
func (r Record) Edit(d Descriptor, active bool, now time.Time) Record {
	r.Descriptor = d
	r.IsActive = active
	r.NextRun = computeNextRun(d, active, now)
	r.LastComputedAt = now
	return r
}

// Fired returns a copy of r rescheduled after a dispatch at firedAt. The
// job executor calls this at dispatch, not at completion. If the
// recomputed NextRun fails to advance strictly past firedAt, the copy
// comes back with a nil NextRun and ErrNotAdvancing.
func (r Record) Fired(firedAt time.Time) (Record, error) {
	r.NextRun = computeNextRun(r.Descriptor, r.IsActive, firedAt)
	r.LastComputedAt = firedAt
	if r.NextRun != nil && !r.NextRun.After(firedAt) {
		r.NextRun = nil
		return r, ErrNotAdvancing
	}
	return r, nil
}

func computeNextRun(d Descriptor, active bool, now time.Time) *time.Time {
	if !active {
		return nil
	}
	return NextFireTime(d, now)
}

// RecordUpdate carries the fields a store may rewrite when rescheduling.
type RecordUpdate struct {
	// NextRun uses a pointer to pointer to distinguish:
	// - nil: don't update this field
	// - pointer to nil time: set nextRun to null
	// - pointer to valid time: set nextRun to that time
	NextRun **time.Time

	// LastComputedAt, when non-nil, sets the diagnostics timestamp.
	LastComputedAt *time.Time
}

// NewRecordUpdate creates a RecordUpdate carrying a rescheduled record's
// NextRun and LastComputedAt.
func NewRecordUpdate(rec Record) RecordUpdate {
	computedAt := rec.LastComputedAt
	return RecordUpdate{
		NextRun:        &rec.NextRun,
		LastComputedAt: &computedAt,
	}
}
