package schedule

import (
	"context"
	"time"
)

// RecordStore is the persistence boundary for schedule records. Any
// database can implement it.
//
// Implementations must be safe for concurrent use and must make LockNext
// atomic: claiming a record by overwriting its nextRun is what keeps two
// pollers from dispatching the same schedule.
type RecordStore interface {
	// LockNext atomically finds and claims the next due record. It
	// should:
	// 1. Find an active record whose nextRun is non-null and <= now.
	// 2. Overwrite that record's nextRun with lockUntil.
	// 3. Return the record as it was BEFORE the claim.
	//
	// Returns a nil record when nothing is due.
	//
	// If a poller crashes mid-dispatch, the claimed record becomes due
	// again once lockUntil passes.
	LockNext(ctx context.Context, lockUntil time.Time) (*Record, error)

	// Update rewrites a record's scheduling fields after a dispatch.
	Update(ctx context.Context, id interface{}, update RecordUpdate) error
}
