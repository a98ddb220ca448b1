package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Config holds the configuration for a Poller.
type Config struct {
	// Store is the required persistence layer.
	Store RecordStore

	// Event handlers (all optional)

	// OnRecord is called when a due schedule has been claimed and should
	// be dispatched. The record is already locked when this is called.
	OnRecord func(ctx context.Context, rec *Record) error

	// OnStart is called when the poller starts.
	OnStart func(ctx context.Context) error

	// OnStop is called when the poller stops.
	OnStop func(ctx context.Context) error

	// OnIdle is called when no records are due and the poller enters
	// idle state. It's only called once when transitioning to idle.
	OnIdle func(ctx context.Context) error

	// OnError is called when an error occurs during processing,
	// including ErrNotAdvancing out of a reschedule. If OnError is not
	// set, errors are silently ignored.
	OnError func(ctx context.Context, err error)

	// Timing configuration

	// NextDelay is the duration to wait before polling for the next
	// record. Default: 0 (poll immediately)
	NextDelay time.Duration

	// IdleDelay is the duration to wait when no records are due.
	// Default: 0
	IdleDelay time.Duration

	// LockDuration is how long a claimed record stays invisible to other
	// pollers. If a poller crashes, the record becomes due again after
	// this duration. Default: 10 minutes
	LockDuration time.Duration
}

// Poller claims due schedule records from a RecordStore, hands them to
// the dispatch handler, and persists each record's rescheduled next run.
type Poller struct {
	store  RecordStore
	config Config

	// State tracking
	running    atomic.Bool
	processing atomic.Bool
	idle       atomic.Bool

	// Lifecycle management
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a new Poller with the given configuration.
// Returns an error if the configuration is invalid.
func New(config Config) (*Poller, error) {
	if config.Store == nil {
		return nil, errors.New("store is required")
	}

	// Set defaults
	if config.LockDuration == 0 {
		config.LockDuration = 10 * time.Minute
	}

	return &Poller{
		store:  config.Store,
		config: config,
	}, nil
}

// Start begins claiming and dispatching due records.
// It's safe to call Start multiple times; subsequent calls are no-ops.
// The poller runs until Stop is called or the context is canceled.
func (p *Poller) Start(ctx context.Context) error {
	// Only start once
	if p.running.Swap(true) {
		return nil
	}

	// Create a new context for this run
	p.ctx, p.cancel = context.WithCancel(ctx)

	// Call OnStart handler
	if p.config.OnStart != nil {
		if err := p.config.OnStart(p.ctx); err != nil {
			p.running.Store(false)
			return fmt.Errorf("OnStart handler failed: %w", err)
		}
	}

	// Start the processing loop
	p.wg.Add(1)
	go p.run()

	return nil
}

// Stop gracefully stops the poller.
// It waits for the current dispatch to finish before returning.
// It's safe to call Stop multiple times.
func (p *Poller) Stop(ctx context.Context) error {
	var err error
	p.stopOnce.Do(func() {
		// Signal shutdown
		p.running.Store(false)
		if p.cancel != nil {
			p.cancel()
		}

		// Wait for processing to complete
		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			// Clean shutdown
		case <-ctx.Done():
			err = ctx.Err()
			return
		}

		// Call OnStop handler
		if p.config.OnStop != nil {
			if stopErr := p.config.OnStop(context.Background()); stopErr != nil && err == nil {
				err = fmt.Errorf("OnStop handler failed: %w", stopErr)
			}
		}
	})
	return err
}

// IsRunning returns true if the poller is running.
func (p *Poller) IsRunning() bool {
	return p.running.Load()
}

// IsProcessing returns true if a record is currently being dispatched.
func (p *Poller) IsProcessing() bool {
	return p.processing.Load()
}

// IsIdle returns true if the poller is idle (no records due).
func (p *Poller) IsIdle() bool {
	return p.idle.Load()
}

// run is the main polling loop.
func (p *Poller) run() {
	defer p.wg.Done()

	for p.running.Load() {
		// Wait before polling for the next record
		if p.config.NextDelay > 0 {
			select {
			case <-time.After(p.config.NextDelay):
			case <-p.ctx.Done():
				return
			}
		}

		// Check if still running after delay
		if !p.running.Load() {
			return
		}

		// Process next record
		p.tick()
	}
}

// tick processes a single poll iteration.
func (p *Poller) tick() {
	p.processing.Store(true)
	defer p.processing.Store(false)

	// Calculate lock expiration time
	lockUntil := time.Now().Add(p.config.LockDuration)

	// Try to claim the next due record
	rec, err := p.store.LockNext(p.ctx, lockUntil)
	if err != nil {
		p.handleError(fmt.Errorf("failed to lock next record: %w", err))
		return
	}

	// Nothing due
	if rec == nil {
		// Trigger OnIdle only once when transitioning to idle state
		if !p.idle.Swap(true) {
			if p.config.OnIdle != nil {
				if err := p.config.OnIdle(p.ctx); err != nil {
					p.handleError(fmt.Errorf("OnIdle handler failed: %w", err))
				}
			}
		}

		// Sleep during idle period
		if p.config.IdleDelay > 0 {
			select {
			case <-time.After(p.config.IdleDelay):
			case <-p.ctx.Done():
			}
		}
		return
	}

	// We have a record, no longer idle
	p.idle.Store(false)

	// Dispatch the record
	if p.config.OnRecord != nil {
		if err := p.config.OnRecord(p.ctx, rec); err != nil {
			p.handleError(fmt.Errorf("OnRecord handler failed: %w", err))
		}
	}

	// Reschedule the record
	if err := p.reschedule(rec); err != nil {
		p.handleError(fmt.Errorf("failed to reschedule record: %w", err))
	}
}

// reschedule recomputes a record's next run after dispatch and persists
// it. A non-advancing next run is surfaced through OnError and the
// record is parked with a null nextRun so it cannot refire in a loop.
func (p *Poller) reschedule(rec *Record) error {
	updated, err := rec.Fired(time.Now())
	if err != nil {
		p.handleError(fmt.Errorf("schedule %v: %w", rec.ID, err))
	}
	return p.store.Update(p.ctx, rec.ID, NewRecordUpdate(updated))
}

// handleError calls the OnError handler if configured.
func (p *Poller) handleError(err error) {
	if p.config.OnError != nil {
		p.config.OnError(p.ctx, err)
	}
}
