/*
scheduler.go - Periodic zero-sum audit sweeper

PURPOSE:
  Re-verifies the zero-sum invariant of recently written transaction groups
  on a schedule. The Engine already verifies each group inside its write
  transaction; this sweep is the independent second check that catches
  storage corruption or out-of-band writes after the fact.

DESIGN:
  - Runs a background goroutine with a configurable sweep interval
  - Each sweep re-verifies the most recent groups through the Engine
  - A violation is logged at error level and counted; the sweep continues
  - Results of the last sweep are kept for the status endpoint and logs

USAGE:
  auditor := api.NewAuditor(engine, store, log)
  auditor.Start()
  // ... later
  auditor.Stop()

SEE ALSO:
  - handlers.go: VerifyGroup endpoint (manual single-group audit)
  - ledger/engine.go: VerifyGroupInvariant
*/
package api

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/meridian/commerce-ledger/ledger"
)

// GroupSource lists recently written transaction groups for auditing.
type GroupSource interface {
	RecentGroups(ctx context.Context, limit int) ([]ledger.GroupID, error)
}

// SweepResult summarizes one audit sweep.
type SweepResult struct {
	RanAt      time.Time
	Checked    int
	Violations int
}

// Auditor periodically re-verifies the zero-sum invariant of recent groups.
type Auditor struct {
	Engine        *ledger.Engine
	Groups        GroupSource
	SweepInterval time.Duration
	SweepLimit    int

	log    zerolog.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	lastRun *SweepResult
	started bool
}

// NewAuditor creates an auditor with an hourly sweep over the last 500 groups.
func NewAuditor(engine *ledger.Engine, groups GroupSource, log zerolog.Logger) *Auditor {
	return &Auditor{
		Engine:        engine,
		Groups:        groups,
		SweepInterval: time.Hour,
		SweepLimit:    500,
		log:           log,
		stop:          make(chan struct{}),
	}
}

// Start begins the background sweep loop. The first sweep runs immediately.
func (a *Auditor) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.started {
		return
	}
	a.started = true
	a.ticker = time.NewTicker(a.SweepInterval)
	a.wg.Add(1)
	go a.run()

	a.log.Info().Dur("interval", a.SweepInterval).Msg("audit sweeper started")
}

// Stop halts the sweep loop and waits for an in-flight sweep to finish.
func (a *Auditor) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.started {
		return
	}
	a.ticker.Stop()
	close(a.stop)
	a.wg.Wait()
	a.started = false
	a.log.Info().Msg("audit sweeper stopped")
}

// LastSweep returns the result of the most recent sweep, if any.
func (a *Auditor) LastSweep() *SweepResult {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.lastRun == nil {
		return nil
	}
	r := *a.lastRun
	return &r
}

func (a *Auditor) run() {
	defer a.wg.Done()

	a.Sweep(context.Background())
	for {
		select {
		case <-a.ticker.C:
			a.Sweep(context.Background())
		case <-a.stop:
			return
		}
	}
}

// Sweep re-verifies the most recent groups once. Safe to call directly.
func (a *Auditor) Sweep(ctx context.Context) SweepResult {
	result := SweepResult{RanAt: time.Now().UTC()}

	groups, err := a.Groups.RecentGroups(ctx, a.SweepLimit)
	if err != nil {
		a.log.Error().Err(err).Msg("audit sweep could not list groups")
		return result
	}

	for _, groupID := range groups {
		err := a.Engine.VerifyGroupInvariant(ctx, groupID)
		switch {
		case err == nil:
			result.Checked++
		case errors.Is(err, ledger.ErrGroupNotFound):
			// The group vanished between listing and verification. An
			// append-only store never deletes, so surface it as a violation.
			result.Violations++
			a.log.Error().Str("group_id", string(groupID)).Msg("audited group has no entries")
		default:
			result.Checked++
			result.Violations++
			a.log.Error().Err(err).Str("group_id", string(groupID)).Msg("zero-sum violation detected")
		}
	}

	a.mu.Lock()
	a.lastRun = &result
	a.mu.Unlock()

	a.log.Info().
		Int("checked", result.Checked).
		Int("violations", result.Violations).
		Msg("audit sweep complete")
	return result
}
