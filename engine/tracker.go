package engine

import (
	"log/slog"
	"sync"
	"time"

	"github.com/franksops/gorelocate/provider"
	"github.com/franksops/gorelocate/store"
)

// RunTracker journals a run's state transitions and the moves its workers
// apply. A tracker without a store only keeps the in-memory record.
// Journal failures are logged and never fail the run.
type RunTracker struct {
	store  store.Store
	logger *slog.Logger

	mu     sync.Mutex
	record store.RunRecord
}

// NewRunTracker creates a tracker for a new run. s may be nil.
func NewRunTracker(s store.Store, logger *slog.Logger, record store.RunRecord) *RunTracker {
	if record.State == "" {
		record.State = store.StateInit
	}
	if logger == nil {
		logger = slog.Default()
	}
	if record.StartedAt.IsZero() {
		record.StartedAt = time.Now().UTC()
	}
	jt := &RunTracker{store: s, logger: logger, record: record}
	jt.save()
	return jt
}

// State returns the current run state.
func (jt *RunTracker) State() store.RunState {
	jt.mu.Lock()
	defer jt.mu.Unlock()
	return jt.record.State
}

// Transition moves the run to state. Transitions out of a terminal state are ignored.
func (jt *RunTracker) Transition(state store.RunState) {
	jt.mu.Lock()
	if jt.record.State.Terminal() {
		jt.mu.Unlock()
		return
	}
	jt.record.State = state
	jt.mu.Unlock()

	jt.logger.Debug("run state changed", slog.String("state", string(state)))
	jt.save()
}

// SetTarget records the resolved target container.
func (jt *RunTracker) SetTarget(c provider.Container) {
	jt.mu.Lock()
	jt.record.Target = c.Path
	jt.mu.Unlock()
}

// RecordMove journals one applied move. It is called concurrently by workers.
func (jt *RunTracker) RecordMove(obj provider.Object, oldParent, newParent string) {
	if jt.store == nil {
		return
	}
	err := jt.store.AppendMove(jt.record.ID, &store.MoveRecord{
		ObjectID:  obj.ID,
		Name:      obj.Name,
		OldParent: oldParent,
		NewParent: newParent,
		MovedAt:   time.Now().UTC(),
	})
	if err != nil {
		jt.logger.Warn("failed to journal move", slog.String("object_id", obj.ID), slog.Any("error", err))
	}
}

// Finish stores the final counters and the terminal state.
func (jt *RunTracker) Finish(res *RunResult) {
	jt.mu.Lock()
	jt.record.Enumerated = res.Enumerated
	jt.record.Moved = res.Moved
	jt.record.Skipped = res.Skipped
	jt.record.FinishedAt = time.Now().UTC()
	if jt.record.State != store.StateFailed {
		jt.record.State = store.StateSucceeded
	}
	if res.Err != nil {
		jt.record.State = store.StateFailed
		jt.record.Error = res.Err.Error()
	}
	jt.mu.Unlock()
	jt.save()
}

// Record returns a copy of the current run record.
func (jt *RunTracker) Record() store.RunRecord {
	jt.mu.Lock()
	defer jt.mu.Unlock()
	return jt.record
}

func (jt *RunTracker) save() {
	if jt.store == nil {
		return
	}
	rec := jt.Record()
	if err := jt.store.SaveRun(&rec); err != nil {
		jt.logger.Warn("failed to journal run", slog.String("run_id", rec.ID), slog.Any("error", err))
	}
}
