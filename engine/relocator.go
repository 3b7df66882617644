package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/franksops/gorelocate/provider"
	"github.com/franksops/gorelocate/store"
)

const (
	// DefaultWorkers is the worker count used when none is configured.
	DefaultWorkers = 10

	// DefaultPollInterval bounds how long the enumerator waits for a queue
	// slot before checking worker liveness again.
	DefaultPollInterval = time.Second

	// DefaultProgressInterval throttles progress reports.
	DefaultProgressInterval = time.Second
)

// Progress is a point-in-time view of a run, passed to a Reporter.
type Progress struct {
	State      store.RunState
	Target     string
	Enumerated int64
	Moved      int64
	Skipped    int64
	Queued     int
	Workers    int
	Active     []string
	Elapsed    time.Duration
}

// Reporter receives throttled progress updates from the control goroutine.
type Reporter interface {
	Update(p Progress)
	Finish(p Progress, err error)
}

type nopReporter struct{}

func (nopReporter) Update(Progress)        {}
func (nopReporter) Finish(Progress, error) {}

// Options configures a Relocator.
type Options struct {
	// Source describes the source location, for the journal only.
	Source string
	// TargetPath is the destination container path; empty means the
	// provider's root.
	TargetPath string

	Workers          int
	PollInterval     time.Duration
	ProgressInterval time.Duration

	Reporter Reporter
	// Journal is optional.
	Journal store.Store
	Logger  *slog.Logger
}

// RunResult is the outcome of a run.
type RunResult struct {
	RunID      string
	State      store.RunState
	Target     provider.Container
	Enumerated int64
	Moved      int64
	Skipped    int64
	Elapsed    time.Duration
	// Err is the first fatal error, also returned by Run.
	Err error
}

// Relocator drives one relocation: it resolves the target, feeds the
// enumerated objects to the worker pool and supervises the workers.
type Relocator struct {
	provider provider.Provider
	opts     Options
	logger   *slog.Logger
}

// NewRelocator validates opts and returns a Relocator for p.
func NewRelocator(p provider.Provider, opts Options) (*Relocator, error) {
	if opts.Workers == 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Workers < 1 {
		return nil, ErrInvalidWorkers
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = DefaultProgressInterval
	}
	if opts.Reporter == nil {
		opts.Reporter = nopReporter{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Relocator{
		provider: p,
		opts:     opts,
		logger:   opts.Logger.With(slog.String("component", "relocator")),
	}, nil
}

// RunRecordFor returns a fresh journal record for a run.
func RunRecordFor(source string, workers int) store.RunRecord {
	return store.RunRecord{
		ID:      uuid.NewString(),
		Source:  source,
		State:   store.StateInit,
		Workers: workers,
	}
}

// Run performs the relocation. It always returns a result; the error is
// the first fatal one, with worker failures taking precedence over listing
// failures and cancellation.
func (r *Relocator) Run(ctx context.Context) (*RunResult, error) {
	start := time.Now()
	tracker := NewRunTracker(r.opts.Journal, r.logger, RunRecordFor(r.opts.Source, r.opts.Workers))
	res := &RunResult{RunID: tracker.Record().ID}
	logger := r.logger.With(slog.String("run_id", res.RunID))

	finish := func(err error) (*RunResult, error) {
		res.Err = err
		res.Elapsed = time.Since(start)
		tracker.Finish(res)
		res.State = tracker.State()
		r.opts.Reporter.Finish(Progress{
			State:      res.State,
			Target:     res.Target.Path,
			Enumerated: res.Enumerated,
			Moved:      res.Moved,
			Skipped:    res.Skipped,
			Workers:    r.opts.Workers,
			Elapsed:    res.Elapsed,
		}, err)
		if err != nil {
			logger.Error("relocation failed", slog.Any("error", err), slog.Int64("moved", res.Moved))
		} else {
			logger.Info("relocation completed", slog.Int64("moved", res.Moved), slog.Int64("skipped", res.Skipped))
		}
		return res, err
	}

	// The control connection resolves the target and drives the listing.
	tracker.Transition(store.StateResolvingTarget)
	conn, err := r.provider.Open(ctx)
	if err != nil {
		return finish(&ConfigError{Op: "connect to source", Err: err})
	}
	defer conn.Close()

	root := r.provider.Root()
	if _, err := conn.ResolveContainer(ctx, root.Path); err != nil {
		return finish(&ConfigError{Op: "resolve source " + root.Path, Err: err})
	}

	target, err := ResolveTarget(ctx, conn, root, r.opts.TargetPath)
	if err != nil {
		return finish(err)
	}
	res.Target = target
	tracker.SetTarget(target)
	logger.Info("target resolved", slog.String("target", target.Path), slog.Int("workers", r.opts.Workers))

	queue := NewQueue(r.opts.Workers, r.opts.Workers)
	pool, err := NewWorkerPool(PoolConfig{
		Provider: r.provider,
		Queue:    queue,
		Target:   target,
		Workers:  r.opts.Workers,
		Tracker:  tracker,
		Logger:   logger,
	})
	if err != nil {
		return finish(err)
	}

	tracker.Transition(store.StateStreaming)
	pool.Start(ctx)

	progress := func() Progress {
		return Progress{
			State:      tracker.State(),
			Target:     target.Path,
			Enumerated: res.Enumerated,
			Moved:      pool.Moved(),
			Skipped:    pool.Skipped(),
			Queued:     queue.Len(),
			Workers:    r.opts.Workers,
			Active:     pool.Active(),
			Elapsed:    time.Since(start),
		}
	}
	var lastReport time.Time
	report := func() {
		if time.Since(lastReport) < r.opts.ProgressInterval {
			return
		}
		lastReport = time.Now()
		r.opts.Reporter.Update(progress())
	}

	walker := NewWalker(conn, root)
	listErr := r.feed(pool, queue, walker, res, report)

	// Always drain, so no worker is left blocked on the queue.
	tracker.Transition(store.StateDraining)
	if err := queue.Stop(r.opts.Workers); err != nil {
		logger.Warn("failed to push stop sentinels", slog.Any("error", err))
	}
	workerErr := pool.Wait()
	logger.Debug("workers drained",
		slog.Int64("peak_in_flight", pool.PeakInFlight()),
		slog.Int("queue_capacity", queue.Cap()))

	res.Moved = pool.Moved()
	res.Skipped = pool.Skipped()

	err = workerErr
	if err == nil {
		err = listErr
	}
	if err == nil {
		err = ctx.Err()
	}

	return finish(err)
}

// feed enumerates objects and enqueues them until the listing ends or the
// pool aborts. It returns a listing error, if any.
func (r *Relocator) feed(pool *WorkerPool, queue *Queue, walker *Walker, res *RunResult, report func()) error {
	abort := pool.Context()

	for obj, err := range walker.Objects(abort) {
		if err != nil {
			if abort.Err() != nil {
				return nil
			}
			return err
		}
		res.Enumerated++

		for {
			ok, err := queue.Put(abort, obj, r.opts.PollInterval)
			if err != nil {
				return nil
			}
			if ok {
				break
			}
			// Queue still full: make sure the workers are alive before waiting again.
			if pool.Err() != nil {
				return nil
			}
			report()
		}
		report()
	}
	return nil
}

// IsConfigError reports whether err was raised before any worker started.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
