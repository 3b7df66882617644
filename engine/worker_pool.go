package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/franksops/gorelocate/provider"
	"github.com/franksops/gorelocate/store"
)

// PoolConfig configures a worker pool.
type PoolConfig struct {
	Provider provider.Provider
	Queue    *Queue
	Target   provider.Container
	Workers  int
	Tracker  *RunTracker
	Logger   *slog.Logger
}

// WorkerPool runs a fixed number of workers draining the queue.
type WorkerPool struct {
	cfg PoolConfig

	group *errgroup.Group
	ctx   context.Context

	// callCtx is used for backend calls: cancelling the run stops workers
	// between items, never in the middle of a move.
	callCtx context.Context

	errMu    sync.Mutex
	firstErr error

	moved    atomic.Int64
	skipped  atomic.Int64
	inFlight atomic.Int64
	peak     atomic.Int64

	curMu   sync.Mutex
	current []string
}

// NewWorkerPool creates a pool. Call Start to launch the workers.
func NewWorkerPool(cfg PoolConfig) (*WorkerPool, error) {
	if cfg.Workers < 1 {
		return nil, ErrInvalidWorkers
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Tracker == nil {
		cfg.Tracker = NewRunTracker(nil, cfg.Logger, RunRecordFor("", cfg.Workers))
	}
	return &WorkerPool{
		cfg:     cfg,
		current: make([]string, cfg.Workers),
	}, nil
}

// Start launches the workers. The pool's context is cancelled as soon as
// any worker fails or ctx is done.
func (p *WorkerPool) Start(ctx context.Context) {
	p.group, p.ctx = errgroup.WithContext(ctx)
	p.callCtx = context.WithoutCancel(ctx)

	for id := range p.cfg.Workers {
		p.group.Go(func() error {
			return p.runWorker(id)
		})
	}
}

// Context is done once the pool is aborting.
func (p *WorkerPool) Context() context.Context {
	return p.ctx
}

// Err returns the first error recorded by a worker, or nil.
func (p *WorkerPool) Err() error {
	p.errMu.Lock()
	defer p.errMu.Unlock()
	return p.firstErr
}

// Wait blocks until every worker has exited and returns the first recorded error.
func (p *WorkerPool) Wait() error {
	_ = p.group.Wait()
	return p.Err()
}

// Moved returns how many objects have been moved.
func (p *WorkerPool) Moved() int64 { return p.moved.Load() }

// Skipped returns how many objects were already in place.
func (p *WorkerPool) Skipped() int64 { return p.skipped.Load() }

// PeakInFlight returns the highest number of objects processed at once.
func (p *WorkerPool) PeakInFlight() int64 { return p.peak.Load() }

// Active returns the name of the object each worker is processing, "" when idle.
func (p *WorkerPool) Active() []string {
	p.curMu.Lock()
	defer p.curMu.Unlock()
	out := make([]string, len(p.current))
	copy(out, p.current)
	return out
}

// record keeps err if it is the first failure of the pool. The run is
// marked failed as soon as the first error is kept.
func (p *WorkerPool) record(err error) error {
	p.errMu.Lock()
	first := p.firstErr == nil
	if first {
		p.firstErr = err
	}
	p.errMu.Unlock()

	if first {
		p.cfg.Tracker.Transition(store.StateFailed)
	}
	return err
}

func (p *WorkerPool) setCurrent(id int, name string) {
	p.curMu.Lock()
	p.current[id] = name
	p.curMu.Unlock()
}

func (p *WorkerPool) enter() {
	n := p.inFlight.Add(1)
	for {
		peak := p.peak.Load()
		if n <= peak || p.peak.CompareAndSwap(peak, n) {
			return
		}
	}
}

func (p *WorkerPool) runWorker(id int) error {
	logger := p.cfg.Logger.With(slog.Int("worker", id))

	conn, err := p.cfg.Provider.Open(p.callCtx)
	if err != nil {
		return p.record(fmt.Errorf("worker %d: open connection: %w", id, err))
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			logger.Warn("failed to close connection", slog.Any("error", cerr))
		}
	}()

	w := &worker{
		conn:    conn,
		target:  p.cfg.Target,
		tracker: p.cfg.Tracker,
		logger:  logger,
		cache:   make(map[string]provider.Container),
	}

	for {
		item, err := p.cfg.Queue.Get(p.ctx)
		if err != nil {
			// Aborted: another worker failed or the run was cancelled.
			return nil
		}
		if item.IsStop() {
			return nil
		}

		p.enter()
		p.setCurrent(id, item.Object.Name)
		moved, err := w.relocate(p.callCtx, item.Object)
		p.setCurrent(id, "")
		p.inFlight.Add(-1)

		if err != nil {
			logger.Error("relocation failed", slog.Any("error", err))
			return p.record(err)
		}
		if moved {
			p.moved.Add(1)
		} else {
			p.skipped.Add(1)
		}
	}
}

// worker holds the state owned by a single goroutine.
type worker struct {
	conn    provider.Conn
	target  provider.Container
	tracker *RunTracker
	logger  *slog.Logger

	// cache maps a source parent id to its target sub-container.
	cache map[string]provider.Container
}

// placement returns the target sub-container for objects whose primary
// parent is parentID.
func (w *worker) placement(ctx context.Context, parentID string) (provider.Container, error) {
	if c, ok := w.cache[parentID]; ok {
		return c, nil
	}

	var dst provider.Container
	switch {
	case parentID == w.target.ID:
		// Already directly in the target.
		dst = w.target
	default:
		src, err := w.conn.LookupContainer(ctx, parentID)
		if err != nil {
			return provider.Container{}, fmt.Errorf("lookup parent %s: %w", parentID, err)
		}
		name := src.Name()
		if name == "" {
			// The backend's namespace root has no name to preserve.
			dst = w.target
			break
		}
		dst, err = resolveOrCreateSub(ctx, w.conn, w.target, name)
		if err != nil {
			return provider.Container{}, fmt.Errorf("resolve target sub-container %q: %w", name, err)
		}
	}

	w.cache[parentID] = dst
	return dst, nil
}

// relocate moves obj into its target sub-container unless it is already
// there. It reports whether a move happened.
func (w *worker) relocate(ctx context.Context, obj provider.Object) (bool, error) {
	oldParent := obj.PrimaryParent()
	if oldParent == "" {
		return false, &MoveError{Op: "place", ObjectID: obj.ID, Name: obj.Name, Err: ErrNoParent}
	}

	dst, err := w.placement(ctx, oldParent)
	if err != nil {
		return false, &MoveError{Op: "place", ObjectID: obj.ID, Name: obj.Name, Err: err}
	}

	if oldParent == dst.ID {
		w.logger.Debug("already in place", slog.String("name", obj.Name))
		return false, nil
	}

	w.logger.Debug("moving object", slog.String("name", obj.Name), slog.String("to", dst.Path))
	after, err := w.conn.Reparent(ctx, obj.ID, oldParent, dst.ID)
	if err != nil {
		return false, &MoveError{Op: "reparent", ObjectID: obj.ID, Name: obj.Name, Err: err}
	}
	if after.ID != obj.ID {
		return false, &MoveError{
			Op:       "verify",
			ObjectID: obj.ID,
			Name:     obj.Name,
			Err:      fmt.Errorf("%w: got %s", ErrIdentityChanged, after.ID),
		}
	}

	w.tracker.RecordMove(obj, oldParent, dst.ID)
	return true, nil
}
