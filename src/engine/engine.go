package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"orderengine/src/executors"
	"orderengine/src/model"

	logger "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Task is a periodic job that lives as long as the engine runs.
type Task interface {
	Name() string
	Interval() time.Duration
	RunOnce(ctx context.Context) error
}

// CredentialValidator probes one credential on demand.
type CredentialValidator interface {
	ValidateNow(ctx context.Context, credentialID uint) (*model.ExchangeCredential, error)
}

// Engine owns the per-user arena, the order workers and the background tasks.
// Nothing it holds outlives Stop.
type Engine struct {
	cfg         Config
	store       Store
	arena       *Arena
	coordinator *Coordinator
	pool        *Pool
	reconciler  *Reconciler

	mu        sync.Mutex
	tasks     []Task
	validator CredentialValidator
	running   bool
	cancel    context.CancelFunc
	group     *errgroup.Group
}

func New(cfg Config, deps Deps) *Engine {
	arena := NewArena()
	coord := NewCoordinator(cfg, deps, arena)
	e := &Engine{
		cfg:         cfg,
		store:       deps.Store,
		arena:       arena,
		coordinator: coord,
		reconciler:  NewReconciler(cfg, coord),
	}
	if cfg.ReconcileInterval > 0 {
		e.tasks = append(e.tasks, e.reconciler)
	}
	return e
}

func (e *Engine) Arena() *Arena             { return e.arena }
func (e *Engine) Coordinator() *Coordinator { return e.coordinator }
func (e *Engine) Reconciler() *Reconciler   { return e.reconciler }

// AddTask registers a background task. Tasks added after Start run from the next Start.
func (e *Engine) AddTask(t Task) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tasks = append(e.tasks, t)
}

func (e *Engine) SetCredentialValidator(v CredentialValidator) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.validator = v
}

func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return fmt.Errorf("engine already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	group, gctx := errgroup.WithContext(runCtx)
	for _, t := range e.tasks {
		group.Go(func() error {
			return executors.StartLoop(gctx, t.Name(), t.Interval(), t.RunOnce)
		})
	}
	e.pool = NewPool(e.cfg.Workers, e.cfg.QueueSize, e.coordinator.Submit)
	e.pool.Start()

	e.cancel = cancel
	e.group = group
	e.running = true

	logger.WithFields(map[string]interface{}{
		"component": "engine",
		"tasks":     len(e.tasks),
	}).Info("engine started")
	return nil
}

// Stop cancels the background tasks, lets in-flight submissions finish and
// drops the per-user state.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	cancel, group, pool := e.cancel, e.group, e.pool
	e.mu.Unlock()

	cancel()
	err := group.Wait()
	pool.Stop()
	e.arena.Reset()

	logger.WithField("component", "engine").Info("engine stopped")
	return err
}

// SubmitOrder queues the request on the worker pool and waits for its outcome.
func (e *Engine) SubmitOrder(ctx context.Context, userID uint, req model.OrderRequest) (*model.OrderExecution, error) {
	e.mu.Lock()
	pool, running := e.pool, e.running
	e.mu.Unlock()
	if !running {
		return nil, ErrEngineStopped
	}
	return pool.Submit(ctx, userID, req)
}

// RequestManualClose queues a close for the position monitor, which gives it
// priority over every other trigger on its next pass.
func (e *Engine) RequestManualClose(ctx context.Context, userID, positionID uint) error {
	pos, err := e.store.GetPosition(ctx, positionID)
	if err != nil {
		return err
	}
	if pos == nil || !pos.Active || pos.UserID != userID {
		return ErrPositionNotFound
	}
	e.arena.QueueManualClose(pos.UserID, pos.ID)

	logger.WithFields(map[string]interface{}{
		"component":   "engine",
		"user_id":     userID,
		"position_id": positionID,
	}).Info("manual close queued")
	return nil
}

func (e *Engine) ActivePositions(ctx context.Context, userID uint) ([]model.Position, error) {
	return e.store.ActivePositions(ctx, userID)
}

func (e *Engine) ExecutionHistory(ctx context.Context, userID uint, from, to time.Time) ([]model.OrderExecution, error) {
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return nil, fmt.Errorf("invalid range: %s is before %s", to.Format(time.RFC3339), from.Format(time.RFC3339))
	}
	return e.store.ExecutionHistory(ctx, userID, from, to)
}

// ValidateCredential runs the connectivity probe for one of the user's credentials now.
func (e *Engine) ValidateCredential(ctx context.Context, userID, credentialID uint) (*model.ExchangeCredential, error) {
	cred, err := e.store.GetCredential(ctx, credentialID)
	if err != nil {
		return nil, err
	}
	if cred == nil || cred.UserID != userID {
		return nil, ErrCredentialNotFound
	}

	e.mu.Lock()
	v := e.validator
	e.mu.Unlock()
	if v == nil {
		return nil, fmt.Errorf("no credential validator configured")
	}
	return v.ValidateNow(ctx, credentialID)
}
