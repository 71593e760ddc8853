// Package worker provides bounded goroutine pools.
//
// Naked goroutines are avoided in service code. Fan-out work (the batch
// reconciler walking subject groups, inbound message handling) goes through
// a pool with context propagation and panic recovery.
//
// Import Path: dpsrecon.io/reconciliation/internal/pkg/worker
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"dpsrecon.io/reconciliation/internal/pkg/logger"
)

// ErrPoolClosed is returned when submitting to a closed pool.
var ErrPoolClosed = errors.New("worker pool is closed")

// Task is a context-aware task function.
type Task func(ctx context.Context)

// Pool wraps ants.Pool with context-aware submission.
type Pool struct {
	pool *ants.Pool
	name string
}

// Pools is the worker pool collection.
type Pools struct {
	General   *Pool
	Reconcile *Pool

	serviceCtx    context.Context
	serviceCancel context.CancelFunc
}

type PoolConfig struct {
	GeneralPoolSize   int
	ReconcilePoolSize int
}

func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		GeneralPoolSize:   50,
		ReconcilePoolSize: 8,
	}
}

// NewPools creates the pool collection.
func NewPools(ctx context.Context, cfg PoolConfig) (*Pools, error) {
	defaults := DefaultPoolConfig()
	if cfg.GeneralPoolSize <= 0 {
		cfg.GeneralPoolSize = defaults.GeneralPoolSize
	}
	if cfg.ReconcilePoolSize <= 0 {
		cfg.ReconcilePoolSize = defaults.ReconcilePoolSize
	}

	serviceCtx, serviceCancel := context.WithCancel(ctx)

	panicHandler := func(p interface{}) {
		logger.Error("Worker panic recovered",
			zap.Any("panic", p),
			zap.Stack("stack"),
		)
	}

	general, err := NewPool("general", cfg.GeneralPoolSize,
		ants.WithPanicHandler(panicHandler),
		ants.WithExpiryDuration(10*time.Second),
	)
	if err != nil {
		serviceCancel()
		return nil, err
	}

	// Reconciliation tasks each hold a database transaction, so the pool
	// size doubles as a cap on connections taken by a batch pass.
	reconcile, err := NewPool("reconcile", cfg.ReconcilePoolSize,
		ants.WithPanicHandler(panicHandler),
		ants.WithExpiryDuration(30*time.Second),
	)
	if err != nil {
		general.pool.Release()
		serviceCancel()
		return nil, err
	}

	return &Pools{
		General:       general,
		Reconcile:     reconcile,
		serviceCtx:    serviceCtx,
		serviceCancel: serviceCancel,
	}, nil
}

// NewPool creates a single named blocking pool.
func NewPool(name string, size int, opts ...ants.Option) (*Pool, error) {
	opts = append([]ants.Option{ants.WithNonblocking(false)}, opts...)
	p, err := ants.NewPool(size, opts...)
	if err != nil {
		return nil, err
	}
	return &Pool{pool: p, name: name}, nil
}

// Submit submits a context-aware task.
// If the context is already cancelled, returns ctx.Err() without submitting.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	err := p.pool.Submit(func() {
		// May have been cancelled while queued.
		select {
		case <-ctx.Done():
			logger.Debug("Task skipped: context cancelled",
				zap.String("pool", p.name),
				zap.Error(ctx.Err()),
			)
			return
		default:
		}
		task(ctx)
	})
	if errors.Is(err, ants.ErrPoolClosed) {
		return ErrPoolClosed
	}
	return err
}

// Run submits every task and waits for all of them. Tasks still queued when
// ctx is cancelled are skipped and ctx.Err() is returned.
func (p *Pool) Run(ctx context.Context, tasks ...Task) error {
	var wg sync.WaitGroup
	for _, task := range tasks {
		wg.Add(1)
		err := p.pool.Submit(func() {
			defer wg.Done()
			if ctx.Err() != nil {
				return
			}
			task(ctx)
		})
		if err != nil {
			wg.Done()
			wg.Wait()
			if errors.Is(err, ants.ErrPoolClosed) {
				return ErrPoolClosed
			}
			return err
		}
	}
	wg.Wait()
	return ctx.Err()
}

// Release stops the pool, waiting up to timeout for running tasks.
func (p *Pool) Release(timeout time.Duration) error {
	return p.pool.ReleaseTimeout(timeout)
}

// SubmitDetached submits a background task bound to the service lifecycle
// context instead of a request context.
func (p *Pools) SubmitDetached(task Task) error {
	return p.General.Submit(p.serviceCtx, task)
}

// Shutdown cancels detached work and releases all pools (max 30s each).
func (p *Pools) Shutdown() {
	p.serviceCancel()

	const shutdownTimeout = 30 * time.Second
	if err := p.General.Release(shutdownTimeout); err != nil {
		logger.Warn("General pool shutdown timeout", zap.Error(err))
	}
	if err := p.Reconcile.Release(shutdownTimeout); err != nil {
		logger.Warn("Reconcile pool shutdown timeout", zap.Error(err))
	}
}

// Metrics returns pool occupancy for the readiness endpoint.
func (p *Pools) Metrics() map[string]map[string]int {
	stats := func(pl *Pool) map[string]int {
		return map[string]int{
			"running": pl.pool.Running(),
			"free":    pl.pool.Free(),
			"cap":     pl.pool.Cap(),
		}
	}
	return map[string]map[string]int{
		"general":   stats(p.General),
		"reconcile": stats(p.Reconcile),
	}
}
