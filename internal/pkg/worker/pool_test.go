package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewPools_DefaultsForNonPositiveSizes(t *testing.T) {
	pools, err := NewPools(context.Background(), PoolConfig{})
	if err != nil {
		t.Fatalf("NewPools() error = %v", err)
	}
	defer pools.Shutdown()

	m := pools.Metrics()
	if m["general"]["cap"] != DefaultPoolConfig().GeneralPoolSize {
		t.Errorf("general cap = %d, want %d", m["general"]["cap"], DefaultPoolConfig().GeneralPoolSize)
	}
	if m["reconcile"]["cap"] != DefaultPoolConfig().ReconcilePoolSize {
		t.Errorf("reconcile cap = %d, want %d", m["reconcile"]["cap"], DefaultPoolConfig().ReconcilePoolSize)
	}
}

func TestPool_SubmitRunsEveryTask(t *testing.T) {
	pools, err := NewPools(context.Background(), PoolConfig{GeneralPoolSize: 4, ReconcilePoolSize: 2})
	if err != nil {
		t.Fatalf("NewPools() error = %v", err)
	}
	defer pools.Shutdown()

	var count atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		if err := pools.Reconcile.Submit(context.Background(), func(ctx context.Context) {
			defer wg.Done()
			count.Add(1)
		}); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	}
	wg.Wait()

	if count.Load() != 20 {
		t.Errorf("executed %d tasks, want 20", count.Load())
	}
}

func TestPool_Submit_CancelledContext(t *testing.T) {
	pools, err := NewPools(context.Background(), DefaultPoolConfig())
	if err != nil {
		t.Fatalf("NewPools() error = %v", err)
	}
	defer pools.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = pools.General.Submit(ctx, func(ctx context.Context) {
		t.Error("task should not execute with cancelled context")
	})
	if err != context.Canceled {
		t.Errorf("Submit() error = %v, want context.Canceled", err)
	}
}

func TestPools_SubmitDetached(t *testing.T) {
	pools, err := NewPools(context.Background(), DefaultPoolConfig())
	if err != nil {
		t.Fatalf("NewPools() error = %v", err)
	}

	var executed atomic.Bool
	var wg sync.WaitGroup
	wg.Add(1)
	if err := pools.SubmitDetached(func(ctx context.Context) {
		executed.Store(true)
		wg.Done()
	}); err != nil {
		t.Fatalf("SubmitDetached() error = %v", err)
	}
	wg.Wait()
	pools.Shutdown()

	if !executed.Load() {
		t.Error("detached task was not executed")
	}
}

func TestPool_SubmitAfterShutdown(t *testing.T) {
	pools, err := NewPools(context.Background(), DefaultPoolConfig())
	if err != nil {
		t.Fatalf("NewPools() error = %v", err)
	}
	pools.Shutdown()

	err = pools.Reconcile.Submit(context.Background(), func(context.Context) {})
	if err != ErrPoolClosed {
		t.Errorf("Submit() after shutdown error = %v, want ErrPoolClosed", err)
	}
}

func TestPool_RunWaitsForAllTasks(t *testing.T) {
	pool, err := NewPool("test", 3)
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}
	defer func() { _ = pool.Release(time.Second) }()

	var count atomic.Int32
	tasks := make([]Task, 10)
	for i := range tasks {
		tasks[i] = func(ctx context.Context) { count.Add(1) }
	}
	if err := pool.Run(context.Background(), tasks...); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if count.Load() != 10 {
		t.Errorf("executed %d tasks, want 10", count.Load())
	}
}

func TestPool_RunCancelled(t *testing.T) {
	pool, err := NewPool("test", 1)
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}
	defer func() { _ = pool.Release(time.Second) }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = pool.Run(ctx, func(ctx context.Context) {
		t.Error("task should not execute with cancelled context")
	})
	if err != context.Canceled {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
}
