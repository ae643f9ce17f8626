package ingest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"k8s.io/klog/v2"
)

const retryDelay = 5 * time.Second

// ActiveTenants returns the cached list of active tenant codes. Backed by
// the `active-tenants` cache (spec.md §4.11), so it is at most 60s stale.
type ActiveTenants func(ctx context.Context) ([]string, error)

// Pool runs Workers goroutines, each repeatedly draining every active
// tenant's queue. A worker that panics or returns an uncaught error logs
// and sleeps retryDelay before resuming — it never exits on its own.
type Pool struct {
	Consumer      *Consumer
	ActiveTenants ActiveTenants
	Workers       int

	heartbeats []atomic.Int64
}

func NewPool(consumer *Consumer, activeTenants ActiveTenants, workers int) *Pool {
	if workers <= 0 {
		workers = 4
	}
	return &Pool{
		Consumer:      consumer,
		ActiveTenants: activeTenants,
		Workers:       workers,
		heartbeats:    make([]atomic.Int64, workers),
	}
}

// Run blocks until ctx is cancelled, running the worker pool.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.Workers; i++ {
		wg.Add(1)
		go func(workerIdx int) {
			defer wg.Done()
			p.runWorker(ctx, workerIdx)
		}(i)
	}
	wg.Wait()
}

func (p *Pool) runWorker(ctx context.Context, workerIdx int) {
	consumerID := fmt.Sprintf("worker-%d-%s", workerIdx, uuid.NewString())
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		p.heartbeat(workerIdx)
		if err := p.drainOnce(ctx, consumerID); err != nil {
			klog.ErrorS(err, "ingest worker loop error, retrying", "consumer", consumerID)
			select {
			case <-ctx.Done():
				return
			case <-time.After(retryDelay):
			}
		}
	}
}

// drainOnce pulls the active-tenant list and consumes one batch per
// tenant, recovering from panics in the per-tenant processing so one
// tenant's bad data never kills the worker.
func (p *Pool) drainOnce(ctx context.Context, consumerID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("ingest worker panic: %v", r)
		}
	}()

	tenants, err := p.ActiveTenants(ctx)
	if err != nil {
		return fmt.Errorf("ingest: list active tenants: %w", err)
	}

	for _, tenantCode := range tenants {
		if err := p.Consumer.ProcessTenantBatch(ctx, tenantCode, consumerID); err != nil {
			klog.ErrorS(err, "ingest: tenant batch failed", "tenant", tenantCode, "consumer", consumerID)
		}
	}
	return nil
}

func (p *Pool) heartbeat(workerIdx int) {
	p.heartbeats[workerIdx].Store(time.Now().UnixNano())
}

// Healthy reports whether every worker has produced a heartbeat within
// staleAfter, a signal an external health check can poll to spot a
// wedged loop. Nothing in this module polls it or restarts the pool.
func (p *Pool) Healthy(staleAfter time.Duration) bool {
	threshold := time.Now().Add(-staleAfter).UnixNano()
	for i := range p.heartbeats {
		if p.heartbeats[i].Load() < threshold {
			return false
		}
	}
	return true
}
