package lifecycle

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/robfig/cron/v3"
	"k8s.io/klog/v2"
)

// tickRetryBudget bounds how long one cron firing retries a transient
// failure (a dropped connection mid-pass) before giving up until the
// next scheduled tick.
const tickRetryBudget = 2 * time.Minute

// Engine owns the cron schedule driving the nightly rule evaluator and
// the two worker ticks, mirroring the teacher's job-runner wiring:
// cron.New with SkipIfStillRunning so a slow pass never overlaps itself.
type Engine struct {
	Evaluator         *Evaluator
	MigrationWorker   *MigrationWorker
	CompressionWorker *CompressionWorker
	Registry          Registry

	cron *cron.Cron
}

func NewEngine(evaluator *Evaluator, migrationWorker *MigrationWorker, compressionWorker *CompressionWorker, reg Registry) *Engine {
	return &Engine{
		Evaluator:         evaluator,
		MigrationWorker:   migrationWorker,
		CompressionWorker: compressionWorker,
		Registry:          reg,
	}
}

// Start schedules the evaluator and worker ticks and begins running
// them in cron's own goroutine. evaluateCron and workerCron are standard
// five-field cron expressions (pkg/config.LifecycleConfig).
func (e *Engine) Start(ctx context.Context, evaluateCron, workerCron string) error {
	e.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))

	if _, err := e.cron.AddFunc(evaluateCron, func() { e.runEvaluatorTick(ctx) }); err != nil {
		return err
	}
	if _, err := e.cron.AddFunc(workerCron, func() { e.runMigrationWorkerTick(ctx) }); err != nil {
		return err
	}
	if _, err := e.cron.AddFunc(workerCron, func() { e.runCompressionWorkerTick(ctx) }); err != nil {
		return err
	}

	e.cron.Start()
	klog.InfoS("lifecycle: engine started", "evaluateCron", evaluateCron, "workerCron", workerCron)
	return nil
}

// Stop halts the cron scheduler, waiting for any in-flight tick to
// finish.
func (e *Engine) Stop() {
	if e.cron == nil {
		return
	}
	<-e.cron.Stop().Done()
}

// RunRule satisfies handlers.LifecycleRunner, delegating straight to the
// evaluator for the admin manual-trigger endpoint.
func (e *Engine) RunRule(ctx context.Context, ruleID int64) error {
	return e.Evaluator.RunRule(ctx, ruleID)
}

// Requeue satisfies handlers.MigrationRequeuer.
func (e *Engine) Requeue(ctx context.Context, taskID int64) error {
	return e.MigrationWorker.Requeue(ctx, taskID)
}

func withRetry(op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = tickRetryBudget
	return backoff.Retry(op, b)
}

func (e *Engine) runEvaluatorTick(ctx context.Context) {
	if err := withRetry(func() error { return e.Evaluator.EvaluateMigrationRules(ctx) }); err != nil {
		klog.ErrorS(err, "lifecycle: evaluate migrate rules tick failed")
	}
	if err := withRetry(func() error { return e.Evaluator.EvaluateCompressionRules(ctx) }); err != nil {
		klog.ErrorS(err, "lifecycle: evaluate compress rules tick failed")
	}
}

func (e *Engine) runMigrationWorkerTick(ctx context.Context) {
	if err := withRetry(func() error { return e.MigrationWorker.RunOnce(ctx) }); err != nil {
		klog.ErrorS(err, "lifecycle: migration worker tick failed")
	}
}

func (e *Engine) runCompressionWorkerTick(ctx context.Context) {
	tenants, err := e.Registry.ActiveTenantCodes(ctx)
	if err != nil {
		klog.ErrorS(err, "lifecycle: list active tenants for compression tick failed")
		return
	}
	for _, tenantCode := range tenants {
		tenantCode := tenantCode
		if err := withRetry(func() error { return e.CompressionWorker.RunOnce(ctx, tenantCode) }); err != nil {
			klog.ErrorS(err, "lifecycle: compression worker tick failed", "tenant", tenantCode)
		}
	}
}
