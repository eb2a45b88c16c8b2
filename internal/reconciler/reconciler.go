package reconciler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/railzwaylabs/experiment-broker/pkg/telemetry/correlation"
)

// Task is one broker pass run on a fixed cadence.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Reconciler drives each task on its own ticker. A failed pass is logged and the
// next tick runs it again; passes of the same task never overlap.
type Reconciler struct {
	tasks  []Task
	logger *zap.Logger
}

func NewReconciler(tasks []Task, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		tasks:  tasks,
		logger: logger.Named("reconciler"),
	}
}

// Run blocks until ctx is done and every task loop has returned.
func (r *Reconciler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, task := range r.tasks {
		if task.Run == nil || task.Interval <= 0 {
			r.logger.Warn("reconcile_task_skipped", zap.String("task", task.Name))
			continue
		}
		wg.Add(1)
		go func(task Task) {
			defer wg.Done()
			r.loop(ctx, task)
		}(task)
	}
	wg.Wait()
}

func (r *Reconciler) loop(ctx context.Context, task Task) {
	r.reconcile(ctx, task)

	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.reconcile(ctx, task)
		}
	}
}

func (r *Reconciler) reconcile(ctx context.Context, task Task) {
	ctx, _ = correlation.EnsureCorrelationID(ctx)
	started := time.Now()

	if err := task.Run(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		r.logger.Error("reconcile_failed",
			zap.String("task", task.Name),
			correlation.Field(ctx),
			zap.Error(err),
		)
		return
	}

	r.logger.Debug("reconcile_completed",
		zap.String("task", task.Name),
		correlation.Field(ctx),
		zap.Duration("took", time.Since(started)),
	)
}
