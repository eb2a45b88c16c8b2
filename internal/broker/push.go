package broker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/railzwaylabs/experiment-broker/internal/domain/experiment"
)

var (
	// ErrReviewPending is returned by PushExperiment while the remote store still holds
	// a submission awaiting review.
	ErrReviewPending = errors.New("remote store has a pending review")
	// ErrPushQueueBusy is returned by PushExperiment while another process holds the
	// push queue lock.
	ErrPushQueueBusy = errors.New("push queue is locked by another process")
)

// PushExperiment publishes one experiment to the remote store and marks it Accepted.
// It holds the push queue lock and refuses while a review is pending, so at most one
// submission is ever in review no matter who calls it.
func (b *Broker) PushExperiment(ctx context.Context, experimentID int64) (err error) {
	defer b.metrics.time(TaskPushExperiment)()
	b.metrics.incr(TaskPushExperiment, eventStarted)

	defer func() {
		if err != nil {
			b.metrics.incr(TaskPushExperiment, eventFailed)
			b.logger.Error("push_experiment_failed", zap.Int64("experiment_id", experimentID), zap.Error(err))
		}
	}()

	push := func(ctx context.Context) error {
		return b.pushIfIdle(ctx, experimentID)
	}
	if b.locker == nil {
		return push(ctx)
	}

	acquired, err := b.locker.WithLock(ctx, pushQueueLock, push)
	if err != nil {
		return err
	}
	if !acquired {
		b.metrics.incr(TaskPushExperiment, eventLocked)
		return fmt.Errorf("%w: experiment %d not pushed", ErrPushQueueBusy, experimentID)
	}
	return nil
}

func (b *Broker) pushIfIdle(ctx context.Context, experimentID int64) error {
	pending, err := b.store.HasPendingReview(ctx)
	if err != nil {
		return fmt.Errorf("check pending review: %w", err)
	}
	if pending {
		b.metrics.incr(TaskPushExperiment, eventPendingReview)
		return fmt.Errorf("%w: experiment %d not pushed", ErrReviewPending, experimentID)
	}

	exp, err := b.repo.GetByID(ctx, experimentID)
	if err != nil {
		return fmt.Errorf("load experiment %d: %w", experimentID, err)
	}
	if exp == nil {
		return fmt.Errorf("%w: id %d", experiment.ErrNotFound, experimentID)
	}
	if exp.Status != experiment.StatusReview {
		return fmt.Errorf("%w: %s is not queued for review", experiment.ErrInvalidTransition, exp)
	}

	b.logger.Info("push_experiment_started", zap.String("slug", exp.Slug), zap.Int64("experiment_id", exp.ID))

	rng, err := b.allocator.AllocateIfAbsent(ctx, exp)
	if err != nil {
		return fmt.Errorf("allocate buckets for %s: %w", exp.Slug, err)
	}

	rec, err := NewExperimentRecord(exp, rng)
	if err != nil {
		return err
	}
	record, err := rec.Record()
	if err != nil {
		return err
	}

	if err := b.store.Push(ctx, record); err != nil {
		return fmt.Errorf("push %s to remote store: %w", exp.Slug, err)
	}

	if err := b.transition(ctx, exp, experiment.StatusAccepted, ""); err != nil {
		return err
	}

	b.logger.Info("push_experiment_completed", zap.String("slug", exp.Slug), zap.Int64("experiment_id", exp.ID))
	b.metrics.incr(TaskPushExperiment, eventCompleted)
	return nil
}
