package broker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/railzwaylabs/experiment-broker/internal/domain/experiment"
)

// CheckPushQueue drains the publication queue. The remote store holds a single pending
// review, so this:
//   - pulls a rejected record out of the review buffer and returns its experiment to Draft
//   - stops when a review is still pending
//   - otherwise dispatches a push of the oldest experiment in Review
func (b *Broker) CheckPushQueue(ctx context.Context) (err error) {
	defer b.metrics.time(TaskCheckPushQueue)()
	b.metrics.incr(TaskCheckPushQueue, eventStarted)

	defer func() {
		if err != nil {
			b.metrics.incr(TaskCheckPushQueue, eventFailed)
		}
	}()

	if b.locker == nil {
		return b.drainQueue(ctx)
	}

	acquired, err := b.locker.WithLock(ctx, pushQueueLock, b.drainQueue)
	if err != nil {
		return err
	}
	if !acquired {
		b.metrics.incr(TaskCheckPushQueue, eventLocked)
		b.logger.Info("push_queue_locked_elsewhere")
	}
	return nil
}

func (b *Broker) drainQueue(ctx context.Context) error {
	if err := b.reconcileRejection(ctx); err != nil {
		return err
	}

	pending, err := b.store.HasPendingReview(ctx)
	if err != nil {
		return fmt.Errorf("check pending review: %w", err)
	}
	if pending {
		b.metrics.incr(TaskCheckPushQueue, eventPendingReview)
		b.logger.Debug("push_queue_pending_review")
		return nil
	}

	queued, err := b.repo.ListByStatus(ctx, experiment.StatusReview)
	if err != nil {
		return fmt.Errorf("list queued experiments: %w", err)
	}
	if len(queued) == 0 {
		b.metrics.incr(TaskCheckPushQueue, eventNoExperimentsQueued)
		b.metrics.incr(TaskCheckPushQueue, eventCompleted)
		return nil
	}

	next := queued[0]
	if err := b.dispatcher.DispatchPush(ctx, next.ID); err != nil {
		return fmt.Errorf("dispatch push of %s: %w", next.Slug, err)
	}

	b.logger.Info("push_queue_experiment_selected",
		zap.String("slug", next.Slug),
		zap.Int64("experiment_id", next.ID),
		zap.Int("queue_length", len(queued)),
	)
	b.metrics.incr(TaskCheckPushQueue, eventQueuedExperimentSelected)
	b.metrics.incr(TaskCheckPushQueue, eventCompleted)
	return nil
}

// reconcileRejection returns a rejected experiment to Draft and clears its record
// from the review buffer so the next queued experiment can be pushed.
func (b *Broker) reconcileRejection(ctx context.Context) error {
	rejection, err := b.store.GetRejection(ctx)
	if err != nil {
		return fmt.Errorf("check rejection: %w", err)
	}
	if rejection == nil {
		return nil
	}

	slug, err := b.store.GetRejectedRecordSlug(ctx)
	if err != nil {
		return fmt.Errorf("find rejected record: %w", err)
	}

	exp, err := b.repo.GetBySlug(ctx, slug)
	if err != nil {
		return fmt.Errorf("load rejected experiment %s: %w", slug, err)
	}
	if exp == nil {
		return fmt.Errorf("rejected record %s: %w", slug, experiment.ErrNotFound)
	}

	// Already Draft means an earlier drain recorded the rejection but failed to delete
	// the record. Only the delete is retried.
	if exp.Status == experiment.StatusDraft {
		b.logger.Info("rejected_record_cleanup_retried", zap.String("slug", exp.Slug))
	} else if err := b.transition(ctx, exp, experiment.StatusDraft, "Rejected: "+rejection.Comment); err != nil {
		return err
	}

	if err := b.store.DeleteRejectedRecord(ctx, slug); err != nil {
		return fmt.Errorf("delete rejected record %s: %w", slug, err)
	}

	b.metrics.incr(TaskCheckPushQueue, eventRejected)
	b.logger.Info("experiment_rejected",
		zap.String("slug", exp.Slug),
		zap.String("reviewer", rejection.Reviewer),
		zap.String("comment", rejection.Comment),
	)
	return nil
}
