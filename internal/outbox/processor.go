package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/railzwaylabs/experiment-broker/internal/domain/experiment"
	"github.com/railzwaylabs/experiment-broker/pkg/telemetry/correlation"
)

// Pusher publishes one experiment.
type Pusher interface {
	PushExperiment(ctx context.Context, experimentID int64) error
}

type Processor struct {
	db     *gorm.DB
	pusher Pusher
	logger *zap.Logger
	cfg    Config
}

func NewProcessor(db *gorm.DB, pusher Pusher, cfg Config, logger *zap.Logger) *Processor {
	return &Processor{
		db:     db,
		pusher: pusher,
		logger: logger.Named("outbox"),
		cfg:    cfg.withDefaults(),
	}
}

// Run polls the outbox so pushes happen after the drain that queued them has committed.
func (p *Processor) Run(ctx context.Context) {
	if err := p.processBatch(ctx); err != nil {
		p.logger.Error("outbox_initial_poll_failed", zap.Error(err))
	}

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.processBatch(ctx); err != nil {
				p.logger.Error("outbox_poll_failed", zap.Error(err))
			}
		}
	}
}

// RunOnce processes a single batch, for one-shot invocations outside the server.
func (p *Processor) RunOnce(ctx context.Context) error {
	return p.processBatch(ctx)
}

func (p *Processor) processBatch(ctx context.Context) error {
	if err := p.failStale(ctx); err != nil {
		return err
	}

	events, err := p.fetchAndLockPending(ctx)
	if err != nil {
		return err
	}

	for _, event := range events {
		if err := p.processEvent(ctx, event); err != nil {
			p.logger.Error("outbox_event_processing_failed",
				zap.Error(err),
				zap.Int64("event_id", event.ID),
				zap.String("event_type", string(event.EventType)),
				zap.Int64("experiment_id", event.ExperimentID),
			)
		}
	}

	return nil
}

func (p *Processor) fetchAndLockPending(ctx context.Context) ([]Event, error) {
	var events []Event
	now := time.Now().UTC()

	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Raw(
			`SELECT * FROM outbox_events
			 WHERE status IN (?, ?)
			   AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
			   AND attempts < ?
			 ORDER BY created_at ASC
			 LIMIT ?
			 FOR UPDATE SKIP LOCKED`,
			StatusPending,
			StatusFailed,
			now,
			p.cfg.MaxAttempts,
			p.cfg.BatchSize,
		).Scan(&events).Error; err != nil {
			return err
		}

		if len(events) == 0 {
			return nil
		}

		ids := make([]int64, 0, len(events))
		for i := range events {
			ids = append(ids, events[i].ID)
			events[i].Attempts++
		}

		return tx.Model(&Event{}).
			Where("id IN ?", ids).
			Updates(map[string]any{
				"status":     StatusProcessing,
				"attempts":   gorm.Expr("attempts + 1"),
				"locked_at":  now,
				"updated_at": now,
				"last_error": nil,
			}).Error
	})

	return events, err
}

// failStale fails events whose worker died mid-push so the queue drain can
// dispatch the experiment again.
func (p *Processor) failStale(ctx context.Context) error {
	now := time.Now().UTC()
	result := p.db.WithContext(ctx).Model(&Event{}).
		Where("status = ? AND locked_at < ?", StatusProcessing, now.Add(-p.cfg.StaleAfter)).
		Updates(map[string]any{
			"status":          StatusFailed,
			"last_error":      "processing timed out",
			"next_attempt_at": now,
			"updated_at":      now,
		})
	if result.Error != nil {
		return fmt.Errorf("fail stale events: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		p.logger.Warn("outbox_stale_events_failed", zap.Int64("count", result.RowsAffected))
	}
	return nil
}

func (p *Processor) processEvent(ctx context.Context, event Event) error {
	switch event.EventType {
	case EventTypePushExperiment:
		return p.handlePushExperiment(ctx, event)
	default:
		return p.markEventFailed(ctx, event, fmt.Errorf("unsupported event type: %s", event.EventType), true)
	}
}

func (p *Processor) handlePushExperiment(ctx context.Context, event Event) error {
	ctx, cid := correlation.EnsureCorrelationID(ctx)
	p.logger.Debug("outbox_push_started",
		zap.Int64("event_id", event.ID),
		zap.Int64("experiment_id", event.ExperimentID),
		zap.String("correlation_id", cid),
	)

	err := p.pusher.PushExperiment(ctx, event.ExperimentID)
	switch {
	case err == nil:
		return p.markEventCompleted(ctx, event.ID)
	case errors.Is(err, experiment.ErrInvalidTransition), errors.Is(err, experiment.ErrNotFound):
		// The experiment left the queue after this event was written.
		return p.markEventFailed(ctx, event, err, true)
	default:
		return p.markEventFailed(ctx, event, err, false)
	}
}

func (p *Processor) markEventCompleted(ctx context.Context, eventID int64) error {
	now := time.Now().UTC()
	return p.db.WithContext(ctx).Model(&Event{}).
		Where("id = ? AND status = ?", eventID, StatusProcessing).
		Updates(map[string]any{
			"status":       StatusCompleted,
			"processed_at": now,
			"updated_at":   now,
			"last_error":   nil,
		}).Error
}

// markEventFailed records err on the event. A terminal failure is never retried.
func (p *Processor) markEventFailed(ctx context.Context, event Event, err error, terminal bool) error {
	if err == nil {
		return nil
	}

	now := time.Now().UTC()
	updates := map[string]any{
		"status":          StatusFailed,
		"last_error":      err.Error(),
		"next_attempt_at": now.Add(backoffDuration(event.Attempts)),
		"updated_at":      now,
	}
	if terminal {
		updates["attempts"] = p.cfg.MaxAttempts
	}

	updateErr := p.db.WithContext(ctx).Model(&Event{}).
		Where("id = ?", event.ID).
		Updates(updates).Error
	if updateErr != nil {
		return fmt.Errorf("mark event failed: %w (original error: %v)", updateErr, err)
	}
	return err
}

func backoffDuration(attempt int) time.Duration {
	if attempt <= 1 {
		return 10 * time.Second
	}

	maxBackoff := 5 * time.Minute
	base := 10 * time.Second
	shift := attempt - 1
	if shift > 6 {
		shift = 6
	}

	d := base * time.Duration(1<<shift)
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}
