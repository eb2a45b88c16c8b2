package outbox

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/railzwaylabs/experiment-broker/pkg/snowflake"
)

// Dispatcher queues push work in the outbox table. A push already waiting or
// running for the same experiment is not queued twice.
type Dispatcher struct {
	db     *gorm.DB
	node   *snowflake.Node
	cfg    Config
	logger *zap.Logger
}

func NewDispatcher(db *gorm.DB, node *snowflake.Node, cfg Config, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		db:     db,
		node:   node,
		cfg:    cfg.withDefaults(),
		logger: logger.Named("outbox"),
	}
}

func (d *Dispatcher) DispatchPush(ctx context.Context, experimentID int64) error {
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var open int64
		if err := tx.Model(&Event{}).
			Where("experiment_id = ? AND event_type = ?", experimentID, EventTypePushExperiment).
			Where("status IN ? OR (status = ? AND attempts < ?)",
				[]EventStatus{StatusPending, StatusProcessing},
				StatusFailed,
				d.cfg.MaxAttempts,
			).
			Count(&open).Error; err != nil {
			return fmt.Errorf("check queued push: %w", err)
		}
		if open > 0 {
			d.logger.Debug("outbox_push_already_queued", zap.Int64("experiment_id", experimentID))
			return nil
		}

		now := time.Now().UTC()
		event := Event{
			ID:           d.node.GenerateID(),
			EventType:    EventTypePushExperiment,
			ExperimentID: experimentID,
			Status:       StatusPending,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := tx.Create(&event).Error; err != nil {
			return fmt.Errorf("enqueue push: %w", err)
		}

		d.logger.Info("outbox_push_enqueued",
			zap.Int64("event_id", event.ID),
			zap.Int64("experiment_id", experimentID),
		)
		return nil
	})
}
