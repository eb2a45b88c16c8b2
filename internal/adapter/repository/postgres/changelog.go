package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/railzwaylabs/experiment-broker/internal/domain/changelog"
	"github.com/railzwaylabs/experiment-broker/internal/domain/experiment"
	"github.com/railzwaylabs/experiment-broker/pkg/snowflake"
)

type ChangelogModel struct {
	ID             int64     `gorm:"primaryKey;autoIncrement:false"`
	ExperimentID   int64     `gorm:"not null;index"`
	ExperimentSlug string    `gorm:"type:varchar(255)"`
	ChangedOn      time.Time `gorm:"not null"`
	ChangedBy      string    `gorm:"type:varchar(255);not null"`
	OldStatus      string    `gorm:"type:varchar(50)"`
	NewStatus      string    `gorm:"type:varchar(50);not null"`
	Message        string    `gorm:"type:text"`
	ExperimentData string    `gorm:"type:jsonb"`
}

func (ChangelogModel) TableName() string {
	return "experiment_changelogs"
}

// ChangelogRecorder appends changelog rows and hands each stored entry to an
// optional publisher.
type ChangelogRecorder struct {
	db        *gorm.DB
	node      *snowflake.Node
	publisher changelog.Publisher
	logger    *zap.Logger
}

// NewChangelogRecorder builds a recorder. publisher may be nil.
func NewChangelogRecorder(db *gorm.DB, node *snowflake.Node, publisher changelog.Publisher, logger *zap.Logger) *ChangelogRecorder {
	return &ChangelogRecorder{
		db:        db,
		node:      node,
		publisher: publisher,
		logger:    logger.Named("changelog"),
	}
}

func (r *ChangelogRecorder) Record(ctx context.Context, exp *experiment.Experiment, actor string, message string) (*changelog.Entry, error) {
	var previous ChangelogModel
	result := r.db.WithContext(ctx).
		Where("experiment_id = ?", exp.ID).
		Order("changed_on desc, id desc").
		Limit(1).
		Find(&previous)
	if result.Error != nil {
		return nil, fmt.Errorf("load latest changelog: %w", result.Error)
	}

	snapshot, err := json.Marshal(exp)
	if err != nil {
		return nil, fmt.Errorf("encode experiment snapshot: %w", err)
	}

	model := ChangelogModel{
		ID:             r.node.GenerateID(),
		ExperimentID:   exp.ID,
		ExperimentSlug: exp.Slug,
		ChangedOn:      time.Now().UTC(),
		ChangedBy:      actor,
		NewStatus:      string(exp.Status),
		Message:        message,
		ExperimentData: string(snapshot),
	}
	if result.RowsAffected > 0 {
		model.OldStatus = previous.NewStatus
	}

	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return nil, fmt.Errorf("insert changelog: %w", err)
	}

	entry := toChangelogEntry(model)
	if r.publisher != nil {
		if err := r.publisher.Publish(ctx, entry); err != nil {
			r.logger.Warn("changelog_publish_failed",
				zap.Int64("changelog_id", entry.ID),
				zap.String("slug", entry.ExperimentSlug),
				zap.Error(err),
			)
		}
	}
	return entry, nil
}

// ListByExperiment returns the history of an experiment, oldest first.
func (r *ChangelogRecorder) ListByExperiment(ctx context.Context, experimentID int64) ([]*changelog.Entry, error) {
	var models []ChangelogModel
	if err := r.db.WithContext(ctx).
		Where("experiment_id = ?", experimentID).
		Order("changed_on asc, id asc").
		Find(&models).Error; err != nil {
		return nil, err
	}
	entries := make([]*changelog.Entry, 0, len(models))
	for _, m := range models {
		entries = append(entries, toChangelogEntry(m))
	}
	return entries, nil
}

func toChangelogEntry(m ChangelogModel) *changelog.Entry {
	entry := &changelog.Entry{
		ID:             m.ID,
		ExperimentID:   m.ExperimentID,
		ExperimentSlug: m.ExperimentSlug,
		ChangedOn:      m.ChangedOn,
		ChangedBy:      m.ChangedBy,
		OldStatus:      experiment.Status(m.OldStatus),
		NewStatus:      experiment.Status(m.NewStatus),
		Message:        m.Message,
	}
	if m.ExperimentData != "" {
		entry.ExperimentData = json.RawMessage(m.ExperimentData)
	}
	return entry
}
