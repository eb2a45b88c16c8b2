package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/railzwaylabs/experiment-broker/internal/domain/experiment"
	"github.com/railzwaylabs/experiment-broker/pkg/snowflake"
)

// ExperimentModel is the database DTO with Gorm tags.
type ExperimentModel struct {
	ID                  int64               `gorm:"primaryKey;autoIncrement:false"`
	Slug                string              `gorm:"type:varchar(255);uniqueIndex"`
	Name                string              `gorm:"type:varchar(255)"`
	PublicDescription   string              `gorm:"type:text"`
	Application         string              `gorm:"type:varchar(100)"`
	Channel             string              `gorm:"type:varchar(100)"`
	Status              string              `gorm:"type:varchar(50);index"`
	PopulationPercent   float64             `gorm:"type:numeric(7,4)"`
	ProposedDuration    int                 `gorm:"type:int"`
	ProposedEnrollment  int                 `gorm:"type:int"`
	TargetingExpression string              `gorm:"type:text"`
	ReferenceBranch     string              `gorm:"type:varchar(255)"`
	Branches            []experiment.Branch `gorm:"type:jsonb;serializer:json"`
	IsPaused            bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (ExperimentModel) TableName() string {
	return "experiments"
}

type Repository struct {
	db   *gorm.DB
	node *snowflake.Node
}

func NewRepository(db *gorm.DB, node *snowflake.Node) *Repository {
	return &Repository{db: db, node: node}
}

func (r *Repository) GetByID(ctx context.Context, id int64) (*experiment.Experiment, error) {
	var model ExperimentModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return toDomain(model), nil
}

func (r *Repository) GetBySlug(ctx context.Context, slug string) (*experiment.Experiment, error) {
	var model ExperimentModel
	if err := r.db.WithContext(ctx).Where("slug = ?", slug).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return toDomain(model), nil
}

// ListByStatus returns experiments in status, oldest first.
func (r *Repository) ListByStatus(ctx context.Context, status experiment.Status) ([]*experiment.Experiment, error) {
	var models []ExperimentModel
	if err := r.db.WithContext(ctx).
		Where("status = ?", string(status)).
		Order("created_at asc, id asc").
		Find(&models).Error; err != nil {
		return nil, err
	}

	items := make([]*experiment.Experiment, 0, len(models))
	for _, model := range models {
		items = append(items, toDomain(model))
	}
	return items, nil
}

func (r *Repository) Save(ctx context.Context, entity *experiment.Experiment) error {
	if entity.ID == 0 {
		entity.ID = r.node.GenerateID()
	}
	model := toModel(entity)
	return r.db.WithContext(ctx).Save(&model).Error
}

// UpdateStatus moves the experiment from one status to another only if the stored
// status is still from. Repeating a transition that already happened is not an error.
func (r *Repository) UpdateStatus(ctx context.Context, id int64, from, to experiment.Status) error {
	result := r.db.WithContext(ctx).Model(&ExperimentModel{}).
		Where("id = ? AND status = ?", id, string(from)).
		Updates(map[string]any{
			"status":     string(to),
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}

	current, err := r.getStatus(ctx, id)
	if err != nil {
		return err
	}
	switch current {
	case "":
		return fmt.Errorf("%w: id %d", experiment.ErrNotFound, id)
	case to:
		return nil
	default:
		return fmt.Errorf("%w: %s -> %s, stored %s", experiment.ErrStatusConflict, from, to, current)
	}
}

func (r *Repository) getStatus(ctx context.Context, id int64) (experiment.Status, error) {
	var status string
	if err := r.db.WithContext(ctx).Model(&ExperimentModel{}).
		Select("status").
		Where("id = ?", id).
		Scan(&status).Error; err != nil {
		return "", err
	}
	return experiment.Status(status), nil
}

// Mappers

func toDomain(m ExperimentModel) *experiment.Experiment {
	return &experiment.Experiment{
		ID:                  m.ID,
		Slug:                m.Slug,
		Name:                m.Name,
		PublicDescription:   m.PublicDescription,
		Application:         m.Application,
		Channel:             m.Channel,
		Status:              experiment.Status(m.Status),
		PopulationPercent:   m.PopulationPercent,
		ProposedDuration:    m.ProposedDuration,
		ProposedEnrollment:  m.ProposedEnrollment,
		TargetingExpression: m.TargetingExpression,
		ReferenceBranch:     m.ReferenceBranch,
		Branches:            m.Branches,
		IsPaused:            m.IsPaused,
		CreatedAt:           m.CreatedAt,
		UpdatedAt:           m.UpdatedAt,
	}
}

func toModel(d *experiment.Experiment) ExperimentModel {
	return ExperimentModel{
		ID:                  d.ID,
		Slug:                d.Slug,
		Name:                d.Name,
		PublicDescription:   d.PublicDescription,
		Application:         d.Application,
		Channel:             d.Channel,
		Status:              string(d.Status),
		PopulationPercent:   d.PopulationPercent,
		ProposedDuration:    d.ProposedDuration,
		ProposedEnrollment:  d.ProposedEnrollment,
		TargetingExpression: d.TargetingExpression,
		ReferenceBranch:     d.ReferenceBranch,
		Branches:            d.Branches,
		IsPaused:            d.IsPaused,
		CreatedAt:           d.CreatedAt,
		UpdatedAt:           d.UpdatedAt,
	}
}
