package postgres

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/railzwaylabs/experiment-broker/internal/domain/bucket"
	"github.com/railzwaylabs/experiment-broker/internal/domain/experiment"
	"github.com/railzwaylabs/experiment-broker/pkg/snowflake"
)

type IsolationGroupModel struct {
	ID          int64  `gorm:"primaryKey;autoIncrement:false"`
	Name        string `gorm:"type:varchar(255);not null;uniqueIndex:idx_isolation_group_instance"`
	Instance    int    `gorm:"not null;uniqueIndex:idx_isolation_group_instance"`
	Application string `gorm:"type:varchar(100);not null;uniqueIndex:idx_isolation_group_instance"`
	Total       int    `gorm:"not null"`
	CreatedAt   time.Time
}

func (IsolationGroupModel) TableName() string {
	return "isolation_groups"
}

type BucketRangeModel struct {
	ID               int64 `gorm:"primaryKey;autoIncrement:false"`
	ExperimentID     int64 `gorm:"not null;uniqueIndex"`
	IsolationGroupID int64 `gorm:"not null;index"`
	Start            int   `gorm:"not null"`
	Count            int   `gorm:"not null"`
	CreatedAt        time.Time
}

func (BucketRangeModel) TableName() string {
	return "bucket_ranges"
}

// BucketAllocator places experiments in isolation groups named after the
// experiment slug. Every experiment gets the same configured bucket count.
type BucketAllocator struct {
	db    *gorm.DB
	node  *snowflake.Node
	total int
	count int
}

func NewBucketAllocator(db *gorm.DB, node *snowflake.Node, total, count int) *BucketAllocator {
	if total <= 0 {
		total = bucket.DefaultTotal
	}
	if count <= 0 {
		count = bucket.DefaultCount
	}
	return &BucketAllocator{db: db, node: node, total: total, count: count}
}

func (a *BucketAllocator) AllocateIfAbsent(ctx context.Context, exp *experiment.Experiment) (*bucket.Range, error) {
	var out *bucket.Range

	err := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing BucketRangeModel
		result := tx.Where("experiment_id = ?", exp.ID).Limit(1).Find(&existing)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected > 0 {
			var group IsolationGroupModel
			if err := tx.First(&group, "id = ?", existing.IsolationGroupID).Error; err != nil {
				return fmt.Errorf("load isolation group %d: %w", existing.IsolationGroupID, err)
			}
			out = toRange(existing, group)
			return nil
		}

		var latest *bucket.IsolationGroup
		var latestModel IsolationGroupModel
		result = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("application = ? AND name = ?", exp.Application, exp.Slug).
			Order("instance desc").
			Limit(1).
			Find(&latestModel)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected > 0 {
			g := toGroup(latestModel)
			latest = &g
		}

		var last *bucket.Range
		if latest != nil {
			var lastModel BucketRangeModel
			result = tx.Where("isolation_group_id = ?", latestModel.ID).
				Order("start desc").
				Limit(1).
				Find(&lastModel)
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected > 0 {
				last = toRange(lastModel, latestModel)
			}
		}

		count := a.count
		placement, err := bucket.Plan(exp.Slug, exp.Application, latest, last, count, a.total)
		if err != nil {
			return err
		}

		groupModel := latestModel
		if placement.NewGroup {
			groupModel = IsolationGroupModel{
				ID:          a.node.GenerateID(),
				Name:        placement.Group.Name,
				Instance:    placement.Group.Instance,
				Application: placement.Group.Application,
				Total:       placement.Group.Total,
			}
			if err := tx.Create(&groupModel).Error; err != nil {
				return fmt.Errorf("create isolation group: %w", err)
			}
		}

		rangeModel := BucketRangeModel{
			ID:               a.node.GenerateID(),
			ExperimentID:     exp.ID,
			IsolationGroupID: groupModel.ID,
			Start:            placement.Start,
			Count:            count,
		}
		if err := tx.Create(&rangeModel).Error; err != nil {
			return fmt.Errorf("create bucket range: %w", err)
		}

		out = toRange(rangeModel, groupModel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func toGroup(m IsolationGroupModel) bucket.IsolationGroup {
	return bucket.IsolationGroup{
		ID:          m.ID,
		Name:        m.Name,
		Instance:    m.Instance,
		Application: m.Application,
		Total:       m.Total,
	}
}

func toRange(m BucketRangeModel, g IsolationGroupModel) *bucket.Range {
	return &bucket.Range{
		ID:           m.ID,
		ExperimentID: m.ExperimentID,
		Start:        m.Start,
		Count:        m.Count,
		Group:        toGroup(g),
	}
}
