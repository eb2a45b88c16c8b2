package postgres

import (
	"context"

	"gorm.io/gorm"
)

// AdvisoryLocker serializes work across processes with transaction scoped
// Postgres advisory locks. The lock is released when fn returns.
// The lock transaction holds one pooled connection for the duration of fn, and fn
// queries on other connections, so the pool needs at least two.
type AdvisoryLocker struct {
	db *gorm.DB
}

func NewAdvisoryLocker(db *gorm.DB) *AdvisoryLocker {
	return &AdvisoryLocker{db: db}
}

func (l *AdvisoryLocker) WithLock(ctx context.Context, name string, fn func(ctx context.Context) error) (bool, error) {
	var acquired bool
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Raw("SELECT pg_try_advisory_xact_lock(hashtext(?))", name).Scan(&acquired).Error; err != nil {
			return err
		}
		if !acquired {
			return nil
		}
		return fn(ctx)
	})
	return acquired, err
}
