package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	pgdriver "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/railzwaylabs/experiment-broker/internal/domain/changelog"
	"github.com/railzwaylabs/experiment-broker/internal/domain/experiment"
	"github.com/railzwaylabs/experiment-broker/pkg/snowflake"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(pgdriver.New(pgdriver.Config{Conn: sqlDB}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return db, mock
}

func newNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return node
}

const updateStatusSQL = `UPDATE "experiments" SET "status"=$1,"updated_at"=$2 WHERE id = $3 AND status = $4`

func TestRepository_UpdateStatus(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRepository(db, newNode(t))

	mock.ExpectExec(regexp.QuoteMeta(updateStatusSQL)).
		WithArgs("Live", sqlmock.AnyArg(), int64(7), "Accepted").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateStatus(context.Background(), 7, experiment.StatusAccepted, experiment.StatusLive)

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_UpdateStatus_AlreadyApplied(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRepository(db, newNode(t))

	mock.ExpectExec(regexp.QuoteMeta(updateStatusSQL)).
		WithArgs("Live", sqlmock.AnyArg(), int64(7), "Accepted").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT status FROM "experiments" WHERE id = $1`)).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("Live"))

	err := repo.UpdateStatus(context.Background(), 7, experiment.StatusAccepted, experiment.StatusLive)

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_UpdateStatus_Conflict(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRepository(db, newNode(t))

	mock.ExpectExec(regexp.QuoteMeta(updateStatusSQL)).
		WithArgs("Live", sqlmock.AnyArg(), int64(7), "Accepted").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT status FROM "experiments" WHERE id = $1`)).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("Draft"))

	err := repo.UpdateStatus(context.Background(), 7, experiment.StatusAccepted, experiment.StatusLive)

	assert.True(t, errors.Is(err, experiment.ErrStatusConflict))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_UpdateStatus_Missing(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRepository(db, newNode(t))

	mock.ExpectExec(regexp.QuoteMeta(updateStatusSQL)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT status FROM "experiments" WHERE id = $1`)).
		WillReturnRows(sqlmock.NewRows([]string{"status"}))

	err := repo.UpdateStatus(context.Background(), 7, experiment.StatusAccepted, experiment.StatusLive)

	assert.True(t, errors.Is(err, experiment.ErrNotFound))
}

func TestRepository_ListByStatus_OldestFirst(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRepository(db, newNode(t))

	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "slug", "status", "branches", "created_at"}).
		AddRow(int64(1), "first", "Review", []byte(`[{"slug":"control","ratio":1}]`), created).
		AddRow(int64(2), "second", "Review", []byte(`[]`), created.Add(time.Minute))

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "experiments" WHERE status = $1 ORDER BY created_at asc, id asc`)).
		WithArgs("Review").
		WillReturnRows(rows)

	items, err := repo.ListByStatus(context.Background(), experiment.StatusReview)

	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "first", items[0].Slug)
	assert.Equal(t, experiment.StatusReview, items[0].Status)
	require.Len(t, items[0].Branches, 1)
	assert.Equal(t, "control", items[0].Branches[0].Slug)
	assert.Equal(t, "second", items[1].Slug)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_GetBySlug_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRepository(db, newNode(t))

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "experiments" WHERE slug = $1`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	exp, err := repo.GetBySlug(context.Background(), "missing")

	require.NoError(t, err)
	assert.Nil(t, exp)
}

type capturePublisher struct {
	entries []*changelog.Entry
	err     error
}

func (p *capturePublisher) Publish(ctx context.Context, entry *changelog.Entry) error {
	p.entries = append(p.entries, entry)
	return p.err
}

func TestChangelogRecorder_Record(t *testing.T) {
	db, mock := newMockDB(t)
	publisher := &capturePublisher{err: errors.New("broker down")}
	recorder := NewChangelogRecorder(db, newNode(t), publisher, zap.NewNop())

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "experiment_changelogs" WHERE experiment_id = $1 ORDER BY changed_on desc, id desc`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "experiment_id", "new_status"}).AddRow(int64(10), int64(7), "Review"))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "experiment_changelogs"`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	exp := &experiment.Experiment{ID: 7, Slug: "pref-flip", Status: experiment.StatusAccepted}
	entry, err := recorder.Record(context.Background(), exp, "broker@example.com", "")

	require.NoError(t, err, "publish failures must not fail the transition")
	assert.Equal(t, experiment.StatusReview, entry.OldStatus)
	assert.Equal(t, experiment.StatusAccepted, entry.NewStatus)
	assert.Equal(t, "broker@example.com", entry.ChangedBy)
	assert.Contains(t, string(entry.ExperimentData), `"slug":"pref-flip"`)
	assert.Len(t, publisher.entries, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChangelogRecorder_FirstEntryHasNoOldStatus(t *testing.T) {
	db, mock := newMockDB(t)
	recorder := NewChangelogRecorder(db, newNode(t), nil, zap.NewNop())

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "experiment_changelogs"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "experiment_changelogs"`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	exp := &experiment.Experiment{ID: 7, Slug: "pref-flip", Status: experiment.StatusReview}
	entry, err := recorder.Record(context.Background(), exp, "owner@example.com", "")

	require.NoError(t, err)
	assert.Empty(t, entry.OldStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdvisoryLocker(t *testing.T) {
	const lockSQL = `SELECT pg_try_advisory_xact_lock(hashtext($1))`

	t.Run("acquired", func(t *testing.T) {
		db, mock := newMockDB(t)
		locker := NewAdvisoryLocker(db)

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(lockSQL)).
			WithArgs("queue").
			WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_xact_lock"}).AddRow(true))
		mock.ExpectCommit()

		var ran bool
		acquired, err := locker.WithLock(context.Background(), "queue", func(ctx context.Context) error {
			ran = true
			return nil
		})

		require.NoError(t, err)
		assert.True(t, acquired)
		assert.True(t, ran)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("held elsewhere", func(t *testing.T) {
		db, mock := newMockDB(t)
		locker := NewAdvisoryLocker(db)

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(lockSQL)).
			WithArgs("queue").
			WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_xact_lock"}).AddRow(false))
		mock.ExpectCommit()

		acquired, err := locker.WithLock(context.Background(), "queue", func(ctx context.Context) error {
			t.Fatal("fn must not run without the lock")
			return nil
		})

		require.NoError(t, err)
		assert.False(t, acquired)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("fn error rolls back", func(t *testing.T) {
		db, mock := newMockDB(t)
		locker := NewAdvisoryLocker(db)

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(lockSQL)).
			WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_xact_lock"}).AddRow(true))
		mock.ExpectRollback()

		acquired, err := locker.WithLock(context.Background(), "queue", func(ctx context.Context) error {
			return errors.New("drain failed")
		})

		assert.EqualError(t, err, "drain failed")
		assert.True(t, acquired)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestBucketAllocator_UsesConfiguredCount(t *testing.T) {
	db, mock := newMockDB(t)
	allocator := NewBucketAllocator(db, newNode(t), 10000, 2500)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "bucket_ranges"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`SELECT \* FROM "isolation_groups"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "isolation_groups"`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "bucket_ranges"`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	exp := &experiment.Experiment{ID: 7, Slug: "pref-flip", Application: "firefox-desktop", PopulationPercent: 5}
	rng, err := allocator.AllocateIfAbsent(context.Background(), exp)

	require.NoError(t, err)
	assert.Equal(t, 2500, rng.Count)
	assert.Equal(t, 0, rng.Start)
	assert.Equal(t, 1, rng.Group.Instance)
	assert.NoError(t, mock.ExpectationsWereMet())
}
