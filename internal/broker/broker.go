// Package broker publishes experiments to the remote records collection one at a time
// and keeps local experiment status in step with the collection's review lifecycle.
//
// The four operations are meant to be invoked independently on their own cadence.
// They keep no in-memory state between calls: coordination lives in the experiment
// status column and in the remote collection.
package broker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/railzwaylabs/experiment-broker/internal/domain/bucket"
	"github.com/railzwaylabs/experiment-broker/internal/domain/changelog"
	"github.com/railzwaylabs/experiment-broker/internal/domain/experiment"
	"github.com/railzwaylabs/experiment-broker/internal/domain/remotestore"
)

// DefaultActor authors the changelog entries of broker-driven transitions.
const DefaultActor = "experiment-broker@system"

const pushQueueLock = "experiment_broker.push_queue"

// Dispatcher hands a push off so the queue drain does not wait for it.
type Dispatcher interface {
	DispatchPush(ctx context.Context, experimentID int64) error
}

// Locker runs fn while holding a named lock shared by every broker instance.
// It returns false without calling fn when another holder has the lock.
type Locker interface {
	WithLock(ctx context.Context, name string, fn func(ctx context.Context) error) (bool, error)
}

// Config holds broker settings.
type Config struct {
	Actor string
}

type Broker struct {
	repo       experiment.Repository
	store      remotestore.Client
	recorder   changelog.Recorder
	allocator  bucket.Allocator
	dispatcher Dispatcher
	locker     Locker
	cfg        Config
	metrics    *Metrics
	logger     *zap.Logger
}

// New builds a broker. locker may be nil, in which case pushes and queue drains are not
// serialized across processes.
func New(
	repo experiment.Repository,
	store remotestore.Client,
	recorder changelog.Recorder,
	allocator bucket.Allocator,
	dispatcher Dispatcher,
	locker Locker,
	cfg Config,
	logger *zap.Logger,
) *Broker {
	if cfg.Actor == "" {
		cfg.Actor = DefaultActor
	}
	return &Broker{
		repo:       repo,
		store:      store,
		recorder:   recorder,
		allocator:  allocator,
		dispatcher: dispatcher,
		locker:     locker,
		cfg:        cfg,
		metrics:    NewMetrics(),
		logger:     logger.Named("broker"),
	}
}

// transition moves exp to next locally and in the repository, then appends a changelog entry.
func (b *Broker) transition(ctx context.Context, exp *experiment.Experiment, next experiment.Status, message string) error {
	from := exp.Status
	if err := exp.Transition(next); err != nil {
		return err
	}
	if err := b.repo.UpdateStatus(ctx, exp.ID, from, next); err != nil {
		exp.Status = from
		return fmt.Errorf("update status of %s: %w", exp.Slug, err)
	}
	if _, err := b.recorder.Record(ctx, exp, b.cfg.Actor, message); err != nil {
		return fmt.Errorf("record changelog of %s: %w", exp.Slug, err)
	}
	return nil
}
