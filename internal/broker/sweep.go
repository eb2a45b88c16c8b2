package broker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/railzwaylabs/experiment-broker/internal/domain/experiment"
)

// CheckExperimentsAreLive marks Accepted experiments Live once their slug appears in
// the remote store's published records. Experiments not yet published are left alone.
func (b *Broker) CheckExperimentsAreLive(ctx context.Context) (err error) {
	defer b.metrics.time(TaskCheckExperimentsLive)()
	b.metrics.incr(TaskCheckExperimentsLive, eventStarted)

	defer func() {
		if err != nil {
			b.metrics.incr(TaskCheckExperimentsLive, eventFailed)
		}
	}()

	err = b.sweep(ctx, experiment.StatusAccepted, experiment.StatusLive, true)
	if err == nil {
		b.metrics.incr(TaskCheckExperimentsLive, eventCompleted)
	}
	return err
}

// CheckExperimentsAreComplete marks Live experiments Complete once their slug is gone
// from the remote store's published records.
func (b *Broker) CheckExperimentsAreComplete(ctx context.Context) (err error) {
	defer b.metrics.time(TaskCheckExperimentsDone)()
	b.metrics.incr(TaskCheckExperimentsDone, eventStarted)

	defer func() {
		if err != nil {
			b.metrics.incr(TaskCheckExperimentsDone, eventFailed)
		}
	}()

	err = b.sweep(ctx, experiment.StatusLive, experiment.StatusComplete, false)
	if err == nil {
		b.metrics.incr(TaskCheckExperimentsDone, eventCompleted)
	}
	return err
}

// sweep moves experiments in from to to when the presence of their slug in the
// published records equals whenPublished.
func (b *Broker) sweep(ctx context.Context, from, to experiment.Status, whenPublished bool) error {
	candidates, err := b.repo.ListByStatus(ctx, from)
	if err != nil {
		return fmt.Errorf("list %s experiments: %w", from, err)
	}
	if len(candidates) == 0 {
		return nil
	}

	records, err := b.store.ListMainRecords(ctx)
	if err != nil {
		return fmt.Errorf("list published records: %w", err)
	}
	published := make(map[string]struct{}, len(records))
	for _, r := range records {
		published[r.ID] = struct{}{}
	}

	for _, exp := range candidates {
		_, ok := published[exp.Slug]
		if ok != whenPublished {
			continue
		}

		b.logger.Info("experiment_status_updating",
			zap.String("slug", exp.Slug),
			zap.String("from", string(from)),
			zap.String("to", string(to)),
		)
		if err := b.transition(ctx, exp, to, ""); err != nil {
			return err
		}
	}
	return nil
}
