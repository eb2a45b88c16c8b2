package broker

import "context"

// Names of the periodic broker passes, as accepted by the CLI and the admin API.
const (
	PassPushQueue = "push-queue"
	PassLive      = "live"
	PassComplete  = "complete"
)

// Passes returns the periodic passes keyed by name.
func (b *Broker) Passes() map[string]func(ctx context.Context) error {
	return map[string]func(ctx context.Context) error{
		PassPushQueue: b.CheckPushQueue,
		PassLive:      b.CheckExperimentsAreLive,
		PassComplete:  b.CheckExperimentsAreComplete,
	}
}

// Pass looks up a periodic pass by name.
func (b *Broker) Pass(name string) (func(ctx context.Context) error, bool) {
	fn, ok := b.Passes()[name]
	return fn, ok
}
