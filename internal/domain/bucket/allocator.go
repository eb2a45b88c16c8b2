package bucket

import (
	"context"
	"errors"
	"fmt"

	"github.com/railzwaylabs/experiment-broker/internal/domain/experiment"
)

const (
	// DefaultTotal is the size of the randomization space of one isolation group.
	DefaultTotal = 10000

	// DefaultCount is the number of buckets requested for every experiment.
	// Enrollment below 100% is applied client side within the range.
	DefaultCount = 10000
)

var ErrInvalidCount = errors.New("invalid bucket count")

// IsolationGroup is one instance of a randomization namespace.
// Experiments allocated in the same group never overlap.
type IsolationGroup struct {
	ID          int64
	Name        string
	Instance    int
	Application string
	Total       int
}

// Range is the slice of an isolation group assigned to one experiment.
type Range struct {
	ID           int64
	ExperimentID int64
	Start        int
	Count        int
	Group        IsolationGroup
}

// End returns the last bucket (inclusive) covered by the range.
func (r Range) End() int {
	return r.Start + r.Count - 1
}

// Namespace is the client-visible identifier of the range's isolation group.
func (r Range) Namespace() string {
	return fmt.Sprintf("%s-%s-%d", r.Group.Application, r.Group.Name, r.Group.Instance)
}

// Allocator assigns bucket ranges to experiments.
type Allocator interface {
	// AllocateIfAbsent returns the experiment's range, allocating one only if none exists yet.
	AllocateIfAbsent(ctx context.Context, exp *experiment.Experiment) (*Range, error)
}

// Placement is the outcome of Plan.
type Placement struct {
	Group    IsolationGroup
	Start    int
	NewGroup bool
}

// Plan decides where count buckets go. latest is the highest instance of the
// isolation group (nil when the group does not exist yet) and last is the range
// with the highest start inside it (nil when the group is empty).
func Plan(name, application string, latest *IsolationGroup, last *Range, count, total int) (Placement, error) {
	if total <= 0 {
		total = DefaultTotal
	}
	if count <= 0 || count > total {
		return Placement{}, fmt.Errorf("%w: %d of %d", ErrInvalidCount, count, total)
	}

	if latest == nil {
		return Placement{
			Group:    IsolationGroup{Name: name, Instance: 1, Application: application, Total: total},
			Start:    0,
			NewGroup: true,
		}, nil
	}

	if last == nil {
		return Placement{Group: *latest, Start: 0}, nil
	}

	if last.End()+count >= latest.Total {
		return Placement{
			Group:    IsolationGroup{Name: name, Instance: latest.Instance + 1, Application: application, Total: latest.Total},
			Start:    0,
			NewGroup: true,
		}, nil
	}

	return Placement{Group: *latest, Start: last.End() + 1}, nil
}
