package changelog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/railzwaylabs/experiment-broker/internal/domain/experiment"
)

// Entry is an immutable history record of one experiment status transition.
type Entry struct {
	ID             int64             `json:"id,string"`
	ExperimentID   int64             `json:"experiment_id,string"`
	ExperimentSlug string            `json:"experiment_slug"`
	ChangedOn      time.Time         `json:"changed_on"`
	ChangedBy      string            `json:"changed_by"`
	OldStatus      experiment.Status `json:"old_status,omitempty"`
	NewStatus      experiment.Status `json:"new_status"`
	Message        string            `json:"message,omitempty"`
	ExperimentData json.RawMessage   `json:"experiment_data,omitempty"`
}

// Recorder appends history entries. Entries are never updated or deleted.
type Recorder interface {
	// Record stores the experiment's current status as a new entry authored by actor.
	// message is empty for routine transitions.
	Record(ctx context.Context, exp *experiment.Experiment, actor string, message string) (*Entry, error)
}

// Publisher fans recorded entries out to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, entry *Entry) error
}
