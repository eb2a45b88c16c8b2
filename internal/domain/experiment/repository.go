package experiment

import "context"

// Repository defines the interface for persisting Experiment entities.
type Repository interface {
	// GetByID returns nil, nil when no experiment has the id.
	GetByID(ctx context.Context, id int64) (*Experiment, error)

	// GetBySlug returns nil, nil when no experiment has the slug.
	GetBySlug(ctx context.Context, slug string) (*Experiment, error)

	// ListByStatus returns experiments in the status, oldest first (created_at, then id).
	ListByStatus(ctx context.Context, status Status) ([]*Experiment, error)

	// Save persists an experiment (create or update).
	Save(ctx context.Context, exp *Experiment) error

	// UpdateStatus moves the experiment from one status to another.
	// It fails with ErrStatusConflict when the stored status is neither from nor to.
	UpdateStatus(ctx context.Context, id int64, from, to Status) error
}
