package experiment

import (
	"errors"
	"fmt"
	"time"
)

// Status represents the publication state of an experiment.
// Values are stored and exchanged exactly as written.
type Status string

const (
	StatusDraft    Status = "Draft"
	StatusReview   Status = "Review"
	StatusAccepted Status = "Accepted"
	StatusLive     Status = "Live"
	StatusComplete Status = "Complete"
)

var (
	ErrNotFound          = errors.New("experiment not found")
	ErrInvalidTransition = errors.New("invalid experiment status transition")
	ErrStatusConflict    = errors.New("experiment status changed concurrently")
)

var allowedTransitions = map[Status][]Status{
	StatusDraft:    {StatusReview},
	StatusReview:   {StatusAccepted, StatusDraft},
	StatusAccepted: {StatusLive, StatusDraft},
	StatusLive:     {StatusComplete},
	StatusComplete: {},
}

// AllStatuses returns every status in order of progression.
func AllStatuses() []Status {
	return []Status{StatusDraft, StatusReview, StatusAccepted, StatusLive, StatusComplete}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := allowedTransitions[s]
	return ok
}

// CanTransition reports whether an experiment may move from current to target.
func CanTransition(current, target Status) bool {
	if target == "" || current == target {
		return true
	}
	for _, next := range allowedTransitions[current] {
		if next == target {
			return true
		}
	}
	return false
}

// Branch is one treatment arm of an experiment.
type Branch struct {
	Slug         string `json:"slug"`
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	Ratio        int    `json:"ratio"`
	FeatureID    string `json:"feature_id,omitempty"`
	FeatureValue string `json:"feature_value,omitempty"`
	Enabled      bool   `json:"enabled"`
}

// Experiment is the core domain entity.
// Authoring owns every field except Status, which only the broker moves past Review.
type Experiment struct {
	ID                  int64     `json:"id,string"`
	Slug                string    `json:"slug"`
	Name                string    `json:"name"`
	PublicDescription   string    `json:"public_description"`
	Application         string    `json:"application"`
	Channel             string    `json:"channel"`
	Status              Status    `json:"status"`
	PopulationPercent   float64   `json:"population_percent"`
	ProposedDuration    int       `json:"proposed_duration"`
	ProposedEnrollment  int       `json:"proposed_enrollment"`
	TargetingExpression string    `json:"targeting_expression"`
	ReferenceBranch     string    `json:"reference_branch"`
	Branches            []Branch  `json:"branches"`
	IsPaused            bool      `json:"is_paused"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// NewExperiment creates a draft experiment.
func NewExperiment(slug, name, application string) *Experiment {
	now := time.Now().UTC()
	return &Experiment{
		Slug:        slug,
		Name:        name,
		Application: application,
		Status:      StatusDraft,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func (e *Experiment) String() string {
	return fmt.Sprintf("%s (%s)", e.Slug, e.Status)
}

// Transition moves the experiment to next when the transition is allowed.
func (e *Experiment) Transition(next Status) error {
	if !CanTransition(e.Status, next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, e.Status, next)
	}
	e.Status = next
	e.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkReview queues a draft for publication.
func (e *Experiment) MarkReview() error { return e.Transition(StatusReview) }

// MarkAccepted records a successful push to the remote store.
func (e *Experiment) MarkAccepted() error { return e.Transition(StatusAccepted) }

// MarkLive records that the remote store publishes the experiment.
func (e *Experiment) MarkLive() error { return e.Transition(StatusLive) }

// MarkComplete records that the remote store no longer publishes the experiment.
func (e *Experiment) MarkComplete() error { return e.Transition(StatusComplete) }

// MarkRejected sends the experiment back to draft after a reviewer rejection.
func (e *Experiment) MarkRejected() error { return e.Transition(StatusDraft) }
