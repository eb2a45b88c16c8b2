package outbox

import "time"

type EventType string

type EventStatus string

const (
	EventTypePushExperiment EventType = "push_experiment"
)

const (
	StatusPending    EventStatus = "pending"
	StatusProcessing EventStatus = "processing"
	StatusCompleted  EventStatus = "completed"
	StatusFailed     EventStatus = "failed"
)

// Event is a durable request to run a broker action for one experiment.
type Event struct {
	ID            int64       `gorm:"primaryKey;autoIncrement:false"`
	EventType     EventType   `gorm:"type:varchar(100);not null"`
	ExperimentID  int64       `gorm:"not null"`
	Status        EventStatus `gorm:"type:varchar(50);not null"`
	Attempts      int         `gorm:"not null;default:0"`
	LastError     string      `gorm:"type:text"`
	LockedAt      *time.Time
	NextAttemptAt *time.Time
	ProcessedAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (Event) TableName() string {
	return "outbox_events"
}

// Config tunes dispatch and processing.
type Config struct {
	PollInterval time.Duration
	BatchSize    int
	// MaxAttempts bounds how often one event is tried. With 1 a failed push
	// is only retried by the next push queue drain.
	MaxAttempts int
	// StaleAfter fails events left in processing by a crashed worker.
	StaleAfter time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 5
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 10 * time.Minute
	}
	return c
}
