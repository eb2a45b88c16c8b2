package remotestore

import (
	"context"
	"encoding/json"
	"errors"
)

var ErrNoRejectedRecord = errors.New("no rejected record in review buffer")

// Record is a serialized experiment keyed by its slug.
type Record struct {
	ID   string
	Body json.RawMessage
}

// Rejection carries the reviewer metadata of a rejected review.
type Rejection struct {
	Comment  string
	Reviewer string
}

// Client defines the operations the broker needs from the remote records collection.
type Client interface {
	// Push submits the record and requests a review.
	Push(ctx context.Context, record Record) error

	// ListMainRecords returns the records currently published.
	ListMainRecords(ctx context.Context) ([]Record, error)

	// HasPendingReview reports whether a submission awaits a reviewer.
	HasPendingReview(ctx context.Context) (bool, error)

	// GetRejection returns nil when the last review was not a rejection.
	GetRejection(ctx context.Context) (*Rejection, error)

	// GetRejectedRecordSlug identifies the record the reviewer rejected.
	GetRejectedRecordSlug(ctx context.Context) (string, error)

	// DeleteRejectedRecord removes the rejected record from the review buffer.
	DeleteRejectedRecord(ctx context.Context, slug string) error
}
