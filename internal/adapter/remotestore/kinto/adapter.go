package kinto

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/railzwaylabs/experiment-broker/internal/domain/remotestore"
	"github.com/railzwaylabs/experiment-broker/pkg/kintoclient"
)

// API is the subset of kintoclient.Client the adapter uses.
type API interface {
	GetCollection(ctx context.Context, bucket, collection string) (*kintoclient.Collection, error)
	PatchCollectionStatus(ctx context.Context, bucket, collection, status string) (*kintoclient.Collection, error)
	ListRecords(ctx context.Context, bucket, collection string) ([]kintoclient.Record, error)
	CreateRecord(ctx context.Context, bucket, collection, id string, data json.RawMessage) (*kintoclient.Record, error)
	DeleteRecord(ctx context.Context, bucket, collection, id string) error
}

// Adapter maps the review workflow onto a Kinto collection that exists in a
// workspace bucket (edited, reviewed) and a main bucket (signed, published).
type Adapter struct {
	api        API
	workspace  string
	main       string
	collection string
	logger     *zap.Logger
}

func NewAdapter(api API, workspace, main, collection string, logger *zap.Logger) *Adapter {
	return &Adapter{
		api:        api,
		workspace:  workspace,
		main:       main,
		collection: collection,
		logger:     logger.Named("kinto"),
	}
}

// NewAdapterFromClient builds an adapter from the client's configured buckets.
func NewAdapterFromClient(client *kintoclient.Client, logger *zap.Logger) *Adapter {
	cfg := client.Config()
	return NewAdapter(client, cfg.WorkspaceBucket, cfg.MainBucket, cfg.Collection, logger)
}

// Push creates the record in the workspace and requests a review.
func (a *Adapter) Push(ctx context.Context, record remotestore.Record) error {
	if _, err := a.api.CreateRecord(ctx, a.workspace, a.collection, record.ID, record.Body); err != nil {
		return err
	}
	if _, err := a.api.PatchCollectionStatus(ctx, a.workspace, a.collection, kintoclient.StatusToReview); err != nil {
		return err
	}
	a.logger.Info("kinto_review_requested", zap.String("record_id", record.ID), zap.String("collection", a.collection))
	return nil
}

func (a *Adapter) ListMainRecords(ctx context.Context) ([]remotestore.Record, error) {
	records, err := a.api.ListRecords(ctx, a.main, a.collection)
	if err != nil {
		return nil, err
	}
	out := make([]remotestore.Record, 0, len(records))
	for _, r := range records {
		out = append(out, remotestore.Record{ID: r.ID, Body: r.Data})
	}
	return out, nil
}

func (a *Adapter) HasPendingReview(ctx context.Context) (bool, error) {
	col, err := a.api.GetCollection(ctx, a.workspace, a.collection)
	if err != nil {
		return false, err
	}
	return col.Status == kintoclient.StatusToReview, nil
}

// GetRejection reports the reviewer's comment when the last review was declined.
func (a *Adapter) GetRejection(ctx context.Context) (*remotestore.Rejection, error) {
	col, err := a.api.GetCollection(ctx, a.workspace, a.collection)
	if err != nil {
		return nil, err
	}
	if col.Status != kintoclient.StatusWorkInProgress {
		return nil, nil
	}
	return &remotestore.Rejection{
		Comment:  col.LastReviewerComment,
		Reviewer: col.LastReviewBy,
	}, nil
}

// GetRejectedRecordSlug returns the id present in the workspace but not in main.
func (a *Adapter) GetRejectedRecordSlug(ctx context.Context) (string, error) {
	workspace, err := a.api.ListRecords(ctx, a.workspace, a.collection)
	if err != nil {
		return "", err
	}
	published, err := a.api.ListRecords(ctx, a.main, a.collection)
	if err != nil {
		return "", err
	}

	inMain := make(map[string]struct{}, len(published))
	for _, r := range published {
		inMain[r.ID] = struct{}{}
	}

	var pending []string
	for _, r := range workspace {
		if _, ok := inMain[r.ID]; !ok {
			pending = append(pending, r.ID)
		}
	}
	if len(pending) == 0 {
		return "", remotestore.ErrNoRejectedRecord
	}
	sort.Strings(pending)
	if len(pending) > 1 {
		a.logger.Warn("kinto_multiple_unpublished_records", zap.Strings("record_ids", pending))
	}
	return pending[0], nil
}

// DeleteRejectedRecord removes the record from the workspace and rolls the
// collection back to its signed state.
func (a *Adapter) DeleteRejectedRecord(ctx context.Context, slug string) error {
	if err := a.api.DeleteRecord(ctx, a.workspace, a.collection, slug); err != nil {
		if !errors.Is(err, kintoclient.ErrNotFound) {
			return err
		}
		a.logger.Warn("kinto_rejected_record_already_deleted", zap.String("record_id", slug))
	}
	if _, err := a.api.PatchCollectionStatus(ctx, a.workspace, a.collection, kintoclient.StatusToRollback); err != nil {
		return fmt.Errorf("roll back collection: %w", err)
	}
	return nil
}
