package kintoclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// Collection review states set by the kinto-signer plugin.
const (
	StatusSigned         = "signed"
	StatusWorkInProgress = "work-in-progress"
	StatusToReview       = "to-review"
	StatusToSign         = "to-sign"
	StatusToRollback     = "to-rollback"
	StatusToResign       = "to-resign"
)

type Collection struct {
	ID                  string `json:"id"`
	Status              string `json:"status"`
	LastModified        int64  `json:"last_modified"`
	LastEditBy          string `json:"last_edit_by,omitempty"`
	LastReviewRequestBy string `json:"last_review_request_by,omitempty"`
	LastReviewBy        string `json:"last_review_by,omitempty"`
	LastReviewerComment string `json:"last_reviewer_comment,omitempty"`
	LastEditorComment   string `json:"last_editor_comment,omitempty"`
}

func collectionPath(bucket, collection string) string {
	return fmt.Sprintf("/buckets/%s/collections/%s", url.PathEscape(bucket), url.PathEscape(collection))
}

// GetCollection returns the collection metadata.
func (c *Client) GetCollection(ctx context.Context, bucket, collection string) (*Collection, error) {
	var resp ResponseWrapper[Collection]
	if _, err := c.doRequest(ctx, http.MethodGet, collectionPath(bucket, collection), nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("get collection %s/%s: %w", bucket, collection, err)
	}
	return &resp.Data, nil
}

// PatchCollectionStatus requests a review state change of the collection.
func (c *Client) PatchCollectionStatus(ctx context.Context, bucket, collection, status string) (*Collection, error) {
	var resp ResponseWrapper[Collection]
	body := map[string]string{"status": status}
	if _, err := c.doRequest(ctx, http.MethodPatch, collectionPath(bucket, collection), body, nil, &resp); err != nil {
		return nil, fmt.Errorf("patch collection %s/%s to %s: %w", bucket, collection, status, err)
	}
	return &resp.Data, nil
}
