package kintoclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// Record is a stored record. Data keeps the full JSON body as returned by Kinto.
type Record struct {
	ID           string
	LastModified int64
	Data         json.RawMessage
}

func (r *Record) UnmarshalJSON(b []byte) error {
	var meta struct {
		ID           string `json:"id"`
		LastModified int64  `json:"last_modified"`
	}
	if err := json.Unmarshal(b, &meta); err != nil {
		return err
	}
	r.ID = meta.ID
	r.LastModified = meta.LastModified
	r.Data = append(json.RawMessage(nil), b...)
	return nil
}

func (r Record) MarshalJSON() ([]byte, error) {
	if len(r.Data) == 0 {
		return json.Marshal(map[string]string{"id": r.ID})
	}
	return r.Data, nil
}

func recordsPath(bucket, collection string) string {
	return collectionPath(bucket, collection) + "/records"
}

func recordPath(bucket, collection, id string) string {
	return recordsPath(bucket, collection) + "/" + url.PathEscape(id)
}

// ListRecords returns every record of the collection, following pagination.
func (c *Client) ListRecords(ctx context.Context, bucket, collection string) ([]Record, error) {
	var records []Record
	next := recordsPath(bucket, collection)
	for next != "" {
		var page ResponseWrapper[[]Record]
		header, err := c.doRequest(ctx, http.MethodGet, next, nil, nil, &page)
		if err != nil {
			return nil, fmt.Errorf("list records %s/%s: %w", bucket, collection, err)
		}
		records = append(records, page.Data...)
		next = header.Get("Next-Page")
	}
	return records, nil
}

// CreateRecord stores data under id. It fails with ErrConflict when the record exists.
func (c *Client) CreateRecord(ctx context.Context, bucket, collection, id string, data json.RawMessage) (*Record, error) {
	var resp ResponseWrapper[Record]
	headers := map[string]string{"If-None-Match": "*"}
	if _, err := c.doRequest(ctx, http.MethodPut, recordPath(bucket, collection, id), data, headers, &resp); err != nil {
		return nil, fmt.Errorf("create record %s in %s/%s: %w", id, bucket, collection, err)
	}
	return &resp.Data, nil
}

// DeleteRecord removes the record. Deleting a missing record returns ErrNotFound.
func (c *Client) DeleteRecord(ctx context.Context, bucket, collection, id string) error {
	if _, err := c.doRequest(ctx, http.MethodDelete, recordPath(bucket, collection, id), nil, nil, nil); err != nil {
		return fmt.Errorf("delete record %s in %s/%s: %w", id, bucket, collection, err)
	}
	return nil
}
