package kintoclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return New(Config{
		Host:       srv.URL + "/v1",
		User:       "broker",
		Pass:       "secret",
		Timeout:    5 * time.Second,
		RetryCount: 2,
		RetryDelay: time.Millisecond,
	})
}

func TestGetCollection(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/buckets/main-workspace/collections/nimbus", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "broker", user)
		assert.Equal(t, "secret", pass)

		_, _ = io.WriteString(w, `{"data":{"id":"nimbus","status":"work-in-progress","last_reviewer_comment":"needs docs","last_review_by":"account:reviewer"}}`)
	})

	col, err := client.GetCollection(context.Background(), "main-workspace", "nimbus")

	require.NoError(t, err)
	assert.Equal(t, StatusWorkInProgress, col.Status)
	assert.Equal(t, "needs docs", col.LastReviewerComment)
	assert.Equal(t, "account:reviewer", col.LastReviewBy)
}

func TestPatchCollectionStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		var body map[string]map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, StatusToReview, body["data"]["status"])

		_, _ = io.WriteString(w, `{"data":{"id":"nimbus","status":"to-review"}}`)
	})

	col, err := client.PatchCollectionStatus(context.Background(), "main-workspace", "nimbus", StatusToReview)

	require.NoError(t, err)
	assert.Equal(t, StatusToReview, col.Status)
}

func TestListRecords_FollowsPagination(t *testing.T) {
	var srvURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("_token") == "" {
			w.Header().Set("Next-Page", srvURL+r.URL.Path+"?_token=abc")
			_, _ = io.WriteString(w, `{"data":[{"id":"a","last_modified":1}]}`)
			return
		}
		_, _ = io.WriteString(w, `{"data":[{"id":"b","last_modified":2,"slug":"b"}]}`)
	}))
	defer srv.Close()
	srvURL = srv.URL
	client := New(Config{Host: srv.URL + "/v1", Timeout: time.Second})

	records, err := client.ListRecords(context.Background(), "main", "nimbus")

	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "a", records[0].ID)
	assert.Equal(t, "b", records[1].ID)
	assert.JSONEq(t, `{"id":"b","last_modified":2,"slug":"b"}`, string(records[1].Data))
}

func TestCreateRecord_Conflict(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "*", r.Header.Get("If-None-Match"))
		w.WriteHeader(http.StatusPreconditionFailed)
		_, _ = io.WriteString(w, `{"code":412,"errno":114,"error":"Precondition Failed","message":"Resource was modified meanwhile"}`)
	})

	_, err := client.CreateRecord(context.Background(), "main-workspace", "nimbus", "pref-flip", json.RawMessage(`{"id":"pref-flip"}`))

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConflict))
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 114, apiErr.Errno)
}

func TestCreateRecord_Success(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/buckets/main-workspace/collections/nimbus/records/pref-flip", r.URL.Path)
		var body map[string]json.RawMessage
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.JSONEq(t, `{"id":"pref-flip","appName":"firefox_desktop"}`, string(body["data"]))

		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"data":{"id":"pref-flip","last_modified":10,"appName":"firefox_desktop"}}`)
	})

	rec, err := client.CreateRecord(context.Background(), "main-workspace", "nimbus", "pref-flip", json.RawMessage(`{"id":"pref-flip","appName":"firefox_desktop"}`))

	require.NoError(t, err)
	assert.Equal(t, int64(10), rec.LastModified)
}

func TestDeleteRecord_NotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"code":404,"errno":110,"error":"Not Found","message":"record not found"}`)
	})

	err := client.DeleteRecord(context.Background(), "main-workspace", "nimbus", "gone")

	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestRetry_OnlySafeRequests(t *testing.T) {
	var gets, puts int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			if atomic.AddInt32(&gets, 1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			_, _ = io.WriteString(w, `{"data":{"id":"nimbus","status":"signed"}}`)
			return
		}
		atomic.AddInt32(&puts, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	col, err := client.GetCollection(context.Background(), "main", "nimbus")
	require.NoError(t, err)
	assert.Equal(t, StatusSigned, col.Status)
	assert.Equal(t, int32(3), atomic.LoadInt32(&gets))

	_, err = client.CreateRecord(context.Background(), "main-workspace", "nimbus", "x", json.RawMessage(`{}`))
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&puts))
}

func TestRetry_ClientErrorsAreNotRetried(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusForbidden)
	})

	_, err := client.GetCollection(context.Background(), "main", "nimbus")

	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestRetryPolicy_StopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := RetryPolicy{MaxRetries: 5, BaseDelay: time.Hour}

	var calls int
	err := policy.Do(ctx, true, func() error {
		calls++
		cancel()
		return errors.New("connection reset")
	})

	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 1, calls)
}

func TestBreaker_OpensOnServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := New(Config{
		Host:                  srv.URL,
		Timeout:               time.Second,
		CircuitBreakerEnabled: true,
		CBFailureThreshold:    2,
		CBMinRequests:         2,
		CBRecoveryTime:        time.Minute,
		CBSamplingDuration:    time.Minute,
		CBHalfOpenMaxSuccess:  1,
	})

	for i := 0; i < 4; i++ {
		_, _ = client.GetCollection(context.Background(), "main", "nimbus")
	}

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}
