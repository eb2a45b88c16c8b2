package testhelper

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/railzwaylabs/experiment-broker/internal/domain/remotestore"
)

// MockRemoteStore is an in-memory remotestore.Client with a review buffer and a
// published (main) buffer.
type MockRemoteStore struct {
	mu sync.Mutex

	workspace map[string]remotestore.Record
	main      map[string]remotestore.Record

	PendingReview bool
	Rejection     *remotestore.Rejection

	PushErr   error
	ListErr   error
	DeleteErr error

	Pushes  []remotestore.Record
	Deleted []string
	Calls   int
}

// NewMockRemoteStore creates an empty store.
func NewMockRemoteStore() *MockRemoteStore {
	return &MockRemoteStore{
		workspace: make(map[string]remotestore.Record),
		main:      make(map[string]remotestore.Record),
	}
}

// Publish places slug in both buffers, as after a reviewer approval.
func (m *MockRemoteStore) Publish(slug string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := remotestore.Record{ID: slug, Body: []byte(fmt.Sprintf(`{"id":%q}`, slug))}
	m.workspace[slug] = rec
	m.main[slug] = rec
	m.PendingReview = false
}

// Unpublish removes slug from both buffers, as when an experiment ends.
func (m *MockRemoteStore) Unpublish(slug string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.workspace, slug)
	delete(m.main, slug)
}

// Reject records a reviewer rejection of the pending submission.
func (m *MockRemoteStore) Reject(comment string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PendingReview = false
	m.Rejection = &remotestore.Rejection{Comment: comment, Reviewer: "reviewer@example.com"}
}

// InReview reports whether slug sits in the review buffer without being published.
func (m *MockRemoteStore) InReview(slug string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, inWorkspace := m.workspace[slug]
	_, inMain := m.main[slug]
	return inWorkspace && !inMain
}

func (m *MockRemoteStore) Push(ctx context.Context, record remotestore.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	if m.PushErr != nil {
		return m.PushErr
	}
	m.Pushes = append(m.Pushes, record)
	m.workspace[record.ID] = record
	m.PendingReview = true
	return nil
}

func (m *MockRemoteStore) ListMainRecords(ctx context.Context) ([]remotestore.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	out := make([]remotestore.Record, 0, len(m.main))
	for _, rec := range m.main {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MockRemoteStore) HasPendingReview(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	return m.PendingReview, nil
}

func (m *MockRemoteStore) GetRejection(ctx context.Context) (*remotestore.Rejection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	return m.Rejection, nil
}

func (m *MockRemoteStore) GetRejectedRecordSlug(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	var pending []string
	for slug := range m.workspace {
		if _, ok := m.main[slug]; !ok {
			pending = append(pending, slug)
		}
	}
	if len(pending) == 0 {
		return "", remotestore.ErrNoRejectedRecord
	}
	sort.Strings(pending)
	return pending[0], nil
}

func (m *MockRemoteStore) DeleteRejectedRecord(ctx context.Context, slug string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	delete(m.workspace, slug)
	m.Rejection = nil
	m.Deleted = append(m.Deleted, slug)
	return nil
}
