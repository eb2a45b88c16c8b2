package testhelper

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/railzwaylabs/experiment-broker/internal/domain/bucket"
	"github.com/railzwaylabs/experiment-broker/internal/domain/changelog"
	"github.com/railzwaylabs/experiment-broker/internal/domain/experiment"
)

// MockExperimentRepository is an in-memory experiment.Repository.
// Reads return copies so callers only change stored state through writes.
type MockExperimentRepository struct {
	mu      sync.Mutex
	items   map[int64]*experiment.Experiment
	nextID  int64
	Writes  int
	SaveErr error
}

func NewMockExperimentRepository() *MockExperimentRepository {
	return &MockExperimentRepository{items: make(map[int64]*experiment.Experiment)}
}

// Add stores exp without counting a write. Experiments added later sort later.
func (m *MockExperimentRepository) Add(exp *experiment.Experiment) *experiment.Experiment {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	if exp.ID == 0 {
		exp.ID = m.nextID
	}
	if exp.CreatedAt.IsZero() {
		exp.CreatedAt = time.Date(2024, 1, 1, 0, 0, int(m.nextID), 0, time.UTC)
	}
	stored := *exp
	m.items[exp.ID] = &stored
	return exp
}

// Status returns the stored status of id.
func (m *MockExperimentRepository) Status(id int64) experiment.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if exp, ok := m.items[id]; ok {
		return exp.Status
	}
	return ""
}

func (m *MockExperimentRepository) GetByID(ctx context.Context, id int64) (*experiment.Experiment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	exp, ok := m.items[id]
	if !ok {
		return nil, nil
	}
	out := *exp
	return &out, nil
}

func (m *MockExperimentRepository) GetBySlug(ctx context.Context, slug string) (*experiment.Experiment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, exp := range m.items {
		if exp.Slug == slug {
			out := *exp
			return &out, nil
		}
	}
	return nil, nil
}

func (m *MockExperimentRepository) ListByStatus(ctx context.Context, status experiment.Status) ([]*experiment.Experiment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*experiment.Experiment
	for _, exp := range m.items {
		if exp.Status == status {
			out := *exp
			result = append(result, &out)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (m *MockExperimentRepository) Save(ctx context.Context, exp *experiment.Experiment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.Writes++
	if exp.ID == 0 {
		m.nextID++
		exp.ID = m.nextID
	}
	stored := *exp
	m.items[exp.ID] = &stored
	return nil
}

func (m *MockExperimentRepository) UpdateStatus(ctx context.Context, id int64, from, to experiment.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}
	exp, ok := m.items[id]
	if !ok {
		return fmt.Errorf("%w: id %d", experiment.ErrNotFound, id)
	}
	if exp.Status != from && exp.Status != to {
		return fmt.Errorf("%w: stored %s, expected %s", experiment.ErrStatusConflict, exp.Status, from)
	}
	m.Writes++
	exp.Status = to
	exp.UpdatedAt = time.Now().UTC()
	return nil
}

// MockChangelogRecorder keeps recorded entries in memory.
type MockChangelogRecorder struct {
	mu      sync.Mutex
	Entries []changelog.Entry
	Err     error
}

func (m *MockChangelogRecorder) Record(ctx context.Context, exp *experiment.Experiment, actor string, message string) (*changelog.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	var old experiment.Status
	for i := len(m.Entries) - 1; i >= 0; i-- {
		if m.Entries[i].ExperimentID == exp.ID {
			old = m.Entries[i].NewStatus
			break
		}
	}
	entry := changelog.Entry{
		ID:             int64(len(m.Entries) + 1),
		ExperimentID:   exp.ID,
		ExperimentSlug: exp.Slug,
		ChangedOn:      time.Now().UTC(),
		ChangedBy:      actor,
		OldStatus:      old,
		NewStatus:      exp.Status,
		Message:        message,
	}
	m.Entries = append(m.Entries, entry)
	return &entry, nil
}

// For returns the entries recorded for experimentID.
func (m *MockChangelogRecorder) For(experimentID int64) []changelog.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []changelog.Entry
	for _, e := range m.Entries {
		if e.ExperimentID == experimentID {
			out = append(out, e)
		}
	}
	return out
}

// MockBucketAllocator hands every experiment a whole isolation group of its own.
type MockBucketAllocator struct {
	mu          sync.Mutex
	ranges      map[int64]*bucket.Range
	Calls       int
	Allocations int
	Err         error
}

func NewMockBucketAllocator() *MockBucketAllocator {
	return &MockBucketAllocator{ranges: make(map[int64]*bucket.Range)}
}

func (m *MockBucketAllocator) AllocateIfAbsent(ctx context.Context, exp *experiment.Experiment) (*bucket.Range, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	if m.Err != nil {
		return nil, m.Err
	}
	if rng, ok := m.ranges[exp.ID]; ok {
		return rng, nil
	}
	placement, err := bucket.Plan(exp.Slug, exp.Application, nil, nil, bucket.DefaultCount, bucket.DefaultTotal)
	if err != nil {
		return nil, err
	}
	m.Allocations++
	rng := &bucket.Range{
		ID:           int64(m.Allocations),
		ExperimentID: exp.ID,
		Start:        placement.Start,
		Count:        bucket.DefaultCount,
		Group:        placement.Group,
	}
	m.ranges[exp.ID] = rng
	return rng, nil
}

// MockDispatcher records dispatched pushes. OnDispatch, when set, runs inline.
type MockDispatcher struct {
	mu         sync.Mutex
	Dispatched []int64
	Err        error
	OnDispatch func(ctx context.Context, experimentID int64) error
}

func (m *MockDispatcher) DispatchPush(ctx context.Context, experimentID int64) error {
	m.mu.Lock()
	if m.Err != nil {
		m.mu.Unlock()
		return m.Err
	}
	m.Dispatched = append(m.Dispatched, experimentID)
	fn := m.OnDispatch
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, experimentID)
	}
	return nil
}
