package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/railzwaylabs/experiment-broker/internal/domain/changelog"
	"github.com/railzwaylabs/experiment-broker/internal/domain/experiment"
	"github.com/railzwaylabs/experiment-broker/pkg/telemetry/correlation"
)

type fakeWriter struct {
	block    bool
	failures int
	written  []kafka.Message
	calls    int
	closed   bool
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	f.calls++
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if f.calls <= f.failures {
		return errors.New("leader not available")
	}
	f.written = append(f.written, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func testEntry() *changelog.Entry {
	return &changelog.Entry{
		ID:             1,
		ExperimentID:   7,
		ExperimentSlug: "pref-flip",
		ChangedOn:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		ChangedBy:      "broker@example.com",
		OldStatus:      experiment.StatusReview,
		NewStatus:      experiment.StatusAccepted,
	}
}

func TestPublish(t *testing.T) {
	w := &fakeWriter{}
	p := newPublisher(w, "changelog", 3, time.Second, zap.NewNop())
	ctx := correlation.ContextWithCorrelationID(context.Background(), "run-1")

	require.NoError(t, p.Publish(ctx, testEntry()))

	require.Len(t, w.written, 1)
	msg := w.written[0]
	assert.Equal(t, "pref-flip", string(msg.Key))

	var decoded changelog.Entry
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, experiment.StatusAccepted, decoded.NewStatus)
	assert.Equal(t, int64(7), decoded.ExperimentID)

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "Accepted", headers["new_status"])
	assert.Equal(t, "run-1", headers["correlation_id"])
}

func TestPublish_RetriesTransientErrors(t *testing.T) {
	w := &fakeWriter{failures: 2}
	p := newPublisher(w, "changelog", 3, time.Second, zap.NewNop())

	require.NoError(t, p.Publish(context.Background(), testEntry()))
	assert.Equal(t, 3, w.calls)
}

func TestPublish_GivesUp(t *testing.T) {
	w := &fakeWriter{failures: 10}
	p := newPublisher(w, "changelog", 2, time.Second, zap.NewNop())

	err := p.Publish(context.Background(), testEntry())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
	assert.Equal(t, 2, w.calls)
}

func TestNewPublisher_Validation(t *testing.T) {
	_, err := NewPublisher(Config{Topic: "changelog"}, zap.NewNop())
	assert.Error(t, err)

	_, err = NewPublisher(Config{Brokers: []string{"localhost:9092"}}, zap.NewNop())
	assert.Error(t, err)
}

func TestClose(t *testing.T) {
	w := &fakeWriter{}
	p := newPublisher(w, "changelog", 1, time.Second, zap.NewNop())

	require.NoError(t, p.Close())
	assert.True(t, w.closed)

	var nilPublisher *Publisher
	assert.NoError(t, nilPublisher.Close())
}

func TestPublish_BoundedWhenBrokerHangs(t *testing.T) {
	w := &fakeWriter{block: true}
	p := newPublisher(w, "changelog", 3, 50*time.Millisecond, zap.NewNop())

	started := time.Now()
	err := p.Publish(context.Background(), testEntry())

	require.Error(t, err)
	assert.Less(t, time.Since(started), time.Second)
	assert.Equal(t, 1, w.calls)
}
