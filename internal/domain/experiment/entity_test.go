package experiment

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewExperiment(t *testing.T) {
	exp := NewExperiment("bug-123-pref-flip", "Pref flip", "firefox-desktop")

	assert.Equal(t, "bug-123-pref-flip", exp.Slug)
	assert.Equal(t, "Pref flip", exp.Name)
	assert.Equal(t, "firefox-desktop", exp.Application)
	assert.Equal(t, StatusDraft, exp.Status)
	assert.NotZero(t, exp.CreatedAt)
	assert.NotZero(t, exp.UpdatedAt)
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name    string
		current Status
		target  Status
		want    bool
	}{
		{"same state", StatusLive, StatusLive, true},
		{"empty target", StatusReview, "", true},

		{"draft to review", StatusDraft, StatusReview, true},
		{"review to accepted", StatusReview, StatusAccepted, true},
		{"accepted to live", StatusAccepted, StatusLive, true},
		{"live to complete", StatusLive, StatusComplete, true},

		{"review rejected", StatusReview, StatusDraft, true},
		{"accepted rejected", StatusAccepted, StatusDraft, true},

		{"draft to accepted", StatusDraft, StatusAccepted, false},
		{"review to live", StatusReview, StatusLive, false},
		{"live to draft", StatusLive, StatusDraft, false},
		{"complete is terminal", StatusComplete, StatusDraft, false},
		{"complete to live", StatusComplete, StatusLive, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.current, tt.target))
		})
	}
}

func TestTransition_Invalid(t *testing.T) {
	exp := NewExperiment("slug", "name", "fenix")

	err := exp.MarkLive()

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Equal(t, StatusDraft, exp.Status)
}

func TestTransition_FullLifecycle(t *testing.T) {
	exp := NewExperiment("slug", "name", "fenix")

	require.NoError(t, exp.MarkReview())
	require.NoError(t, exp.MarkAccepted())
	require.NoError(t, exp.MarkLive())
	require.NoError(t, exp.MarkComplete())

	assert.Equal(t, StatusComplete, exp.Status)
}

func TestMarkRejected(t *testing.T) {
	exp := NewExperiment("slug", "name", "fenix")
	exp.Status = StatusAccepted

	require.NoError(t, exp.MarkRejected())
	assert.Equal(t, StatusDraft, exp.Status)
}

func TestStatus_WireValues(t *testing.T) {
	assert.Equal(t, []Status{"Draft", "Review", "Accepted", "Live", "Complete"}, AllStatuses())
	for _, s := range AllStatuses() {
		assert.True(t, s.Valid())
	}
	assert.False(t, Status("draft").Valid())
}
