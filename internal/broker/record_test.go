package broker

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/railzwaylabs/experiment-broker/internal/domain/bucket"
	"github.com/railzwaylabs/experiment-broker/internal/domain/experiment"
)

func testRange() *bucket.Range {
	return &bucket.Range{
		Start: 200,
		Count: 500,
		Group: bucket.IsolationGroup{Name: "pref-flip", Instance: 2, Application: "firefox-desktop", Total: 10000},
	}
}

func TestNewExperimentRecord(t *testing.T) {
	exp := experiment.NewExperiment("pref-flip", "Pref Flip", "firefox-desktop")
	exp.Channel = "nightly"
	exp.PublicDescription = "Flips a pref"
	exp.TargetingExpression = "true"
	exp.ProposedDuration = 28
	exp.ProposedEnrollment = 7
	exp.ReferenceBranch = "control"
	exp.Branches = []experiment.Branch{
		{Slug: "control", Ratio: 1, FeatureID: "pref", Enabled: false},
		{Slug: "treatment", Ratio: 2, FeatureID: "pref", Enabled: true, FeatureValue: `{"value":42}`},
	}

	rec, err := NewExperimentRecord(exp, testRange())
	require.NoError(t, err)

	assert.Equal(t, "pref-flip", rec.ID)
	assert.Equal(t, "firefox_desktop", rec.AppName)
	assert.Equal(t, "firefox-desktop", rec.AppID)
	assert.Equal(t, "firefox-desktop-pref-flip-2", rec.BucketConfig.Namespace)
	assert.Equal(t, 200, rec.BucketConfig.Start)
	assert.Equal(t, 500, rec.BucketConfig.Count)
	assert.Equal(t, 10000, rec.BucketConfig.Total)
	require.Len(t, rec.Branches, 2)
	assert.JSONEq(t, `{}`, string(rec.Branches[0].Feature.Value))
	assert.JSONEq(t, `{"value":42}`, string(rec.Branches[1].Feature.Value))

	wire, err := rec.Record()
	require.NoError(t, err)
	assert.Equal(t, "pref-flip", wire.ID)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(wire.Body, &decoded))
	assert.Equal(t, "1.0.0", decoded["schemaVersion"])
	assert.Equal(t, "Pref Flip", decoded["userFacingName"])
	assert.Equal(t, "normandy_id", decoded["bucketConfig"].(map[string]any)["randomizationUnit"])
}

func TestNewExperimentRecord_UnknownApplication(t *testing.T) {
	exp := experiment.NewExperiment("klar", "Klar", "klar-android")

	rec, err := NewExperimentRecord(exp, testRange())
	require.NoError(t, err)
	assert.Equal(t, "klar-android", rec.AppName)
}

func TestNewExperimentRecord_Errors(t *testing.T) {
	exp := experiment.NewExperiment("pref-flip", "Pref Flip", "firefox-desktop")

	_, err := NewExperimentRecord(exp, nil)
	assert.Error(t, err)

	exp.Branches = []experiment.Branch{{Slug: "control", FeatureValue: "{not json"}}
	_, err = NewExperimentRecord(exp, testRange())
	assert.Error(t, err)
}
