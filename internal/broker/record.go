package broker

import (
	"encoding/json"
	"fmt"

	"github.com/railzwaylabs/experiment-broker/internal/domain/bucket"
	"github.com/railzwaylabs/experiment-broker/internal/domain/experiment"
	"github.com/railzwaylabs/experiment-broker/internal/domain/remotestore"
)

const (
	recordSchemaVersion = "1.0.0"
	randomizationUnit   = "normandy_id"
)

var appNames = map[string]string{
	"firefox-desktop": "firefox_desktop",
	"fenix":           "fenix",
	"firefox-ios":     "firefox_ios",
	"focus-android":   "focus_android",
	"focus-ios":       "focus_ios",
}

// ExperimentRecord is the wire format of a published experiment.
type ExperimentRecord struct {
	SchemaVersion         string         `json:"schemaVersion"`
	ID                    string         `json:"id"`
	Slug                  string         `json:"slug"`
	AppName               string         `json:"appName"`
	AppID                 string         `json:"appId"`
	Channel               string         `json:"channel"`
	UserFacingName        string         `json:"userFacingName"`
	UserFacingDescription string         `json:"userFacingDescription"`
	IsEnrollmentPaused    bool           `json:"isEnrollmentPaused"`
	BucketConfig          BucketConfig   `json:"bucketConfig"`
	Branches              []BranchRecord `json:"branches"`
	Targeting             string         `json:"targeting"`
	ProposedDuration      int            `json:"proposedDuration"`
	ProposedEnrollment    int            `json:"proposedEnrollment"`
	ReferenceBranch       string         `json:"referenceBranch"`
}

type BucketConfig struct {
	RandomizationUnit string `json:"randomizationUnit"`
	Namespace         string `json:"namespace"`
	Start             int    `json:"start"`
	Count             int    `json:"count"`
	Total             int    `json:"total"`
}

type BranchRecord struct {
	Slug    string        `json:"slug"`
	Ratio   int           `json:"ratio"`
	Feature FeatureRecord `json:"feature"`
}

type FeatureRecord struct {
	FeatureID string          `json:"featureId"`
	Enabled   bool            `json:"enabled"`
	Value     json.RawMessage `json:"value"`
}

// NewExperimentRecord builds the published form of exp placed in rng.
func NewExperimentRecord(exp *experiment.Experiment, rng *bucket.Range) (*ExperimentRecord, error) {
	if rng == nil {
		return nil, fmt.Errorf("experiment %s has no bucket range", exp.Slug)
	}

	appName, ok := appNames[exp.Application]
	if !ok {
		appName = exp.Application
	}

	branches := make([]BranchRecord, 0, len(exp.Branches))
	for _, br := range exp.Branches {
		value := json.RawMessage("{}")
		if br.FeatureValue != "" {
			if !json.Valid([]byte(br.FeatureValue)) {
				return nil, fmt.Errorf("experiment %s branch %s: feature value is not valid JSON", exp.Slug, br.Slug)
			}
			value = json.RawMessage(br.FeatureValue)
		}
		branches = append(branches, BranchRecord{
			Slug:  br.Slug,
			Ratio: br.Ratio,
			Feature: FeatureRecord{
				FeatureID: br.FeatureID,
				Enabled:   br.Enabled,
				Value:     value,
			},
		})
	}

	return &ExperimentRecord{
		SchemaVersion:         recordSchemaVersion,
		ID:                    exp.Slug,
		Slug:                  exp.Slug,
		AppName:               appName,
		AppID:                 exp.Application,
		Channel:               exp.Channel,
		UserFacingName:        exp.Name,
		UserFacingDescription: exp.PublicDescription,
		IsEnrollmentPaused:    exp.IsPaused,
		BucketConfig: BucketConfig{
			RandomizationUnit: randomizationUnit,
			Namespace:         rng.Namespace(),
			Start:             rng.Start,
			Count:             rng.Count,
			Total:             rng.Group.Total,
		},
		Branches:           branches,
		Targeting:          exp.TargetingExpression,
		ProposedDuration:   exp.ProposedDuration,
		ProposedEnrollment: exp.ProposedEnrollment,
		ReferenceBranch:    exp.ReferenceBranch,
	}, nil
}

// Record encodes the record for the remote store.
func (r *ExperimentRecord) Record() (remotestore.Record, error) {
	body, err := json.Marshal(r)
	if err != nil {
		return remotestore.Record{}, fmt.Errorf("encode record %s: %w", r.ID, err)
	}
	return remotestore.Record{ID: r.ID, Body: body}, nil
}
