// Package store owns the persisted shapes and the process-scoped mutable
// state of the webhook pipeline: the bounded event feed, the latest analysis
// per repository, the bounded per-repository history, and the two append-only
// JSONL logs that survive restarts.
package store

import (
	"time"

	"github.com/scarson/riskops/internal/govern"
	"github.com/scarson/riskops/internal/risk"
	"github.com/scarson/riskops/internal/workflows"
)

// Event is a normalized webhook event. Created on receipt, appended to the
// bounded in-memory feed and the durable event log; never mutated.
type Event struct {
	Type       string    `json:"type"`
	RepoURL    string    `json:"repoUrl,omitempty"`
	Sender     string    `json:"sender,omitempty"`
	Delivery   string    `json:"delivery,omitempty"`
	ReceivedAt time.Time `json:"receivedAt"`

	// Type-specific fields; zero values are omitted on the wire.
	Branch     string `json:"branch,omitempty"`     // push, workflow_run
	Action     string `json:"action,omitempty"`     // pull_request, workflow_run
	PRNumber   int    `json:"prNumber,omitempty"`   // pull_request
	PRTitle    string `json:"prTitle,omitempty"`    // pull_request
	Base       string `json:"base,omitempty"`       // pull_request
	Head       string `json:"head,omitempty"`       // pull_request
	Name       string `json:"name,omitempty"`       // workflow_run
	Status     string `json:"status,omitempty"`     // workflow_run
	Conclusion string `json:"conclusion,omitempty"` // workflow_run
	EventName  string `json:"eventName,omitempty"`  // original name for unknown types
}

// AnalysisResult is the aggregate outcome of one pipeline run for one
// repository at one point in time. Created fresh on every run, never
// mutated, superseded (not merged) by the next run for the same repository.
type AnalysisResult struct {
	ID                 string              `json:"id"`
	Success            bool                `json:"success"`
	RepoURL            string              `json:"repoUrl"`
	Dependencies       []risk.Manifest     `json:"dependencies"`
	RiskAnalysis       []risk.PackageScore `json:"riskAnalysis"`
	OverallRisk        risk.Level          `json:"overallRisk"`
	RecommendedActions []govern.Action     `json:"recommendedActions"`
	CICDFindings       workflows.Report    `json:"cicdFindings"`
	UpdatedAt          time.Time           `json:"updatedAt"`
	Mode               string              `json:"mode"` // manual, webhook, cli
}
