// Package pipeline orchestrates one analysis run: repository scan → risk
// scoring (in parallel with workflow analysis) → governance recommendation →
// persist and index. Results are immutable; each run supersedes the previous
// one for the same repository.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scarson/riskops/internal/gh"
	"github.com/scarson/riskops/internal/govern"
	"github.com/scarson/riskops/internal/metrics"
	"github.com/scarson/riskops/internal/risk"
	"github.com/scarson/riskops/internal/store"
	"github.com/scarson/riskops/internal/workflows"
)

// Scanner is the source-host scan capability. *gh.Client satisfies it.
type Scanner interface {
	Scan(ctx context.Context, repoURL, ref string) (*gh.ScanResult, error)
}

// Scorer is the dependency risk-scoring capability. *risk.Engine satisfies it.
type Scorer interface {
	Score(ctx context.Context, manifests []risk.Manifest) ([]risk.PackageScore, risk.Level)
}

// WorkflowAnalyzer is the CI workflow scan capability. *workflows.Analyzer
// satisfies it.
type WorkflowAnalyzer interface {
	Analyze(ctx context.Context, owner, repo, ref string) (workflows.Report, error)
}

// Completion observes each persisted result (alert delivery, AI enrichment).
// Called synchronously after indexing; implementations fan out on their own
// goroutines and must not block.
type Completion func(res *store.AnalysisResult)

// Runner executes analysis runs against a fixed set of collaborators
// constructed once at startup.
type Runner struct {
	scanner  Scanner
	scorer   Scorer
	analyzer WorkflowAnalyzer
	store    *store.Store
	ref      string
	log      *slog.Logger
	onDone   []Completion
}

// NewRunner creates a Runner. ref is the branch analyzed for workflow
// definitions (the default branch in production).
func NewRunner(scanner Scanner, scorer Scorer, analyzer WorkflowAnalyzer, st *store.Store, ref string) *Runner {
	if ref == "" {
		ref = "main"
	}
	return &Runner{
		scanner:  scanner,
		scorer:   scorer,
		analyzer: analyzer,
		store:    st,
		ref:      ref,
		log:      slog.Default(),
	}
}

// OnCompletion registers an observer for persisted results. Must be called
// before the first run.
func (r *Runner) OnCompletion(fn Completion) {
	r.onDone = append(r.onDone, fn)
}

// Run executes one full analysis for repoURL. Scoring and workflow analysis
// run concurrently; the recommendation step waits on scoring because it
// consumes the overall severity. The completed result is persisted and
// indexed before Run returns.
func (r *Runner) Run(ctx context.Context, repoURL, mode string) (*store.AnalysisResult, error) {
	owner, repo, err := gh.ParseRepoURL(repoURL)
	if err != nil {
		metrics.PipelineRuns.WithLabelValues(mode, "invalid").Inc()
		return nil, err
	}

	scan, err := r.scanner.Scan(ctx, repoURL, r.ref)
	if err != nil {
		metrics.PipelineRuns.WithLabelValues(mode, "scan_failed").Inc()
		return nil, fmt.Errorf("pipeline: scan %s: %w", repoURL, err)
	}

	manifests := make([]risk.Manifest, len(scan.Deps))
	for i, d := range scan.Deps {
		manifests[i] = risk.Manifest{Path: d.Path, Content: d.Content}
	}

	// Workflow analysis has no dependency on scoring; run it alongside.
	var (
		wg     sync.WaitGroup
		report workflows.Report
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		var err error
		report, err = r.analyzer.Analyze(ctx, owner, repo, r.ref)
		if err != nil {
			// The CI scan degrades to a single LOW finding; it never fails
			// the whole analysis.
			r.log.Warn("workflow analysis unavailable", "repo", repoURL, "error", err)
			report = workflows.Report{
				WorkflowsScanned: 0,
				Findings: []workflows.Finding{{
					Severity:       workflows.SeverityLow,
					RuleID:         "ACTIONS_SCAN_UNAVAILABLE",
					Workflow:       "(system)",
					Message:        "CI/CD workflow security scan unavailable.",
					Recommendation: "Check source-host connectivity and repository permissions.",
				}},
			}
		}
	}()

	scores, overall := r.scorer.Score(ctx, manifests)
	wg.Wait()

	actions := govern.Recommend(overall, govern.ScanFindings{
		Secrets:   scan.Secrets,
		Anomalies: scan.Anomalies,
	})

	result := &store.AnalysisResult{
		ID:                 uuid.New().String(),
		Success:            true,
		RepoURL:            repoURL,
		Dependencies:       manifests,
		RiskAnalysis:       scores,
		OverallRisk:        overall,
		RecommendedActions: actions,
		CICDFindings:       report,
		UpdatedAt:          time.Now().UTC(),
		Mode:               mode,
	}

	r.store.RecordAnalysis(result)
	metrics.PipelineRuns.WithLabelValues(mode, "ok").Inc()
	r.log.Info("analysis complete",
		"repo", repoURL, "mode", mode, "overall", overall,
		"packages", len(scores), "workflows", report.WorkflowsScanned,
		"findings", len(report.Findings))

	for _, fn := range r.onDone {
		fn(result)
	}
	return result, nil
}

// Dispatch runs the pipeline detached from any request context. Used by the
// webhook receiver and the manual re-trigger endpoint: the HTTP response has
// already been sent when the run starts, so there is no cancellation to
// propagate and failures surface only in logs.
func (r *Runner) Dispatch(repoURL, mode string) {
	go func() {
		if _, err := r.Run(context.Background(), repoURL, mode); err != nil {
			r.log.Error("async pipeline run failed",
				"repo", repoURL, "mode", mode, "error", err)
		}
	}()
}
