// Package workflows statically analyzes GitHub Actions workflow definitions
// for insecure configuration. The analyzer is a pure function of the fetched
// workflow contents: it holds no state between invocations.
package workflows

import (
	"context"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// Severity ranks a finding. CRITICAL > HIGH > MEDIUM > LOW.
type Severity string

// Finding severities.
const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
)

var severityRank = map[Severity]int{
	SeverityCritical: 4,
	SeverityHigh:     3,
	SeverityMedium:   2,
	SeverityLow:      1,
}

// Finding is one rule violation in one workflow file.
type Finding struct {
	Severity       Severity `json:"severity"`
	RuleID         string   `json:"ruleId"`
	Workflow       string   `json:"workflow"`
	Message        string   `json:"message"`
	Evidence       any      `json:"evidence,omitempty"`
	Recommendation string   `json:"recommendation"`
}

// Report aggregates findings across all workflow files of one repository.
type Report struct {
	WorkflowsScanned int       `json:"workflowsScanned"`
	Findings         []Finding `json:"findings"`
}

// Source is the workflow-fetch capability the analyzer consumes.
// *gh.Client satisfies it. A repository without a workflows directory
// yields an empty path list, not an error.
type Source interface {
	ListWorkflows(ctx context.Context, owner, repo, ref string) ([]string, error)
	FetchText(ctx context.Context, owner, repo, path, ref string) (string, error)
}

// Analyzer applies the fixed rule set to every workflow file of a repository.
type Analyzer struct {
	src Source
}

// NewAnalyzer creates an Analyzer reading workflow files from src.
func NewAnalyzer(src Source) *Analyzer {
	return &Analyzer{src: src}
}

// Analyze lists and scans the repository's workflow files at ref.
// A file that cannot be fetched or parsed contributes one LOW parse-error
// finding; scanning continues with the remaining files. Findings are
// returned sorted by severity rank, worst first.
func (a *Analyzer) Analyze(ctx context.Context, owner, repo, ref string) (Report, error) {
	paths, err := a.src.ListWorkflows(ctx, owner, repo, ref)
	if err != nil {
		return Report{}, fmt.Errorf("workflows: list %s/%s: %w", owner, repo, err)
	}

	var findings []Finding
	for _, path := range paths {
		text, err := a.src.FetchText(ctx, owner, repo, path, ref)
		if err != nil {
			findings = append(findings, parseErrorFinding(path, err))
			continue
		}
		var doc yaml.Node
		if err := yaml.Unmarshal([]byte(text), &doc); err != nil {
			findings = append(findings, parseErrorFinding(path, err))
			continue
		}
		findings = append(findings, analyzeDocument(path, &doc)...)
	}

	// Stable: within a severity tier, findings keep workflow order.
	sort.SliceStable(findings, func(i, j int) bool {
		return severityRank[findings[i].Severity] > severityRank[findings[j].Severity]
	})

	return Report{WorkflowsScanned: len(paths), Findings: findings}, nil
}

func parseErrorFinding(path string, err error) Finding {
	return Finding{
		Severity:       SeverityLow,
		RuleID:         "ACTIONS_WORKFLOW_PARSE_ERROR",
		Workflow:       path,
		Message:        fmt.Sprintf("Could not parse/analyze workflow: %v", err),
		Recommendation: "Ensure workflow YAML is valid and accessible via the API.",
	}
}
