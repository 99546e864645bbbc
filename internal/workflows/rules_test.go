package workflows

import (
	"context"
	"strings"
	"testing"
)

func TestIsUnpinnedAction(t *testing.T) {
	t.Parallel()

	tests := []struct {
		uses string
		want bool
	}{
		{"actions/checkout@main", true},
		{"actions/checkout@master", true},
		{"actions/checkout@latest", true},
		{"actions/checkout@develop", true},
		{"actions/checkout@v4", false},
		{"actions/checkout@v4.1.2", false},
		{"actions/checkout@1.2", false},
		{"actions/checkout@a1b2c3d4e5f6a1b2c3d4e5f6a1b2c3d4e5f6a1b2", false},
		{"actions/checkout@A1B2C3D4E5F6A1B2C3D4E5F6A1B2C3D4E5F6A1B2", false},
		{"./local-action", false},
		{"actions/checkout", true},
		{"actions/checkout@", true},
		{"actions/checkout@feature/new-thing", true},
		{"actions/checkout@deadbeef", true}, // short SHA is still mutable-ish
	}

	for _, tc := range tests {
		if got := isUnpinnedAction(tc.uses); got != tc.want {
			t.Errorf("isUnpinnedAction(%q) = %v, want %v", tc.uses, got, tc.want)
		}
	}
}

// fakeSource serves workflow files from a map; nil map means no workflows dir.
type fakeSource struct {
	files map[string]string
}

func (f *fakeSource) ListWorkflows(context.Context, string, string, string) ([]string, error) {
	paths := make([]string, 0, len(f.files))
	for p := range f.files {
		paths = append(paths, p)
	}
	return paths, nil
}

func (f *fakeSource) FetchText(_ context.Context, _, _, path, _ string) (string, error) {
	return f.files[path], nil
}

func analyzeOne(t *testing.T, yaml string) Report {
	t.Helper()
	a := NewAnalyzer(&fakeSource{files: map[string]string{".github/workflows/ci.yml": yaml}})
	rep, err := a.Analyze(context.Background(), "octo", "repo", "main")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	return rep
}

func findByRule(rep Report, ruleID string) []Finding {
	var out []Finding
	for _, f := range rep.Findings {
		if f.RuleID == ruleID {
			out = append(out, f)
		}
	}
	return out
}

func TestNoWorkflowsDirectory(t *testing.T) {
	t.Parallel()

	a := NewAnalyzer(&fakeSource{})
	rep, err := a.Analyze(context.Background(), "octo", "repo", "main")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if rep.WorkflowsScanned != 0 || len(rep.Findings) != 0 {
		t.Errorf("empty repo: got %+v, want zero findings", rep)
	}
}

func TestPullRequestTargetTrigger(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
		want bool
	}{
		{"mapping trigger", "on:\n  pull_request_target:\n    types: [opened]\njobs: {}", true},
		{"sequence trigger", "on: [push, pull_request_target]\njobs: {}", true},
		{"scalar trigger", "on: pull_request_target\njobs: {}", true},
		{"plain pull_request", "on: [push, pull_request]\njobs: {}", false},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rep := analyzeOne(t, tc.yaml)
			got := findByRule(rep, "ACTIONS_PULL_REQUEST_TARGET")
			if (len(got) == 1) != tc.want {
				t.Fatalf("findings = %+v, want present=%v", got, tc.want)
			}
			if tc.want && got[0].Severity != SeverityHigh {
				t.Errorf("severity = %s, want HIGH", got[0].Severity)
			}
		})
	}
}

func TestPermissionsRule(t *testing.T) {
	t.Parallel()

	t.Run("write-all is critical", func(t *testing.T) {
		t.Parallel()
		rep := analyzeOne(t, "on: push\npermissions: write-all\njobs: {}")
		got := findByRule(rep, "ACTIONS_PERMISSIONS_WRITE_ALL")
		if len(got) != 1 || got[0].Severity != SeverityCritical {
			t.Fatalf("findings = %+v, want one CRITICAL", got)
		}
		if len(findByRule(rep, "ACTIONS_PERMISSIONS_WRITE_SCOPES")) != 0 {
			t.Error("write-all must not also emit a scopes finding")
		}
	})

	t.Run("scoped write is high and names the scope", func(t *testing.T) {
		t.Parallel()
		rep := analyzeOne(t, "on: push\npermissions:\n  contents: write\n  issues: read\njobs: {}")
		got := findByRule(rep, "ACTIONS_PERMISSIONS_WRITE_SCOPES")
		if len(got) != 1 || got[0].Severity != SeverityHigh {
			t.Fatalf("findings = %+v, want one HIGH", got)
		}
		if !strings.Contains(got[0].Message, "contents") {
			t.Errorf("message %q must name the contents scope", got[0].Message)
		}
	})

	t.Run("read-only grants are clean", func(t *testing.T) {
		t.Parallel()
		rep := analyzeOne(t, "on: push\npermissions:\n  contents: read\njobs: {}")
		if n := len(findByRule(rep, "ACTIONS_PERMISSIONS_WRITE_ALL")) +
			len(findByRule(rep, "ACTIONS_PERMISSIONS_WRITE_SCOPES")); n != 0 {
			t.Errorf("got %d permission findings, want 0", n)
		}
	})
}

func TestUnpinnedActionsSummarizedPerWorkflow(t *testing.T) {
	t.Parallel()

	rep := analyzeOne(t, `
on: push
jobs:
  build:
    runs-on: ubuntu-latest
    steps:
      - uses: actions/checkout@main
      - uses: actions/setup-go@v5
      - uses: third/party@master
      - uses: ./local-action
  release:
    runs-on: ubuntu-latest
    steps:
      - uses: goreleaser/goreleaser-action@latest
`)
	got := findByRule(rep, "ACTIONS_UNPINNED_ACTIONS")
	if len(got) != 1 {
		t.Fatalf("got %d unpinned findings, want exactly 1 per workflow", len(got))
	}
	if got[0].Severity != SeverityMedium {
		t.Errorf("severity = %s, want MEDIUM", got[0].Severity)
	}
	if !strings.Contains(got[0].Message, "(3)") {
		t.Errorf("message %q must carry the unpinned count 3", got[0].Message)
	}
}

func TestSelfHostedRunnerPerJob(t *testing.T) {
	t.Parallel()

	rep := analyzeOne(t, `
on: push
jobs:
  build:
    runs-on: [Self-Hosted, linux]
    steps: []
  deploy:
    runs-on: self-hosted
    steps: []
  test:
    runs-on: ubuntu-latest
    steps: []
`)
	got := findByRule(rep, "ACTIONS_SELF_HOSTED_RUNNER")
	if len(got) != 2 {
		t.Fatalf("got %d self-hosted findings, want 2 (one per matching job)", len(got))
	}
}

func TestParseErrorYieldsLowFindingAndContinues(t *testing.T) {
	t.Parallel()

	a := NewAnalyzer(&fakeSource{files: map[string]string{
		".github/workflows/bad.yml":  "on: [push\njobs: {",
		".github/workflows/good.yml": "on: push\npermissions: write-all\njobs: {}",
	}})
	rep, err := a.Analyze(context.Background(), "octo", "repo", "main")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if rep.WorkflowsScanned != 2 {
		t.Errorf("workflowsScanned = %d, want 2", rep.WorkflowsScanned)
	}
	if got := findByRule(rep, "ACTIONS_WORKFLOW_PARSE_ERROR"); len(got) != 1 || got[0].Severity != SeverityLow {
		t.Errorf("parse-error findings = %+v, want one LOW", got)
	}
	if got := findByRule(rep, "ACTIONS_PERMISSIONS_WRITE_ALL"); len(got) != 1 {
		t.Error("analysis must continue past the malformed file")
	}
}

func TestFindingsSortedBySeverity(t *testing.T) {
	t.Parallel()

	rep := analyzeOne(t, `
on: [push, pull_request_target]
permissions: write-all
jobs:
  build:
    runs-on: self-hosted
    steps:
      - uses: actions/checkout@main
`)
	var ranks []int
	for _, f := range rep.Findings {
		ranks = append(ranks, severityRank[f.Severity])
	}
	for i := 1; i < len(ranks); i++ {
		if ranks[i] > ranks[i-1] {
			t.Fatalf("findings not sorted by severity: %v", ranks)
		}
	}
	if rep.Findings[0].Severity != SeverityCritical {
		t.Errorf("first finding = %s, want CRITICAL", rep.Findings[0].Severity)
	}
}
