package explain

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scarson/riskops/internal/govern"
	"github.com/scarson/riskops/internal/risk"
	"github.com/scarson/riskops/internal/store"
	"github.com/scarson/riskops/internal/workflows"
)

func sampleResult() *store.AnalysisResult {
	return &store.AnalysisResult{
		ID:      "run-1",
		Success: true,
		RepoURL: "https://github.com/octo/widgets",
		RiskAnalysis: []risk.PackageScore{
			{Package: "left-pad", Score: 8, Level: risk.LevelHigh, Ecosystem: "npm"},
			{Package: "lodash", Score: 5, Level: risk.LevelMedium, Ecosystem: "npm"},
		},
		OverallRisk: risk.LevelHigh,
		RecommendedActions: []govern.Action{
			{Type: govern.ActionBlockPR, Message: "High risk detected. PR must be reviewed."},
		},
		CICDFindings: workflows.Report{WorkflowsScanned: 1, Findings: []workflows.Finding{
			{Severity: workflows.SeverityMedium, RuleID: "ACTIONS_SELF_HOSTED_RUNNER", Workflow: "ci.yml", Message: "self-hosted runner"},
		}},
	}
}

// newChatStub returns an httptest server that mimics the chat completions
// endpoint and counts how many requests reach it.
func newChatStub(t *testing.T, content string, status int) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var hits atomic.Int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if status != http.StatusOK {
			http.Error(w, "upstream error", status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"` + content + `"}}]}`))
	}))
	t.Cleanup(ts.Close)
	return ts, &hits
}

func TestExplainUsesModelResponse(t *testing.T) {
	t.Parallel()
	ts, hits := newChatStub(t, "two risky packages", http.StatusOK)

	e := New("test-key", "gpt-4o-mini", ts.URL+"/v1")
	text, err := e.Explain(context.Background(), sampleResult(), DetailShort)
	require.NoError(t, err)
	assert.Equal(t, "two risky packages", text)
	assert.Equal(t, int64(1), hits.Load())
}

func TestExplainCachesPerAnalysisAndDetail(t *testing.T) {
	t.Parallel()
	ts, hits := newChatStub(t, "cached", http.StatusOK)

	e := New("test-key", "gpt-4o-mini", ts.URL+"/v1")
	res := sampleResult()

	for i := 0; i < 3; i++ {
		text, err := e.Explain(context.Background(), res, DetailShort)
		require.NoError(t, err)
		assert.Equal(t, "cached", text)
	}
	assert.Equal(t, int64(1), hits.Load(), "repeat reads must not call the API")

	// A different detail level is a different cache entry.
	_, err := e.Explain(context.Background(), res, DetailDetailed)
	require.NoError(t, err)
	assert.Equal(t, int64(2), hits.Load())
}

func TestExplainWithoutKeyFallsBack(t *testing.T) {
	t.Parallel()
	e := New("", "", "")

	text, err := e.Explain(context.Background(), sampleResult(), DetailShort)
	require.NoError(t, err)
	assert.Contains(t, text, "Overall risk for https://github.com/octo/widgets is High")
	assert.Contains(t, text, "1 high risk, 1 medium risk")
	assert.Contains(t, text, "BLOCK_PR")
}

func TestExplainAPIFailureFallsBack(t *testing.T) {
	t.Parallel()
	ts, _ := newChatStub(t, "", http.StatusInternalServerError)

	e := New("test-key", "gpt-4o-mini", ts.URL+"/v1")
	text, err := e.Explain(context.Background(), sampleResult(), DetailShort)
	require.NoError(t, err, "API failure must degrade, not error")
	assert.Contains(t, text, "Overall risk")
}

func TestFallbackDetailedListsFindings(t *testing.T) {
	t.Parallel()
	text := Fallback(sampleResult(), DetailDetailed)
	assert.Contains(t, text, "left-pad scored 8")
	assert.Contains(t, text, "lodash scored 5")
	assert.Contains(t, text, "ci.yml")
	assert.NotContains(t, Fallback(sampleResult(), DetailShort), "left-pad scored")
}
