package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scarson/riskops/internal/api"
	"github.com/scarson/riskops/internal/config"
	"github.com/scarson/riskops/internal/gh"
	"github.com/scarson/riskops/internal/risk"
	"github.com/scarson/riskops/internal/store"
	"github.com/scarson/riskops/internal/webhook"
)

type stubRunner struct {
	store      *store.Store
	runErr     error
	dispatched []string
}

func (s *stubRunner) Run(_ context.Context, repoURL, mode string) (*store.AnalysisResult, error) {
	if _, _, err := gh.ParseRepoURL(repoURL); err != nil {
		return nil, err
	}
	if s.runErr != nil {
		return nil, s.runErr
	}
	res := &store.AnalysisResult{
		ID:          "run-sync",
		Success:     true,
		RepoURL:     repoURL,
		OverallRisk: risk.LevelLow,
		UpdatedAt:   time.Now().UTC(),
		Mode:        mode,
	}
	s.store.RecordAnalysis(res)
	return res, nil
}

func (s *stubRunner) Dispatch(repoURL, _ string) {
	s.dispatched = append(s.dispatched, repoURL)
}

type stubExplainer struct {
	text string
	err  error
}

func (s *stubExplainer) Explain(_ context.Context, _ *store.AnalysisResult, _ string) (string, error) {
	return s.text, s.err
}

func newTestServer(t *testing.T, runner api.Runner, explainer api.Explainer) (*httptest.Server, *store.Store) {
	t.Helper()
	st, err := store.Open(t.TempDir(), store.Options{})
	require.NoError(t, err)
	if sr, ok := runner.(*stubRunner); ok && sr.store == nil {
		sr.store = st
	}
	srv := api.NewServer(st, &config.Config{}, runner, explainer, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, st
}

func record(t *testing.T, st *store.Store, id, repoURL string, at time.Time) {
	t.Helper()
	st.RecordAnalysis(&store.AnalysisResult{
		ID:          id,
		Success:     true,
		RepoURL:     repoURL,
		OverallRisk: risk.LevelLow,
		UpdatedAt:   at,
	})
}

func TestHealthzAndMetrics(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t, &stubRunner{}, nil)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))

	var health struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)

	mResp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer mResp.Body.Close()
	assert.Equal(t, http.StatusOK, mResp.StatusCode)
}

func TestAnalyzeSynchronous(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t, &stubRunner{}, nil)

	body := bytes.NewBufferString(`{"repoUrl":"https://github.com/octo/widgets"}`)
	resp, err := http.Post(ts.URL+"/api/v1/analyze", "application/json", body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var res store.AnalysisResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.True(t, res.Success)
	assert.Equal(t, "https://github.com/octo/widgets", res.RepoURL)
	assert.Equal(t, "manual", res.Mode)
}

func TestAnalyzeInvalidRepoIs400(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t, &stubRunner{}, nil)

	body := bytes.NewBufferString(`{"repoUrl":"not a repository"}`)
	resp, err := http.Post(ts.URL+"/api/v1/analyze", "application/json", body)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAnalyzeScanFailureIs502(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t, &stubRunner{runErr: errors.New("github unreachable")}, nil)

	body := bytes.NewBufferString(`{"repoUrl":"https://github.com/octo/widgets"}`)
	resp, err := http.Post(ts.URL+"/api/v1/analyze", "application/json", body)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestReanalyzeAcknowledgesBeforeCompletion(t *testing.T) {
	t.Parallel()
	runner := &stubRunner{}
	ts, _ := newTestServer(t, runner, nil)

	body := bytes.NewBufferString(`{"repoUrl":"octo/widgets"}`)
	resp, err := http.Post(ts.URL+"/api/v1/reanalyze", "application/json", body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var ack struct {
		Status  string `json:"status"`
		RepoURL string `json:"repoUrl"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ack))
	assert.Equal(t, "queued", ack.Status)
	assert.Equal(t, []string{"octo/widgets"}, runner.dispatched)
}

func TestReanalyzeInvalidRepoIs400(t *testing.T) {
	t.Parallel()
	runner := &stubRunner{}
	ts, _ := newTestServer(t, runner, nil)

	body := bytes.NewBufferString(`{"repoUrl":"://nope"}`)
	resp, err := http.Post(ts.URL+"/api/v1/reanalyze", "application/json", body)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, runner.dispatched)
}

func TestLatestNotFoundThenFound(t *testing.T) {
	t.Parallel()
	ts, st := newTestServer(t, &stubRunner{}, nil)

	resp, err := http.Get(ts.URL + "/api/v1/analyses/latest")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	record(t, st, "run-1", "https://github.com/octo/widgets", time.Now().UTC())

	resp, err = http.Get(ts.URL + "/api/v1/analyses/latest?repoUrl=" + "https%3A%2F%2Fgithub.com%2Focto%2Fwidgets")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var res store.AnalysisResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.Equal(t, "run-1", res.ID)
}

func TestLatestWithoutRepoReturnsMostRecent(t *testing.T) {
	t.Parallel()
	ts, st := newTestServer(t, &stubRunner{}, nil)

	base := time.Now().UTC()
	record(t, st, "run-a", "https://github.com/octo/alpha", base)
	record(t, st, "run-b", "https://github.com/octo/beta", base.Add(time.Second))

	resp, err := http.Get(ts.URL + "/api/v1/analyses/latest")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var res store.AnalysisResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.Equal(t, "run-b", res.ID)
}

func TestHistoryNewestFirstAndClamped(t *testing.T) {
	t.Parallel()
	ts, st := newTestServer(t, &stubRunner{}, nil)

	for i := 1; i <= 5; i++ {
		record(t, st, fmt.Sprintf("run-%d", i), "https://github.com/octo/widgets", time.Now().UTC())
	}

	resp, err := http.Get(ts.URL + "/api/v1/analyses/history?limit=3&repoUrl=" + "https%3A%2F%2Fgithub.com%2Focto%2Fwidgets")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var page struct {
		Runs []store.AnalysisResult `json:"runs"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&page))
	require.Len(t, page.Runs, 3)
	assert.Equal(t, "run-5", page.Runs[0].ID)
	assert.Equal(t, "run-3", page.Runs[2].ID)
}

func TestHistoryEmptyRepoIsEmptyList(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t, &stubRunner{}, nil)

	resp, err := http.Get(ts.URL + "/api/v1/analyses/history?repoUrl=octo%2Fnothing")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var page struct {
		Runs []store.AnalysisResult `json:"runs"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&page))
	assert.Empty(t, page.Runs)
}

func TestEventsFeed(t *testing.T) {
	t.Parallel()
	ts, st := newTestServer(t, &stubRunner{}, nil)

	st.AppendEvent(store.Event{Type: "push", RepoURL: "https://github.com/octo/widgets", ReceivedAt: time.Now().UTC()})
	st.AppendEvent(store.Event{Type: "ping", ReceivedAt: time.Now().UTC()})

	resp, err := http.Get(ts.URL + "/api/v1/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var feed struct {
		Events []store.Event `json:"events"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&feed))
	require.Len(t, feed.Events, 2)
	assert.Equal(t, "ping", feed.Events[0].Type)
	assert.Equal(t, "push", feed.Events[1].Type)
}

func TestExplanation(t *testing.T) {
	t.Parallel()
	ts, st := newTestServer(t, &stubRunner{}, &stubExplainer{text: "all quiet"})

	record(t, st, "run-1", "https://github.com/octo/widgets", time.Now().UTC())

	resp, err := http.Get(ts.URL + "/api/v1/explanation?detail=short")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		AnalysisID  string `json:"analysisId"`
		Explanation string `json:"explanation"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "run-1", body.AnalysisID)
	assert.Equal(t, "all quiet", body.Explanation)
}

func TestExplanationWithoutExplainerIs503(t *testing.T) {
	t.Parallel()
	ts, st := newTestServer(t, &stubRunner{}, nil)

	record(t, st, "run-1", "https://github.com/octo/widgets", time.Now().UTC())

	resp, err := http.Get(ts.URL + "/api/v1/explanation")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestExplanationWithoutAnalysisIs404(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t, &stubRunner{}, &stubExplainer{text: "x"})

	resp, err := http.Get(ts.URL + "/api/v1/explanation")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebhookRouteMounted(t *testing.T) {
	t.Parallel()
	st, err := store.Open(t.TempDir(), store.Options{})
	require.NoError(t, err)
	wh := webhook.NewHandler("secret", st, func(string, string) {})
	srv := api.NewServer(st, &config.Config{}, &stubRunner{store: st}, nil, wh)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	// Unsigned delivery reaches the receiver and is rejected there, proving
	// the raw route is wired outside the JSON API.
	resp, err := http.Post(ts.URL+"/webhooks/github", "application/json", bytes.NewBufferString(`{"zen":"hi"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestTriggerRateLimitAppliesToPostsOnly(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t, &stubRunner{}, nil)

	// Burst is 10; the eleventh trigger from one IP must be rejected.
	var last int
	for i := 0; i < 11; i++ {
		body := bytes.NewBufferString(`{"repoUrl":"octo/widgets"}`)
		resp, err := http.Post(ts.URL+"/api/v1/reanalyze", "application/json", body)
		require.NoError(t, err)
		resp.Body.Close()
		last = resp.StatusCode
	}
	assert.Equal(t, http.StatusTooManyRequests, last)

	// Reads are never rate limited.
	resp, err := http.Get(ts.URL + "/api/v1/events")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
