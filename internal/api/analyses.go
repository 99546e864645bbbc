package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/scarson/riskops/internal/gh"
	"github.com/scarson/riskops/internal/store"
)

// registerAnalysisRoutes wires up the analysis endpoints on the huma API.
//
//	POST /analyze            — run a full analysis synchronously
//	POST /reanalyze          — queue an analysis, acknowledge immediately
//	GET  /analyses/latest    — newest result for a repo (or any repo)
//	GET  /analyses/history   — bounded per-repo run history
//	GET  /events             — the normalized webhook event feed
//	GET  /explanation        — AI narrative for the latest result
func registerAnalysisRoutes(api huma.API, srv *Server) {
	huma.Register(api, huma.Operation{
		OperationID: "analyze-repository",
		Method:      http.MethodPost,
		Path:        "/analyze",
		Summary:     "Analyze a repository",
		Description: "Scans the repository, scores its dependencies, audits its CI workflows, and returns the full result.",
		Tags:        []string{"Analyses"},
	}, srv.analyzeHandler)

	huma.Register(api, huma.Operation{
		OperationID:   "reanalyze-repository",
		Method:        http.MethodPost,
		Path:          "/reanalyze",
		Summary:       "Queue a re-analysis",
		Description:   "Starts an analysis in the background and returns immediately. Poll the latest endpoint for the result.",
		Tags:          []string{"Analyses"},
		DefaultStatus: http.StatusAccepted,
	}, srv.reanalyzeHandler)

	huma.Register(api, huma.Operation{
		OperationID: "get-latest-analysis",
		Method:      http.MethodGet,
		Path:        "/analyses/latest",
		Summary:     "Get the latest analysis",
		Description: "Returns the newest result for the given repository, or for any repository when repo is omitted.",
		Tags:        []string{"Analyses"},
	}, srv.latestHandler)

	huma.Register(api, huma.Operation{
		OperationID: "list-analysis-history",
		Method:      http.MethodGet,
		Path:        "/analyses/history",
		Summary:     "List analysis history",
		Description: "Returns up to limit of the most recent runs for a repository, newest first.",
		Tags:        []string{"Analyses"},
	}, srv.historyHandler)

	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List webhook events",
		Description: "Returns the bounded feed of normalized webhook events, newest first.",
		Tags:        []string{"Events"},
	}, srv.eventsHandler)

	huma.Register(api, huma.Operation{
		OperationID: "get-explanation",
		Method:      http.MethodGet,
		Path:        "/explanation",
		Summary:     "Explain the latest analysis",
		Description: "Returns a human-readable narrative for the latest result, AI-generated when configured.",
		Tags:        []string{"Analyses"},
	}, srv.explanationHandler)
}

// ── POST /analyze ─────────────────────────────────────────────────────────────

// AnalyzeInput is the request body for a synchronous analysis.
type AnalyzeInput struct {
	Body struct {
		RepoURL string `json:"repoUrl" minLength:"1" doc:"GitHub repository URL or owner/repo shorthand"`
	}
}

// AnalyzeOutput is the response for POST /analyze.
type AnalyzeOutput struct {
	Body *store.AnalysisResult
}

func (srv *Server) analyzeHandler(ctx context.Context, input *AnalyzeInput) (*AnalyzeOutput, error) {
	res, err := srv.runner.Run(ctx, input.Body.RepoURL, "manual")
	if err != nil {
		if errors.Is(err, gh.ErrInvalidRepoURL) {
			return nil, huma.Error400BadRequest("invalid repository URL", err)
		}
		return nil, huma.Error502BadGateway("repository analysis failed", err)
	}
	return &AnalyzeOutput{Body: res}, nil
}

// ── POST /reanalyze ───────────────────────────────────────────────────────────

// ReanalyzeInput is the request body for a queued analysis.
type ReanalyzeInput struct {
	Body struct {
		RepoURL string `json:"repoUrl" minLength:"1" doc:"GitHub repository URL or owner/repo shorthand"`
	}
}

// ReanalyzeOutput acknowledges a queued run.
type ReanalyzeOutput struct {
	Body struct {
		Status  string `json:"status"`
		RepoURL string `json:"repoUrl"`
	}
}

func (srv *Server) reanalyzeHandler(_ context.Context, input *ReanalyzeInput) (*ReanalyzeOutput, error) {
	// Reject obviously bad input before queueing; everything past this point
	// surfaces through the latest/history endpoints, not this response.
	if _, _, err := gh.ParseRepoURL(input.Body.RepoURL); err != nil {
		return nil, huma.Error400BadRequest("invalid repository URL", err)
	}
	srv.runner.Dispatch(input.Body.RepoURL, "manual")

	out := &ReanalyzeOutput{}
	out.Body.Status = "queued"
	out.Body.RepoURL = input.Body.RepoURL
	return out, nil
}

// ── GET /analyses/latest ──────────────────────────────────────────────────────

// LatestInput selects which repository's latest result to return.
type LatestInput struct {
	Repo string `query:"repoUrl" doc:"Repository URL; omit for the most recent result across all repositories"`
}

// LatestOutput is the response for GET /analyses/latest.
type LatestOutput struct {
	Body *store.AnalysisResult
}

func (srv *Server) latestHandler(_ context.Context, input *LatestInput) (*LatestOutput, error) {
	var res *store.AnalysisResult
	if input.Repo == "" {
		res = srv.store.LatestAny()
	} else {
		res = srv.store.Latest(input.Repo)
	}
	if res == nil {
		return nil, huma.Error404NotFound("no analysis recorded", nil)
	}
	return &LatestOutput{Body: res}, nil
}

// ── GET /analyses/history ─────────────────────────────────────────────────────

// HistoryInput defines query parameters for the history endpoint.
type HistoryInput struct {
	Repo  string `query:"repoUrl" required:"true" doc:"Repository URL"`
	Limit int    `query:"limit" doc:"Page size; clamped to [1, 50], default 20"`
}

// HistoryOutput is the response for GET /analyses/history.
type HistoryOutput struct {
	Body *HistoryBody
}

// HistoryBody wraps the run list, newest first.
type HistoryBody struct {
	RepoURL string                  `json:"repoUrl"`
	Runs    []*store.AnalysisResult `json:"runs"`
}

func (srv *Server) historyHandler(_ context.Context, input *HistoryInput) (*HistoryOutput, error) {
	limit := input.Limit
	switch {
	case limit <= 0:
		limit = 20
	case limit > 50:
		limit = 50
	}

	runs := srv.store.History(input.Repo, limit)
	// The store keeps history oldest first; the API serves newest first.
	out := make([]*store.AnalysisResult, len(runs))
	for i, r := range runs {
		out[len(runs)-1-i] = r
	}

	return &HistoryOutput{Body: &HistoryBody{RepoURL: input.Repo, Runs: out}}, nil
}

// ── GET /events ───────────────────────────────────────────────────────────────

// EventsOutput is the response for GET /events.
type EventsOutput struct {
	Body *EventsBody
}

// EventsBody wraps the event feed, newest first.
type EventsBody struct {
	Events []store.Event `json:"events"`
}

func (srv *Server) eventsHandler(_ context.Context, _ *struct{}) (*EventsOutput, error) {
	events := srv.store.Events()
	if events == nil {
		events = []store.Event{}
	}
	return &EventsOutput{Body: &EventsBody{Events: events}}, nil
}

// ── GET /explanation ──────────────────────────────────────────────────────────

// ExplanationInput defines query parameters for the explanation endpoint.
type ExplanationInput struct {
	Repo   string `query:"repoUrl" doc:"Repository URL; omit for the most recent result"`
	Detail string `query:"detail" enum:"short,detailed" default:"short" doc:"Narrative length"`
}

// ExplanationOutput is the response for GET /explanation.
type ExplanationOutput struct {
	Body *ExplanationBody
}

// ExplanationBody carries the narrative and the result it describes.
type ExplanationBody struct {
	RepoURL     string `json:"repoUrl"`
	AnalysisID  string `json:"analysisId"`
	Detail      string `json:"detail"`
	Explanation string `json:"explanation"`
}

func (srv *Server) explanationHandler(ctx context.Context, input *ExplanationInput) (*ExplanationOutput, error) {
	if srv.explainer == nil {
		return nil, huma.Error503ServiceUnavailable("explanation not configured", nil)
	}

	var res *store.AnalysisResult
	if input.Repo == "" {
		res = srv.store.LatestAny()
	} else {
		res = srv.store.Latest(input.Repo)
	}
	if res == nil {
		return nil, huma.Error404NotFound("no analysis recorded", nil)
	}

	text, err := srv.explainer.Explain(ctx, res, input.Detail)
	if err != nil {
		return nil, huma.Error502BadGateway("explanation failed", err)
	}

	return &ExplanationOutput{Body: &ExplanationBody{
		RepoURL:     res.RepoURL,
		AnalysisID:  res.ID,
		Detail:      input.Detail,
		Explanation: text,
	}}, nil
}
