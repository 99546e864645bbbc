// ABOUTME: AI narrative generation for analysis results via the OpenAI chat API.
// ABOUTME: Falls back to a deterministic summary when no key is configured or the call fails.
package explain

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	openai "github.com/sashabaranov/go-openai"

	"github.com/scarson/riskops/internal/risk"
	"github.com/scarson/riskops/internal/store"
)

// Detail levels accepted by Explain. Anything else is treated as short.
const (
	DetailShort    = "short"
	DetailDetailed = "detailed"
)

const systemPrompt = "You are a security analyst. Summarize dependency and CI/CD " +
	"risk findings for an engineering audience. Be specific about package names " +
	"and workflow issues. Do not invent findings that are not in the data."

// Explainer produces narratives for analysis results. Successful AI responses
// are cached per (analysis, detail) so repeated reads of an unchanged result
// cost one API call.
type Explainer struct {
	client *openai.Client // nil when no API key is configured
	model  string
	log    *slog.Logger

	mu    sync.Mutex
	cache map[string]string
}

// New creates an Explainer. apiKey may be empty; every Explain call then
// returns the deterministic fallback summary. baseURL overrides the OpenAI
// endpoint (tests, proxies); empty means the public API.
func New(apiKey, model, baseURL string) *Explainer {
	e := &Explainer{
		model: model,
		log:   slog.Default(),
		cache: make(map[string]string),
	}
	if e.model == "" {
		e.model = "gpt-4o-mini"
	}
	if apiKey != "" {
		cfg := openai.DefaultConfig(apiKey)
		if baseURL != "" {
			cfg.BaseURL = baseURL
		}
		e.client = openai.NewClientWithConfig(cfg)
	}
	return e
}

// Explain returns a narrative for res at the requested detail level. It never
// returns an error for AI unavailability; the fallback summary covers that.
func (e *Explainer) Explain(ctx context.Context, res *store.AnalysisResult, detail string) (string, error) {
	if detail != DetailDetailed {
		detail = DetailShort
	}
	key := res.ID + ":" + detail

	e.mu.Lock()
	cached, ok := e.cache[key]
	e.mu.Unlock()
	if ok {
		return cached, nil
	}

	if e.client == nil {
		return Fallback(res, detail), nil
	}

	maxTokens := 200
	if detail == DetailDetailed {
		maxTokens = 600
	}
	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: e.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildPrompt(res, detail)},
		},
		Temperature:         0.2,
		MaxCompletionTokens: maxTokens,
	})
	if err != nil {
		e.log.Warn("explanation API call failed, using fallback", "analysis", res.ID, "error", err)
		return Fallback(res, detail), nil
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		e.log.Warn("explanation API returned no content, using fallback", "analysis", res.ID)
		return Fallback(res, detail), nil
	}

	text := resp.Choices[0].Message.Content
	e.mu.Lock()
	e.cache[key] = text
	e.mu.Unlock()
	return text, nil
}

// buildPrompt renders the analysis result as a compact plain-text block for
// the model. Only material facts go in; the model is told the detail level.
func buildPrompt(res *store.AnalysisResult, detail string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Repository: %s\n", res.RepoURL)
	fmt.Fprintf(&b, "Overall risk: %s\n", res.OverallRisk)
	fmt.Fprintf(&b, "Packages scored: %d\n", len(res.RiskAnalysis))
	for _, s := range res.RiskAnalysis {
		fmt.Fprintf(&b, "- %s (%s): score %d, level %s", s.Package, s.Ecosystem, s.Score, s.Level)
		if len(s.OSV) > 0 {
			fmt.Fprintf(&b, ", %d known vulnerabilities", len(s.OSV))
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Workflows scanned: %d\n", res.CICDFindings.WorkflowsScanned)
	for _, f := range res.CICDFindings.Findings {
		fmt.Fprintf(&b, "- [%s] %s: %s\n", f.Severity, f.Workflow, f.Message)
	}
	for _, a := range res.RecommendedActions {
		fmt.Fprintf(&b, "Recommended: %s: %s\n", a.Type, a.Message)
	}
	if detail == DetailDetailed {
		b.WriteString("Write a detailed explanation: per-package reasoning, workflow remediation steps, and what the recommended actions mean.\n")
	} else {
		b.WriteString("Write a short summary, at most four sentences.\n")
	}
	return b.String()
}

// Fallback builds a deterministic narrative with no model involved.
func Fallback(res *store.AnalysisResult, detail string) string {
	var high, medium int
	for _, s := range res.RiskAnalysis {
		switch s.Level {
		case risk.LevelHigh:
			high++
		case risk.LevelMedium:
			medium++
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Overall risk for %s is %s. %d packages analyzed: %d high risk, %d medium risk.",
		res.RepoURL, res.OverallRisk, len(res.RiskAnalysis), high, medium)
	if n := len(res.CICDFindings.Findings); n > 0 {
		fmt.Fprintf(&b, " CI/CD audit raised %d findings across %d workflows.",
			n, res.CICDFindings.WorkflowsScanned)
	}
	if len(res.RecommendedActions) > 0 {
		fmt.Fprintf(&b, " Recommended action: %s.", res.RecommendedActions[0].Type)
	}

	if detail == DetailDetailed {
		for _, s := range res.RiskAnalysis {
			if s.Level == risk.LevelLow {
				continue
			}
			fmt.Fprintf(&b, "\n%s scored %d (%s).", s.Package, s.Score, s.Level)
			if len(s.OSV) > 0 {
				fmt.Fprintf(&b, " %d known vulnerabilities in OSV.", len(s.OSV))
			}
		}
		for _, f := range res.CICDFindings.Findings {
			fmt.Fprintf(&b, "\n[%s] %s: %s", f.Severity, f.Workflow, f.Message)
		}
	}
	return b.String()
}
