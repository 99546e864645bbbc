// ABOUTME: Maps GitHub's native event payloads (ping/push/pull_request/workflow_run)
// ABOUTME: onto the uniform store.Event envelope; unresolvable repos become "unknown".
package webhook

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/scarson/riskops/internal/store"
)

// payload is the union of the fields we read from GitHub's event schemas.
type payload struct {
	Ref        string `json:"ref"`
	Action     string `json:"action"`
	Repository struct {
		HTMLURL string `json:"html_url"`
	} `json:"repository"`
	Sender struct {
		Login string `json:"login"`
	} `json:"sender"`
	PullRequest struct {
		Number int    `json:"number"`
		Title  string `json:"title"`
		Base   struct {
			Ref string `json:"ref"`
		} `json:"base"`
		Head struct {
			Ref string `json:"ref"`
		} `json:"head"`
	} `json:"pull_request"`
	WorkflowRun struct {
		Name       string `json:"name"`
		Status     string `json:"status"`
		Conclusion string `json:"conclusion"`
		HeadBranch string `json:"head_branch"`
	} `json:"workflow_run"`
}

// Normalize maps one raw event (eventName from the event-kind header, body
// the verified JSON payload) to the uniform envelope. Events lacking a
// resolvable repository URL are tagged "unknown" and never trigger the
// pipeline; "ping" carries no repository-scoped follow-up either.
func Normalize(eventName string, body []byte, delivery string, receivedAt time.Time) (store.Event, error) {
	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return store.Event{}, err
	}

	e := store.Event{
		RepoURL:    p.Repository.HTMLURL,
		Sender:     p.Sender.Login,
		Delivery:   delivery,
		ReceivedAt: receivedAt.UTC(),
	}

	switch {
	case eventName == "ping":
		e.Type = "ping"
	case p.Repository.HTMLURL == "":
		e.Type = "unknown"
		e.EventName = eventName
	case eventName == "push":
		e.Type = "push"
		e.Branch = strings.TrimPrefix(p.Ref, "refs/heads/")
	case eventName == "pull_request":
		e.Type = "pull_request"
		e.Action = p.Action
		e.PRNumber = p.PullRequest.Number
		e.PRTitle = p.PullRequest.Title
		e.Base = p.PullRequest.Base.Ref
		e.Head = p.PullRequest.Head.Ref
	case eventName == "workflow_run":
		e.Type = "workflow_run"
		e.Action = p.Action
		e.Name = p.WorkflowRun.Name
		e.Status = p.WorkflowRun.Status
		e.Conclusion = p.WorkflowRun.Conclusion
		e.Branch = p.WorkflowRun.HeadBranch
	default:
		e.Type = eventName
	}
	return e, nil
}

// ShouldTrigger reports whether e warrants an analysis pipeline run.
func ShouldTrigger(e store.Event) bool {
	return e.RepoURL != "" && e.Type != "ping" && e.Type != "unknown"
}
