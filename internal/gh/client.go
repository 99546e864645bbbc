// Package gh is a minimal GitHub REST v3 client for the scan surface the
// analysis pipeline consumes: recursive tree listing, file contents, and
// workflow directory listing. The base URL and http.Client are injectable
// so tests point it at an httptest server.
package gh

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

var (
	repoURLPattern = regexp.MustCompile(`github\.com/([^/]+)/([^/]+)`)

	// secretPathPattern flags paths that commonly hold credentials.
	secretPathPattern = regexp.MustCompile(`(?i)(\.env|id_rsa|\.pem|secret|key)`)

	// workflowPathPattern flags CI workflow definitions (reported as anomalies
	// for the governance layer; the workflow analyzer inspects them itself).
	workflowPathPattern = regexp.MustCompile(`(?i)(^|/)\.(github|gitlab)/workflows/.*\.ya?ml$`)
)

// ErrInvalidRepoURL is returned when a repository reference cannot be
// parsed into owner and repo. Callers map it to a 400.
var ErrInvalidRepoURL = errors.New("gh: invalid repository URL")

// manifestNames are the dependency files the scanner fetches.
var manifestNames = []string{
	"package.json", "requirements.txt", "pyproject.toml",
	"pipfile", "poetry.lock", "pom.xml", "build.gradle",
}

// Manifest is one fetched dependency file.
type Manifest struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// ScanResult is the repository scan consumed by the pipeline.
type ScanResult struct {
	Files     []string   `json:"files"`
	Deps      []Manifest `json:"deps"`
	Secrets   []string   `json:"secrets"`
	Anomalies []string   `json:"anomalies"`
}

// Client talks to the GitHub REST API.
type Client struct {
	http    *http.Client
	baseURL string
	token   string
}

// New creates a Client. baseURL defaults to the public API; token may be
// empty for unauthenticated (rate-limited) access.
func New(baseURL, token string, httpClient *http.Client) *Client {
	if baseURL == "" {
		baseURL = "https://api.github.com"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		http:    httpClient,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
	}
}

// ParseRepoURL extracts (owner, repo) from a GitHub repository URL or an
// "owner/repo" shorthand.
func ParseRepoURL(repoURL string) (owner, repo string, err error) {
	if m := repoURLPattern.FindStringSubmatch(repoURL); m != nil {
		return m[1], strings.TrimSuffix(m[2], ".git"), nil
	}
	parts := strings.Split(strings.Trim(repoURL, "/"), "/")
	if len(parts) == 2 && parts[0] != "" && parts[1] != "" && !strings.Contains(repoURL, "://") {
		return parts[0], parts[1], nil
	}
	return "", "", fmt.Errorf("%w: %q", ErrInvalidRepoURL, repoURL)
}

// Scan lists the repository tree at ref, fetches every dependency manifest,
// and flags secret-looking and CI-workflow paths.
func (c *Client) Scan(ctx context.Context, repoURL, ref string) (*ScanResult, error) {
	owner, repo, err := ParseRepoURL(repoURL)
	if err != nil {
		return nil, err
	}

	files, err := c.listTree(ctx, owner, repo, ref)
	if err != nil {
		return nil, fmt.Errorf("gh: scan %s/%s: %w", owner, repo, err)
	}

	res := &ScanResult{Files: files, Secrets: []string{}, Anomalies: []string{}}
	for _, path := range files {
		lower := strings.ToLower(path)
		for _, name := range manifestNames {
			if strings.HasSuffix(lower, name) {
				content, err := c.FetchText(ctx, owner, repo, path, ref)
				if err != nil {
					// One unreadable manifest must not fail the scan.
					continue
				}
				res.Deps = append(res.Deps, Manifest{Path: path, Content: content})
				break
			}
		}
		if secretPathPattern.MatchString(path) {
			res.Secrets = append(res.Secrets, path)
		}
		if workflowPathPattern.MatchString(path) {
			res.Anomalies = append(res.Anomalies, path)
		}
	}
	return res, nil
}

// ListWorkflows returns the workflow definition paths under
// .github/workflows at ref. A missing directory yields an empty list.
func (c *Client) ListWorkflows(ctx context.Context, owner, repo, ref string) ([]string, error) {
	var entries []struct {
		Type string `json:"type"`
		Name string `json:"name"`
		Path string `json:"path"`
	}
	err := c.getJSON(ctx, fmt.Sprintf("/repos/%s/%s/contents/.github/workflows?ref=%s",
		owner, repo, url.QueryEscape(ref)), &entries)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	var paths []string
	for _, e := range entries {
		if e.Type != "file" {
			continue
		}
		if strings.HasSuffix(e.Name, ".yml") || strings.HasSuffix(e.Name, ".yaml") {
			paths = append(paths, e.Path)
		}
	}
	return paths, nil
}

// FetchText returns the decoded content of one file at ref.
func (c *Client) FetchText(ctx context.Context, owner, repo, path, ref string) (string, error) {
	var file struct {
		Type     string `json:"type"`
		Content  string `json:"content"`
		Encoding string `json:"encoding"`
	}
	err := c.getJSON(ctx, fmt.Sprintf("/repos/%s/%s/contents/%s?ref=%s",
		owner, repo, path, url.QueryEscape(ref)), &file)
	if err != nil {
		return "", err
	}
	if file.Content == "" {
		return "", fmt.Errorf("gh: no content for %s", path)
	}
	// The contents API base64-encodes with embedded newlines.
	raw, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(file.Content, "\n", ""))
	if err != nil {
		return "", fmt.Errorf("gh: decode %s: %w", path, err)
	}
	return string(raw), nil
}

func (c *Client) listTree(ctx context.Context, owner, repo, ref string) ([]string, error) {
	var tree struct {
		Tree []struct {
			Path string `json:"path"`
			Type string `json:"type"`
		} `json:"tree"`
	}
	err := c.getJSON(ctx, fmt.Sprintf("/repos/%s/%s/git/trees/%s?recursive=1",
		owner, repo, url.PathEscape(ref)), &tree)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range tree.Tree {
		if e.Type == "blob" {
			files = append(files, e.Path)
		}
	}
	return files, nil
}

// statusError carries the HTTP status for branch decisions (404 handling).
type statusError struct {
	status int
	path   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("gh: GET %s: unexpected status %d", e.path, e.status)
}

func isNotFound(err error) bool {
	se, ok := err.(*statusError)
	return ok && se.status == http.StatusNotFound
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("gh: build request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("gh: GET %s: %w", path, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck
		return &statusError{status: resp.StatusCode, path: path}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("gh: decode %s: %w", path, err)
	}
	return nil
}
