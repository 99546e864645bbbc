// Package osv queries the OSV.dev vulnerability database for known
// vulnerabilities in a single package and memoizes results in a TTL cache.
//
// Lookup never returns an error: upstream failures degrade to a cached
// non-vulnerable result with a short TTL so a flaky OSV does not cause
// repeated round-trips within a burst, and a single package's failure never
// fails a scoring batch.
package osv

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/scarson/riskops/internal/metrics"
)

const (
	// queryURL is the OSV.dev single-package query endpoint.
	queryURL = "https://api.osv.dev/v1/query"

	// positiveTTL is the cache lifetime of a successful lookup. Vulnerability
	// databases change slowly; 24h keeps repeat scans of the same repository
	// from re-querying every package.
	positiveTTL = 24 * time.Hour

	// negativeTTL is the cache lifetime of a failed lookup. Short, so a
	// transient OSV outage provides backpressure without blocking legitimate
	// queries for long.
	negativeTTL = 5 * time.Minute
)

// Vulnerability is one OSV record, reduced to the fields the scorer uses.
type Vulnerability struct {
	ID       string   `json:"id"`
	Summary  string   `json:"summary,omitempty"`
	Severity *float64 `json:"severity,omitempty"` // CVSS base score 0–10
	URL      string   `json:"url,omitempty"`
}

// Result is the outcome of a package lookup. Immutable once cached.
type Result struct {
	Vulnerable bool            `json:"vulnerable"`
	Vulns      []Vulnerability `json:"vulns"`
}

// InferEcosystem guesses the package ecosystem from its name. Uppercase
// letters, underscores, or dots read as pythonic; everything else defaults
// to npm. Callers that know the manifest type should pass an explicit
// ecosystem instead — this is a fallback only, kept for cache-key
// compatibility.
func InferEcosystem(name string) string {
	if strings.ContainsFunc(name, func(r rune) bool { return r >= 'A' && r <= 'Z' }) ||
		strings.ContainsAny(name, "_.") {
		return "PyPI"
	}
	return "npm"
}

// Client performs rate-limited, cached OSV queries.
type Client struct {
	http    *http.Client
	url     string
	limiter *rate.Limiter
	cache   *cache
	log     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client (tests inject an httptest client).
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithBaseURL overrides the OSV query URL (tests point it at httptest).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.url = u }
}

// WithClock overrides the cache clock (tests advance time manually).
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.cache.now = now }
}

// New creates a Client with the given per-request timeout.
// Rate limit: 10 req/s with a burst of 5, matching the scoring fan-out bound.
func New(timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	c := &Client{
		http:    &http.Client{Timeout: timeout},
		url:     queryURL,
		limiter: rate.NewLimiter(rate.Limit(10), 5),
		cache:   newCache(),
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// queryRequest is the OSV /v1/query request body.
type queryRequest struct {
	Package struct {
		Name      string `json:"name"`
		Ecosystem string `json:"ecosystem"`
	} `json:"package"`
}

// queryResponse is the subset of the OSV /v1/query response we consume.
type queryResponse struct {
	Vulns []struct {
		ID       string `json:"id"`
		Summary  string `json:"summary"`
		Severity []struct {
			Type  string `json:"type"`
			Score string `json:"score"`
		} `json:"severity"`
		References []struct {
			Type string `json:"type"`
			URL  string `json:"url"`
		} `json:"references"`
	} `json:"vulns"`
}

// Lookup returns the known vulnerabilities for (name, ecosystem). An empty
// ecosystem is inferred from the name. Cache-first; on upstream failure the
// non-vulnerable fallback is cached for negativeTTL and returned.
func (c *Client) Lookup(ctx context.Context, name, ecosystem string) Result {
	if ecosystem == "" {
		ecosystem = InferEcosystem(name)
	}

	if res, ok := c.cache.get(name, ecosystem); ok {
		metrics.OSVCacheHits.Inc()
		return res
	}
	metrics.OSVCacheMisses.Inc()

	res, err := c.query(ctx, name, ecosystem)
	if err != nil {
		metrics.OSVQueryFailures.Inc()
		c.log.Warn("osv query failed, caching negative result",
			"package", name, "ecosystem", ecosystem, "error", err)
		fallback := Result{Vulnerable: false, Vulns: []Vulnerability{}}
		c.cache.set(name, ecosystem, fallback, negativeTTL)
		return fallback
	}

	c.cache.set(name, ecosystem, res, positiveTTL)
	return res
}

func (c *Client) query(ctx context.Context, name, ecosystem string) (Result, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Result{}, fmt.Errorf("osv: rate limit: %w", err)
	}

	var reqBody queryRequest
	reqBody.Package.Name = name
	reqBody.Package.Ecosystem = ecosystem
	body, err := json.Marshal(reqBody)
	if err != nil {
		return Result{}, fmt.Errorf("osv: marshal query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("osv: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("osv: query %s/%s: %w", ecosystem, name, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck
		return Result{}, fmt.Errorf("osv: query %s/%s: unexpected status %d", ecosystem, name, resp.StatusCode)
	}

	var qr queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&qr); err != nil {
		return Result{}, fmt.Errorf("osv: decode response: %w", err)
	}

	vulns := make([]Vulnerability, 0, len(qr.Vulns))
	for _, v := range qr.Vulns {
		vuln := Vulnerability{ID: v.ID, Summary: v.Summary}
		if len(v.Severity) > 0 {
			if score, err := strconv.ParseFloat(v.Severity[0].Score, 64); err == nil {
				vuln.Severity = &score
			}
		}
		for _, ref := range v.References {
			if ref.URL != "" {
				vuln.URL = ref.URL
				break
			}
		}
		vulns = append(vulns, vuln)
	}

	return Result{Vulnerable: len(vulns) > 0, Vulns: vulns}, nil
}
