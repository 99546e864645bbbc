package osv

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestInferEcosystem(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		pkg  string
		want string
	}{
		{"plain npm name", "left-pad", "npm"},
		{"scoped npm name", "@types/node", "npm"},
		{"underscore reads pythonic", "python_dateutil", "PyPI"},
		{"dot reads pythonic", "zope.interface", "PyPI"},
		{"uppercase reads pythonic", "Django", "PyPI"},
		{"lowercase single word", "requests", "npm"},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := InferEcosystem(tc.pkg); got != tc.want {
				t.Errorf("InferEcosystem(%q) = %q, want %q", tc.pkg, got, tc.want)
			}
		})
	}
}

// newTestClient returns a Client pointed at an httptest server that responds
// with body and counts requests. The returned clock pointer can be advanced
// to expire cache entries.
func newTestClient(t *testing.T, body string, calls *atomic.Int64) (*Client, *time.Time) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body)) //nolint:errcheck
	}))
	t.Cleanup(srv.Close)

	clock := time.Now()
	c := New(2*time.Second,
		WithBaseURL(srv.URL),
		WithHTTPClient(srv.Client()),
		WithClock(func() time.Time { return clock }),
	)
	return c, &clock
}

func TestLookupCacheIdempotence(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	c, clock := newTestClient(t, `{"vulns":[{"id":"GHSA-xxxx","summary":"bad","severity":[{"type":"CVSS_V3","score":"7.5"}],"references":[{"type":"WEB","url":"https://example.com/adv"}]}]}`, &calls)

	first := c.Lookup(context.Background(), "left-pad", "npm")
	if !first.Vulnerable || len(first.Vulns) != 1 {
		t.Fatalf("first lookup = %+v, want one vulnerability", first)
	}
	if first.Vulns[0].Severity == nil || *first.Vulns[0].Severity != 7.5 {
		t.Errorf("severity = %v, want 7.5", first.Vulns[0].Severity)
	}
	if first.Vulns[0].URL != "https://example.com/adv" {
		t.Errorf("url = %q", first.Vulns[0].URL)
	}

	// Second lookup within the TTL window: identical result, no network call.
	second := c.Lookup(context.Background(), "left-pad", "npm")
	if got := calls.Load(); got != 1 {
		t.Fatalf("network calls = %d, want 1 (second lookup must hit the cache)", got)
	}
	if second.Vulnerable != first.Vulnerable || len(second.Vulns) != len(first.Vulns) {
		t.Errorf("cached result differs: %+v vs %+v", second, first)
	}

	// After TTL expiry a new network call is made.
	*clock = clock.Add(24*time.Hour + time.Minute)
	c.Lookup(context.Background(), "left-pad", "npm")
	if got := calls.Load(); got != 2 {
		t.Errorf("network calls after expiry = %d, want 2", got)
	}
}

func TestLookupFailureCachedNegative(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	clock := time.Now()
	c := New(2*time.Second,
		WithBaseURL(srv.URL),
		WithHTTPClient(srv.Client()),
		WithClock(func() time.Time { return clock }),
	)

	res := c.Lookup(context.Background(), "flaky-pkg", "npm")
	if res.Vulnerable {
		t.Error("failed lookup must degrade to non-vulnerable")
	}
	if res.Vulns == nil {
		t.Error("fallback vulns must be an empty slice, not nil")
	}

	// Within the negative TTL the failure is not retried.
	c.Lookup(context.Background(), "flaky-pkg", "npm")
	if got := calls.Load(); got != 1 {
		t.Fatalf("network calls = %d, want 1 within negative TTL", got)
	}

	// After the short negative TTL the upstream is queried again.
	clock = clock.Add(6 * time.Minute)
	c.Lookup(context.Background(), "flaky-pkg", "npm")
	if got := calls.Load(); got != 2 {
		t.Errorf("network calls after negative TTL = %d, want 2", got)
	}
}

func TestLookupInfersEcosystemWhenOmitted(t *testing.T) {
	t.Parallel()

	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, r.ContentLength)
		r.Body.Read(buf) //nolint:errcheck
		gotBody = buf
		w.Write([]byte(`{"vulns":[]}`)) //nolint:errcheck
	}))
	t.Cleanup(srv.Close)

	c := New(2*time.Second, WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
	c.Lookup(context.Background(), "python_dateutil", "")

	if want := `"ecosystem":"PyPI"`; !strings.Contains(string(gotBody), want) {
		t.Errorf("query body = %s, want it to contain %s", gotBody, want)
	}
}
