// ABOUTME: Process-scoped state (event feed, latest-by-repo, bounded history) plus durable logs.
// ABOUTME: Constructed once at startup, rehydrated from the logs, injected into components.
package store

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/scarson/riskops/internal/metrics"
)

// Default bounds. Oldest entries fall off; eviction is FIFO, not
// relevance-based.
const (
	DefaultMaxEvents         = 50
	DefaultMaxHistoryPerRepo = 20

	eventsFileName   = "webhook-events.jsonl"
	analysesFileName = "webhook-analyses.jsonl"
)

// Store bundles the durable logs with the in-memory indexes rebuilt from
// them at startup. Safe for concurrent use; all mutation goes through the
// defined insert/evict operations.
type Store struct {
	mu sync.RWMutex

	// events is the global feed, newest first, capped at maxEvents.
	events []Event
	// latest maps repoUrl → most recent analysis (last-write-wins).
	latest map[string]*AnalysisResult
	// history maps repoUrl → analyses in completion order, oldest first,
	// capped at maxHistory.
	history map[string][]*AnalysisResult

	maxEvents  int
	maxHistory int

	eventLog    *Log
	analysisLog *Log
	log         *slog.Logger
}

// Options tune the Store bounds. Zero values select the defaults.
type Options struct {
	MaxEvents         int
	MaxHistoryPerRepo int
	// AnalysisReplayLimit is how many trailing analysis log lines are
	// replayed at startup (more than MaxHistoryPerRepo, since the lines
	// are shared across repositories).
	AnalysisReplayLimit int
}

// Open creates the data directory, opens the two logs, and replays their
// trailing lines to rebuild the in-memory state.
func Open(dataDir string, opts Options) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, err
	}
	if opts.MaxEvents <= 0 {
		opts.MaxEvents = DefaultMaxEvents
	}
	if opts.MaxHistoryPerRepo <= 0 {
		opts.MaxHistoryPerRepo = DefaultMaxHistoryPerRepo
	}
	if opts.AnalysisReplayLimit <= 0 {
		opts.AnalysisReplayLimit = 200
	}

	s := &Store{
		latest:      make(map[string]*AnalysisResult),
		history:     make(map[string][]*AnalysisResult),
		maxEvents:   opts.MaxEvents,
		maxHistory:  opts.MaxHistoryPerRepo,
		eventLog:    NewLog(filepath.Join(dataDir, eventsFileName)),
		analysisLog: NewLog(filepath.Join(dataDir, analysesFileName)),
		log:         slog.Default(),
	}
	s.rehydrate(opts.AnalysisReplayLimit)
	return s, nil
}

// rehydrate replays the trailing log lines. Lines are stored oldest-first;
// replaying in file order reproduces completion order, so the feed and the
// per-repo histories end up bounded exactly as they were.
func (s *Store) rehydrate(analysisLimit int) {
	for _, line := range s.eventLog.LoadLastN(s.maxEvents) {
		var e Event
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		s.pushEventLocked(e)
	}
	for _, line := range s.analysisLog.LoadLastN(analysisLimit) {
		var a AnalysisResult
		if err := json.Unmarshal(line, &a); err != nil || a.RepoURL == "" {
			continue
		}
		s.indexAnalysisLocked(&a)
	}
	s.log.Info("store rehydrated",
		"events", len(s.events), "repos", len(s.latest))
}

// AppendEvent adds e to the bounded feed and appends it to the durable
// event log. The append is best-effort: a failure is logged and counted,
// the in-memory feed keeps the event either way.
func (s *Store) AppendEvent(e Event) {
	s.mu.Lock()
	s.pushEventLocked(e)
	s.mu.Unlock()

	if err := s.eventLog.Append(e); err != nil {
		metrics.LogAppendFailures.WithLabelValues("events").Inc()
		s.log.Error("event log append failed", "delivery", e.Delivery, "error", err)
	}
}

func (s *Store) pushEventLocked(e Event) {
	s.events = append([]Event{e}, s.events...)
	if len(s.events) > s.maxEvents {
		s.events = s.events[:s.maxEvents]
	}
}

// Events returns a copy of the bounded feed, newest first.
func (s *Store) Events() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// RecordAnalysis indexes a completed analysis (last-write-wins latest,
// FIFO-bounded history; history order follows completion order, which may
// differ from trigger order for overlapping runs) and appends it durably.
func (s *Store) RecordAnalysis(a *AnalysisResult) {
	s.mu.Lock()
	s.indexAnalysisLocked(a)
	s.mu.Unlock()

	if err := s.analysisLog.Append(a); err != nil {
		metrics.LogAppendFailures.WithLabelValues("analyses").Inc()
		s.log.Error("analysis log append failed", "repo", a.RepoURL, "error", err)
	}
}

func (s *Store) indexAnalysisLocked(a *AnalysisResult) {
	s.latest[a.RepoURL] = a
	h := append(s.history[a.RepoURL], a)
	if len(h) > s.maxHistory {
		h = h[len(h)-s.maxHistory:]
	}
	s.history[a.RepoURL] = h
}

// Latest returns the most recent analysis for repoURL, or nil.
func (s *Store) Latest(repoURL string) *AnalysisResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest[repoURL]
}

// LatestAny walks the event feed newest-first and returns the first
// repository's latest analysis. When no event maps to a completed analysis
// (manual runs only), it falls back to the most recently updated result.
func (s *Store) LatestAny() *AnalysisResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.events {
		if e.RepoURL == "" {
			continue
		}
		if a, ok := s.latest[e.RepoURL]; ok {
			return a
		}
	}
	var newest *AnalysisResult
	for _, a := range s.latest {
		if newest == nil || a.UpdatedAt.After(newest.UpdatedAt) {
			newest = a
		}
	}
	return newest
}

// History returns up to limit of the most recent analyses for repoURL,
// oldest first.
func (s *Store) History(repoURL string, limit int) []*AnalysisResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h := s.history[repoURL]
	if limit > 0 && len(h) > limit {
		h = h[len(h)-limit:]
	}
	out := make([]*AnalysisResult, len(h))
	copy(out, h)
	return out
}
