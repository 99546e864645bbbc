// Package risk scores a repository's declared dependencies. The engine
// extracts package names from manifests, fans out concurrency-limited
// vulnerability lookups, and merges heuristic and vulnerability signals
// into a per-package score plus an overall severity.
package risk

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/scarson/riskops/internal/osv"
)

// Level buckets a score. Pure function of the score: ≥7 High, ≥4 Medium.
type Level string

// Severity levels, worst first.
const (
	LevelHigh   Level = "High"
	LevelMedium Level = "Medium"
	LevelLow    Level = "Low"
)

// levelRank orders levels for the output sort (High before Medium before Low).
var levelRank = map[Level]int{LevelHigh: 0, LevelMedium: 1, LevelLow: 2}

// LevelFor classifies a score.
func LevelFor(score int) Level {
	switch {
	case score >= 7:
		return LevelHigh
	case score >= 4:
		return LevelMedium
	default:
		return LevelLow
	}
}

// PackageScore is the scored result for one unique package.
type PackageScore struct {
	Package   string              `json:"package"`
	Score     int                 `json:"score"`
	Level     Level               `json:"level"`
	OSV       []osv.Vulnerability `json:"osv"`
	Ecosystem string              `json:"ecosystem"`
}

// Lookup is the vulnerability-lookup capability the engine consumes.
// *osv.Client satisfies it.
type Lookup interface {
	Lookup(ctx context.Context, name, ecosystem string) osv.Result
}

// Engine scores dependency manifests.
type Engine struct {
	lookup        Lookup
	lists         Lists
	maxConcurrent int
}

// NewEngine creates an Engine. maxConcurrent bounds the simultaneous
// vulnerability lookups (≤0 defaults to 5, the OSV rate-limit courtesy bound).
func NewEngine(lookup Lookup, lists Lists, maxConcurrent int) *Engine {
	if maxConcurrent <= 0 {
		maxConcurrent = 5
	}
	return &Engine{lookup: lookup, lists: lists, maxConcurrent: maxConcurrent}
}

// Score extracts packages from manifests and scores each unique one.
//
// The result set is sorted by level (High, Medium, Low), then score
// descending, then package name ascending — this ordering is a contract.
// Overall is the level of the top-scoring package; ties resolve
// alphabetically because the contractual sort puts the lexicographically
// smallest name first within a score band.
func (e *Engine) Score(ctx context.Context, manifests []Manifest) (scores []PackageScore, overall Level) {
	npm, pypi := ExtractPackages(manifests)

	type target struct{ name, ecosystem string }
	targets := make([]target, 0, len(npm)+len(pypi))
	for _, name := range npm {
		targets = append(targets, target{name, "npm"})
	}
	for _, name := range pypi {
		targets = append(targets, target{name, "PyPI"})
	}

	scores = make([]PackageScore, len(targets))

	// Bounded fan-out: each goroutine holds a semaphore slot for the
	// duration of its lookup. Results land at fixed indices so no result
	// mutex is needed.
	sem := make(chan struct{}, e.maxConcurrent)
	var wg sync.WaitGroup
	for i, tgt := range targets {
		sem <- struct{}{}
		wg.Add(1)
		go func(i int, tgt target) {
			defer func() { <-sem }()
			defer wg.Done()
			scores[i] = e.scoreOne(ctx, tgt.name, tgt.ecosystem)
		}(i, tgt)
	}
	wg.Wait()

	sort.Slice(scores, func(i, j int) bool {
		a, b := scores[i], scores[j]
		if levelRank[a.Level] != levelRank[b.Level] {
			return levelRank[a.Level] < levelRank[b.Level]
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.Package < b.Package
	})

	overall = LevelLow
	if len(scores) > 0 {
		overall = scores[0].Level
	}
	return scores, overall
}

// scoreOne merges the heuristic baseline with the vulnerability bump:
// min(3, count) from the number of records plus min(3, floor(maxSeverity/3))
// from the highest severity, capped at an absolute 10. The final score never
// drops below the baseline.
func (e *Engine) scoreOne(ctx context.Context, name, ecosystem string) PackageScore {
	score := e.lists.Baseline(name)

	res := e.lookup.Lookup(ctx, name, ecosystem)
	if res.Vulnerable {
		bump := len(res.Vulns)
		if bump > 3 {
			bump = 3
		}
		sevBump := 0
		for _, v := range res.Vulns {
			if v.Severity == nil {
				continue
			}
			b := int(math.Floor(*v.Severity / 3))
			if b > 3 {
				b = 3
			}
			if b > sevBump {
				sevBump = b
			}
		}
		score += bump + sevBump
		if score > 10 {
			score = 10
		}
	}

	return PackageScore{
		Package:   name,
		Score:     score,
		Level:     LevelFor(score),
		OSV:       res.Vulns,
		Ecosystem: ecosystem,
	}
}
