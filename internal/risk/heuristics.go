// ABOUTME: Heuristic baseline scoring from versioned name lists.
// ABOUTME: Lists are plain data so tests and deployments can substitute their own fixtures.
package risk

import "strings"

// Lists holds the heuristic package-name lists. Swappable configuration
// data, not control flow: tests substitute fixtures, deployments can ship
// updated lists without code changes.
type Lists struct {
	// HighRiskSubstrings match anywhere in the lowercased package name.
	// Indicators of arbitrary code execution, shell access, or mining.
	HighRiskSubstrings []string
	// Deprecated are exact names of abandoned or historically compromised
	// packages.
	Deprecated []string
	// CommonlyTargeted are exact names of legitimate, widely-used packages
	// that typosquatters and supply-chain attacks favor.
	CommonlyTargeted []string
}

// DefaultLists returns the built-in heuristic lists.
func DefaultLists() Lists {
	return Lists{
		HighRiskSubstrings: []string{
			"eval", "exec", "unsafe", "shell", "spawn", "child_process",
			"system", "subprocess", "pickle", "crypto-miner", "bitcoin",
			"wallet", "hashcat", "shelljs",
		},
		Deprecated: []string{
			"request", "event-stream", "left-pad", "hoek", "xmlhttprequest",
		},
		CommonlyTargeted: []string{
			"lodash", "moment", "express", "flask", "axios", "django",
			"requests", "urllib3",
		},
	}
}

// Baseline scores a package name against the lists. The match order is
// fixed: high-risk substring (9) beats deprecated exact (8) beats
// commonly-targeted exact (5); everything else is 2.
func (l Lists) Baseline(name string) int {
	lower := strings.ToLower(name)
	for _, sub := range l.HighRiskSubstrings {
		if strings.Contains(lower, sub) {
			return 9
		}
	}
	for _, d := range l.Deprecated {
		if lower == d {
			return 8
		}
	}
	for _, m := range l.CommonlyTargeted {
		if lower == m {
			return 5
		}
	}
	return 2
}
