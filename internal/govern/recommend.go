// Package govern maps an overall risk severity and scan findings to a small
// set of recommended governance actions.
package govern

import (
	"fmt"
	"strings"

	"github.com/scarson/riskops/internal/risk"
)

// ActionType identifies a recommended action.
type ActionType string

// Recommended action types.
const (
	ActionAlert   ActionType = "ALERT"
	ActionBlockPR ActionType = "BLOCK_PR"
	ActionComment ActionType = "COMMENT"
	ActionPass    ActionType = "PASS"
)

// Action is one recommended governance action.
type Action struct {
	Type    ActionType `json:"type"`
	Message string     `json:"message"`
}

// ScanFindings are the path-level findings from the repository scan:
// Secrets are sensitive-looking file paths, Anomalies are CI workflow paths.
type ScanFindings struct {
	Secrets   []string `json:"secrets"`
	Anomalies []string `json:"anomalies"`
}

// Recommend is a pure function of its inputs. The rules apply independently:
// a non-empty secrets list adds an ALERT, and exactly one severity-tier
// action is always emitted — BLOCK_PR for High, COMMENT for Medium, PASS
// otherwise.
func Recommend(overall risk.Level, findings ScanFindings) []Action {
	var actions []Action

	if len(findings.Secrets) > 0 {
		actions = append(actions, Action{
			Type:    ActionAlert,
			Message: fmt.Sprintf("Secrets found: %s", strings.Join(findings.Secrets, ", ")),
		})
	}

	switch overall {
	case risk.LevelHigh:
		actions = append(actions, Action{
			Type:    ActionBlockPR,
			Message: "High risk detected. PR must be reviewed.",
		})
	case risk.LevelMedium:
		actions = append(actions, Action{
			Type:    ActionComment,
			Message: "Medium risk: review recommended.",
		})
	default:
		actions = append(actions, Action{
			Type:    ActionPass,
			Message: "Low risk, safe to proceed.",
		})
	}

	return actions
}
