// ABOUTME: The fixed workflow rule set, applied by recursive descent over yaml.Node trees.
// ABOUTME: Working on nodes (not decoded interface{}) keeps "on:" and friends as literal keys.
package workflows

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	shaPattern = regexp.MustCompile(`^[a-f0-9]{40}$`)
	tagPattern = regexp.MustCompile(`^v?\d+(\.\d+){0,2}$`)

	// branchRefs are mutable refs that must never pin a third-party action.
	branchRefs = map[string]bool{
		"main": true, "master": true, "head": true, "latest": true,
		"dev": true, "develop": true, "trunk": true,
	}
)

// analyzeDocument applies the four rules to one parsed workflow file.
func analyzeDocument(path string, doc *yaml.Node) []Finding {
	root := documentRoot(doc)
	if root == nil || root.Kind != yaml.MappingNode {
		return []Finding{parseErrorFinding(path, fmt.Errorf("not a mapping document"))}
	}

	var findings []Finding

	// Untrusted-trigger rule: pull_request_target runs forked PRs with
	// base-repository secrets.
	onNode := mapValue(root, "on")
	if triggers := triggerNames(onNode); containsFold(triggers, "pull_request_target") {
		findings = append(findings, Finding{
			Severity: SeverityHigh,
			RuleID:   "ACTIONS_PULL_REQUEST_TARGET",
			Workflow: path,
			Message:  "Workflow uses pull_request_target, which can expose secrets to untrusted code if misused.",
			Evidence: map[string]any{"on": triggers},
			Recommendation: "Prefer pull_request for forks. If pull_request_target is necessary, " +
				"avoid checking out untrusted code and restrict permissions/secrets.",
		})
	}

	// Over-broad permissions rule.
	writeAll, riskyScopes := normalizePermissions(mapValue(root, "permissions"))
	switch {
	case writeAll:
		findings = append(findings, Finding{
			Severity: SeverityCritical,
			RuleID:   "ACTIONS_PERMISSIONS_WRITE_ALL",
			Workflow: path,
			Message:  "Workflow sets permissions: write-all.",
			Evidence: map[string]any{"permissions": "write-all"},
			Recommendation: "Use least privilege, e.g. permissions: { contents: read }. " +
				"Grant write only for specific scopes when required.",
		})
	case len(riskyScopes) > 0:
		findings = append(findings, Finding{
			Severity: SeverityHigh,
			RuleID:   "ACTIONS_PERMISSIONS_WRITE_SCOPES",
			Workflow: path,
			Message:  fmt.Sprintf("Workflow grants write permissions to: %s.", strings.Join(riskyScopes, ", ")),
			Evidence: map[string]any{"scopes": riskyScopes},
			Recommendation: "Reduce to least privilege. For most CI: contents: read is enough. " +
				"Add write scopes only for release/publish jobs.",
		})
	}

	jobs := mapValue(root, "jobs")

	// Unpinned third-party action rule: one finding per workflow summarizing
	// the unpinned references, not one per reference.
	var uses []string
	collectUses(jobs, &uses)
	var unpinned []string
	for _, u := range uses {
		if isUnpinnedAction(u) {
			unpinned = append(unpinned, u)
		}
	}
	if len(unpinned) > 0 {
		findings = append(findings, Finding{
			Severity: SeverityMedium,
			RuleID:   "ACTIONS_UNPINNED_ACTIONS",
			Workflow: path,
			Message:  fmt.Sprintf("Workflow uses unpinned or branch-referenced actions (%d).", len(unpinned)),
			Evidence: map[string]any{"unpinned": unpinned},
			Recommendation: "Pin third-party actions to a commit SHA (best) or at least a stable " +
				"version tag (e.g. v3). Avoid @main/@master.",
		})
	}

	// Self-hosted runner rule: one finding per matching job.
	findings = append(findings, selfHostedFindings(path, jobs)...)

	return findings
}

// isUnpinnedAction reports whether an action reference is mutable. Local
// paths, 40-hex commit SHAs, and semantic version tags count as pinned;
// branch names, "latest", and a missing ref do not.
func isUnpinnedAction(uses string) bool {
	if strings.HasPrefix(uses, "./") {
		return false
	}
	at := strings.LastIndex(uses, "@")
	if at == -1 {
		return true
	}
	ref := strings.TrimSpace(uses[at+1:])
	if ref == "" {
		return true
	}
	if branchRefs[strings.ToLower(ref)] {
		return true
	}
	if shaPattern.MatchString(strings.ToLower(ref)) {
		return false
	}
	if tagPattern.MatchString(ref) {
		return false
	}
	return true
}

// collectUses walks the job graph and appends every "uses" scalar value.
// Alias nodes are not followed: YAML permits self-referential anchors and
// the workflow schema never needs them.
func collectUses(node *yaml.Node, out *[]string) {
	if node == nil || node.Kind == yaml.AliasNode {
		return
	}
	switch node.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			key, val := node.Content[i], node.Content[i+1]
			if key.Value == "uses" && val.Kind == yaml.ScalarNode {
				*out = append(*out, val.Value)
			}
			collectUses(val, out)
		}
	case yaml.SequenceNode, yaml.DocumentNode:
		for _, child := range node.Content {
			collectUses(child, out)
		}
	}
}

// normalizePermissions interprets a top-level permissions block.
// A scalar "write-all" is a blanket grant; a mapping contributes every
// scope whose value is "write". Scopes are returned sorted.
func normalizePermissions(perms *yaml.Node) (writeAll bool, riskyScopes []string) {
	if perms == nil {
		return false, nil
	}
	switch perms.Kind {
	case yaml.ScalarNode:
		return strings.EqualFold(perms.Value, "write-all"), nil
	case yaml.MappingNode:
		for i := 0; i+1 < len(perms.Content); i += 2 {
			key, val := perms.Content[i], perms.Content[i+1]
			if val.Kind == yaml.ScalarNode && strings.EqualFold(val.Value, "write") {
				riskyScopes = append(riskyScopes, key.Value)
			}
		}
		sort.Strings(riskyScopes)
	}
	return false, riskyScopes
}

// triggerNames flattens the "on" block into its trigger names: a scalar is
// one trigger, a sequence lists them, a mapping keys them.
func triggerNames(on *yaml.Node) []string {
	if on == nil {
		return nil
	}
	switch on.Kind {
	case yaml.ScalarNode:
		return []string{on.Value}
	case yaml.SequenceNode:
		out := make([]string, 0, len(on.Content))
		for _, c := range on.Content {
			if c.Kind == yaml.ScalarNode {
				out = append(out, c.Value)
			}
		}
		return out
	case yaml.MappingNode:
		out := make([]string, 0, len(on.Content)/2)
		for i := 0; i+1 < len(on.Content); i += 2 {
			out = append(out, on.Content[i].Value)
		}
		return out
	}
	return nil
}

func selfHostedFindings(path string, jobs *yaml.Node) []Finding {
	if jobs == nil || jobs.Kind != yaml.MappingNode {
		return nil
	}
	var findings []Finding
	for i := 0; i+1 < len(jobs.Content); i += 2 {
		jobID, job := jobs.Content[i].Value, jobs.Content[i+1]
		if job.Kind != yaml.MappingNode {
			continue
		}
		runsOn := mapValue(job, "runs-on")
		labels := triggerNames(runsOn) // same scalar/sequence flattening
		matched := false
		for _, l := range labels {
			if strings.Contains(strings.ToLower(l), "self-hosted") {
				matched = true
				break
			}
		}
		if matched {
			findings = append(findings, Finding{
				Severity: SeverityMedium,
				RuleID:   "ACTIONS_SELF_HOSTED_RUNNER",
				Workflow: path,
				Message:  fmt.Sprintf("Job %q runs on self-hosted runner.", jobID),
				Evidence: map[string]any{"jobId": jobID, "runs-on": labels},
				Recommendation: "Ensure self-hosted runners are isolated and not used for untrusted PRs. " +
					"Prefer ephemeral runners; harden network/credentials.",
			})
		}
	}
	return findings
}

// documentRoot unwraps the document node produced by yaml.Unmarshal into a
// *yaml.Node.
func documentRoot(doc *yaml.Node) *yaml.Node {
	if doc == nil {
		return nil
	}
	if doc.Kind == yaml.DocumentNode {
		if len(doc.Content) == 0 {
			return nil
		}
		return doc.Content[0]
	}
	return doc
}

// mapValue returns the value node for key in a mapping, or nil. Key
// comparison is on the literal scalar text, so YAML 1.1 booleans like the
// workflow "on" key still match.
func mapValue(m *yaml.Node, key string) *yaml.Node {
	if m == nil || m.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

func containsFold(list []string, want string) bool {
	for _, v := range list {
		if strings.EqualFold(v, want) {
			return true
		}
	}
	return false
}
