// ABOUTME: Manifest parsing: extracts declared package names from dependency files.
// ABOUTME: Unknown manifest types are ignored; malformed manifests are skipped, never fatal.
package risk

import (
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
)

// Manifest is one raw dependency file from the repository scan.
type Manifest struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// packageJSON is the subset of package.json the extractor reads.
// Declared and dev dependencies are both included.
type packageJSON struct {
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
}

// ExtractPackages parses each manifest by type and returns the deduplicated,
// sorted package name sets per ecosystem. Sorting establishes deterministic,
// diffable output; it has no other significance.
//
// Supported: package.json (npm), requirements.txt (PyPI). Anything else is
// ignored. An individually malformed manifest is skipped with a warning.
func ExtractPackages(manifests []Manifest) (npm, pypi []string) {
	npmSet := make(map[string]struct{})
	pypiSet := make(map[string]struct{})

	for _, m := range manifests {
		switch {
		case strings.HasSuffix(m.Path, "package.json"):
			var pj packageJSON
			if err := json.Unmarshal([]byte(m.Content), &pj); err != nil {
				slog.Warn("skipping malformed package.json", "path", m.Path, "error", err)
				continue
			}
			for name := range pj.Dependencies {
				npmSet[name] = struct{}{}
			}
			for name := range pj.DevDependencies {
				npmSet[name] = struct{}{}
			}
		case strings.HasSuffix(m.Path, "requirements.txt"):
			for _, name := range parseRequirements(m.Content) {
				pypiSet[name] = struct{}{}
			}
		}
	}

	return sortedKeys(npmSet), sortedKeys(pypiSet)
}

// parseRequirements extracts bare package names from a pip requirement list,
// stripping comments and version specifiers.
func parseRequirements(content string) []string {
	var out []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(strings.TrimSuffix(line, "\r"))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		// Drop trailing comment or anything after the first space.
		if i := strings.IndexAny(line, "# "); i >= 0 {
			line = line[:i]
		}
		// Cut at the first version-specifier character.
		if i := strings.IndexAny(line, "=<>~!"); i >= 0 {
			line = line[:i]
		}
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
