package pkgrisk

import (
	"regexp"
	"strings"
)

// Import-declaration patterns per language. These deliberately match only
// declaration syntax (import/require/use), not prose mentioning a package.
var (
	pythonImportRe = regexp.MustCompile(`(?m)^\s*(?:import|from)\s+([A-Za-z_][A-Za-z0-9_.]*)`)
	jsRequireRe    = regexp.MustCompile(`require\(\s*['"]([^'"]+)['"]\s*\)`)
	jsImportRe     = regexp.MustCompile(`(?m)^\s*import\s+(?:[^'"]*?from\s+)?['"]([^'"]+)['"]`)
	goImportRe     = regexp.MustCompile(`(?m)^\s*(?:import\s+)?(?:[A-Za-z_][A-Za-z0-9_]*\s+)?"([a-z0-9][a-z0-9.\-]*\.[a-z]{2,}/[^"\s]+)"`)
	rustUseRe      = regexp.MustCompile(`(?m)^\s*(?:use|extern\s+crate)\s+([A-Za-z_][A-Za-z0-9_]*)`)
)

// rustStdCrates are root paths that never name a crates.io package.
var rustStdCrates = map[string]struct{}{
	"std": {}, "core": {}, "alloc": {}, "crate": {}, "self": {}, "super": {},
}

// ExtractRefs tokenizes import/require/dependency declarations in the given
// text and returns the distinct package references, normalized per
// ecosystem.
func ExtractRefs(text string) []Ref {
	seen := make(map[Ref]struct{})
	var out []Ref
	add := func(r Ref) {
		if r.Name == "" {
			return
		}
		if _, dup := seen[r]; dup {
			return
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}

	for _, m := range pythonImportRe.FindAllStringSubmatch(text, -1) {
		add(Ref{Ecosystem: EcosystemPyPI, Name: NormalizeName(EcosystemPyPI, m[1])})
	}
	for _, m := range jsRequireRe.FindAllStringSubmatch(text, -1) {
		add(Ref{Ecosystem: EcosystemNPM, Name: NormalizeName(EcosystemNPM, m[1])})
	}
	for _, m := range jsImportRe.FindAllStringSubmatch(text, -1) {
		add(Ref{Ecosystem: EcosystemNPM, Name: NormalizeName(EcosystemNPM, m[1])})
	}
	for _, m := range goImportRe.FindAllStringSubmatch(text, -1) {
		add(Ref{Ecosystem: EcosystemGo, Name: NormalizeName(EcosystemGo, m[1])})
	}
	for _, m := range rustUseRe.FindAllStringSubmatch(text, -1) {
		if _, std := rustStdCrates[m[1]]; std {
			continue
		}
		add(Ref{Ecosystem: EcosystemCrates, Name: NormalizeName(EcosystemCrates, m[1])})
	}
	return out
}

// NormalizeName applies each ecosystem's canonical-name rules so lookups are
// exact, never fuzzy.
func NormalizeName(eco Ecosystem, name string) string {
	switch eco {
	case EcosystemPyPI:
		// PEP 503: case-insensitive, runs of -_. collapse to a single -.
		name = strings.ToLower(name)
		// Only the top-level distribution name matters for imports.
		if i := strings.IndexByte(name, '.'); i >= 0 {
			name = name[:i]
		}
		name = strings.NewReplacer("_", "-", ".", "-").Replace(name)
	case EcosystemNPM:
		name = strings.ToLower(name)
		// Subpath imports resolve to the package root; scoped packages
		// keep their first two segments.
		parts := strings.Split(name, "/")
		if strings.HasPrefix(name, "@") && len(parts) >= 2 {
			name = parts[0] + "/" + parts[1]
		} else if !strings.HasPrefix(name, ".") {
			name = parts[0]
		} else {
			return "" // relative import, not a package
		}
	case EcosystemCrates:
		name = strings.ToLower(strings.ReplaceAll(name, "_", "-"))
	case EcosystemGo:
		// Module paths are case-sensitive; pass through.
	}
	return name
}
