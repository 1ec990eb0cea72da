// Package pkgrisk implements the package-risk pipeline steps: the input
// phase looks up dependencies referenced by the user, and the output phase
// rewrites generated code that imports a flagged package into guidance text
// with an advisory reference.
package pkgrisk

import "context"

// Ecosystem identifies a package registry.
type Ecosystem string

const (
	// EcosystemPyPI is the Python package index.
	EcosystemPyPI Ecosystem = "pypi"
	// EcosystemNPM is the Node package registry.
	EcosystemNPM Ecosystem = "npm"
	// EcosystemGo is the Go module proxy namespace.
	EcosystemGo Ecosystem = "go"
	// EcosystemCrates is the Rust crates registry.
	EcosystemCrates Ecosystem = "crates"
)

// Classification is the risk verdict for a package.
type Classification string

const (
	// ClassSafe means no known risk.
	ClassSafe Classification = "safe"
	// ClassMalicious means the package is known malware.
	ClassMalicious Classification = "malicious"
	// ClassDeprecated means the package is deprecated by its maintainers.
	ClassDeprecated Classification = "deprecated"
	// ClassArchived means the source repository is archived.
	ClassArchived Classification = "archived"
	// ClassVulnerable means the package has known vulnerabilities.
	ClassVulnerable Classification = "vulnerable"
	// ClassUnknown means the index could not classify the package.
	ClassUnknown Classification = "unknown"
)

// Flagged reports whether the classification warrants rewriting generated
// code. Unknown is deliberately not flagged: ambiguous results raise an
// alert instead of blocking, to avoid over-blocking lookalike-but-safe names.
func (c Classification) Flagged() bool {
	switch c {
	case ClassMalicious, ClassDeprecated, ClassArchived, ClassVulnerable:
		return true
	}
	return false
}

// Report is a risk-index answer for one package.
type Report struct {
	// Ecosystem and Name identify the package (normalized).
	Ecosystem Ecosystem
	Name      string
	// Classification is the verdict.
	Classification Classification
	// ReportURL is the canonical report reference for advisories.
	ReportURL string
}

// Lookup is the external risk-index collaborator. Queries use
// exact-normalized identifiers per ecosystem; no fuzzy matching.
type Lookup interface {
	// Classify returns the risk report for a package.
	Classify(ctx context.Context, ecosystem Ecosystem, name string) (Report, error)
}

// Ref is a package reference extracted from text.
type Ref struct {
	// Ecosystem is the registry the reference belongs to.
	Ecosystem Ecosystem
	// Name is the normalized package name.
	Name string
}
