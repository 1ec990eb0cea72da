// Package secrets implements the secret redaction pipeline steps: the input
// phase replaces credential-shaped substrings with session-scoped placeholder
// tokens, and the output phase restores placeholders the same session minted.
package secrets

import (
	_ "embed"
	"fmt"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed signatures.yaml
var defaultSignatures []byte

// Match is one credential-shaped substring found in text.
type Match struct {
	// Start and End are byte offsets into the scanned text.
	Start int
	End   int
	// Rule is the name of the signature that matched.
	Rule string
	// Value is the matched literal.
	Value string
}

// Detector finds credential-shaped substrings in text. Detection heuristics
// are policy, not architecture: any implementation can be plugged in.
type Detector interface {
	// Detect returns non-overlapping matches. Overlaps resolve to the
	// longest match.
	Detect(text string) []Match
}

// signatureFile is the YAML schema for signature rules.
type signatureFile struct {
	Signatures []struct {
		Name    string `yaml:"name"`
		Pattern string `yaml:"pattern"`
	} `yaml:"signatures"`
}

// SignatureDetector matches text against a set of compiled regex signatures.
type SignatureDetector struct {
	rules []signatureRule
}

type signatureRule struct {
	name    string
	pattern *regexp.Regexp
}

// NewSignatureDetector parses YAML signature rules and compiles them.
func NewSignatureDetector(yamlRules []byte) (*SignatureDetector, error) {
	var file signatureFile
	if err := yaml.Unmarshal(yamlRules, &file); err != nil {
		return nil, fmt.Errorf("parse signatures: %w", err)
	}
	if len(file.Signatures) == 0 {
		return nil, fmt.Errorf("no signatures defined")
	}
	d := &SignatureDetector{}
	for _, s := range file.Signatures {
		re, err := regexp.Compile(s.Pattern)
		if err != nil {
			return nil, fmt.Errorf("compile signature %q: %w", s.Name, err)
		}
		d.rules = append(d.rules, signatureRule{name: s.Name, pattern: re})
	}
	return d, nil
}

// NewDefaultDetector loads the built-in signature set.
func NewDefaultDetector() (*SignatureDetector, error) {
	return NewSignatureDetector(defaultSignatures)
}

// Detect implements Detector. Matches from all rules are collected, then
// overlaps are resolved to the longest match (earliest start wins ties).
func (d *SignatureDetector) Detect(text string) []Match {
	var all []Match
	for _, rule := range d.rules {
		for _, loc := range rule.pattern.FindAllStringIndex(text, -1) {
			all = append(all, Match{
				Start: loc[0],
				End:   loc[1],
				Rule:  rule.name,
				Value: text[loc[0]:loc[1]],
			})
		}
	}
	if len(all) == 0 {
		return nil
	}

	// Longest match first, then earliest start, so the overlap sweep below
	// keeps the longest of any overlapping pair.
	sort.Slice(all, func(i, j int) bool {
		li, lj := all[i].End-all[i].Start, all[j].End-all[j].Start
		if li != lj {
			return li > lj
		}
		return all[i].Start < all[j].Start
	})

	var kept []Match
	for _, m := range all {
		overlaps := false
		for _, k := range kept {
			if m.Start < k.End && k.Start < m.End {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, m)
		}
	}

	sort.Slice(kept, func(i, j int) bool { return kept[i].Start < kept[j].Start })
	return kept
}

// Compile-time check that SignatureDetector implements Detector.
var _ Detector = (*SignatureDetector)(nil)
