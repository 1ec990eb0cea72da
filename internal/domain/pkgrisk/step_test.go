package pkgrisk

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/Prompt-Gate/Promptgate/internal/domain/canon"
	"github.com/Prompt-Gate/Promptgate/internal/domain/pipeline"
)

// fakeLookup serves canned classifications and records queries.
type fakeLookup struct {
	reports map[Ref]Report
	err     error
	queries []Ref
}

func (f *fakeLookup) Classify(ctx context.Context, eco Ecosystem, name string) (Report, error) {
	ref := Ref{Ecosystem: eco, Name: name}
	f.queries = append(f.queries, ref)
	if f.err != nil {
		return Report{}, f.err
	}
	if r, ok := f.reports[ref]; ok {
		return r, nil
	}
	return Report{Ecosystem: eco, Name: name, Classification: ClassSafe}, nil
}

func TestCheckStepFlagsRiskyPackage(t *testing.T) {
	t.Parallel()

	lookup := &fakeLookup{reports: map[Ref]Report{
		{Ecosystem: EcosystemPyPI, Name: "evil-pkg"}: {
			Ecosystem:      EcosystemPyPI,
			Name:           "evil-pkg",
			Classification: ClassMalicious,
			ReportURL:      "https://risk.example/pypi/evil-pkg",
		},
	}}
	step := NewCheckStep(lookup)
	req := &canon.Request{
		Model: "gpt-4o",
		Messages: []canon.Message{
			canon.TextMessage(canon.RoleUser, "my script does\nimport evil_pkg\nwhy does it fail?"),
		},
	}
	pctx := pipeline.NewContext("default", "s1")

	out, sc, err := step.Apply(context.Background(), req, pctx)
	if err != nil || sc != nil {
		t.Fatalf("Apply() = %v, %v", sc, err)
	}
	if out != req {
		t.Error("check step must never modify the request")
	}

	alerts := pctx.Alerts()
	if len(alerts) != 1 {
		t.Fatalf("got %d alerts, want 1", len(alerts))
	}
	if alerts[0].Code != pipeline.CodeRiskyPackage || alerts[0].Severity != pipeline.SeverityCritical {
		t.Errorf("alert = %+v", alerts[0])
	}
	if !strings.Contains(alerts[0].Message, "evil-pkg") {
		t.Errorf("alert should name the package: %q", alerts[0].Message)
	}
}

func TestCheckStepUnknownNeverBlocks(t *testing.T) {
	t.Parallel()

	lookup := &fakeLookup{reports: map[Ref]Report{
		{Ecosystem: EcosystemPyPI, Name: "mystery"}: {Classification: ClassUnknown},
	}}
	step := NewCheckStep(lookup)
	req := &canon.Request{
		Messages: []canon.Message{canon.TextMessage(canon.RoleUser, "import mystery")},
	}
	pctx := pipeline.NewContext("default", "s1")

	_, sc, err := step.Apply(context.Background(), req, pctx)
	if err != nil || sc != nil {
		t.Fatalf("uncertain classification must not block: %v, %v", sc, err)
	}
	alerts := pctx.Alerts()
	if len(alerts) != 1 || alerts[0].Code != pipeline.CodeRiskUnknown {
		t.Errorf("alerts = %+v", alerts)
	}
	if alerts[0].Severity != pipeline.SeverityInfo {
		t.Errorf("unknown classification should be informational, got %s", alerts[0].Severity)
	}
}

func TestCheckStepLookupFailureIsAlertOnly(t *testing.T) {
	t.Parallel()

	lookup := &fakeLookup{err: errors.New("index unreachable")}
	step := NewCheckStep(lookup)
	req := &canon.Request{
		Messages: []canon.Message{canon.TextMessage(canon.RoleUser, "import requests")},
	}
	pctx := pipeline.NewContext("default", "s1")

	_, sc, err := step.Apply(context.Background(), req, pctx)
	if err != nil || sc != nil {
		t.Fatalf("lookup failure must not block: %v, %v", sc, err)
	}
	if alerts := pctx.Alerts(); len(alerts) != 1 || alerts[0].Code != pipeline.CodeRiskUnknown {
		t.Errorf("alerts = %+v", alerts)
	}
}

func TestCheckStepDeduplicatesLookups(t *testing.T) {
	t.Parallel()

	lookup := &fakeLookup{}
	step := NewCheckStep(lookup)
	req := &canon.Request{
		Messages: []canon.Message{
			canon.TextMessage(canon.RoleUser, "import requests"),
			canon.TextMessage(canon.RoleUser, "import requests\nimport flask"),
		},
	}
	if _, _, err := step.Apply(context.Background(), req, pipeline.NewContext("default", "s1")); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if len(lookup.queries) != 2 {
		t.Errorf("made %d lookups, want 2 (deduplicated): %+v", len(lookup.queries), lookup.queries)
	}
}

func TestAdvisoryStepRewritesFlaggedImport(t *testing.T) {
	t.Parallel()

	lookup := &fakeLookup{reports: map[Ref]Report{
		{Ecosystem: EcosystemPyPI, Name: "evil-pkg"}: {
			Ecosystem:      EcosystemPyPI,
			Name:           "evil-pkg",
			Classification: ClassMalicious,
			ReportURL:      "https://risk.example/pypi/evil-pkg",
		},
	}}
	step := NewAdvisoryStep(lookup)
	pctx := pipeline.NewContext("default", "s1")

	// The import arrives split across two chunks.
	var out []canon.Chunk
	for _, delta := range []string{"here you go:\nimport ev", "il_pkg\nimport os\nprint('done')"} {
		chunks, err := step.ProcessChunk(context.Background(), canon.Chunk{Delta: delta}, pctx)
		if err != nil {
			t.Fatalf("ProcessChunk() error = %v", err)
		}
		out = append(out, chunks...)
	}
	flushed, err := step.Flush(context.Background(), pctx)
	if err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	out = append(out, flushed...)

	var text strings.Builder
	for _, c := range out {
		text.WriteString(c.Delta)
	}
	got := text.String()

	if strings.Contains(got, "import evil_pkg") {
		t.Errorf("flagged import survived: %q", got)
	}
	if !strings.Contains(got, "https://risk.example/pypi/evil-pkg") {
		t.Errorf("advisory should reference the report URL: %q", got)
	}
	// Unrelated code is untouched.
	if !strings.Contains(got, "import os") || !strings.Contains(got, "print('done')") {
		t.Errorf("unrelated lines were modified: %q", got)
	}

	var flagged bool
	for _, a := range pctx.Alerts() {
		if a.Code == pipeline.CodeRiskyPackage {
			flagged = true
		}
	}
	if !flagged {
		t.Error("rewrite should record a risky-package alert")
	}
}

func TestAdvisoryStepSafeCodeUntouched(t *testing.T) {
	t.Parallel()

	lookup := &fakeLookup{}
	step := NewAdvisoryStep(lookup)
	pctx := pipeline.NewContext("default", "s1")

	text := "import requests\nresp = requests.get(url)\n"
	chunks, err := step.ProcessChunk(context.Background(), canon.Chunk{Delta: text, FinishReason: canon.FinishStop}, pctx)
	if err != nil {
		t.Fatalf("ProcessChunk() error = %v", err)
	}
	var b strings.Builder
	for _, c := range chunks {
		b.WriteString(c.Delta)
	}
	if b.String() != text {
		t.Errorf("safe code was modified: %q", b.String())
	}
}
