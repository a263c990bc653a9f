package agent

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/themislabs/themis/internal/llm"
	"github.com/themislabs/themis/internal/matter"
)

// --- Output envelope ---

func TestOutputValidate(t *testing.T) {
	valid := &Output{
		Agent:            NameFacts,
		Artifacts:        map[string]any{},
		Provenance:       Provenance{ToolsUsed: []string{"matter_scan"}},
		UnresolvedIssues: []string{},
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid output rejected: %v", err)
	}

	missingAgent := &Output{Provenance: Provenance{ToolsUsed: []string{"x"}}, UnresolvedIssues: []string{}}
	if err := missingAgent.Validate(); err == nil {
		t.Fatal("expected error for missing agent name")
	}

	missingTools := &Output{Agent: NameFacts, UnresolvedIssues: []string{}}
	if err := missingTools.Validate(); err == nil {
		t.Fatal("expected error for empty provenance tools")
	}

	nilIssues := &Output{Agent: NameFacts, Provenance: Provenance{ToolsUsed: []string{"x"}}}
	if err := nilIssues.Validate(); err == nil {
		t.Fatal("expected error for nil unresolved_issues")
	}
}

func TestOutputAsMap(t *testing.T) {
	out := &Output{
		Agent:            NameDoctrine,
		Artifacts:        map[string]any{"authorities": map[string]any{"controlling_authorities": []any{}}},
		Provenance:       Provenance{ToolsUsed: []string{"doctrine_review"}},
		UnresolvedIssues: []string{"needs verification"},
	}
	flat := out.AsMap()

	if _, ok := flat["authorities"]; !ok {
		t.Fatal("artifact not promoted to top level")
	}
	if flat["agent"] != NameDoctrine {
		t.Fatalf("agent = %v", flat["agent"])
	}
	prov, ok := flat["provenance"].(map[string]any)
	if !ok || len(prov["tools_used"].([]string)) != 1 {
		t.Fatalf("provenance not flattened: %v", flat["provenance"])
	}
}

// --- Registry ---

func TestRegistry(t *testing.T) {
	reg, err := NewRegistry(
		&stubAgent{name: NameFacts},
		&stubAgent{name: NameDoctrine},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reg.Has(NameFacts) || reg.Has(NameDrafter) {
		t.Fatal("Has gave wrong answers")
	}
	names := reg.Names()
	if len(names) != 2 || names[0] != NameDoctrine || names[1] != NameFacts {
		t.Fatalf("Names() = %v, want sorted", names)
	}
}

func TestRegistry_DuplicateName(t *testing.T) {
	_, err := NewRegistry(&stubAgent{name: NameFacts}, &stubAgent{name: NameFacts})
	if err == nil {
		t.Fatal("expected duplicate name error")
	}
}

// --- FactsAgent ---

func TestFactsAgent_LLMSuccess(t *testing.T) {
	p := &stubProvider{content: `{"facts": {"summary": "contract dispute", "parties": ["Acme", "Bolt"]},
"unresolved_issues": ["damages figures incomplete"]}`}
	a := NewFactsAgent(p, testLogger())

	out, err := a.Run(context.Background(), &Task{Phase: "intake_facts", Matter: matter.Matter{}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := out.Validate(); err != nil {
		t.Fatalf("invalid output: %v", err)
	}
	facts, ok := out.Artifacts["facts"].(map[string]any)
	if !ok || facts["summary"] != "contract dispute" {
		t.Fatalf("facts artifact not taken from response: %v", out.Artifacts)
	}
	if len(out.UnresolvedIssues) != 1 {
		t.Fatalf("unresolved issues not merged: %v", out.UnresolvedIssues)
	}
}

func TestFactsAgent_FallbackOnProviderError(t *testing.T) {
	p := &stubProvider{err: errors.New("provider down")}
	a := NewFactsAgent(p, testLogger())

	m := matter.Matter{
		"summary": "late delivery dispute",
		"parties": []any{"Acme", "Bolt"},
		"timeline": []any{
			map[string]any{"date": "2025-03-01", "event": "second breach"},
			map[string]any{"date": "2025-01-15", "event": "first breach"},
		},
		"damages": []any{
			map[string]any{"label": "lost revenue", "amount": 50000.0},
			map[string]any{"label": "penalties", "amount": 10000.0},
		},
	}
	out, err := a.Run(context.Background(), &Task{Phase: "intake_facts", Matter: m})
	if err != nil {
		t.Fatalf("fallback should not error: %v", err)
	}
	if err := out.Validate(); err != nil {
		t.Fatalf("invalid output: %v", err)
	}

	facts := out.Artifacts["facts"].(map[string]any)
	timeline := facts["timeline"].([]any)
	if len(timeline) != 2 {
		t.Fatalf("timeline length = %d", len(timeline))
	}
	first := timeline[0].(map[string]any)
	if first["date"] != "2025-01-15" {
		t.Fatalf("timeline not sorted by date: %v", first)
	}
	damages := facts["damages"].(map[string]any)
	if damages["total"] != 60000.0 {
		t.Fatalf("damages total = %v", damages["total"])
	}
}

func TestFactsAgent_FallbackFlagsMissingData(t *testing.T) {
	p := &stubProvider{err: errors.New("provider down")}
	a := NewFactsAgent(p, testLogger())

	out, err := a.Run(context.Background(), &Task{Phase: "intake_facts", Matter: matter.Matter{"summary": "sparse"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.UnresolvedIssues) != 2 {
		t.Fatalf("expected missing parties and damages flagged, got: %v", out.UnresolvedIssues)
	}
}

// --- DoctrineAgent ---

func TestDoctrineAgent_ProducesExpectedArtifacts(t *testing.T) {
	p := &stubProvider{content: `{"authorities": {"controlling_authorities": [{"cite": "Smith v. Jones", "holding": "x"}],
"contrary_authorities": []}, "unresolved_issues": []}`}
	a := NewDoctrineAgent(p, testLogger())

	out, err := a.Run(context.Background(), &Task{
		Phase:             "research_retrieval",
		Matter:            matter.Matter{},
		ExpectedArtifacts: []string{"authorities"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	auth, ok := out.Artifacts["authorities"].(map[string]any)
	if !ok {
		t.Fatalf("authorities artifact missing: %v", out.Artifacts)
	}
	if len(auth["controlling_authorities"].([]any)) != 1 {
		t.Fatal("controlling authorities not carried through")
	}
}

func TestDoctrineAgent_FallbackLiftsExistingIssues(t *testing.T) {
	p := &stubProvider{err: errors.New("provider down")}
	a := NewDoctrineAgent(p, testLogger())

	m := matter.Matter{"issues": []any{"breach of contract", "negligent misrepresentation"}}
	out, err := a.Run(context.Background(), &Task{
		Phase:             "issue_framing",
		Matter:            m,
		ExpectedArtifacts: []string{"legal_analysis"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	analysis := out.Artifacts["legal_analysis"].(map[string]any)
	issues := analysis["issues"].([]any)
	if len(issues) != 2 {
		t.Fatalf("existing issues not lifted: %v", issues)
	}
	if issues[0].(map[string]any)["issue"] != "breach of contract" {
		t.Fatalf("issue shape wrong: %v", issues[0])
	}
}

// --- StrategyAgent ---

func TestStrategyAgent_FallbackClientSummary(t *testing.T) {
	p := &stubProvider{err: errors.New("provider down")}
	a := NewStrategyAgent(p, testLogger())

	out, err := a.Run(context.Background(), &Task{Phase: "draft_review", Matter: matter.Matter{"summary": "lease dispute"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	summary, ok := out.Artifacts["client_safe_summary"].(string)
	if !ok || summary == "" {
		t.Fatal("client_safe_summary missing")
	}
	if _, ok := out.Artifacts["strategy"]; !ok {
		t.Fatal("strategy artifact missing")
	}
}

// --- DrafterAgent ---

func TestDrafterAgent_NestsClientSummaryInDraft(t *testing.T) {
	p := &stubProvider{content: `{"draft": {"document_type": "demand_letter", "title": "Demand",
"sections": [{"heading": "Background", "body": "..."}], "next_steps": [],
"client_safe_summary": "We demand payment of the outstanding balance."},
"unresolved_issues": []}`}
	a := NewDrafterAgent(p, nil, testLogger())

	out, err := a.Run(context.Background(), &Task{Phase: "draft_review", Matter: matter.Matter{"intent": "settlement demand"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	draft := out.Artifacts["draft"].(map[string]any)
	if draft["client_safe_summary"] == "" {
		t.Fatal("client_safe_summary not nested in draft")
	}
	if _, found := matter.FindNested(out.AsMap(), "client_safe_summary", 3); !found {
		t.Fatal("nested scan cannot reach the summary")
	}
}

func TestDrafterAgent_FallbackOutline(t *testing.T) {
	p := &stubProvider{err: errors.New("provider down")}
	a := NewDrafterAgent(p, nil, testLogger())

	out, err := a.Run(context.Background(), &Task{
		Phase:  "draft_review",
		Matter: matter.Matter{"summary": "tenant seeks to negotiate a settlement"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	draft := out.Artifacts["draft"].(map[string]any)
	if draft["document_type"] != "demand_letter" {
		t.Fatalf("heuristic document type = %v", draft["document_type"])
	}
	if len(out.UnresolvedIssues) == 0 {
		t.Fatal("fallback outline should flag attorney completion")
	}
}

// --- Mocks ---

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubAgent struct {
	name string
}

func (a *stubAgent) Name() string { return a.name }

func (a *stubAgent) Run(_ context.Context, _ *Task) (*Output, error) {
	return &Output{
		Agent:            a.name,
		Artifacts:        map[string]any{},
		Provenance:       Provenance{ToolsUsed: []string{"stub"}},
		UnresolvedIssues: []string{},
	}, nil
}

type stubProvider struct {
	content string
	err     error
}

func (p *stubProvider) SendMessage(_ context.Context, _ *llm.Request) (*llm.Response, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &llm.Response{Content: p.content, StopReason: "end_turn"}, nil
}

func (p *stubProvider) Name() string { return "stub" }
