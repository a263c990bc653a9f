package docdetect

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/themislabs/themis/internal/llm"
	"github.com/themislabs/themis/internal/matter"
)

// --- Heuristic ---

func TestHeuristic(t *testing.T) {
	cases := []struct {
		name string
		m    matter.Matter
		want string
	}{
		{"settlement demand", matter.Matter{"summary": "client wants to demand payment and settle"}, TypeDemandLetter},
		{"litigation", matter.Matter{"summary": "client is ready to file a lawsuit against the vendor"}, TypeComplaint},
		{"motion practice", matter.Matter{"intent": "oppose the pending summary judgment motion"}, TypeMotion},
		{"no signal", matter.Matter{"summary": "review the vendor agreement"}, TypeMemorandum},
		{"empty matter", matter.Matter{}, TypeMemorandum},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Heuristic(tc.m); got != tc.want {
				t.Fatalf("Heuristic() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestHeuristic_StrategyActionsScan(t *testing.T) {
	m := matter.Matter{
		"summary": "vendor dispute",
		"strategy": map[string]any{
			"recommended_actions": []any{"open settlement discussions with opposing counsel"},
		},
	}
	if got := Heuristic(m); got != TypeDemandLetter {
		t.Fatalf("Heuristic() = %q, want %q", got, TypeDemandLetter)
	}
}

// --- Detect ---

func TestDetect_ExplicitTypeWins(t *testing.T) {
	d := New(&fixedProvider{content: `{"document_type": "complaint"}`}, testLogger())
	m := matter.Matter{"document_type": "motion", "summary": "demand and settle"}
	if got := d.Detect(context.Background(), m); got != TypeMotion {
		t.Fatalf("Detect() = %q, want explicit %q", got, TypeMotion)
	}
}

func TestDetect_ExplicitUnknownDegradesToMemorandum(t *testing.T) {
	d := New(nil, testLogger())
	m := matter.Matter{"document_type": "subpoena"}
	if got := d.Detect(context.Background(), m); got != TypeMemorandum {
		t.Fatalf("Detect() = %q, want %q", got, TypeMemorandum)
	}
}

func TestDetect_LLMClassification(t *testing.T) {
	d := New(&fixedProvider{content: `{"document_type": "complaint", "reasoning": "active litigation intent"}`}, testLogger())
	m := matter.Matter{"summary": "partnership dispute"}
	if got := d.Detect(context.Background(), m); got != TypeComplaint {
		t.Fatalf("Detect() = %q, want %q", got, TypeComplaint)
	}
}

func TestDetect_ProviderFailureFallsBackToHeuristic(t *testing.T) {
	d := New(&fixedProvider{err: errors.New("provider down")}, testLogger())
	m := matter.Matter{"summary": "negotiate a settlement before filing"}
	if got := d.Detect(context.Background(), m); got != TypeDemandLetter {
		t.Fatalf("Detect() = %q, want heuristic %q", got, TypeDemandLetter)
	}
}

func TestDetect_NilProviderUsesHeuristic(t *testing.T) {
	d := New(nil, testLogger())
	m := matter.Matter{"summary": "draft a reply brief"}
	if got := d.Detect(context.Background(), m); got != TypeMotion {
		t.Fatalf("Detect() = %q, want %q", got, TypeMotion)
	}
}

// --- Mocks ---

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixedProvider struct {
	content string
	err     error
}

func (p *fixedProvider) SendMessage(_ context.Context, _ *llm.Request) (*llm.Response, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &llm.Response{Content: p.content, StopReason: "end_turn"}, nil
}

func (p *fixedProvider) Name() string { return "fixed" }
