package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/themislabs/themis/internal/llm"
	"github.com/themislabs/themis/internal/matter"
)

const factsSystemPrompt = `You are a legal data analyst. You extract structured facts,
timelines, parties, and damages figures from a matter payload. You never invent facts:
everything you output must be traceable to the payload. Respond with a single JSON
object and nothing else.`

// FactsAgent extracts the structured fact pattern: parties, timeline,
// key dates, and quantified damages. It is also used as a supporting
// validator for numbers referenced by later phases.
type FactsAgent struct {
	provider llm.Provider
	logger   *slog.Logger
}

// NewFactsAgent creates the facts analyst.
func NewFactsAgent(provider llm.Provider, logger *slog.Logger) *FactsAgent {
	return &FactsAgent{provider: provider, logger: logger}
}

func (a *FactsAgent) Name() string { return NameFacts }

// Run builds the facts artifact. The LLM result is preferred; when the
// provider fails the artifact is assembled deterministically from the
// matter so intake never hard-fails on an upstream outage.
func (a *FactsAgent) Run(ctx context.Context, task *Task) (*Output, error) {
	out := &Output{
		Agent:            NameFacts,
		Artifacts:        map[string]any{},
		Provenance:       Provenance{ToolsUsed: []string{"matter_scan"}},
		UnresolvedIssues: []string{},
	}

	prompt := fmt.Sprintf(`Phase: %s (%s)
Extract the fact pattern from this matter.

Matter:
%s

Respond with JSON: {"facts": {"summary": string, "parties": [string],
"timeline": [{"date": string, "event": string}], "damages": {"items": [{"label": string,
"amount": number}], "total": number}, "key_dates": [string]}, "unresolved_issues": [string]}`,
		task.Phase, task.Description, matterJSON(task.Matter, 16384))

	obj, err := llm.GenerateObject(ctx, a.provider, factsSystemPrompt, prompt, 2048)
	if err != nil {
		a.logger.WarnContext(ctx, "facts agent falling back to deterministic extraction",
			slog.String("phase", task.Phase),
			slog.String("error", err.Error()),
		)
		out.Artifacts["facts"] = a.buildFallbackFacts(task.Matter, out)
		return out, nil
	}

	out.Provenance.ToolsUsed = append(out.Provenance.ToolsUsed, "llm:"+a.provider.Name())
	if facts, ok := obj["facts"].(map[string]any); ok {
		out.Artifacts["facts"] = facts
	} else {
		out.Artifacts["facts"] = a.buildFallbackFacts(task.Matter, out)
	}
	mergeUnresolved(out, obj)
	return out, nil
}

// buildFallbackFacts assembles the fact pattern directly from the matter.
func (a *FactsAgent) buildFallbackFacts(m matter.Matter, out *Output) map[string]any {
	facts := map[string]any{
		"summary": m.StringField("summary"),
	}

	parties := m.StringSlice("parties")
	if len(parties) == 0 {
		out.UnresolvedIssues = append(out.UnresolvedIssues, "no parties identified in matter payload")
	}
	facts["parties"] = parties
	facts["timeline"] = buildTimeline(m)

	items, total := sumDamages(m)
	if len(items) == 0 {
		out.UnresolvedIssues = append(out.UnresolvedIssues, "no damages figures found in matter payload")
	}
	facts["damages"] = map[string]any{"items": items, "total": total}

	return facts
}

// buildTimeline normalizes timeline entries from the matter, sorted by date.
func buildTimeline(m matter.Matter) []any {
	raw, ok := m["timeline"].([]any)
	if !ok {
		raw, _ = m["events"].([]any)
	}
	entries := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		switch v := item.(type) {
		case map[string]any:
			entry := map[string]any{
				"date":  stringOr(v["date"], ""),
				"event": stringOr(v["event"], stringOr(v["description"], "")),
			}
			entries = append(entries, entry)
		case string:
			entries = append(entries, map[string]any{"date": "", "event": v})
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i]["date"].(string) < entries[j]["date"].(string)
	})
	out := make([]any, len(entries))
	for i, e := range entries {
		out[i] = e
	}
	return out
}

// sumDamages collects damages line items from list or map form and totals them.
func sumDamages(m matter.Matter) ([]any, float64) {
	var items []any
	var total float64

	switch raw := m["damages"].(type) {
	case []any:
		for _, item := range raw {
			entry, ok := item.(map[string]any)
			if !ok {
				continue
			}
			amount := numberOr(entry["amount"], 0)
			items = append(items, map[string]any{
				"label":  stringOr(entry["label"], stringOr(entry["category"], "unspecified")),
				"amount": amount,
			})
			total += amount
		}
	case map[string]any:
		labels := make([]string, 0, len(raw))
		for label := range raw {
			labels = append(labels, label)
		}
		sort.Strings(labels)
		for _, label := range labels {
			amount := numberOr(raw[label], 0)
			items = append(items, map[string]any{"label": label, "amount": amount})
			total += amount
		}
	}
	return items, total
}

func stringOr(v any, fallback string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return fallback
}

func numberOr(v any, fallback float64) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return fallback
	}
}

// mergeUnresolved appends unresolved_issues strings from an LLM object.
func mergeUnresolved(out *Output, obj map[string]any) {
	raw, ok := obj["unresolved_issues"].([]any)
	if !ok {
		return
	}
	for _, item := range raw {
		if s, ok := item.(string); ok && s != "" {
			out.UnresolvedIssues = append(out.UnresolvedIssues, s)
		}
	}
}

var _ Agent = (*FactsAgent)(nil)
