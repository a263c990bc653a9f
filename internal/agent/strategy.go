package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/themislabs/themis/internal/llm"
	"github.com/themislabs/themis/internal/matter"
)

const strategySystemPrompt = `You are a legal strategy advisor. You translate analysis into
negotiation posture, recommended actions, and client-safe language. Client-safe text must
contain no legal conclusions presented as guarantees and no privileged reasoning.
Respond with a single JSON object and nothing else.`

// StrategyAgent turns the accumulated analysis into negotiation strategy
// and a client-safe summary.
type StrategyAgent struct {
	provider llm.Provider
	logger   *slog.Logger
}

// NewStrategyAgent creates the strategy advisor.
func NewStrategyAgent(provider llm.Provider, logger *slog.Logger) *StrategyAgent {
	return &StrategyAgent{provider: provider, logger: logger}
}

func (a *StrategyAgent) Name() string { return NameStrategy }

func (a *StrategyAgent) Run(ctx context.Context, task *Task) (*Output, error) {
	out := &Output{
		Agent:            NameStrategy,
		Artifacts:        map[string]any{},
		Provenance:       Provenance{ToolsUsed: []string{"strategy_synthesis"}},
		UnresolvedIssues: []string{},
	}

	prompt := fmt.Sprintf(`Phase: %s (%s)
Build the negotiation strategy and a client-safe summary for this matter.

Matter:
%s

Respond with JSON: {"strategy": {"recommended_actions": [string],
"negotiation_positions": {"opening": string, "target": string, "walkaway": string},
"risks": [string]}, "client_safe_summary": string, "unresolved_issues": [string]}`,
		task.Phase, task.Description, matterJSON(task.Matter, 16384))

	obj, err := llm.GenerateObject(ctx, a.provider, strategySystemPrompt, prompt, 2048)
	if err != nil {
		a.logger.WarnContext(ctx, "strategy agent falling back to template strategy",
			slog.String("phase", task.Phase),
			slog.String("error", err.Error()),
		)
		out.Artifacts["strategy"] = a.fallbackStrategy(task.Matter, out)
		out.Artifacts["client_safe_summary"] = fallbackClientSummary(task.Matter)
		return out, nil
	}

	out.Provenance.ToolsUsed = append(out.Provenance.ToolsUsed, "llm:"+a.provider.Name())
	if strategy, ok := obj["strategy"].(map[string]any); ok {
		out.Artifacts["strategy"] = strategy
	} else {
		out.Artifacts["strategy"] = a.fallbackStrategy(task.Matter, out)
	}
	if summary, ok := obj["client_safe_summary"].(string); ok && summary != "" {
		out.Artifacts["client_safe_summary"] = summary
	} else {
		out.Artifacts["client_safe_summary"] = fallbackClientSummary(task.Matter)
	}
	mergeUnresolved(out, obj)
	return out, nil
}

func (a *StrategyAgent) fallbackStrategy(m matter.Matter, out *Output) map[string]any {
	actions := []any{"Review the analysis with counsel before contacting the opposing party."}
	if exposure, found := matter.FindNested(m, "exposure", 3); found {
		actions = append(actions, fmt.Sprintf("Reassess position against modeled exposure: %v", exposure))
	}
	out.UnresolvedIssues = append(out.UnresolvedIssues, "negotiation positions need advisor review")
	return map[string]any{
		"recommended_actions":   actions,
		"negotiation_positions": map[string]any{},
		"risks":                 []any{},
	}
}

// fallbackClientSummary produces conservative client-facing language
// from the matter summary alone.
func fallbackClientSummary(m matter.Matter) string {
	summary := strings.TrimSpace(m.StringField("summary"))
	if summary == "" {
		return "We are reviewing your matter and will follow up with our assessment and recommended next steps."
	}
	return fmt.Sprintf("We have reviewed the situation you described (%s). We are preparing our assessment and will follow up with recommended next steps.", summary)
}

var _ Agent = (*StrategyAgent)(nil)
