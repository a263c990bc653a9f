package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/themislabs/themis/internal/llm"
	"github.com/themislabs/themis/internal/matter"
)

const doctrineSystemPrompt = `You are a doctrinal legal analyst. You frame legal issues,
retrieve controlling and contrary authority with pin-cites, and apply law to facts.
Flag any authority you are not certain about as unresolved instead of inventing a cite.
Respond with a single JSON object and nothing else.`

// DoctrineAgent handles issue framing, authority retrieval, and
// law-to-facts application. The artifact it produces depends on the
// phase: legal_analysis, authorities, or analysis.
type DoctrineAgent struct {
	provider llm.Provider
	logger   *slog.Logger
}

// NewDoctrineAgent creates the doctrinal analyst.
func NewDoctrineAgent(provider llm.Provider, logger *slog.Logger) *DoctrineAgent {
	return &DoctrineAgent{provider: provider, logger: logger}
}

func (a *DoctrineAgent) Name() string { return NameDoctrine }

func (a *DoctrineAgent) Run(ctx context.Context, task *Task) (*Output, error) {
	out := &Output{
		Agent:            NameDoctrine,
		Artifacts:        map[string]any{},
		Provenance:       Provenance{ToolsUsed: []string{"doctrine_review"}},
		UnresolvedIssues: []string{},
	}

	expected := task.ExpectedArtifacts
	if len(expected) == 0 {
		expected = []string{"legal_analysis"}
	}

	prompt := fmt.Sprintf(`Phase: %s (%s)
Produce the artifacts %v for this matter.

Matter:
%s

Shapes:
  "legal_analysis": {"issues": [{"issue": string, "elements": [string], "authorities": [string]}], "summary": string}
  "authorities": {"controlling_authorities": [{"cite": string, "holding": string}], "contrary_authorities": [{"cite": string, "holding": string}]}
  "analysis": {"application": string, "conclusions": [string], "exposure": string}

Respond with JSON containing exactly those artifact keys plus "unresolved_issues": [string].`,
		task.Phase, task.Description, expected, matterJSON(task.Matter, 16384))

	obj, err := llm.GenerateObject(ctx, a.provider, doctrineSystemPrompt, prompt, 3072)
	if err != nil {
		a.logger.WarnContext(ctx, "doctrine agent falling back to skeletal analysis",
			slog.String("phase", task.Phase),
			slog.String("error", err.Error()),
		)
		for _, name := range expected {
			out.Artifacts[name] = a.fallbackArtifact(name, task.Matter, out)
		}
		return out, nil
	}

	out.Provenance.ToolsUsed = append(out.Provenance.ToolsUsed, "llm:"+a.provider.Name())
	for _, name := range expected {
		if artifact, ok := obj[name].(map[string]any); ok {
			out.Artifacts[name] = artifact
			continue
		}
		out.Artifacts[name] = a.fallbackArtifact(name, task.Matter, out)
	}
	mergeUnresolved(out, obj)
	return out, nil
}

// fallbackArtifact builds a skeletal artifact from whatever the matter
// already carries, so downstream phases get a well-formed shape even
// when the provider is down.
func (a *DoctrineAgent) fallbackArtifact(name string, m matter.Matter, out *Output) map[string]any {
	switch name {
	case "legal_analysis":
		issues := existingIssues(m)
		if len(issues) == 0 {
			out.UnresolvedIssues = append(out.UnresolvedIssues, "issues could not be framed without analyst review")
		}
		return map[string]any{
			"issues":  issues,
			"summary": m.StringField("summary"),
		}
	case "authorities":
		out.UnresolvedIssues = append(out.UnresolvedIssues, "authority retrieval requires analyst verification")
		return map[string]any{
			"controlling_authorities": []any{},
			"contrary_authorities":    []any{},
		}
	case "analysis":
		return map[string]any{
			"application": "Pending analyst review: apply retrieved authority to the framed issues.",
			"conclusions": []any{},
			"exposure":    "",
		}
	default:
		return map[string]any{}
	}
}

// existingIssues lifts issue statements already present in the matter
// (from intake or client framing) into the analysis shape.
func existingIssues(m matter.Matter) []any {
	raw, ok := m["issues"].([]any)
	if !ok {
		if nested, found := matter.FindNested(m, "issues", 3); found {
			raw, _ = nested.([]any)
		}
	}
	issues := make([]any, 0, len(raw))
	for _, item := range raw {
		switch v := item.(type) {
		case string:
			issues = append(issues, map[string]any{"issue": v, "elements": []any{}, "authorities": []any{}})
		case map[string]any:
			issues = append(issues, v)
		}
	}
	return issues
}

var _ Agent = (*DoctrineAgent)(nil)
