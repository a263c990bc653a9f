package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/themislabs/themis/internal/docdetect"
	"github.com/themislabs/themis/internal/llm"
	"github.com/themislabs/themis/internal/matter"
)

const drafterSystemPrompt = `You are a legal drafter. You produce client-ready documents
grounded strictly in the analysis and strategy you are given. Guardrails: no guarantees
of outcome, no privileged reasoning in client-facing text, every cited authority must
come from the provided matter. Respond with a single JSON object and nothing else.`

// DrafterAgent produces the client-ready draft for the matter. The
// document type (complaint, demand letter, motion, memorandum) is
// resolved by the detector before drafting.
type DrafterAgent struct {
	provider llm.Provider
	detector *docdetect.Detector
	logger   *slog.Logger
}

// NewDrafterAgent creates the drafter.
func NewDrafterAgent(provider llm.Provider, detector *docdetect.Detector, logger *slog.Logger) *DrafterAgent {
	return &DrafterAgent{provider: provider, detector: detector, logger: logger}
}

func (a *DrafterAgent) Name() string { return NameDrafter }

func (a *DrafterAgent) Run(ctx context.Context, task *Task) (*Output, error) {
	out := &Output{
		Agent:            NameDrafter,
		Artifacts:        map[string]any{},
		Provenance:       Provenance{ToolsUsed: []string{"draft_composer"}},
		UnresolvedIssues: []string{},
	}

	docType := docdetect.Heuristic(task.Matter)
	if a.detector != nil {
		docType = a.detector.Detect(ctx, task.Matter)
	}

	prompt := fmt.Sprintf(`Phase: %s (%s)
Draft a %s for this matter. The client_safe_summary must be suitable to send verbatim.

Matter:
%s

Respond with JSON: {"draft": {"document_type": string, "title": string,
"sections": [{"heading": string, "body": string}], "next_steps": [string],
"client_safe_summary": string}, "unresolved_issues": [string]}`,
		task.Phase, task.Description, docType, matterJSON(task.Matter, 16384))

	obj, err := llm.GenerateObject(ctx, a.provider, drafterSystemPrompt, prompt, 4096)
	if err != nil {
		a.logger.WarnContext(ctx, "drafter falling back to outline draft",
			slog.String("phase", task.Phase),
			slog.String("document_type", docType),
			slog.String("error", err.Error()),
		)
		out.Artifacts["draft"] = a.fallbackDraft(task.Matter, docType, out)
		return out, nil
	}

	out.Provenance.ToolsUsed = append(out.Provenance.ToolsUsed, "llm:"+a.provider.Name())
	draft, ok := obj["draft"].(map[string]any)
	if !ok {
		draft = a.fallbackDraft(task.Matter, docType, out)
	}
	if _, ok := draft["document_type"]; !ok {
		draft["document_type"] = docType
	}
	// The summary rides inside the draft artifact; signal evaluation
	// finds it through the nested scan.
	if s, _ := draft["client_safe_summary"].(string); s == "" {
		draft["client_safe_summary"] = fallbackClientSummary(task.Matter)
	}
	out.Artifacts["draft"] = draft
	mergeUnresolved(out, obj)
	return out, nil
}

// fallbackDraft produces a skeletal outline a human drafter can finish.
func (a *DrafterAgent) fallbackDraft(m matter.Matter, docType string, out *Output) map[string]any {
	out.UnresolvedIssues = append(out.UnresolvedIssues, "draft is an outline and requires attorney completion")

	sections := []any{
		map[string]any{"heading": "Background", "body": m.StringField("summary")},
	}
	if analysis, found := matter.FindNested(m, "application", 3); found {
		sections = append(sections, map[string]any{"heading": "Analysis", "body": fmt.Sprintf("%v", analysis)})
	}

	return map[string]any{
		"document_type":       docType,
		"title":               fmt.Sprintf("Draft %s", docType),
		"sections":            sections,
		"next_steps":          []any{"Attorney review of the outline", "Confirm facts and figures with the client"},
		"client_safe_summary": fallbackClientSummary(m),
	}
}

var _ Agent = (*DrafterAgent)(nil)
