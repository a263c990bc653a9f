// Package docdetect decides which legal document type a matter calls for.
//
// Resolution order: explicit client specification, LLM classification,
// then keyword heuristics. The result is always one of the four valid
// types; anything unrecognized degrades to a memorandum.
package docdetect

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/themislabs/themis/internal/llm"
	"github.com/themislabs/themis/internal/matter"
)

// Document types.
const (
	TypeComplaint    = "complaint"
	TypeDemandLetter = "demand_letter"
	TypeMotion       = "motion"
	TypeMemorandum   = "memorandum"
)

const classifySystemPrompt = `You are a legal process expert who determines what type of
legal document is appropriate for a given situation: "complaint" to initiate litigation,
"demand_letter" for pre-litigation settlement demands, "motion" for motion practice in
active litigation, or "memorandum" for internal analysis with no clear litigation or
settlement intent. Respond with a single JSON object and nothing else.`

// Detector classifies the document type for a matter.
// A nil provider skips LLM classification and goes straight to heuristics.
type Detector struct {
	provider llm.Provider
	logger   *slog.Logger
}

// New creates a Detector.
func New(provider llm.Provider, logger *slog.Logger) *Detector {
	return &Detector{provider: provider, logger: logger}
}

// Detect returns the document type for the matter.
func (d *Detector) Detect(ctx context.Context, m matter.Matter) string {
	// Explicit client specification wins.
	if explicit := explicitType(m); explicit != "" {
		return normalize(explicit)
	}

	if d.provider != nil {
		if docType, ok := d.classify(ctx, m); ok {
			return docType
		}
	}
	return Heuristic(m)
}

func (d *Detector) classify(ctx context.Context, m matter.Matter) (string, bool) {
	prompt := fmt.Sprintf(`Based on this matter, determine the appropriate legal document type.

Matter:
%s

Respond with JSON: {"document_type": "complaint|demand_letter|motion|memorandum", "reasoning": string}`,
		matterPrompt(m))

	obj, err := llm.GenerateObject(ctx, d.provider, classifySystemPrompt, prompt, 500)
	if err != nil {
		d.logger.WarnContext(ctx, "document type classification failed, using heuristics",
			slog.String("error", err.Error()),
		)
		return "", false
	}

	docType, _ := obj["document_type"].(string)
	docType = normalize(docType)
	reasoning, _ := obj["reasoning"].(string)
	d.logger.InfoContext(ctx, "document type determined",
		slog.String("document_type", docType),
		slog.String("reasoning", reasoning),
	)
	return docType, true
}

// Heuristic is the keyword-based fallback classification.
func Heuristic(m matter.Matter) string {
	text := strings.ToLower(m.StringField("summary") + " " + m.StringField("description") + " " + m.StringField("intent"))

	switch {
	case containsAny(text, "demand", "settlement", "negotiate", "settle", "pre-litigation", "resolve without", "avoid court"):
		return TypeDemandLetter
	case containsAny(text, "file complaint", "sue", "lawsuit", "litigation", "file suit", "bring action", "civil action"):
		return TypeComplaint
	case containsAny(text, "motion", "dismiss", "summary judgment", "brief", "opposition", "reply brief"):
		return TypeMotion
	}

	// Strategy artifacts may reveal settlement vs litigation intent.
	if strategy, ok := m["strategy"].(map[string]any); ok {
		if actions, ok := strategy["recommended_actions"].([]any); ok {
			var joined strings.Builder
			for _, a := range actions {
				if s, ok := a.(string); ok {
					joined.WriteString(strings.ToLower(s))
					joined.WriteByte(' ')
				}
			}
			text := joined.String()
			if containsAny(text, "settlement", "negotiate") {
				return TypeDemandLetter
			}
			if containsAny(text, "file", "complaint") {
				return TypeComplaint
			}
		}
	}

	return TypeMemorandum
}

func explicitType(m matter.Matter) string {
	if t := m.StringField("document_type"); t != "" {
		return t
	}
	if meta, ok := m["metadata"].(map[string]any); ok {
		if t, ok := meta["document_type"].(string); ok {
			return t
		}
	}
	return ""
}

func normalize(docType string) string {
	switch docType {
	case TypeComplaint, TypeDemandLetter, TypeMotion, TypeMemorandum:
		return docType
	default:
		return TypeMemorandum
	}
}

func containsAny(text string, keywords ...string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// matterPrompt renders the classification context: intent, parties,
// issues, and strategy highlights.
func matterPrompt(m matter.Matter) string {
	var parts []string
	if summary := m.StringField("summary"); summary != "" {
		parts = append(parts, "Case description: "+summary)
	}
	if parties := m.StringSlice("parties"); len(parties) > 0 {
		parts = append(parts, "Parties: "+strings.Join(parties, ", "))
	}
	if issues, found := matter.FindNested(m, "issues", 3); found {
		parts = append(parts, fmt.Sprintf("Legal issues: %v", issues))
	}
	if strategy, ok := m["strategy"].(map[string]any); ok {
		if _, ok := strategy["negotiation_positions"]; ok {
			parts = append(parts, "Strategy includes settlement negotiation: yes")
		}
	}
	if len(parts) == 0 {
		parts = append(parts, "No structured context available.")
	}
	return strings.Join(parts, "\n")
}
