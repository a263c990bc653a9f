package orchestrator

import (
	"fmt"

	"github.com/themislabs/themis/internal/agent"
)

// Phase identifies a workflow stage.
type Phase = string

const (
	PhaseIntakeFacts         Phase = "intake_facts"
	PhaseIssueFraming        Phase = "issue_framing"
	PhaseResearchRetrieval   Phase = "research_retrieval"
	PhaseApplicationAnalysis Phase = "application_analysis"
	PhaseDraftReview         Phase = "draft_review"
)

// PhaseDefinition is one row of the phase table. DefaultAgent names the
// primary agent when no heuristic override applies. EntrySignals must be
// satisfied by the matter or produced by an earlier phase; ExitSignals
// must be observable in the aggregated matter after the phase runs.
type PhaseDefinition struct {
	Phase            Phase
	Description      string
	DefaultAgent     string
	ExpectedArtifact ArtifactSpec
	SupportingAgents []SupportingAgent
	EntrySignals     []string
	ExitSignals      []string

	// Strict makes a missing exit signal fail the execution instead of
	// flagging it for attention.
	Strict bool
}

// DefaultPhaseTable returns the five-phase legal workflow.
func DefaultPhaseTable() []PhaseDefinition {
	return []PhaseDefinition{
		{
			Phase:            PhaseIntakeFacts,
			Description:      "Establish the verified fact pattern: parties, timeline, damages.",
			DefaultAgent:     agent.NameFacts,
			ExpectedArtifact: ArtifactSpec{Name: "facts", Description: "verified fact pattern with parties, timeline, and damages"},
			SupportingAgents: []SupportingAgent{
				{Agent: agent.NameDoctrine, Role: "reflection", Description: "flag legally significant facts the intake may have missed"},
				{Agent: agent.NameStrategy, Role: "synthesis", Description: "note early strategic considerations"},
			},
			ExitSignals: []string{"facts"},
		},
		{
			Phase:            PhaseIssueFraming,
			Description:      "Frame the legal issues raised by the fact pattern.",
			DefaultAgent:     agent.NameDoctrine,
			ExpectedArtifact: ArtifactSpec{Name: "legal_analysis", Description: "framed issues with elements and candidate authorities"},
			SupportingAgents: []SupportingAgent{
				{Agent: agent.NameFacts, Role: "data_validation", Description: "verify the framed issues are supported by the fact pattern"},
				{Agent: agent.NameStrategy, Role: "synthesis", Description: "rank issues by strategic weight"},
			},
			EntrySignals: []string{"facts"},
			ExitSignals:  []string{"issues"},
		},
		{
			Phase:            PhaseResearchRetrieval,
			Description:      "Retrieve controlling and contrary authority for each framed issue.",
			DefaultAgent:     agent.NameDoctrine,
			ExpectedArtifact: ArtifactSpec{Name: "authorities", Description: "controlling and contrary authorities with pin-cites"},
			SupportingAgents: []SupportingAgent{
				{Agent: agent.NameFacts, Role: "quant_validation", Description: "check figures cited in retrieved authority against the fact pattern"},
			},
			EntrySignals: []string{"issues"},
			ExitSignals:  []string{"controlling_authority", "contrary_authority"},
		},
		{
			Phase:            PhaseApplicationAnalysis,
			Description:      "Apply retrieved authority to the facts and model exposure.",
			DefaultAgent:     agent.NameDoctrine,
			ExpectedArtifact: ArtifactSpec{Name: "analysis", Description: "law-to-facts application with conclusions and exposure"},
			SupportingAgents: []SupportingAgent{
				{Agent: agent.NameFacts, Role: "model_validation", Description: "validate the exposure model against the damages record"},
				{Agent: agent.NameStrategy, Role: "synthesis", Description: "surface strategic implications of the analysis"},
			},
			EntrySignals: []string{"controlling_authority"},
			ExitSignals:  []string{"analysis"},
		},
		{
			Phase:            PhaseDraftReview,
			Description:      "Produce the client-ready draft and client-safe summary.",
			DefaultAgent:     agent.NameDrafter,
			ExpectedArtifact: ArtifactSpec{Name: "draft", Description: "client-ready document with a client-safe summary"},
			SupportingAgents: []SupportingAgent{
				{Agent: agent.NameDoctrine, Role: "citation_review", Description: "verify every cited authority appears in the research record"},
				{Agent: agent.NameFacts, Role: "numerical_review", Description: "verify every figure in the draft against the fact pattern"},
			},
			EntrySignals: []string{"analysis"},
			ExitSignals:  []string{"draft", "client_safe_summary"},
		},
	}
}

// ValidatePhaseTable rejects tables whose entry signals no earlier phase
// can produce, or whose rows are structurally incomplete. It runs once
// at startup so a bad table is a boot failure, not a runtime surprise.
func ValidatePhaseTable(table []PhaseDefinition) error {
	if len(table) == 0 {
		return fmt.Errorf("phase table is empty")
	}
	seen := make(map[Phase]bool, len(table))
	producible := make(map[string]bool)
	for i, def := range table {
		if def.Phase == "" {
			return fmt.Errorf("phase table row %d has no phase name", i)
		}
		if seen[def.Phase] {
			return fmt.Errorf("phase %q appears twice in the phase table", def.Phase)
		}
		seen[def.Phase] = true
		if def.DefaultAgent == "" {
			return fmt.Errorf("phase %q has no default agent", def.Phase)
		}
		if def.ExpectedArtifact.Name == "" {
			return fmt.Errorf("phase %q has no expected artifact", def.Phase)
		}
		for _, signal := range def.EntrySignals {
			if !producible[signal] {
				return &UnsatisfiableEntrySignalError{Phase: def.Phase, Signal: signal}
			}
		}
		for _, signal := range def.ExitSignals {
			producible[signal] = true
		}
	}
	return nil
}
