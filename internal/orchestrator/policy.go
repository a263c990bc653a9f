package orchestrator

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/themislabs/themis/internal/agent"
	"github.com/themislabs/themis/internal/matter"
)

// DefaultSignalSearchDepth bounds the nested scan used by signal checks.
const DefaultSignalSearchDepth = 4

// intentFields are the matter keys that carry the client's stated goal.
var intentFields = []string{"intent", "objective", "question", "goal", "ask", "requested_output"}

// RoutingPolicy expands the phase table into a plan for a matter. The
// table and alias map are fixed at construction and validated once.
type RoutingPolicy struct {
	table       []PhaseDefinition
	aliases     map[string][]string
	agents      AgentDirectory
	searchDepth int
	logger      *slog.Logger
}

// NewRoutingPolicy builds a policy over the default phase table. Every
// agent the table references must exist in the directory.
func NewRoutingPolicy(agents AgentDirectory, logger *slog.Logger) (*RoutingPolicy, error) {
	return NewRoutingPolicyWithTable(DefaultPhaseTable(), agents, logger)
}

// NewRoutingPolicyWithTable builds a policy over a custom table.
func NewRoutingPolicyWithTable(table []PhaseDefinition, agents AgentDirectory, logger *slog.Logger) (*RoutingPolicy, error) {
	if err := ValidatePhaseTable(table); err != nil {
		return nil, fmt.Errorf("invalid phase table: %w", err)
	}
	for _, def := range table {
		if !agents.Has(def.DefaultAgent) {
			return nil, fmt.Errorf("phase %q default agent %q is not registered (have %v)", def.Phase, def.DefaultAgent, agents.Names())
		}
	}
	return &RoutingPolicy{
		table:       table,
		aliases:     DefaultSignalAliases(),
		agents:      agents,
		searchDepth: DefaultSignalSearchDepth,
		logger:      logger,
	}, nil
}

// Table returns the phase table the policy was built over.
func (p *RoutingPolicy) Table() []PhaseDefinition { return p.table }

// Aliases returns the signal alias map.
func (p *RoutingPolicy) Aliases() map[string][]string { return p.aliases }

// SearchDepth returns the nested-scan depth used for signal checks.
func (p *RoutingPolicy) SearchDepth() int { return p.searchDepth }

// BuildPlan expands the phase table into a plan for the matter. Phases
// whose exit signals the matter already satisfies are skipped, so a
// matter arriving mid-workflow resumes where it left off. A phase whose
// entry signals neither the matter nor a scheduled phase can satisfy
// fails the whole build.
func (p *RoutingPolicy) BuildPlan(m matter.Matter) (*Plan, error) {
	now := time.Now().UTC()
	plan := &Plan{
		ID:        uuid.NewString(),
		Status:    StatusPlanned,
		Matter:    m.Clone(),
		Nodes:     []PlanNode{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	scheduled := map[string]bool{}
	prevNodeID := ""
	for i, def := range p.table {
		if p.exitSatisfied(m, def) {
			// The matter already carries this phase's output.
			for _, signal := range def.ExitSignals {
				scheduled[signal] = true
			}
			p.logger.Debug("phase already satisfied by matter, skipping",
				slog.String("phase", def.Phase),
			)
			continue
		}

		for _, signal := range def.EntrySignals {
			if scheduled[signal] {
				continue
			}
			if SignalPresent(m, signal, p.aliases, p.searchDepth) {
				continue
			}
			return nil, &UnsatisfiableEntrySignalError{Phase: def.Phase, Signal: signal}
		}

		primary := p.PrimaryAgent(def.Phase, m)
		if !p.agents.Has(primary) {
			return nil, fmt.Errorf("phase %q routed to unregistered agent %q", def.Phase, primary)
		}

		node := PlanNode{
			ID:                fmt.Sprintf("phase-%d", i+1),
			Phase:             def.Phase,
			Agent:             primary,
			Description:       def.Description,
			ExpectedArtifacts: []ArtifactSpec{def.ExpectedArtifact},
			EntrySignals:      def.EntrySignals,
			ExitSignals:       def.ExitSignals,
			Strict:            def.Strict,
		}
		for _, sup := range def.SupportingAgents {
			if sup.Agent == primary || !p.agents.Has(sup.Agent) {
				continue
			}
			node.SupportingAgents = append(node.SupportingAgents, sup)
		}
		if prevNodeID != "" {
			node.DependsOn = []string{prevNodeID}
		}
		plan.Nodes = append(plan.Nodes, node)
		prevNodeID = node.ID
		for _, signal := range def.ExitSignals {
			scheduled[signal] = true
		}
	}
	return plan, nil
}

func (p *RoutingPolicy) exitSatisfied(m matter.Matter, def PhaseDefinition) bool {
	if len(def.ExitSignals) == 0 {
		return false
	}
	for _, signal := range def.ExitSignals {
		if !SignalPresent(m, signal, p.aliases, p.searchDepth) {
			return false
		}
	}
	return true
}

// PrimaryAgent picks the primary agent for a phase, biased by the
// client's stated intent. Quantitative asks pull the facts agent into
// analysis phases; settlement asks route drafting to the strategist.
func (p *RoutingPolicy) PrimaryAgent(phase Phase, m matter.Matter) string {
	intent := inferIntent(m)
	switch phase {
	case PhaseIntakeFacts:
		return agent.NameFacts
	case PhaseIssueFraming:
		if containsAny(intent, "damages", "timeline") {
			return agent.NameFacts
		}
		return agent.NameDoctrine
	case PhaseResearchRetrieval:
		return agent.NameDoctrine
	case PhaseApplicationAnalysis:
		if containsAny(intent, "damages", "valuation") {
			return agent.NameFacts
		}
		return agent.NameDoctrine
	case PhaseDraftReview:
		if containsAny(intent, "settlement", "demand", "negotiat") {
			return agent.NameStrategy
		}
		return agent.NameDrafter
	}
	for _, def := range p.table {
		if def.Phase == phase {
			return def.DefaultAgent
		}
	}
	return agent.NameDoctrine
}

// inferIntent concatenates the lowercased intent fields of the matter.
func inferIntent(m matter.Matter) string {
	var parts []string
	for _, field := range intentFields {
		if v := m.StringField(field); v != "" {
			parts = append(parts, strings.ToLower(v))
		}
	}
	return strings.Join(parts, " ")
}

func containsAny(text string, keywords ...string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
