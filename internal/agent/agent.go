// Package agent defines the role agents that perform work on a legal matter.
//
// Agents are in-process and registered in a closed Registry at startup;
// the orchestrator dispatches to them by name only. Each agent returns a
// validated Output envelope so downstream phases can rely on its shape.
package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/themislabs/themis/internal/matter"
)

// Agent role names. These are the only names the routing policy may emit.
const (
	NameFacts    = "facts"
	NameDoctrine = "doctrine"
	NameStrategy = "strategy"
	NameDrafter  = "drafter"
)

// Agent is a single legal role agent.
type Agent interface {
	// Name returns the registry name of the agent.
	Name() string
	// Run executes the task against the given matter snapshot.
	// Implementations must not mutate task.Matter.
	Run(ctx context.Context, task *Task) (*Output, error)
}

// Task describes one unit of work handed to an agent.
type Task struct {
	Phase             string        // Orchestration phase, e.g. "issue_framing".
	Description       string        // Human-readable instruction for the phase.
	Matter            matter.Matter // Deep copy of the matter plus propagated artifacts.
	ExpectedArtifacts []string      // Artifact keys the phase expects this agent to produce.
	SupportRole       string        // Non-empty when invoked as a supporting agent (e.g. "citation_review").
}

// Provenance records how an output was produced. ToolsUsed must never be
// empty: every output traces back to at least one tool or fallback path.
type Provenance struct {
	ToolsUsed []string `json:"tools_used"`
	Model     string   `json:"model,omitempty"`
}

// Output is the envelope every agent returns.
type Output struct {
	Agent            string         `json:"agent"`
	Artifacts        map[string]any `json:"artifacts"`
	Provenance       Provenance     `json:"provenance"`
	UnresolvedIssues []string       `json:"unresolved_issues"`
}

// Validate enforces the output contract at the agent boundary.
func (o *Output) Validate() error {
	if o.Agent == "" {
		return fmt.Errorf("output missing agent name")
	}
	if len(o.Provenance.ToolsUsed) == 0 {
		return fmt.Errorf("agent %s output missing provenance tools", o.Agent)
	}
	if o.UnresolvedIssues == nil {
		return fmt.Errorf("agent %s output has nil unresolved_issues", o.Agent)
	}
	return nil
}

// AsMap flattens the envelope into the wire shape recorded on execution
// records: artifact keys are promoted to the top level next to agent,
// provenance, and unresolved_issues.
func (o *Output) AsMap() map[string]any {
	out := make(map[string]any, len(o.Artifacts)+3)
	for k, v := range o.Artifacts {
		out[k] = v
	}
	out["agent"] = o.Agent
	out["provenance"] = map[string]any{
		"tools_used": append([]string(nil), o.Provenance.ToolsUsed...),
		"model":      o.Provenance.Model,
	}
	issues := o.UnresolvedIssues
	if issues == nil {
		issues = []string{}
	}
	out["unresolved_issues"] = issues
	return out
}

// matterJSON renders the matter for inclusion in a prompt. Oversized
// payloads are truncated so a single huge document cannot blow the
// context window.
func matterJSON(m matter.Matter, maxBytes int) string {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "{}"
	}
	if maxBytes > 0 && len(data) > maxBytes {
		data = data[:maxBytes]
	}
	return string(data)
}
