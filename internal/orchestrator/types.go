// Package orchestrator plans and executes multi-agent legal workflows.
//
// The routing policy expands a fixed phase table into a plan, the task
// graph orders it, and the service executes it node by node: agents are
// invoked on copy-on-write matter snapshots, artifacts propagate
// forward, and exit signals gate phase completion.
package orchestrator

import (
	"time"

	"github.com/themislabs/themis/internal/matter"
)

// Status is the lifecycle state of a plan, execution, or node.
type Status string

const (
	StatusPending           Status = "pending"
	StatusPlanned           Status = "planned"
	StatusRunning           Status = "running"
	StatusComplete          Status = "complete"
	StatusAttentionRequired Status = "attention_required"
	StatusFailed            Status = "failed"
	StatusSkipped           Status = "skipped"
)

// ArtifactSpec names an artifact a phase is expected to produce.
type ArtifactSpec struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// SupportingAgent describes a secondary agent attached to a phase.
// Supporting outputs are recorded on the node result but do not feed
// the artifact flow.
type SupportingAgent struct {
	Agent       string `json:"agent"`
	Role        string `json:"role"`
	Description string `json:"description"`
}

// PlanNode is one schedulable unit of a plan.
type PlanNode struct {
	ID                string            `json:"id"`
	Phase             Phase             `json:"phase"`
	Agent             string            `json:"agent"`
	Description       string            `json:"description"`
	DependsOn         []string          `json:"depends_on"`
	ExpectedArtifacts []ArtifactSpec    `json:"expected_artifacts"`
	SupportingAgents  []SupportingAgent `json:"supporting_agents,omitempty"`
	EntrySignals      []string          `json:"entry_signals,omitempty"`
	ExitSignals       []string          `json:"exit_signals,omitempty"`
	Strict            bool              `json:"strict,omitempty"`
}

// Plan is the executable workflow for a matter.
type Plan struct {
	ID        string        `json:"id"`
	Status    Status        `json:"status"`
	Matter    matter.Matter `json:"matter"`
	Nodes     []PlanNode    `json:"nodes"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// SupportResult records a supporting agent invocation on a node.
type SupportResult struct {
	Agent  string `json:"agent"`
	Role   string `json:"role"`
	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`
}

// NodeResult records the outcome of one plan node.
type NodeResult struct {
	NodeID         string          `json:"node_id"`
	Phase          Phase           `json:"phase"`
	Agent          string          `json:"agent"`
	Status         Status          `json:"status"`
	Error          string          `json:"error,omitempty"`
	MissingSignals []string        `json:"missing_signals,omitempty"`
	Supporting     []SupportResult `json:"supporting,omitempty"`
	StartedAt      time.Time       `json:"started_at"`
	CompletedAt    time.Time       `json:"completed_at"`
}

// AttentionFlag marks a soft exit-signal miss that needs human review.
type AttentionFlag struct {
	NodeID         string   `json:"node_id"`
	Phase          Phase    `json:"phase"`
	MissingSignals []string `json:"missing_signals"`
}

// ExecutionRecord is the persisted outcome of one Execute call.
// Artifacts are keyed by agent name and hold the flattened output
// envelope of the last node that agent ran.
type ExecutionRecord struct {
	PlanID      string                    `json:"plan_id"`
	Status      Status                    `json:"status"`
	Nodes       []NodeResult              `json:"nodes"`
	Artifacts   map[string]map[string]any `json:"artifacts"`
	Attention   []AttentionFlag           `json:"attention,omitempty"`
	Error       string                    `json:"error,omitempty"`
	StartedAt   time.Time                 `json:"started_at"`
	CompletedAt time.Time                 `json:"completed_at"`
}
