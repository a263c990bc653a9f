package orchestrator

import (
	"context"

	"github.com/themislabs/themis/internal/agent"
)

// StateStore persists plans and execution records.
type StateStore interface {
	// SavePlan inserts or replaces a plan.
	SavePlan(ctx context.Context, plan *Plan) error
	// GetPlan returns a plan or a *PlanNotFoundError.
	GetPlan(ctx context.Context, id string) (*Plan, error)
	// SaveExecution inserts or replaces the execution record for a plan.
	SaveExecution(ctx context.Context, rec *ExecutionRecord) error
	// GetExecution returns the execution record for a plan, if one exists.
	GetExecution(ctx context.Context, planID string) (*ExecutionRecord, bool, error)
}

// AgentDirectory resolves agent names to agents. The set is closed at
// construction time.
type AgentDirectory interface {
	Get(name string) (agent.Agent, bool)
	Has(name string) bool
	Names() []string
}
