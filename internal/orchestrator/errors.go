package orchestrator

import (
	"fmt"
	"strings"
)

// PlanNotFoundError is returned when a plan ID has no stored plan.
type PlanNotFoundError struct {
	PlanID string
}

func (e *PlanNotFoundError) Error() string {
	return fmt.Sprintf("plan %q not found", e.PlanID)
}

// UnsatisfiableEntrySignalError marks a phase whose entry signal
// nothing can provide: table validation returns it when no earlier
// phase produces the signal, and plan construction returns it when
// neither the matter nor a scheduled phase covers it.
type UnsatisfiableEntrySignalError struct {
	Phase  Phase
	Signal string
}

func (e *UnsatisfiableEntrySignalError) Error() string {
	return fmt.Sprintf("phase %q requires entry signal %q that nothing earlier provides", e.Phase, e.Signal)
}

// AgentInvocationError wraps a failure to run an agent for a node.
type AgentInvocationError struct {
	Agent string
	Phase Phase
	Err   error
}

func (e *AgentInvocationError) Error() string {
	return fmt.Sprintf("agent %q failed during phase %q: %v", e.Agent, e.Phase, e.Err)
}

func (e *AgentInvocationError) Unwrap() error { return e.Err }

// MissingExitSignalError is returned when a strict phase completes
// without producing its exit signals.
type MissingExitSignalError struct {
	Phase   Phase
	Signals []string
}

func (e *MissingExitSignalError) Error() string {
	return fmt.Sprintf("phase %q completed without exit signals [%s]", e.Phase, strings.Join(e.Signals, ", "))
}
