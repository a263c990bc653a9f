package orchestrator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/themislabs/themis/internal/agent"
	"github.com/themislabs/themis/internal/matter"
)

// ServiceConfig carries execution tuning for the service.
type ServiceConfig struct {
	// StrictExitSignals makes every phase strict, overriding the
	// per-phase flag.
	StrictExitSignals bool
	// ArtifactSearchDepth bounds the nested scan used when an expected
	// artifact is not a top-level key of the agent output.
	ArtifactSearchDepth int
}

func (c ServiceConfig) searchDepth() int {
	if c.ArtifactSearchDepth > 0 {
		return c.ArtifactSearchDepth
	}
	return DefaultSignalSearchDepth
}

// Service is the main entry point for planning and executing legal
// workflows. It builds plans through the routing policy, runs them in
// dependency order, and persists every plan and execution record.
type Service struct {
	policy  *RoutingPolicy
	agents  AgentDirectory
	store   StateStore
	metrics *Metrics
	tracer  trace.Tracer
	logger  *slog.Logger
	config  ServiceConfig
}

// NewService creates the orchestrator service.
func NewService(policy *RoutingPolicy, agents AgentDirectory, store StateStore, config ServiceConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{
		policy: policy,
		agents: agents,
		store:  store,
		logger: logger,
		config: config,
	}
}

// WithMetrics attaches Prometheus metrics. Nil-safe (no-op if nil).
func (s *Service) WithMetrics(m *Metrics) *Service {
	s.metrics = m
	return s
}

// WithTracer attaches an OpenTelemetry tracer. Nil-safe (no-op if nil).
func (s *Service) WithTracer(t trace.Tracer) *Service {
	s.tracer = t
	return s
}

// Plan builds and persists a plan for the matter.
func (s *Service) Plan(ctx context.Context, m matter.Matter) (*Plan, error) {
	plan, err := s.policy.BuildPlan(m)
	if err != nil {
		return nil, err
	}
	if err := s.store.SavePlan(ctx, plan); err != nil {
		return nil, fmt.Errorf("saving plan: %w", err)
	}

	if s.metrics != nil {
		s.metrics.PlansTotal.Inc()
	}
	s.logger.InfoContext(ctx, "plan built",
		slog.String("plan_id", plan.ID),
		slog.Int("nodes", len(plan.Nodes)),
	)
	return plan, nil
}

// GetPlan returns a stored plan.
func (s *Service) GetPlan(ctx context.Context, id string) (*Plan, error) {
	return s.store.GetPlan(ctx, id)
}

// GetArtifacts returns the artifacts of a plan's execution, keyed by
// agent name. A plan that has not been executed yet returns an empty
// map, not an error.
func (s *Service) GetArtifacts(ctx context.Context, planID string) (map[string]map[string]any, error) {
	if _, err := s.store.GetPlan(ctx, planID); err != nil {
		return nil, err
	}
	rec, found, err := s.store.GetExecution(ctx, planID)
	if err != nil {
		return nil, fmt.Errorf("loading execution: %w", err)
	}
	if !found || rec.Artifacts == nil {
		return map[string]map[string]any{}, nil
	}
	return rec.Artifacts, nil
}

// GetExecution returns the execution record for a plan, if one exists.
func (s *Service) GetExecution(ctx context.Context, planID string) (*ExecutionRecord, bool, error) {
	return s.store.GetExecution(ctx, planID)
}

// Execute runs a stored plan node by node. Agents see a copy-on-write
// snapshot of the matter plus everything earlier phases propagated; the
// stored matter is never mutated. An optional overlay merges extra
// client input into the working matter for this run.
//
// Agent failures and strict exit-signal misses fail the execution and
// skip the remaining nodes. Soft misses flag the node for attention and
// continue. The record is persisted in every terminal state, including
// context cancellation between nodes.
func (s *Service) Execute(ctx context.Context, planID string, overlay matter.Matter) (*ExecutionRecord, error) {
	plan, err := s.store.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}

	graph, err := FromPlan(plan)
	if err != nil {
		return nil, fmt.Errorf("building task graph: %w", err)
	}
	ordered, err := graph.TopologicalOrder()
	if err != nil {
		return nil, err
	}

	base := plan.Matter.Clone()
	if overlay != nil {
		base.Merge(overlay)
	}
	propagated := map[string]any{}

	rec := &ExecutionRecord{
		PlanID:    plan.ID,
		Status:    StatusRunning,
		Nodes:     []NodeResult{},
		Artifacts: map[string]map[string]any{},
		StartedAt: time.Now().UTC(),
	}

	if s.tracer != nil {
		var span trace.Span
		ctx, span = s.tracer.Start(ctx, "orchestrator.execute",
			trace.WithAttributes(
				attribute.String("plan.id", plan.ID),
				attribute.Int("plan.nodes", len(ordered)),
			))
		defer span.End()
	}
	if s.metrics != nil {
		s.metrics.ActiveExecutions.Inc()
		defer s.metrics.ActiveExecutions.Dec()
	}

	s.logger.InfoContext(ctx, "execution started",
		slog.String("plan_id", plan.ID),
		slog.Int("nodes", len(ordered)),
	)

	var execErr error
	for i, node := range ordered {
		if err := ctx.Err(); err != nil {
			rec.Status = StatusFailed
			rec.Error = err.Error()
			s.markSkipped(rec, ordered[i:])
			execErr = err
			break
		}

		working := base.Clone()
		working.Merge(propagated)
		result := s.runNode(ctx, plan, node, working, propagated, rec)
		rec.Nodes = append(rec.Nodes, result)

		if result.Status == StatusFailed {
			rec.Status = StatusFailed
			rec.Error = result.Error
			if i+1 < len(ordered) {
				s.markSkipped(rec, ordered[i+1:])
			}
			break
		}
	}

	if rec.Status != StatusFailed {
		rec.Status = StatusComplete
		if len(rec.Attention) > 0 {
			rec.Status = StatusAttentionRequired
		}
	}
	rec.CompletedAt = time.Now().UTC()

	if err := s.store.SaveExecution(ctx, rec); err != nil {
		return rec, fmt.Errorf("saving execution record: %w", err)
	}
	plan.Status = rec.Status
	plan.UpdatedAt = rec.CompletedAt
	if err := s.store.SavePlan(ctx, plan); err != nil {
		return rec, fmt.Errorf("updating plan status: %w", err)
	}

	if s.metrics != nil {
		s.metrics.ExecutionsTotal.WithLabelValues(string(rec.Status)).Inc()
		s.metrics.ExecutionDuration.WithLabelValues(string(rec.Status)).Observe(rec.CompletedAt.Sub(rec.StartedAt).Seconds())
	}
	s.logger.InfoContext(ctx, "execution finished",
		slog.String("plan_id", plan.ID),
		slog.String("status", string(rec.Status)),
		slog.Int("attention_flags", len(rec.Attention)),
	)
	return rec, execErr
}

// runNode invokes the node's primary agent on the working matter,
// extracts the expected artifacts into the propagation set, runs
// supporting agents, and evaluates exit signals.
func (s *Service) runNode(ctx context.Context, plan *Plan, node PlanNode, working matter.Matter, propagated map[string]any, rec *ExecutionRecord) NodeResult {
	result := NodeResult{
		NodeID:    node.ID,
		Phase:     node.Phase,
		Agent:     node.Agent,
		Status:    StatusRunning,
		StartedAt: time.Now().UTC(),
	}

	if s.tracer != nil {
		var span trace.Span
		ctx, span = s.tracer.Start(ctx, "orchestrator.node",
			trace.WithAttributes(
				attribute.String("node.id", node.ID),
				attribute.String("node.phase", node.Phase),
				attribute.String("node.agent", node.Agent),
			))
		defer span.End()
	}

	fail := func(err error) NodeResult {
		result.Status = StatusFailed
		result.Error = err.Error()
		result.CompletedAt = time.Now().UTC()
		if s.metrics != nil {
			s.metrics.AgentInvocationsTotal.WithLabelValues(node.Agent, string(StatusFailed)).Inc()
			s.metrics.NodeDuration.WithLabelValues(node.Phase).Observe(result.CompletedAt.Sub(result.StartedAt).Seconds())
		}
		s.logger.ErrorContext(ctx, "node failed",
			slog.String("plan_id", plan.ID),
			slog.String("node_id", node.ID),
			slog.String("phase", node.Phase),
			slog.String("error", err.Error()),
		)
		return result
	}

	primary, ok := s.agents.Get(node.Agent)
	if !ok {
		return fail(&AgentInvocationError{Agent: node.Agent, Phase: node.Phase, Err: fmt.Errorf("agent not registered")})
	}

	task := &agent.Task{
		Phase:             node.Phase,
		Description:       node.Description,
		Matter:            working,
		ExpectedArtifacts: artifactNames(node.ExpectedArtifacts),
	}
	out, err := primary.Run(ctx, task)
	if err != nil {
		return fail(&AgentInvocationError{Agent: node.Agent, Phase: node.Phase, Err: err})
	}
	if err := out.Validate(); err != nil {
		return fail(&AgentInvocationError{Agent: node.Agent, Phase: node.Phase, Err: err})
	}

	flat := out.AsMap()
	rec.Artifacts[node.Agent] = flat
	propagated[node.Agent] = flat

	for _, spec := range node.ExpectedArtifacts {
		value, found := flat[spec.Name]
		if !found {
			value, found = matter.FindNested(flat, spec.Name, s.config.searchDepth())
			if found {
				s.logger.WarnContext(ctx, "artifact resolved via nested search",
					slog.String("node_id", node.ID),
					slog.String("artifact", spec.Name),
					slog.String("agent", node.Agent),
				)
			}
		}
		if !found {
			s.logger.WarnContext(ctx, "expected artifact missing from agent output",
				slog.String("node_id", node.ID),
				slog.String("artifact", spec.Name),
				slog.String("agent", node.Agent),
			)
			continue
		}
		propagated[spec.Name] = value
	}

	result.Supporting = s.runSupporting(ctx, node, working)

	// Exit signals are evaluated on the matter as the next phase will
	// see it.
	after := working.Clone()
	after.Merge(propagated)
	missing := MissingSignals(after, node.ExitSignals, s.policy.Aliases(), s.policy.SearchDepth())
	result.CompletedAt = time.Now().UTC()

	if s.metrics != nil {
		s.metrics.NodeDuration.WithLabelValues(node.Phase).Observe(result.CompletedAt.Sub(result.StartedAt).Seconds())
		s.metrics.AgentInvocationsTotal.WithLabelValues(node.Agent, string(StatusComplete)).Inc()
	}

	if len(missing) > 0 {
		result.MissingSignals = missing
		if node.Strict || s.config.StrictExitSignals {
			err := &MissingExitSignalError{Phase: node.Phase, Signals: missing}
			result.Status = StatusFailed
			result.Error = err.Error()
			s.logger.ErrorContext(ctx, "strict exit signals missing",
				slog.String("node_id", node.ID),
				slog.String("phase", node.Phase),
				slog.Any("missing", missing),
			)
			return result
		}
		result.Status = StatusAttentionRequired
		rec.Attention = append(rec.Attention, AttentionFlag{NodeID: node.ID, Phase: node.Phase, MissingSignals: missing})
		if s.metrics != nil {
			s.metrics.AttentionFlagsTotal.Inc()
		}
		s.logger.WarnContext(ctx, "exit signals missing, flagged for attention",
			slog.String("node_id", node.ID),
			slog.String("phase", node.Phase),
			slog.Any("missing", missing),
		)
		return result
	}

	result.Status = StatusComplete
	return result
}

// runSupporting invokes the node's supporting agents. Their outputs
// annotate the node result only; failures never fail the node.
func (s *Service) runSupporting(ctx context.Context, node PlanNode, working matter.Matter) []SupportResult {
	var results []SupportResult
	for _, sup := range node.SupportingAgents {
		supAgent, ok := s.agents.Get(sup.Agent)
		if !ok {
			results = append(results, SupportResult{Agent: sup.Agent, Role: sup.Role, Status: StatusFailed, Error: "agent not registered"})
			continue
		}
		task := &agent.Task{
			Phase:       node.Phase,
			Description: sup.Description,
			Matter:      working,
			SupportRole: sup.Role,
		}
		if _, err := supAgent.Run(ctx, task); err != nil {
			s.logger.WarnContext(ctx, "supporting agent failed",
				slog.String("node_id", node.ID),
				slog.String("agent", sup.Agent),
				slog.String("role", sup.Role),
				slog.String("error", err.Error()),
			)
			results = append(results, SupportResult{Agent: sup.Agent, Role: sup.Role, Status: StatusFailed, Error: err.Error()})
			continue
		}
		results = append(results, SupportResult{Agent: sup.Agent, Role: sup.Role, Status: StatusComplete})
	}
	return results
}

func (s *Service) markSkipped(rec *ExecutionRecord, nodes []PlanNode) {
	for _, node := range nodes {
		rec.Nodes = append(rec.Nodes, NodeResult{
			NodeID: node.ID,
			Phase:  node.Phase,
			Agent:  node.Agent,
			Status: StatusSkipped,
		})
	}
}

func artifactNames(specs []ArtifactSpec) []string {
	names := make([]string, 0, len(specs))
	for _, spec := range specs {
		names = append(names, spec.Name)
	}
	return names
}
