package orchestrator

import (
	"testing"
)

// --- TaskGraph ---

func TestFromPlan_TopologicalOrder(t *testing.T) {
	plan := &Plan{
		Nodes: []PlanNode{
			{ID: "phase-1", Phase: "intake_facts"},
			{ID: "phase-2", Phase: "issue_framing", DependsOn: []string{"phase-1"}},
			{ID: "phase-3", Phase: "research_retrieval", DependsOn: []string{"phase-2"}},
		},
	}
	g, err := FromPlan(plan)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ordered, err := g.TopologicalOrder()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, want := range []string{"phase-1", "phase-2", "phase-3"} {
		if ordered[i].ID != want {
			t.Fatalf("order[%d] = %q, want %q", i, ordered[i].ID, want)
		}
	}
}

func TestTopologicalOrder_IndependentNodesKeepInsertionOrder(t *testing.T) {
	g := NewTaskGraph()
	for _, id := range []string{"c", "a", "b"} {
		if err := g.AddNode(PlanNode{ID: id}); err != nil {
			t.Fatalf("AddNode(%q): %v", id, err)
		}
	}
	ordered, err := g.TopologicalOrder()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, want := range []string{"c", "a", "b"} {
		if ordered[i].ID != want {
			t.Fatalf("order[%d] = %q, want insertion order", i, ordered[i].ID)
		}
	}
}

func TestTopologicalOrder_CycleDetected(t *testing.T) {
	g := NewTaskGraph()
	_ = g.AddNode(PlanNode{ID: "a"})
	_ = g.AddNode(PlanNode{ID: "b"})
	_ = g.AddEdge("a", "b")
	_ = g.AddEdge("b", "a")

	if _, err := g.TopologicalOrder(); err == nil {
		t.Fatal("expected cycle error")
	}
}

func TestAddNode_Rejections(t *testing.T) {
	g := NewTaskGraph()
	if err := g.AddNode(PlanNode{}); err == nil {
		t.Fatal("expected error for node without id")
	}
	if err := g.AddNode(PlanNode{ID: "a"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := g.AddNode(PlanNode{ID: "a"}); err == nil {
		t.Fatal("expected duplicate node error")
	}
}

func TestAddEdge_UnknownEndpoints(t *testing.T) {
	g := NewTaskGraph()
	_ = g.AddNode(PlanNode{ID: "a"})
	if err := g.AddEdge("missing", "a"); err == nil {
		t.Fatal("expected error for unknown source")
	}
	if err := g.AddEdge("a", "missing"); err == nil {
		t.Fatal("expected error for unknown target")
	}
}

func TestFromPlan_UnknownDependency(t *testing.T) {
	plan := &Plan{
		Nodes: []PlanNode{
			{ID: "phase-1", DependsOn: []string{"phase-0"}},
		},
	}
	if _, err := FromPlan(plan); err == nil {
		t.Fatal("expected error for dependency on a node not in the plan")
	}
}
