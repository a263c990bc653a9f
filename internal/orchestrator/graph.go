package orchestrator

import (
	"fmt"
	"sort"
)

// TaskGraph is a dependency DAG over plan nodes. Edges are kept in both
// directions so adding or ordering never needs a scan.
type TaskGraph struct {
	nodes      map[string]PlanNode
	order      []string
	dependsOn  map[string][]string
	dependents map[string][]string
}

// NewTaskGraph creates an empty graph.
func NewTaskGraph() *TaskGraph {
	return &TaskGraph{
		nodes:      map[string]PlanNode{},
		dependsOn:  map[string][]string{},
		dependents: map[string][]string{},
	}
}

// FromPlan builds the graph for a plan, wiring each node's declared
// dependencies.
func FromPlan(plan *Plan) (*TaskGraph, error) {
	g := NewTaskGraph()
	for _, node := range plan.Nodes {
		if err := g.AddNode(node); err != nil {
			return nil, err
		}
	}
	for _, node := range plan.Nodes {
		for _, dep := range node.DependsOn {
			if err := g.AddEdge(dep, node.ID); err != nil {
				return nil, err
			}
		}
	}
	return g, nil
}

// AddNode registers a node. Duplicate IDs are rejected.
func (g *TaskGraph) AddNode(node PlanNode) error {
	if node.ID == "" {
		return fmt.Errorf("task graph: node has no id")
	}
	if _, exists := g.nodes[node.ID]; exists {
		return fmt.Errorf("task graph: duplicate node %q", node.ID)
	}
	g.nodes[node.ID] = node
	g.order = append(g.order, node.ID)
	return nil
}

// AddEdge declares that 'to' depends on 'from'. Both endpoints must
// already be registered.
func (g *TaskGraph) AddEdge(from, to string) error {
	if _, ok := g.nodes[from]; !ok {
		return fmt.Errorf("task graph: edge from unknown node %q", from)
	}
	if _, ok := g.nodes[to]; !ok {
		return fmt.Errorf("task graph: edge to unknown node %q", to)
	}
	g.dependsOn[to] = append(g.dependsOn[to], from)
	g.dependents[from] = append(g.dependents[from], to)
	return nil
}

// Node returns a registered node.
func (g *TaskGraph) Node(id string) (PlanNode, bool) {
	node, ok := g.nodes[id]
	return node, ok
}

// Len returns the node count.
func (g *TaskGraph) Len() int { return len(g.nodes) }

// TopologicalOrder returns the nodes in dependency order using Kahn's
// algorithm. Ties break on insertion order so the result is stable. A
// cycle is a configuration defect and returns an error.
func (g *TaskGraph) TopologicalOrder() ([]PlanNode, error) {
	indegree := make(map[string]int, len(g.nodes))
	for id := range g.nodes {
		indegree[id] = len(g.dependsOn[id])
	}

	position := make(map[string]int, len(g.order))
	for i, id := range g.order {
		position[id] = i
	}

	var ready []string
	for _, id := range g.order {
		if indegree[id] == 0 {
			ready = append(ready, id)
		}
	}

	ordered := make([]PlanNode, 0, len(g.nodes))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return position[ready[i]] < position[ready[j]] })
		id := ready[0]
		ready = ready[1:]
		ordered = append(ordered, g.nodes[id])
		for _, next := range g.dependents[id] {
			indegree[next]--
			if indegree[next] == 0 {
				ready = append(ready, next)
			}
		}
	}

	if len(ordered) != len(g.nodes) {
		var stuck []string
		for id, deg := range indegree {
			if deg > 0 {
				stuck = append(stuck, id)
			}
		}
		sort.Strings(stuck)
		return nil, fmt.Errorf("task graph: dependency cycle involving %v", stuck)
	}
	return ordered, nil
}
