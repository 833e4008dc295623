package engine

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/picklr-io/stackr/internal/ir"
)

var (
	// ErrCycle is returned when resources depend on each other in a loop.
	ErrCycle = errors.New("dependency cycle detected in resource graph")
	// ErrUnresolvedRef is returned when a reference or DependsOn names nothing in the template.
	ErrUnresolvedRef = errors.New("unresolved reference")
)

// DAG represents a directed acyclic graph of resources for dependency ordering.
type DAG struct {
	nodes    map[string]*dagNode
	order    []string // topological order (creation order)
	revOrder []string // reverse topological order (destruction order)
}

type dagNode struct {
	id       string
	index    int      // construction position
	edges    []string // resources this node depends on
	revEdges []string // resources that depend on this node
	explicit map[string]bool
}

// BuildDAG constructs a dependency graph from a template.
// It resolves both explicit DependsOn and implicit Ref/GetAtt/Sub references.
// References to parameters and pseudo parameters are not edges.
func BuildDAG(t *ir.Template) (*DAG, error) {
	dag := &DAG{
		nodes: make(map[string]*dagNode, len(t.Resources)),
	}

	for i, res := range t.Resources {
		if _, dup := dag.nodes[res.LogicalID]; dup {
			return nil, fmt.Errorf("resource %s declared twice", res.LogicalID)
		}
		dag.nodes[res.LogicalID] = &dagNode{id: res.LogicalID, index: i, explicit: map[string]bool{}}
	}

	var unresolved []string
	for _, res := range t.Resources {
		node := dag.nodes[res.LogicalID]
		seen := make(map[string]bool)

		for _, dep := range res.DependsOn {
			if _, ok := dag.nodes[dep]; !ok {
				unresolved = append(unresolved, fmt.Sprintf("%s depends on %s", res.LogicalID, dep))
				continue
			}
			node.explicit[dep] = true
			if !seen[dep] {
				seen[dep] = true
				node.edges = append(node.edges, dep)
			}
		}

		for _, ref := range ir.References(res.Properties) {
			if _, ok := dag.nodes[ref]; ok {
				if !seen[ref] {
					seen[ref] = true
					node.edges = append(node.edges, ref)
				}
				continue
			}
			if _, ok := t.Parameters[ref]; ok {
				continue
			}
			unresolved = append(unresolved, fmt.Sprintf("%s references %s", res.LogicalID, ref))
		}
	}
	for name, out := range t.Outputs {
		for _, ref := range ir.References(out.Value) {
			if _, ok := dag.nodes[ref]; ok {
				continue
			}
			if _, ok := t.Parameters[ref]; ok {
				continue
			}
			unresolved = append(unresolved, fmt.Sprintf("output %s references %s", name, ref))
		}
	}
	if len(unresolved) > 0 {
		sort.Strings(unresolved)
		return nil, fmt.Errorf("%w: %s", ErrUnresolvedRef, strings.Join(unresolved, "; "))
	}

	// Build reverse edges in construction order so the sort is deterministic.
	for _, res := range t.Resources {
		node := dag.nodes[res.LogicalID]
		for _, dep := range node.edges {
			dag.nodes[dep].revEdges = append(dag.nodes[dep].revEdges, node.id)
		}
	}

	order, err := dag.topoSort(t.Resources)
	if err != nil {
		return nil, err
	}
	dag.order = order

	// Reverse order for destruction
	dag.revOrder = make([]string, len(order))
	for i, id := range order {
		dag.revOrder[len(order)-1-i] = id
	}

	return dag, nil
}

// CreationOrder returns resources in dependency-respecting creation order.
func (d *DAG) CreationOrder() []string {
	return d.order
}

// DestructionOrder returns resources in reverse dependency order (safe for deletion).
func (d *DAG) DestructionOrder() []string {
	return d.revOrder
}

// topoSort performs Kahn's algorithm, always taking the ready resource that
// was declared first.
func (d *DAG) topoSort(resources []*ir.Resource) ([]string, error) {
	inDegree := make(map[string]int, len(d.nodes))
	for id, node := range d.nodes {
		inDegree[id] = len(node.edges)
	}

	var ready []*dagNode
	for _, res := range resources {
		if inDegree[res.LogicalID] == 0 {
			ready = append(ready, d.nodes[res.LogicalID])
		}
	}

	sorted := make([]string, 0, len(d.nodes))
	for len(ready) > 0 {
		sort.SliceStable(ready, func(i, j int) bool { return ready[i].index < ready[j].index })
		node := ready[0]
		ready = ready[1:]
		sorted = append(sorted, node.id)

		for _, dependent := range node.revEdges {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				ready = append(ready, d.nodes[dependent])
			}
		}
	}

	if len(sorted) != len(d.nodes) {
		var stuck []string
		for id, deg := range inDegree {
			if deg > 0 {
				stuck = append(stuck, id)
			}
		}
		sort.Strings(stuck)
		return nil, fmt.Errorf("%w: %s", ErrCycle, strings.Join(stuck, ", "))
	}

	return sorted, nil
}

// Dependencies returns the resources id depends on, explicit and implicit.
func (d *DAG) Dependencies(id string) []string {
	if node, ok := d.nodes[id]; ok {
		return node.edges
	}
	return nil
}

// Dependents returns the resources that depend on id.
func (d *DAG) Dependents(id string) []string {
	if node, ok := d.nodes[id]; ok {
		return node.revEdges
	}
	return nil
}

// IsExplicit reports whether the edge from id to dep comes from DependsOn.
func (d *DAG) IsExplicit(id, dep string) bool {
	if node, ok := d.nodes[id]; ok {
		return node.explicit[dep]
	}
	return false
}

// TransitiveDeps returns every resource id depends on, directly or not.
func (d *DAG) TransitiveDeps(id string) []string {
	visited := make(map[string]bool)
	var walk func(string)
	walk = func(cur string) {
		node, ok := d.nodes[cur]
		if !ok {
			return
		}
		for _, dep := range node.edges {
			if !visited[dep] {
				visited[dep] = true
				walk(dep)
			}
		}
	}
	walk(id)

	deps := make([]string, 0, len(visited))
	for dep := range visited {
		deps = append(deps, dep)
	}
	sort.Strings(deps)
	return deps
}
