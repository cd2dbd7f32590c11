// Package graph models the workflow-call dependency graph built at publish
// time from control.callWorkflow steps. Publishing rejects definitions whose
// closure contains a cycle so a child calling back into its parent fails
// fast instead of looping at run time.
package graph

func New() *Graph {
	return &Graph{
		edges:      make(map[string][]string),
		validNodes: make(map[string]bool),
	}
}

type Graph struct {
	edges      map[string][]string
	nodeOrder  []string
	validNodes map[string]bool
}

func (g *Graph) AddEdge(from, to string) {
	if !g.validNodes[from] {
		g.nodeOrder = append(g.nodeOrder, from)
	}
	if !g.validNodes[to] && from != to {
		g.nodeOrder = append(g.nodeOrder, to)
	}

	g.edges[from] = append(g.edges[from], to)
	g.validNodes[from] = true
	g.validNodes[to] = true
}

func (g *Graph) Edges(node string) []string {
	return g.edges[node]
}

func (g *Graph) IsValid(node string) bool {
	return g.validNodes[node]
}

// Nodes returns all nodes in insertion order.
func (g *Graph) Nodes() []string {
	return g.nodeOrder
}

// FindCycle returns a path that revisits its first node, or nil when the
// graph is acyclic. The search is a depth-first walk with a colouring of
// in-progress nodes.
func (g *Graph) FindCycle() []string {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)

	state := make(map[string]int, len(g.nodeOrder))
	var (
		path  []string
		cycle []string
	)

	var walk func(node string) bool
	walk = func(node string) bool {
		state[node] = visiting
		path = append(path, node)

		for _, next := range g.edges[node] {
			switch state[next] {
			case visiting:
				// Slice the current path from the repeated node and close it.
				for i, p := range path {
					if p == next {
						cycle = append(append([]string{}, path[i:]...), next)
						return true
					}
				}
				cycle = []string{node, next, node}
				return true
			case unvisited:
				if walk(next) {
					return true
				}
			}
		}

		state[node] = done
		path = path[:len(path)-1]
		return false
	}

	for _, node := range g.nodeOrder {
		if state[node] == unvisited && walk(node) {
			return cycle
		}
	}
	return nil
}
