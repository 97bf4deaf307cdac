// Package dag models a route's subrequest dependency graph. Nodes are the
// subrequests in declared order; edges come from depends_on. The graph is
// built and checked once at config load, so runtime scheduling never sees a
// cycle or an unresolved reference.
package dag

import "strconv"

// Node is one subrequest in the graph.
type Node struct {
	// Index is the declaration position within the route.
	Index int
	// Name is empty for unnamed subrequests, which cannot be depended on.
	Name string
	// Deps holds the indices of this node's dependencies.
	Deps []int
}

// Graph is a dependency graph over declaration-ordered nodes. Edges are
// index sets; no node owns its successors.
type Graph struct {
	nodes      []Node
	dependents [][]int // adjacency: node index -> indices that depend on it
	inDegree   []int
	byName     map[string]int
}

// Build constructs the graph from (name, depends_on) pairs in declaration
// order. Dependency names must refer to earlier named entries; violations
// surface as typed errors.
func Build(names []string, dependsOn [][]string) (*Graph, error) {
	g := &Graph{
		nodes:      make([]Node, len(names)),
		dependents: make([][]int, len(names)),
		inDegree:   make([]int, len(names)),
		byName:     make(map[string]int, len(names)),
	}

	for i, name := range names {
		if name != "" {
			if _, dup := g.byName[name]; dup {
				return nil, &DuplicateNameError{Name: name}
			}
		}

		node := Node{Index: i, Name: name}
		for _, dep := range dependsOn[i] {
			depIdx, ok := g.byName[dep]
			if !ok {
				// Also catches self-references and forward references:
				// only earlier names have been registered.
				return nil, &UnknownDependencyError{Node: label(name, i), Dep: dep}
			}
			node.Deps = append(node.Deps, depIdx)
			g.dependents[depIdx] = append(g.dependents[depIdx], i)
			g.inDegree[i]++
		}
		g.nodes[i] = node

		if name != "" {
			g.byName[name] = i
		}
	}

	// Dependencies always point backwards, so the graph cannot cycle; the
	// sort acts as a structural double-check.
	if _, err := g.Toposort(); err != nil {
		return nil, err
	}

	return g, nil
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// Node returns the node at the given declaration index.
func (g *Graph) Node(i int) Node { return g.nodes[i] }

// IndexOf returns the declaration index of a named node.
func (g *Graph) IndexOf(name string) (int, bool) {
	i, ok := g.byName[name]
	return i, ok
}

// Dependents returns the indices of nodes that depend on node i.
func (g *Graph) Dependents(i int) []int { return g.dependents[i] }

// InDegrees returns a fresh copy of the in-degree table, for callers that
// consume it destructively while scheduling.
func (g *Graph) InDegrees() []int {
	degrees := make([]int, len(g.inDegree))
	copy(degrees, g.inDegree)
	return degrees
}

// Toposort returns a topological ordering using Kahn's algorithm. Ready
// nodes are taken in declaration order, so the result is the stable FIFO
// order the scheduler uses as its tie-breaker.
func (g *Graph) Toposort() ([]int, error) {
	inDegree := g.InDegrees()

	order := make([]int, 0, len(g.nodes))
	for {
		next := -1
		for i := range g.nodes {
			if inDegree[i] == 0 {
				next = i
				break
			}
		}
		if next < 0 {
			break
		}
		inDegree[next] = -1
		order = append(order, next)
		for _, dep := range g.dependents[next] {
			inDegree[dep]--
		}
	}

	if len(order) != len(g.nodes) {
		var stuck []string
		for i, deg := range inDegree {
			if deg > 0 {
				stuck = append(stuck, label(g.nodes[i].Name, i))
			}
		}
		return nil, &CyclicDependencyError{Nodes: stuck}
	}

	return order, nil
}

// Waves groups node indices by dependency depth: wave 0 holds nodes with no
// dependencies, wave N+1 holds nodes whose deepest dependency sits in wave N.
// Nodes within a wave appear in declaration order.
func (g *Graph) Waves() [][]int {
	depth := make([]int, len(g.nodes))
	maxDepth := 0

	// Nodes only depend backwards, so a single declaration-order pass
	// settles every depth.
	for i, node := range g.nodes {
		for _, dep := range node.Deps {
			if depth[dep]+1 > depth[i] {
				depth[i] = depth[dep] + 1
			}
		}
		if depth[i] > maxDepth {
			maxDepth = depth[i]
		}
	}

	if len(g.nodes) == 0 {
		return nil
	}

	waves := make([][]int, maxDepth+1)
	for i := range g.nodes {
		waves[depth[i]] = append(waves[depth[i]], i)
	}
	return waves
}

func label(name string, idx int) string {
	if name != "" {
		return name
	}
	return "#" + strconv.Itoa(idx)
}
