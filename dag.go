package flow

import (
	"fmt"
	"strings"
)

// stageGraph is the dependency structure of a pipeline spec, resolved
// to stage indices. An edge deps[i] -> i means stage i waits for each
// stage in deps[i].
type stageGraph struct {
	names []string
	deps  [][]int // predecessors per stage
	next  [][]int // dependents per stage
}

// buildStageGraph resolves DependsOn names to indices and proves the
// graph is acyclic. A cycle is reported as ErrCyclicDependency with one
// witness path.
func buildStageGraph(spec *PipelineSpec) (*stageGraph, error) {
	n := len(spec.Stages)
	g := &stageGraph{
		names: make([]string, n),
		deps:  make([][]int, n),
		next:  make([][]int, n),
	}
	byName := make(map[string]int, n)
	for i, st := range spec.Stages {
		g.names[i] = st.Name
		byName[st.Name] = i
	}
	for i, st := range spec.Stages {
		for _, dep := range st.DependsOn {
			d, ok := byName[dep]
			if !ok {
				return nil, invalidf("stage %q depends on unknown stage %q", st.Name, dep)
			}
			g.deps[i] = append(g.deps[i], d)
			g.next[d] = append(g.next[d], i)
		}
	}
	if err := g.validateAcyclic(); err != nil {
		return nil, err
	}
	return g, nil
}

// validateAcyclic runs Kahn's algorithm; if some stage never becomes
// ready the graph has a cycle and a witness path is extracted.
func (g *stageGraph) validateAcyclic() error {
	n := len(g.names)
	indeg := make([]int, n)
	for i := range g.deps {
		indeg[i] = len(g.deps[i])
	}

	ready := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if indeg[i] == 0 {
			ready = append(ready, i)
		}
	}

	visited := 0
	for len(ready) > 0 {
		u := ready[0]
		ready = ready[1:]
		visited++
		for _, v := range g.next[u] {
			indeg[v]--
			if indeg[v] == 0 {
				ready = append(ready, v)
			}
		}
	}
	if visited == n {
		return nil
	}

	path := g.findCycle()
	return fmt.Errorf("%w: %s", ErrCyclicDependency, strings.Join(path, " -> "))
}

// findCycle walks the dependency edges depth-first and returns one
// cycle path in stage names. Only called when a cycle is known to exist.
func (g *stageGraph) findCycle() []string {
	const (
		white = iota
		gray
		black
	)
	n := len(g.names)
	color := make([]int, n)
	parent := make([]int, n)
	for i := range parent {
		parent[i] = -1
	}

	var cycle []int
	var dfs func(u int) bool
	dfs = func(u int) bool {
		color[u] = gray
		for _, v := range g.next[u] {
			if color[v] == white {
				parent[v] = u
				if dfs(v) {
					return true
				}
				continue
			}
			if color[v] == gray {
				cycle = append(cycle, v)
				for cur := u; cur != -1 && cur != v; cur = parent[cur] {
					cycle = append(cycle, cur)
				}
				cycle = append(cycle, v)
				return true
			}
		}
		color[u] = black
		return false
	}

	for i := 0; i < n; i++ {
		if color[i] == white && dfs(i) {
			break
		}
	}

	out := make([]string, 0, len(cycle))
	for i := len(cycle) - 1; i >= 0; i-- {
		out = append(out, g.names[cycle[i]])
	}
	return out
}
