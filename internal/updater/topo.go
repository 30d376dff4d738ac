package updater

import (
	"sort"

	"github.com/contextfs/contextfs/internal/depgraph"
)

// topologicalOrder arranges paths so that every file appears after its
// in-set forward dependencies. The walk is an iterative DFS with post-order
// emission; edges that close a cycle are skipped, so cyclic inputs still
// produce a complete ordering. Files outside the graph keep their relative
// position.
func topologicalOrder(graph *depgraph.Graph, paths []string) []string {
	inSet := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		inSet[p] = struct{}{}
	}

	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(paths))
	order := make([]string, 0, len(paths))

	type frame struct {
		path    string
		targets []string
		nextIdx int
	}

	for _, start := range paths {
		if state[start] != unvisited {
			continue
		}

		stack := []*frame{{path: start, targets: inSetDependencies(graph, start, inSet)}}
		state[start] = visiting

		for len(stack) > 0 {
			top := stack[len(stack)-1]

			if top.nextIdx < len(top.targets) {
				next := top.targets[top.nextIdx]
				top.nextIdx++

				if state[next] != unvisited {
					continue // done, or a cycle edge
				}
				state[next] = visiting
				stack = append(stack, &frame{path: next, targets: inSetDependencies(graph, next, inSet)})
				continue
			}

			state[top.path] = done
			order = append(order, top.path)
			stack = stack[:len(stack)-1]
		}
	}

	return order
}

// inSetDependencies returns the forward neighbors of path restricted to the
// update set, sorted for deterministic output.
func inSetDependencies(graph *depgraph.Graph, path string, inSet map[string]struct{}) []string {
	deps := graph.Dependencies(path)
	filtered := deps[:0]
	for _, dep := range deps {
		if _, ok := inSet[dep]; ok {
			filtered = append(filtered, dep)
		}
	}
	sort.Strings(filtered)
	return filtered
}
