package depgraph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/contextfs/contextfs/pkg/types"
)

const (
	colorWhite = iota // unvisited
	colorGray         // on the current DFS path
	colorBlack        // fully explored
)

// DetectCycles reports every cyclic component reachable in the graph:
// strongly connected groups of two or more nodes plus self-loops. Each cycle
// lists nodes in the order encountered on the back-edge. The same component
// may be discovered through several entry points; reports are deduplicated
// by node set, and the result is ordered by the smallest path in each cycle
// so repeated scans of the same file set yield identical output.
func (g *Graph) DetectCycles() []types.CyclicDependency {
	g.mu.RLock()
	defer g.mu.RUnlock()

	color := make(map[string]int)
	seen := make(map[string]struct{})
	var cycles []types.CyclicDependency

	record := func(cycle []string) {
		key := canonicalCycleKey(cycle)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}

		severity := types.CycleSeverityWarning
		description := fmt.Sprintf("circular dependency: %s", strings.Join(append(append([]string{}, cycle...), cycle[0]), " -> "))
		if len(cycle) == 1 {
			severity = types.CycleSeverityError
			description = fmt.Sprintf("file references itself: %s", cycle[0])
		}

		cycles = append(cycles, types.CyclicDependency{
			Cycle:       cycle,
			Severity:    severity,
			Description: description,
		})
	}

	type frame struct {
		path    string
		targets []string
		nextIdx int
	}

	for _, start := range g.order {
		if color[start] != colorWhite {
			continue
		}

		stack := []*frame{{path: start, targets: sortedKeys(g.forward[start])}}
		pathStack := []string{start}
		color[start] = colorGray

		for len(stack) > 0 {
			top := stack[len(stack)-1]

			if top.nextIdx < len(top.targets) {
				next := top.targets[top.nextIdx]
				top.nextIdx++

				switch color[next] {
				case colorWhite:
					color[next] = colorGray
					stack = append(stack, &frame{path: next, targets: sortedKeys(g.forward[next])})
					pathStack = append(pathStack, next)
				case colorGray:
					// Back edge: the slice of the current path from the
					// revisited node onward forms the cycle.
					for i, p := range pathStack {
						if p == next {
							cycle := make([]string, len(pathStack)-i)
							copy(cycle, pathStack[i:])
							record(cycle)
							break
						}
					}
				}
			} else {
				color[top.path] = colorBlack
				stack = stack[:len(stack)-1]
				pathStack = pathStack[:len(pathStack)-1]
			}
		}
	}

	sort.Slice(cycles, func(i, j int) bool {
		return smallestPath(cycles[i].Cycle) < smallestPath(cycles[j].Cycle)
	})
	return cycles
}

func canonicalCycleKey(cycle []string) string {
	nodes := make([]string, len(cycle))
	copy(nodes, cycle)
	sort.Strings(nodes)
	return strings.Join(nodes, "\x00")
}

func smallestPath(cycle []string) string {
	min := cycle[0]
	for _, p := range cycle[1:] {
		if p < min {
			min = p
		}
	}
	return min
}
