// Package depgraph maintains the project's directed dependency graph:
// forward and reverse adjacency keyed by file path, reachability queries,
// shortest-path depth, and cycle detection. All traversals are iterative so
// stack depth is never bounded by the call stack.
package depgraph

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/contextfs/contextfs/pkg/types"
)

// NodeInfo is a point-in-time copy of one node and its direct neighbors.
type NodeInfo struct {
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	ModTime      time.Time `json:"mtime"`
	Dependencies []string  `json:"dependencies"`
	Dependents   []string  `json:"dependents"`
}

// nodeMeta holds per-node metadata; adjacency lives in the shared maps so
// edges can reference paths that have no node yet.
type nodeMeta struct {
	size    int64
	modTime time.Time
}

// Graph is the dependency graph. Reverse edges mirror forward edges exactly:
// whenever b ∈ forward[a], a ∈ reverse[b].
type Graph struct {
	mu      sync.RWMutex
	nodes   map[string]*nodeMeta
	forward map[string]map[string]struct{}
	reverse map[string]map[string]struct{}
	order   []string // node insertion order, drives deterministic traversal
}

// New creates an empty dependency graph
func New() *Graph {
	return &Graph{
		nodes:   make(map[string]*nodeMeta),
		forward: make(map[string]map[string]struct{}),
		reverse: make(map[string]map[string]struct{}),
	}
}

// AddNode registers a node. The call is idempotent; metadata of an existing
// node is refreshed.
func (g *Graph) AddNode(path string, size int64, modTime time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.nodes[path]; !exists {
		g.order = append(g.order, path)
	}
	g.nodes[path] = &nodeMeta{size: size, modTime: modTime}
	g.ensureAdjacencyLocked(path)
}

// HasNode reports node presence.
func (g *Graph) HasNode(path string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, exists := g.nodes[path]
	return exists
}

// RemoveNode deletes a node and every edge touching it, keeping reverse
// edges consistent.
func (g *Graph) RemoveNode(path string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.nodes[path]; !exists {
		return false
	}

	for target := range g.forward[path] {
		delete(g.reverse[target], path)
	}
	for source := range g.reverse[path] {
		delete(g.forward[source], path)
	}
	delete(g.forward, path)
	delete(g.reverse, path)
	delete(g.nodes, path)

	for i, p := range g.order {
		if p == path {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
	return true
}

// AddEdge records that from depends on to. Duplicate edges are deduplicated.
// The target node is not created implicitly, but the edge is tolerated when
// it references an external path with no node.
func (g *Graph) AddEdge(from, to string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.ensureAdjacencyLocked(from)
	g.ensureAdjacencyLocked(to)
	g.forward[from][to] = struct{}{}
	g.reverse[to][from] = struct{}{}
}

// RemoveEdge deletes one edge in both directions.
func (g *Graph) RemoveEdge(from, to string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if targets, ok := g.forward[from]; ok {
		delete(targets, to)
	}
	if sources, ok := g.reverse[to]; ok {
		delete(sources, from)
	}
}

// SetDependencies replaces the forward edge set of path: stale edges are
// removed, new ones added, reverse edges kept consistent. Other nodes are
// untouched.
func (g *Graph) SetDependencies(path string, targets []string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.ensureAdjacencyLocked(path)

	wanted := make(map[string]struct{}, len(targets))
	for _, t := range targets {
		wanted[t] = struct{}{}
	}

	for current := range g.forward[path] {
		if _, keep := wanted[current]; !keep {
			delete(g.forward[path], current)
			delete(g.reverse[current], path)
		}
	}
	for target := range wanted {
		g.ensureAdjacencyLocked(target)
		g.forward[path][target] = struct{}{}
		g.reverse[target][path] = struct{}{}
	}
}

// Dependencies returns the direct forward neighbors of path, sorted.
func (g *Graph) Dependencies(path string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedKeys(g.forward[path])
}

// Dependents returns the direct reverse neighbors of path, sorted.
func (g *Graph) Dependents(path string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedKeys(g.reverse[path])
}

// Node returns a copy of one node with its neighbor sets.
func (g *Graph) Node(path string) (NodeInfo, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	meta, exists := g.nodes[path]
	if !exists {
		return NodeInfo{}, false
	}
	return NodeInfo{
		Path:         path,
		Size:         meta.size,
		ModTime:      meta.modTime,
		Dependencies: sortedKeys(g.forward[path]),
		Dependents:   sortedKeys(g.reverse[path]),
	}, true
}

// Nodes returns all node paths in insertion order.
func (g *Graph) Nodes() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// Len returns the node count.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// TransitiveDependencies returns every path forward-reachable from start,
// excluding start itself, sorted.
func (g *Graph) TransitiveDependencies(start string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.reachableLocked(start, g.forward)
}

// AffectedFiles returns every path reverse-reachable from start — the files
// whose contexts must be rebuilt when start changes — excluding start, sorted.
func (g *Graph) AffectedFiles(start string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.reachableLocked(start, g.reverse)
}

// DependencyDepth returns the shortest-path hop count from from to to over
// forward edges: 0 when equal, -1 when unreachable.
func (g *Graph) DependencyDepth(from, to string) int {
	if from == to {
		return 0
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	type hop struct {
		path  string
		depth int
	}
	visited := map[string]struct{}{from: {}}
	queue := []hop{{from, 0}}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for next := range g.forward[current.path] {
			if next == to {
				return current.depth + 1
			}
			if _, seen := visited[next]; seen {
				continue
			}
			visited[next] = struct{}{}
			queue = append(queue, hop{next, current.depth + 1})
		}
	}
	return -1
}

// IsDependentOn reports whether a transitively depends on b.
func (g *Graph) IsDependentOn(a, b string) bool {
	return g.DependencyDepth(a, b) > 0
}

// Stats summarizes the graph shape.
func (g *Graph) Stats() types.GraphStats {
	g.mu.RLock()
	defer g.mu.RUnlock()

	stats := types.GraphStats{TotalNodes: len(g.nodes)}

	for path := range g.nodes {
		edges := len(g.forward[path])
		stats.TotalEdges += edges
		if edges == 0 && len(g.reverse[path]) == 0 {
			stats.IsolatedNodes++
		}
	}
	if stats.TotalNodes > 0 {
		stats.AverageDependencies = float64(stats.TotalEdges) / float64(stats.TotalNodes)
	}
	stats.MaxDepth = g.maxDepthLocked()
	return stats
}

// reachableLocked walks adjacency iteratively from start, excluding start.
func (g *Graph) reachableLocked(start string, adjacency map[string]map[string]struct{}) []string {
	visited := make(map[string]struct{})
	stack := []string{start}

	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		for next := range adjacency[current] {
			if _, seen := visited[next]; seen {
				continue
			}
			if next == start {
				continue
			}
			visited[next] = struct{}{}
			stack = append(stack, next)
		}
	}

	return sortedKeys(visited)
}

// maxDepthLocked computes the longest dependency chain, treating edges that
// close a cycle as chain terminators.
func (g *Graph) maxDepthLocked() int {
	memo := make(map[string]int)
	inProgress := make(map[string]bool)

	type frame struct {
		path     string
		targets  []string
		nextIdx  int
		bestHops int
	}

	max := 0
	for _, start := range g.order {
		if _, done := memo[start]; done {
			continue
		}

		stack := []*frame{{path: start, targets: sortedKeys(g.forward[start])}}
		inProgress[start] = true

		for len(stack) > 0 {
			top := stack[len(stack)-1]

			if top.nextIdx < len(top.targets) {
				next := top.targets[top.nextIdx]
				top.nextIdx++

				if depth, done := memo[next]; done {
					if depth+1 > top.bestHops {
						top.bestHops = depth + 1
					}
					continue
				}
				if inProgress[next] {
					continue // back edge, terminate the chain here
				}
				inProgress[next] = true
				stack = append(stack, &frame{path: next, targets: sortedKeys(g.forward[next])})
				continue
			}

			memo[top.path] = top.bestHops
			delete(inProgress, top.path)
			stack = stack[:len(stack)-1]
			if len(stack) > 0 {
				parent := stack[len(stack)-1]
				if top.bestHops+1 > parent.bestHops {
					parent.bestHops = top.bestHops + 1
				}
			}
		}

		if memo[start] > max {
			max = memo[start]
		}
	}
	return max
}

func (g *Graph) ensureAdjacencyLocked(path string) {
	if g.forward[path] == nil {
		g.forward[path] = make(map[string]struct{})
	}
	if g.reverse[path] == nil {
		g.reverse[path] = make(map[string]struct{})
	}
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for key := range set {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

// ToDot emits a stable textual representation for diagnostics: one
// "src" -> "dst" line per edge inside a digraph envelope.
func (g *Graph) ToDot() string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var sb strings.Builder
	sb.WriteString("digraph dependencies {\n")

	paths := make([]string, 0, len(g.nodes))
	for path := range g.nodes {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		if len(g.forward[path]) == 0 && len(g.reverse[path]) == 0 {
			fmt.Fprintf(&sb, "  %q;\n", path)
		}
	}
	for _, path := range paths {
		for _, target := range sortedKeys(g.forward[path]) {
			fmt.Fprintf(&sb, "  %q -> %q;\n", path, target)
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}
