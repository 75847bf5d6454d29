package flows

import (
	"github.com/JakeFAU/screenwatch/internal/screens"
)

// FlowBreadcrumbs maps each flow to the flow that most often navigates into it.
//
// Only deduplicated edges between different flows count. Ties go to the
// lexicographically smallest source flow. Flows with no incoming cross-flow
// edge are absent from the result.
func FlowBreadcrumbs(routes []screens.Route, conns []screens.Connection) map[string]string {
	g := newGraph(routes, conns)

	incoming := make(map[string]map[string]int)
	for _, e := range g.edges {
		src, dst := g.flowOf(e.from), g.flowOf(e.to)
		if src == dst {
			continue
		}
		if incoming[dst] == nil {
			incoming[dst] = make(map[string]int)
		}
		incoming[dst][src]++
	}

	out := make(map[string]string, len(incoming))
	for dst, sources := range incoming {
		best, bestCount := "", 0
		for src, n := range sources {
			if n > bestCount || (n == bestCount && src < best) {
				best, bestCount = src, n
			}
		}
		out[dst] = best
	}
	return out
}

// Ancestry maps each route in the forest to the labels of its ancestors,
// root first. A route reachable from several roots keeps the first chain
// found when flows are visited in name order.
func Ancestry(forest Forest) map[string][]string {
	out := make(map[string][]string)

	type item struct {
		node  *TreeNode
		chain []string
	}
	for _, flow := range forest.FlowNames() {
		for _, root := range forest[flow] {
			queue := []item{{node: root, chain: []string{}}}
			for len(queue) > 0 {
				it := queue[0]
				queue = queue[1:]
				if _, done := out[it.node.ID]; !done {
					out[it.node.ID] = it.chain
				}
				next := make([]string, len(it.chain), len(it.chain)+1)
				copy(next, it.chain)
				next = append(next, it.node.Label)
				for _, child := range it.node.Children {
					queue = append(queue, item{node: child, chain: next})
				}
			}
		}
	}
	return out
}
