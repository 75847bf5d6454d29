package flows

import (
	"sort"

	"github.com/JakeFAU/screenwatch/internal/screens"
)

// DefaultMaxDepth bounds tree expansion: a root plus three further levels.
const DefaultMaxDepth = 4

// TreeNode is a route plus the routes reached from it within the same flow.
type TreeNode struct {
	screens.Route
	// Label is the route name with its flow affix removed.
	Label    string      `json:"label"`
	Depth    int         `json:"depth"`
	Children []*TreeNode `json:"children"`
}

// Forest maps a flow name to its root nodes in route-list order.
type Forest map[string][]*TreeNode

// FlowNames returns the forest's flow names sorted lexicographically.
func (f Forest) FlowNames() []string {
	names := make([]string, 0, len(f))
	for name := range f {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Options tunes tree construction.
type Options struct {
	// MaxDepth is the number of levels kept below and including each root.
	MaxDepth int
}

// BuildFlowTrees builds the forest with DefaultMaxDepth.
func BuildFlowTrees(routes []screens.Route, conns []screens.Connection) Forest {
	return Build(routes, conns, Options{MaxDepth: DefaultMaxDepth})
}

// Build reconstructs, per flow, the trees of primary in-flow navigation.
//
// Only routes touched by a connection appear. Cross-flow edges, self-loops,
// duplicates and edges naming unknown routes are ignored. A flow whose connected
// routes all have an in-flow parent falls back to its first connected route as
// the sole root.
func Build(routes []screens.Route, conns []screens.Connection, opts Options) Forest {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	g := newGraph(routes, conns)
	connected := g.connected()

	children := make(map[string][]string)
	hasParent := make(map[string]bool)
	for _, e := range g.edges {
		if g.flowOf(e.from) != g.flowOf(e.to) {
			continue
		}
		children[e.from] = append(children[e.from], e.to)
		hasParent[e.to] = true
	}

	roots := make(map[string][]string)
	firstInFlow := make(map[string]string)
	var flowOrder []string
	for _, id := range g.order {
		if !connected[id] {
			continue
		}
		flow := g.flowOf(id)
		if _, ok := firstInFlow[flow]; !ok {
			firstInFlow[flow] = id
			flowOrder = append(flowOrder, flow)
		}
		if !hasParent[id] {
			roots[flow] = append(roots[flow], id)
		}
	}

	w := walker{routes: g.routes, children: children, maxDepth: opts.MaxDepth}
	forest := make(Forest, len(flowOrder))
	for _, flow := range flowOrder {
		ids := roots[flow]
		if len(ids) == 0 {
			ids = []string{firstInFlow[flow]}
		}
		nodes := make([]*TreeNode, 0, len(ids))
		for _, id := range ids {
			nodes = append(nodes, w.expand(id))
		}
		forest[flow] = nodes
	}
	return forest
}

type walker struct {
	routes   map[string]screens.Route
	children map[string][]string
	maxDepth int
}

type frame struct {
	routeID string
	parent  *TreeNode
	depth   int
}

// expand walks depth-first from rootID with an explicit stack. Each route is
// placed at most once per walk and nodes at maxDepth-1 are not expanded.
func (w walker) expand(rootID string) *TreeNode {
	visited := make(map[string]struct{})
	var root *TreeNode

	stack := []frame{{routeID: rootID}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, seen := visited[f.routeID]; seen {
			continue
		}
		visited[f.routeID] = struct{}{}

		route := w.routes[f.routeID]
		node := &TreeNode{
			Route:    route,
			Label:    CleanScreenName(route.Name, route.Flow()),
			Depth:    f.depth,
			Children: []*TreeNode{},
		}
		if f.parent == nil {
			root = node
		} else {
			f.parent.Children = append(f.parent.Children, node)
		}

		if f.depth+1 >= w.maxDepth {
			continue
		}
		kids := w.children[f.routeID]
		// Reverse push so the first edge is expanded first.
		for i := len(kids) - 1; i >= 0; i-- {
			if _, seen := visited[kids[i]]; seen {
				continue
			}
			stack = append(stack, frame{routeID: kids[i], parent: node, depth: f.depth + 1})
		}
	}
	return root
}

// Unconnected returns the routes that no tree includes, in route-list order.
func Unconnected(routes []screens.Route, conns []screens.Connection) []screens.Route {
	g := newGraph(routes, conns)
	connected := g.connected()
	out := make([]screens.Route, 0)
	for _, id := range g.order {
		if !connected[id] {
			out = append(out, g.routes[id])
		}
	}
	return out
}
