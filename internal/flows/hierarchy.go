package flows

import (
	"sort"

	"github.com/JakeFAU/screenwatch/internal/screens"
)

// FlowNode is one flow in the flow-metadata hierarchy. A flow is identified by
// its name, so a route's ParentFlowID names the parent flow.
type FlowNode struct {
	Name        string      `json:"name"`
	ParentFlow  string      `json:"parent_flow,omitempty"`
	Level       int         `json:"level"`
	Order       int         `json:"order"`
	OwnScreens  int         `json:"own_screen_count"`
	ScreenCount int         `json:"screen_count"`
	Children    []*FlowNode `json:"children"`
}

// Hierarchy links the named flows of a product into a tree by their parent
// flow metadata. Siblings are sorted by level, then order, then name.
// ScreenCount includes the screens of every descendant.
//
// A flow's metadata comes from the first route, in list order, that sets each
// field. A flow whose parent is unknown, is itself, or would close a cycle is
// promoted to a root. Ungrouped routes have no flow and are not counted.
func Hierarchy(routes []screens.Route) []*FlowNode {
	nodes := map[string]*FlowNode{}
	var names []string
	for _, r := range routes {
		if r.FlowName == "" {
			continue
		}
		node, ok := nodes[r.FlowName]
		if !ok {
			node = &FlowNode{Name: r.FlowName, Level: -1, Order: -1, Children: []*FlowNode{}}
			nodes[r.FlowName] = node
			names = append(names, r.FlowName)
		}
		node.OwnScreens++
		if node.ParentFlow == "" && r.ParentFlowID != nil {
			node.ParentFlow = *r.ParentFlowID
		}
		if node.Level < 0 && r.FlowLevel != nil {
			node.Level = *r.FlowLevel
		}
		if node.Order < 0 && r.FlowOrder != nil {
			node.Order = *r.FlowOrder
		}
	}
	for _, node := range nodes {
		node.Level = max(node.Level, 0)
		node.Order = max(node.Order, 0)
	}

	sort.SliceStable(names, func(i, j int) bool {
		a, b := nodes[names[i]], nodes[names[j]]
		if a.Level != b.Level {
			return a.Level < b.Level
		}
		if a.Order != b.Order {
			return a.Order < b.Order
		}
		return a.Name < b.Name
	})

	attached := map[string]string{}
	roots := []*FlowNode{}
	for _, name := range names {
		node := nodes[name]
		parent, ok := nodes[node.ParentFlow]
		if !ok || parent == node || closesCycle(attached, parent.Name, name) {
			roots = append(roots, node)
			continue
		}
		attached[name] = parent.Name
		parent.Children = append(parent.Children, node)
	}

	for _, root := range roots {
		rollUp(root)
	}
	return roots
}

// closesCycle reports whether child is already an ancestor of parent.
func closesCycle(attached map[string]string, parent, child string) bool {
	for cur, ok := parent, true; ok; cur, ok = attached[cur] {
		if cur == child {
			return true
		}
	}
	return false
}

func rollUp(node *FlowNode) int {
	node.ScreenCount = node.OwnScreens
	for _, child := range node.Children {
		node.ScreenCount += rollUp(child)
	}
	return node.ScreenCount
}
