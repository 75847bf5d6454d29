package flows

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/screenwatch/internal/screens"
)

func route(id, flow string) screens.Route {
	return screens.Route{ID: id, Name: id, FlowName: flow}
}

func conn(from, to string) screens.Connection {
	return screens.Connection{SourceRouteID: from, DestRouteID: to}
}

func ids(nodes []*TreeNode) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.ID)
	}
	return out
}

// countIDs tallies how often each route appears in a subtree.
func countIDs(n *TreeNode, into map[string]int) {
	into[n.ID]++
	for _, c := range n.Children {
		countIDs(c, into)
	}
}

func TestBuildFlowTrees_AcyclicChain(t *testing.T) {
	t.Parallel()

	routes := []screens.Route{route("A", "Onboarding"), route("B", "Onboarding"), route("C", "Onboarding")}
	forest := BuildFlowTrees(routes, []screens.Connection{conn("A", "B"), conn("B", "C")})

	require.Len(t, forest, 1)
	roots := forest["Onboarding"]
	require.Len(t, roots, 1)
	a := roots[0]
	require.Equal(t, "A", a.ID)
	require.Len(t, a.Children, 1)
	b := a.Children[0]
	require.Equal(t, "B", b.ID)
	require.Len(t, b.Children, 1)
	c := b.Children[0]
	require.Equal(t, "C", c.ID)
	require.NotNil(t, c.Children)
	require.Empty(t, c.Children)
	require.Equal(t, []int{0, 1, 2}, []int{a.Depth, b.Depth, c.Depth})
}

func TestBuildFlowTrees_CycleFallsBackToFirstRoute(t *testing.T) {
	t.Parallel()

	routes := []screens.Route{route("A", "Loop"), route("B", "Loop")}
	forest := BuildFlowTrees(routes, []screens.Connection{conn("A", "B"), conn("B", "A")})

	roots := forest["Loop"]
	require.Len(t, roots, 1)
	require.Equal(t, "A", roots[0].ID)

	counts := map[string]int{}
	countIDs(roots[0], counts)
	require.Equal(t, map[string]int{"A": 1, "B": 1}, counts)
}

func TestBuildFlowTrees_CycleFallbackFollowsRouteOrder(t *testing.T) {
	t.Parallel()

	routes := []screens.Route{route("B", "Loop"), route("A", "Loop")}
	forest := BuildFlowTrees(routes, []screens.Connection{conn("A", "B"), conn("B", "A")})

	require.Equal(t, []string{"B"}, ids(forest["Loop"]))
	require.Equal(t, []string{"A"}, ids(forest["Loop"][0].Children))
}

func TestBuildFlowTrees_CrossFlowEdgesIgnored(t *testing.T) {
	t.Parallel()

	routes := []screens.Route{route("x1", "X"), route("y1", "Y")}
	forest := BuildFlowTrees(routes, []screens.Connection{conn("x1", "y1")})

	require.Equal(t, []string{"x1"}, ids(forest["X"]))
	require.Empty(t, forest["X"][0].Children)
	require.Equal(t, []string{"y1"}, ids(forest["Y"]))
	require.Empty(t, forest["Y"][0].Children)
}

func TestBuildFlowTrees_UnconnectedRoutesExcluded(t *testing.T) {
	t.Parallel()

	routes := []screens.Route{route("A", "F"), route("B", "F"), route("lonely", "F"), route("other", "G")}
	conns := []screens.Connection{conn("A", "B")}
	forest := BuildFlowTrees(routes, conns)

	require.Len(t, forest, 1)
	require.Equal(t, []string{"A"}, ids(forest["F"]))

	flat := Unconnected(routes, conns)
	require.Len(t, flat, 2)
	require.Equal(t, "lonely", flat[0].ID)
	require.Equal(t, "other", flat[1].ID)
}

func TestBuildFlowTrees_SelfLoopsAndDuplicatesDropped(t *testing.T) {
	t.Parallel()

	routes := []screens.Route{route("A", "F"), route("B", "F"), route("solo", "F")}
	conns := []screens.Connection{conn("A", "B"), conn("A", "B"), conn("A", "A"), conn("solo", "solo")}
	forest := BuildFlowTrees(routes, conns)

	require.Equal(t, []string{"A"}, ids(forest["F"]))
	require.Equal(t, []string{"B"}, ids(forest["F"][0].Children))
}

func TestBuildFlowTrees_UngroupedSentinel(t *testing.T) {
	t.Parallel()

	routes := []screens.Route{route("A", ""), route("B", "")}
	forest := BuildFlowTrees(routes, []screens.Connection{conn("A", "B")})

	require.Contains(t, forest, screens.UngroupedFlow)
	require.Equal(t, []string{"A"}, ids(forest[screens.UngroupedFlow]))
}

func TestBuildFlowTrees_DepthIsCapped(t *testing.T) {
	t.Parallel()

	var routes []screens.Route
	var conns []screens.Connection
	for i := 0; i < 7; i++ {
		routes = append(routes, route(fmt.Sprintf("r%d", i), "Deep"))
		if i > 0 {
			conns = append(conns, conn(fmt.Sprintf("r%d", i-1), fmt.Sprintf("r%d", i)))
		}
	}
	forest := BuildFlowTrees(routes, conns)

	node := forest["Deep"][0]
	levels := 1
	for len(node.Children) > 0 {
		node = node.Children[0]
		levels++
	}
	require.Equal(t, DefaultMaxDepth, levels)
	require.Equal(t, "r3", node.ID)
}

func TestBuild_CustomDepth(t *testing.T) {
	t.Parallel()

	routes := []screens.Route{route("A", "F"), route("B", "F"), route("C", "F")}
	forest := Build(routes, []screens.Connection{conn("A", "B"), conn("B", "C")}, Options{MaxDepth: 2})

	require.Equal(t, []string{"B"}, ids(forest["F"][0].Children))
	require.Empty(t, forest["F"][0].Children[0].Children)
}

func TestBuildFlowTrees_DiamondVisitsOncePerWalk(t *testing.T) {
	t.Parallel()

	routes := []screens.Route{route("A", "F"), route("B", "F"), route("C", "F"), route("D", "F")}
	conns := []screens.Connection{conn("A", "B"), conn("A", "C"), conn("B", "D"), conn("C", "D")}
	forest := BuildFlowTrees(routes, conns)

	root := forest["F"][0]
	require.Equal(t, []string{"B", "C"}, ids(root.Children))
	require.Equal(t, []string{"D"}, ids(root.Children[0].Children))
	require.Empty(t, root.Children[1].Children)
}

func TestBuildFlowTrees_MultipleRootsKeepRouteOrder(t *testing.T) {
	t.Parallel()

	routes := []screens.Route{route("R2", "F"), route("C", "F"), route("R1", "F")}
	conns := []screens.Connection{conn("R1", "C"), conn("R2", "C")}
	forest := BuildFlowTrees(routes, conns)

	roots := forest["F"]
	require.Equal(t, []string{"R2", "R1"}, ids(roots))
	require.Equal(t, []string{"C"}, ids(roots[0].Children))
	require.Equal(t, []string{"C"}, ids(roots[1].Children))
}

func TestBuildFlowTrees_UnknownEndpointsIgnored(t *testing.T) {
	t.Parallel()

	routes := []screens.Route{route("A", "F")}
	forest := BuildFlowTrees(routes, []screens.Connection{conn("A", "ghost"), conn("ghost", "A")})

	require.Empty(t, forest)
}

func TestBuildFlowTrees_DoesNotMutateInputs(t *testing.T) {
	t.Parallel()

	routes := []screens.Route{route("A", "F"), route("B", "F")}
	conns := []screens.Connection{conn("A", "B"), conn("A", "B")}
	BuildFlowTrees(routes, conns)

	require.Len(t, conns, 2)
	require.Equal(t, "A", routes[0].ID)
}

func TestBuildFlowTrees_LabelsAreCleaned(t *testing.T) {
	t.Parallel()

	routes := []screens.Route{
		{ID: "1", Name: "Checkout - Cart", FlowName: "Checkout"},
		{ID: "2", Name: "Payment | Checkout", FlowName: "Checkout"},
	}
	forest := BuildFlowTrees(routes, []screens.Connection{conn("1", "2")})

	root := forest["Checkout"][0]
	require.Equal(t, "Cart", root.Label)
	require.Equal(t, "Checkout - Cart", root.Name)
	require.Equal(t, "Payment", root.Children[0].Label)
}

func TestNormalizeConnections(t *testing.T) {
	t.Parallel()

	got := NormalizeConnections([]screens.Connection{conn("a", "b"), conn("a", "a"), conn("a", "b"), conn("b", "a")})
	require.Equal(t, []screens.Connection{conn("a", "b"), conn("b", "a")}, got)
}

func TestForest_FlowNamesSorted(t *testing.T) {
	t.Parallel()

	f := Forest{"b": nil, "a": nil, "c": nil}
	require.Equal(t, []string{"a", "b", "c"}, f.FlowNames())
}
