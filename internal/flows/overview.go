package flows

import (
	"sort"

	"github.com/JakeFAU/screenwatch/internal/screens"
)

// Screen is a route with its display label.
type Screen struct {
	screens.Route
	Label string `json:"label"`
}

// Overview is everything a navigation sidebar needs for one product.
type Overview struct {
	Flows       Forest              `json:"flows"`
	FlowNames   []string            `json:"flow_names"`
	Breadcrumbs map[string]string   `json:"breadcrumbs"`
	Ancestry    map[string][]string `json:"ancestry"`
	Unconnected []Screen            `json:"unconnected"`
	Hierarchy   []*FlowNode         `json:"hierarchy"`
}

// Describe builds the forest, breadcrumbs, ancestry and flow hierarchy of a
// product's routes.
// FlowNames covers every flow a route belongs to, connected or not.
func Describe(routes []screens.Route, conns []screens.Connection) Overview {
	forest := BuildFlowTrees(routes, conns)

	names := map[string]struct{}{}
	for _, r := range routes {
		names[r.Flow()] = struct{}{}
	}
	flowNames := make([]string, 0, len(names))
	for name := range names {
		flowNames = append(flowNames, name)
	}
	sort.Strings(flowNames)

	loose := Unconnected(routes, conns)
	unconnected := make([]Screen, 0, len(loose))
	for _, r := range loose {
		unconnected = append(unconnected, Screen{Route: r, Label: CleanScreenName(r.Name, r.Flow())})
	}

	return Overview{
		Flows:       forest,
		FlowNames:   flowNames,
		Breadcrumbs: FlowBreadcrumbs(routes, conns),
		Ancestry:    Ancestry(forest),
		Unconnected: unconnected,
		Hierarchy:   Hierarchy(routes),
	}
}
