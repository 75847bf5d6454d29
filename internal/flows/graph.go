// Package flows reconstructs per-flow navigation trees from the flat set of
// page-to-page connections recorded while crawling, derives flow-level
// breadcrumbs, and cleans screen names for sidebar display.
//
// Every function here is a pure transform over an in-memory snapshot of routes
// and connections; inputs are never mutated and no input shape causes a panic
// or error, so callers can invoke them per read request without coordination.
package flows

import (
	"github.com/JakeFAU/screenwatch/internal/screens"
)

type edge struct {
	from, to string
}

// graph is the indexed form of a route/connection snapshot.
type graph struct {
	routes map[string]screens.Route
	order  []string
	// edges holds deduplicated, known-endpoint, non-self-loop connections in first-seen order.
	edges []edge
}

func newGraph(routes []screens.Route, conns []screens.Connection) *graph {
	g := &graph{
		routes: make(map[string]screens.Route, len(routes)),
		order:  make([]string, 0, len(routes)),
	}
	for _, r := range routes {
		if _, dup := g.routes[r.ID]; dup {
			continue
		}
		g.routes[r.ID] = r
		g.order = append(g.order, r.ID)
	}

	seen := make(map[edge]struct{}, len(conns))
	for _, c := range conns {
		if c.IsSelfLoop() {
			continue
		}
		if _, ok := g.routes[c.SourceRouteID]; !ok {
			continue
		}
		if _, ok := g.routes[c.DestRouteID]; !ok {
			continue
		}
		e := edge{from: c.SourceRouteID, to: c.DestRouteID}
		if _, dup := seen[e]; dup {
			continue
		}
		seen[e] = struct{}{}
		g.edges = append(g.edges, e)
	}
	return g
}

func (g *graph) flowOf(routeID string) string {
	return g.routes[routeID].Flow()
}

// connected returns the routes touched by at least one edge.
func (g *graph) connected() map[string]bool {
	out := make(map[string]bool)
	for _, e := range g.edges {
		out[e.from] = true
		out[e.to] = true
	}
	return out
}

// NormalizeConnections drops self-loops and duplicate edges while preserving
// first-seen order.
func NormalizeConnections(conns []screens.Connection) []screens.Connection {
	seen := make(map[edge]struct{}, len(conns))
	out := make([]screens.Connection, 0, len(conns))
	for _, c := range conns {
		if c.IsSelfLoop() {
			continue
		}
		e := edge{from: c.SourceRouteID, to: c.DestRouteID}
		if _, dup := seen[e]; dup {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, c)
	}
	return out
}
