// Package screens defines the core records and collaborator interfaces shared
// across the sweep pipeline, the stores, and the HTTP API.
package screens

import (
	"time"
)

// UngroupedFlow labels routes that have not been assigned to a flow.
const UngroupedFlow = "Ungrouped"

// SweepStatus represents the lifecycle state of a capture sweep.
type SweepStatus string

// Sweep status values persisted in the sweep store.
const (
	SweepStatusQueued    SweepStatus = "queued"
	SweepStatusRunning   SweepStatus = "running"
	SweepStatusSucceeded SweepStatus = "succeeded"
	SweepStatusFailed    SweepStatus = "failed"
	SweepStatusCanceled  SweepStatus = "canceled"
)

// IsTerminal reports whether the status will no longer change.
func (s SweepStatus) IsTerminal() bool {
	switch s {
	case SweepStatusSucceeded, SweepStatusFailed, SweepStatusCanceled:
		return true
	default:
		return false
	}
}

// Product is a tracked web application.
type Product struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	BaseURL   string    `json:"staging_url"`
	CreatedAt time.Time `json:"created_at"`
}

// Route is a distinct screen of a product.
type Route struct {
	ID        string `json:"id"`
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Path      string `json:"path"`
	// FlowName is empty for routes not yet categorized.
	FlowName     string  `json:"flow_name,omitempty"`
	ParentFlowID *string `json:"parent_flow_id,omitempty"`
	FlowLevel    *int    `json:"flow_level,omitempty"`
	FlowOrder    *int    `json:"flow_order,omitempty"`
}

// Flow returns the route's flow label, defaulting to UngroupedFlow.
func (r Route) Flow() string {
	if r.FlowName == "" {
		return UngroupedFlow
	}
	return r.FlowName
}

// Capture is one screenshot of a route together with its change-detection result.
type Capture struct {
	ID             string    `json:"id"`
	RouteID        string    `json:"route_id"`
	SweepID        string    `json:"sweep_id,omitempty"`
	ScreenshotURL  string    `json:"screenshot_url"`
	ContentHash    string    `json:"content_hash,omitempty"`
	CapturedAt     time.Time `json:"captured_at"`
	HasChanges     bool      `json:"has_changes"`
	ChangeSummary  *string   `json:"change_summary"`
	DiffPercentage float64   `json:"diff_percentage"`
}

// Connection is a directed navigation edge observed between two routes.
type Connection struct {
	ProductID     string `json:"product_id,omitempty"`
	SourceRouteID string `json:"source_route_id"`
	DestRouteID   string `json:"destination_route_id"`
}

// IsSelfLoop reports whether the edge points back at its source.
func (c Connection) IsSelfLoop() bool {
	return c.SourceRouteID == c.DestRouteID
}

// SweepCounters tracks per-sweep outcomes.
type SweepCounters struct {
	RoutesCaptured int `json:"routes_captured"`
	RoutesChanged  int `json:"routes_changed"`
	RoutesFailed   int `json:"routes_failed"`
}

// Sweep is one capture pass over every route of a product.
type Sweep struct {
	ID        string        `json:"id"`
	ProductID string        `json:"product_id"`
	Status    SweepStatus   `json:"status"`
	Submitted time.Time     `json:"submitted_at"`
	Started   *time.Time    `json:"started_at,omitempty"`
	Finished  *time.Time    `json:"finished_at,omitempty"`
	ErrorText string        `json:"error_text,omitempty"`
	Counters  SweepCounters `json:"counters"`
}

// ProductSummary aggregates dashboard headline numbers for a product.
type ProductSummary struct {
	ProductID       string     `json:"product_id"`
	RouteCount      int        `json:"route_count"`
	ChangedCaptures int        `json:"changed_captures"`
	LatestCapture   *time.Time `json:"latest_capture_at,omitempty"`
	FlowNames       []string   `json:"flow_names"`
}

// ScreenshotRequest captures everything needed to screenshot one route.
type ScreenshotRequest struct {
	SweepID string
	RouteID string
	URL     string
}

// ScreenshotResponse is the result returned by a Screenshotter.
type ScreenshotResponse struct {
	URL         string
	StatusCode  int
	Image       []byte
	ContentType string
	Duration    time.Duration
}

// QueueItem wraps a sweep ready to run.
type QueueItem struct {
	SweepID   string
	ProductID string
	Attempt   int
	Submitted int64
}
