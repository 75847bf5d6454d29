package screens

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrConflict signals that a record with the same identity already exists.
var ErrConflict = errors.New("record already exists")

// ProductStore persists tracked products.
type ProductStore interface {
	CreateProduct(ctx context.Context, product Product) error
	GetProduct(ctx context.Context, productID string) (Product, error)
	ListProducts(ctx context.Context) ([]Product, error)
}

// RouteStore persists the screens of a product.
type RouteStore interface {
	CreateRoute(ctx context.Context, route Route) error
	GetRoute(ctx context.Context, routeID string) (Route, error)
	// ListRoutes returns a product's routes in creation order.
	ListRoutes(ctx context.Context, productID string) ([]Route, error)
}

// CaptureStore persists screenshot captures.
type CaptureStore interface {
	InsertCapture(ctx context.Context, capture Capture) error
	// LatestCapture returns the newest capture of a route or ErrNotFound.
	LatestCapture(ctx context.Context, routeID string) (Capture, error)
	// ListCaptures returns up to limit captures, newest first.
	ListCaptures(ctx context.Context, routeID string, limit int) ([]Capture, error)
	Summarize(ctx context.Context, productID string) (ProductSummary, error)
}

// ConnectionStore persists navigation edges.
type ConnectionStore interface {
	// AddConnection stores an edge; duplicates are ignored.
	AddConnection(ctx context.Context, conn Connection) error
	ListConnections(ctx context.Context, productID string) ([]Connection, error)
}

// SweepStore persists sweep lifecycle metadata.
type SweepStore interface {
	CreateSweep(ctx context.Context, sweep Sweep) error
	UpdateSweepStatus(ctx context.Context, sweepID string, status SweepStatus, errText string, counters SweepCounters) error
	GetSweep(ctx context.Context, sweepID string) (Sweep, error)
	LatestSweep(ctx context.Context, productID string) (Sweep, error)
}

// Repository bundles every store a deployment needs.
type Repository interface {
	ProductStore
	RouteStore
	CaptureStore
	ConnectionStore
	SweepStore
	Close() error
}

// BlobStore writes screenshots and returns a URI that a BlobFetcher can resolve.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// BlobFetcher resolves a stored screenshot URI back to its bytes.
type BlobFetcher interface {
	Fetch(ctx context.Context, uri string) ([]byte, error)
}

// Publisher pushes change notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Screenshotter renders a URL in a browser and returns the encoded image.
type Screenshotter interface {
	Screenshot(ctx context.Context, request ScreenshotRequest) (ScreenshotResponse, error)
}

// Queue provides enqueue/dequeue semantics for sweeps.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Limiter paces navigations per host.
type Limiter interface {
	Wait(ctx context.Context, url string) error
}

// Hasher computes digests for blob naming.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces record IDs.
type IDGenerator interface {
	NewID() (string, error)
}
