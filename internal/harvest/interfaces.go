package harvest

import (
	"context"
	"time"
)

// StreamIndex fetches the published list of streams.
type StreamIndex interface {
	FetchStreams(ctx context.Context) ([]StreamDescriptor, error)
}

// GoldCopyRequester submits a single catalog-export request.
type GoldCopyRequester interface {
	GoldCopyRequest(ctx context.Context, params RequestParams) (RequestResponse, error)
}

// OnDemandRequester runs the two-phase estimate-then-submit flow.
type OnDemandRequester interface {
	Estimate(ctx context.Context, params RequestParams) (Estimate, error)
	Submit(ctx context.Context, params RequestParams, estimate Estimate) (RequestResponse, error)
}

// JobPoller reports whether an asynchronous job is still running.
type JobPoller interface {
	InProgress(ctx context.Context, statusURL string) (bool, error)
}

// CatalogFetcher retrieves a raw catalog listing.
type CatalogFetcher interface {
	FetchCatalog(ctx context.Context, catalogURL string) ([]byte, error)
}

// ExistingDataProbe reports the last timestamp already harvested for a table.
// ok is false when no existing data is found.
type ExistingDataProbe interface {
	LastTime(ctx context.Context, path, tableName string, settings map[string]any) (last time.Time, ok bool, err error)
}

// Publisher pushes status events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
