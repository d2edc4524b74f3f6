package watch

import (
	"context"
	"time"
)

// Registry lists watched resources and accepts check write-backs.
type Registry interface {
	ListResources(ctx context.Context) ([]Resource, error)
	MarkChecked(ctx context.Context, id int64, at time.Time, status Status) error
	MarkChanged(ctx context.Context, id int64, at time.Time) error
}

// Catalog extends Registry with the management operations used by the API
// and the CLI.
type Catalog interface {
	Registry
	GetResource(ctx context.Context, id int64) (Resource, error)
	AddResource(ctx context.Context, res Resource) (Resource, error)
	DeleteResource(ctx context.Context, id int64) error
}

// HistoryStore retains the most recent fetch records per resource.
type HistoryStore interface {
	// Record appends rec and prunes the resource down to the retention size.
	Record(ctx context.Context, rec FetchRecord) error
	// LatestFingerprint returns the newest stored fingerprint, if any.
	LatestFingerprint(ctx context.Context, resourceID int64) (string, bool, error)
}

// HistoryReader exposes retained records for the read side of the API.
type HistoryReader interface {
	LatestRecord(ctx context.Context, resourceID int64) (FetchRecord, error)
	ListRecords(ctx context.Context, resourceID int64) ([]FetchRecord, error)
	RecordAt(ctx context.Context, resourceID int64, at time.Time) (FetchRecord, error)
}

// Store is the full persistence surface a backend provides.
type Store interface {
	Catalog
	HistoryStore
	HistoryReader
	// Reset drops all resources and history.
	Reset(ctx context.Context) error
	Close() error
}

// Fetcher retrieves a resource body. A non-nil error is a fetch failure.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Publisher delivers change events to live subscribers.
type Publisher interface {
	Publish(evt ChangeEvent)
}

// Hasher computes the fingerprint digest.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}
