package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-cli/internal/model"
)

// ErrNotFound is returned when a collection lookup matches no row.
var ErrNotFound = eris.New("store: not found")

// Store defines the persistence interface for collections, the duplicate
// registry index, opaque blobs (cache tier, checkpoint) and accounting.
type Store interface {
	// Collections
	CreateCollection(ctx context.Context, name string) (*model.Collection, error)
	GetCollection(ctx context.Context, id string) (*model.Collection, error)
	ListCollections(ctx context.Context) ([]model.Collection, error)
	DeleteCollection(ctx context.Context, id string) error

	// Records
	PutRecord(ctx context.Context, collectionID, fingerprint string, rec *model.Record) error
	GetAll(ctx context.Context, collectionID string) ([]model.Record, error)
	HasRecord(ctx context.Context, collectionID, fingerprint string) (bool, error)

	// Registry index. inserted is true when the fingerprint was absent, or
	// is already held by the same collection for the same claimant.
	InsertFingerprint(ctx context.Context, fingerprint, collectionID, claimant string) (owner string, inserted bool, err error)

	// Blobs
	GetBlob(ctx context.Context, key string) ([]byte, error)
	PutBlob(ctx context.Context, key string, data []byte) error
	DeleteBlob(ctx context.Context, key string) error
	ListBlobs(ctx context.Context, prefix string) (map[string][]byte, error)
	DeleteBlobs(ctx context.Context, prefix string) (int, error)

	// Usage
	RecordUsage(ctx context.Context, ev model.UsageEvent) error
	UsageTotals(ctx context.Context) ([]model.UsageTotal, error)

	// Failed queries
	RecordFailure(ctx context.Context, fq model.FailedQuery) error
	ListFailures(ctx context.Context, limit int) ([]model.FailedQuery, error)
	ClearFailures(ctx context.Context) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// likePrefix escapes a key prefix for a LIKE pattern using '\' as escape.
func likePrefix(prefix string) string {
	out := make([]rune, 0, len(prefix)+1)
	for _, r := range prefix {
		if r == '%' || r == '_' || r == '\\' {
			out = append(out, '\\')
		}
		out = append(out, r)
	}
	return string(append(out, '%'))
}
