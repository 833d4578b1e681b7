package domain

import "context"

// DedupIndex remembers external message ids for a bounded time.
type DedupIndex interface {
	Seen(ctx context.Context, externalID string) (bool, error)
	Record(ctx context.Context, externalID string) error
	// CheckAndRecord atomically records the id and reports whether it was
	// already present.
	CheckAndRecord(ctx context.Context, externalID string) (bool, error)
}
