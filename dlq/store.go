package dlq

import (
	"context"
	"time"

	"github.com/RestDB/outhook/id"
)

// Store defines the persistence contract for the dead letter queue.
type Store interface {
	// Push creates a DLQ entry from an exhausted delivery.
	Push(ctx context.Context, entry *Entry) error

	// GetDLQ returns a DLQ entry by ID.
	GetDLQ(ctx context.Context, dlqID id.ID) (*Entry, error)

	// ListDLQ returns DLQ entries matching the given options, newest first.
	ListDLQ(ctx context.Context, opts ListOpts) ([]*Entry, error)

	// Replay re-enqueues the delivery behind a DLQ entry and marks the
	// entry replayed.
	Replay(ctx context.Context, dlqID id.ID) error

	// ReplayBulk re-enqueues all unreplayed entries within a time range and
	// returns how many were replayed.
	ReplayBulk(ctx context.Context, from, to time.Time) (int64, error)

	// Purge removes entries that failed before the given time and returns
	// how many were removed.
	Purge(ctx context.Context, before time.Time) (int64, error)

	// CountDLQ returns the total number of DLQ entries.
	CountDLQ(ctx context.Context) (int64, error)
}
