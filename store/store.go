// Package store defines the composite Store interface for all outhook
// persistence.
//
// Each subsystem defines its own store interface, and the aggregate Store
// composes them all; backends implement the whole surface.
package store

import (
	"context"

	"github.com/RestDB/outhook/delivery"
	"github.com/RestDB/outhook/dlq"
	"github.com/RestDB/outhook/event"
	"github.com/RestDB/outhook/subscription"
)

// Store is the aggregate persistence interface.
type Store interface {
	subscription.Store
	event.Store
	delivery.Store
	dlq.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
