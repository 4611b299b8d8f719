// Package storage defines persistence interfaces for the gateway.
package storage

import (
	"context"

	warden "github.com/eugener/warden/internal"
)

// StreamStore manages stream audit record persistence.
type StreamStore interface {
	InsertStreamRecords(ctx context.Context, records []warden.StreamRecord) error
	QueryStreamRecords(ctx context.Context, f warden.StreamFilter) ([]warden.StreamRecord, error)
	CountStreamRecords(ctx context.Context, f warden.StreamFilter) (int, error)
}

// Store combines all storage interfaces.
type Store interface {
	StreamStore

	Ping(ctx context.Context) error
	Close() error
}
