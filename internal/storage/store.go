// Package storage holds the document store backends for message records.
// Every backend only ever inserts; records are immutable once written.
package storage

import (
	"context"
	"errors"
	"fmt"

	"form-relay/internal/model"
)

var ErrUnknownDriver = errors.New("unknown store driver")

// DocumentStore is the narrow insert interface the relay persists through.
type DocumentStore interface {
	InsertMessage(ctx context.Context, record *model.Record) error
	Close(ctx context.Context) error
}

type Options struct {
	Driver     string
	URI        string
	Database   string
	Collection string
}

// Open connects the configured backend. Connections are pooled by the
// driver and reused across inserts.
func Open(ctx context.Context, opts Options) (DocumentStore, error) {
	switch opts.Driver {
	case "mongodb":
		return NewMongoStore(ctx, opts.URI, opts.Database, opts.Collection)
	case "postgres":
		return NewPostgresStore(ctx, opts.URI, opts.Collection)
	case "badger":
		return NewBadgerStore(opts.URI, opts.Collection)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, opts.Driver)
	}
}
