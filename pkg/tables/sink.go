package tables

import "context"

// Sink stores table rows.
//
// WriteBatch is only ever called by the Writer that owns table, so sinks
// may keep per-table state without locking it against itself. Calls for
// different tables can be concurrent.
type Sink interface {
	WriteBatch(ctx context.Context, table string, rows []any) error
	WriteManifest(ctx context.Context, m Manifest) error
	Close(ctx context.Context) error
}
