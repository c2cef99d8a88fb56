// Package kv stores small JSON records by key. Offsets and schema snapshots are
// both kept through it, on the file system or in a SQLite database.
package kv

import (
	"context"
	"errors"
)

var ErrClosed = errors.New("store closed")

type Store interface {
	// Get decodes the record stored under key into dst and reports whether it existed.
	Get(ctx context.Context, key string, dst any) (bool, error)
	// Put replaces the record under key atomically.
	Put(ctx context.Context, key string, v any) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
	Close() error
}
