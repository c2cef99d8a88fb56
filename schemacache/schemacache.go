// Package schemacache keeps the last seen schema of every source table.
package schemacache

import (
	"context"
	"time"

	"github.com/go-playground/errors"

	"github.com/Trendyol/go-db-sync/internal/keylock"
	"github.com/Trendyol/go-db-sync/internal/kv"
	"github.com/Trendyol/go-db-sync/schema"
)

type Record struct {
	TableID     string              `json:"table_id"`
	Fingerprint schema.Fingerprint  `json:"fingerprint_hash"`
	Columns     []schema.ColumnSpec `json:"column_list_snapshot"`
	CapturedAt  time.Time           `json:"captured_at"`
}

// NewRecord snapshots spec under tableID.
func NewRecord(tableID string, spec *schema.TableSpec) Record {
	columns := make([]schema.ColumnSpec, len(spec.Columns))
	copy(columns, spec.Columns)
	return Record{
		TableID:     tableID,
		Fingerprint: schema.FingerprintOf(spec),
		Columns:     columns,
		CapturedAt:  time.Now().UTC(),
	}
}

type Store struct {
	kv    kv.Store
	locks *keylock.Locker
}

func New(store kv.Store) *Store {
	return &Store{kv: store, locks: keylock.New()}
}

// Get returns nil when the table has never been cached.
func (s *Store) Get(ctx context.Context, tableID string) (*Record, error) {
	unlock := s.locks.Lock(tableID)
	defer unlock()

	var r Record
	ok, err := s.kv.Get(ctx, tableID, &r)
	if err != nil {
		return nil, errors.Wrapf(err, "get schema record %s", tableID)
	}
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (s *Store) Put(ctx context.Context, r Record) error {
	if r.TableID == "" {
		return errors.New("schema record without table id")
	}

	unlock := s.locks.Lock(r.TableID)
	defer unlock()

	if r.CapturedAt.IsZero() {
		r.CapturedAt = time.Now().UTC()
	}
	if err := s.kv.Put(ctx, r.TableID, r); err != nil {
		return errors.Wrapf(err, "put schema record %s", r.TableID)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, tableID string) error {
	unlock := s.locks.Lock(tableID)
	defer unlock()

	if err := s.kv.Delete(ctx, tableID); err != nil {
		return errors.Wrapf(err, "delete schema record %s", tableID)
	}
	return nil
}

func (s *Store) Close() error {
	return s.kv.Close()
}
