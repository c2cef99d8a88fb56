// Package offset persists the sync progress of every table pair.
package offset

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/errors"

	"github.com/Trendyol/go-db-sync/internal/keylock"
	"github.com/Trendyol/go-db-sync/internal/kv"
	"github.com/Trendyol/go-db-sync/schema"
)

// Offset is the last committed position of a table pair. The zero Offset means
// the pair has never been synced.
type Offset struct {
	TableID       string           `json:"table_id"`
	Watermark     schema.Watermark `json:"watermark_value"`
	BatchSequence int64            `json:"batch_sequence"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

func (o Offset) IsZero() bool {
	return o.BatchSequence == 0 && o.Watermark.IsZero()
}

// Next is the offset that follows o once a batch ending at w is written.
func (o Offset) Next(w schema.Watermark) Offset {
	return Offset{
		TableID:       o.TableID,
		Watermark:     w,
		BatchSequence: o.BatchSequence + 1,
	}
}

// OutOfOrderError rejects a commit that would move an offset backwards.
type OutOfOrderError struct {
	TableID  string
	Current  Offset
	Proposed Offset
}

func (e *OutOfOrderError) Error() string {
	return fmt.Sprintf("out of order offset commit on %s: sequence %d watermark %s after sequence %d watermark %s",
		e.TableID, e.Proposed.BatchSequence, e.Proposed.Watermark, e.Current.BatchSequence, e.Current.Watermark)
}

type Store struct {
	kv    kv.Store
	locks *keylock.Locker
}

func New(store kv.Store) *Store {
	return &Store{kv: store, locks: keylock.New()}
}

// Get returns the committed offset, or a zero Offset carrying only the table id.
func (s *Store) Get(ctx context.Context, tableID string) (Offset, error) {
	unlock := s.locks.Lock(tableID)
	defer unlock()

	return s.get(ctx, tableID)
}

func (s *Store) get(ctx context.Context, tableID string) (Offset, error) {
	var o Offset
	ok, err := s.kv.Get(ctx, tableID, &o)
	if err != nil {
		return Offset{}, errors.Wrapf(err, "get offset %s", tableID)
	}
	if !ok {
		return Offset{TableID: tableID}, nil
	}
	return o, nil
}

// Commit durably replaces the offset of tableID. The batch sequence must grow and the
// watermark must not go back, otherwise an *OutOfOrderError is returned and nothing is written.
func (s *Store) Commit(ctx context.Context, tableID string, next Offset) (Offset, error) {
	unlock := s.locks.Lock(tableID)
	defer unlock()

	current, err := s.get(ctx, tableID)
	if err != nil {
		return Offset{}, err
	}

	next.TableID = tableID
	if next.BatchSequence <= current.BatchSequence {
		return Offset{}, &OutOfOrderError{TableID: tableID, Current: current, Proposed: next}
	}
	cmp, err := next.Watermark.Compare(current.Watermark)
	if err != nil {
		return Offset{}, errors.Wrapf(err, "compare offset %s", tableID)
	}
	if cmp < 0 {
		return Offset{}, &OutOfOrderError{TableID: tableID, Current: current, Proposed: next}
	}

	next.UpdatedAt = time.Now().UTC()
	if err = s.kv.Put(ctx, tableID, next); err != nil {
		return Offset{}, errors.Wrapf(err, "commit offset %s", tableID)
	}
	return next, nil
}

// Reset forgets the offset so the next run starts from the beginning of the table.
func (s *Store) Reset(ctx context.Context, tableID string) error {
	unlock := s.locks.Lock(tableID)
	defer unlock()

	if err := s.kv.Delete(ctx, tableID); err != nil {
		return errors.Wrapf(err, "reset offset %s", tableID)
	}
	return nil
}

// TableIDs lists every table pair with a committed offset.
func (s *Store) TableIDs(ctx context.Context) ([]string, error) {
	ids, err := s.kv.Keys(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list offsets")
	}
	return ids, nil
}

func (s *Store) Close() error {
	return s.kv.Close()
}
