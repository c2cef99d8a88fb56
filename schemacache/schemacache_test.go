package schemacache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Trendyol/go-db-sync/internal/kv"
	"github.com/Trendyol/go-db-sync/schema"
)

func ordersSpec() *schema.TableSpec {
	return &schema.TableSpec{
		Name: "orders",
		Columns: []schema.ColumnSpec{
			{Name: "id", Type: schema.LogicalType{Kind: schema.BigInt}, IsKey: true},
			{Name: "note", Type: schema.LogicalType{Kind: schema.Varchar, Length: 64}, Nullable: true},
		},
	}
}

func TestStore(t *testing.T) {
	ctx := context.Background()

	fileStore, err := kv.NewFileStore(t.TempDir())
	require.NoError(t, err)
	store := New(fileStore)
	defer store.Close()

	t.Run("should return nil for an unknown table", func(t *testing.T) {
		r, err := store.Get(ctx, "orders")
		require.NoError(t, err)
		assert.Nil(t, r)
	})

	t.Run("should persist a snapshot of the columns", func(t *testing.T) {
		spec := ordersSpec()
		record := NewRecord("orders", spec)
		require.NoError(t, store.Put(ctx, record))

		spec.Columns[1].Name = "changed"

		got, err := store.Get(ctx, "orders")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, schema.FingerprintOf(ordersSpec()), got.Fingerprint)
		assert.Equal(t, "note", got.Columns[1].Name)
		assert.Equal(t, schema.LogicalType{Kind: schema.Varchar, Length: 64}, got.Columns[1].Type)
		assert.False(t, got.CapturedAt.IsZero())
	})

	t.Run("should reject a record without table id", func(t *testing.T) {
		assert.Error(t, store.Put(ctx, Record{}))
	})

	t.Run("should delete a record", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, "orders"))
		r, err := store.Get(ctx, "orders")
		require.NoError(t, err)
		assert.Nil(t, r)
	})
}
