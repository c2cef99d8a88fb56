// Package connector defines the capability set every database engine variant
// implements: connect, introspect a table, read an ordered batch above a watermark,
// upsert a batch and execute DDL.
package connector

import (
	"context"

	"github.com/Trendyol/go-db-sync/schema"
)

type Kind string

const (
	KindMySQL    Kind = "mysql"
	KindPostgres Kind = "postgres"
	KindSQLite   Kind = "sqlite"
	KindMSSQL    Kind = "mssql"
)

// Kinds lists the supported engines.
var Kinds = []Kind{KindMySQL, KindPostgres, KindSQLite, KindMSSQL}

type Connector interface {
	Kind() Kind

	// Connect opens the connection and verifies it with a ping.
	// Failures are retryable ConnectionErrors.
	Connect(ctx context.Context) error

	// Close releases the connection. It is safe to call on a connector that never connected.
	Close(ctx context.Context) error

	// IntrospectSchema describes a table. A missing table yields a SchemaError wrapping
	// ErrTableNotFound, an unmappable column type a plain SchemaError.
	IntrospectSchema(ctx context.Context, table string) (*schema.TableSpec, error)

	// ReadBatch returns at most limit rows whose watermark is strictly greater than
	// lower, ordered ascending by watermark. An empty batch means the table is exhausted.
	ReadBatch(ctx context.Context, spec *schema.TableSpec, lower schema.Watermark, limit int) (*Batch, error)

	// WriteBatch upserts the rows keyed on the table's key columns, or inserts them
	// when the table has none. The whole batch is written in one transaction.
	WriteBatch(ctx context.Context, spec *schema.TableSpec, batch *Batch) (WriteResult, error)

	ExecuteDDL(ctx context.Context, statement string) error
}

type Row map[string]any

type Batch struct {
	Rows []Row
	// Last is the watermark of the final row.
	Last schema.Watermark
}

func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Rows)
}

func (b *Batch) IsEmpty() bool {
	return b.Len() == 0
}

type WriteResult struct {
	RowsWritten int64
}
