// Package dbsql carries the database/sql plumbing shared by the MySQL, SQLite and
// SQL Server connectors. Each engine supplies a Dialect and its own introspection.
package dbsql

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	"github.com/Trendyol/go-db-sync/connector"
	"github.com/Trendyol/go-db-sync/internal/slice"
	"github.com/Trendyol/go-db-sync/logger"
	"github.com/Trendyol/go-db-sync/schema"
	"github.com/go-playground/errors"
)

type Dialect interface {
	Kind() connector.Kind
	// Placeholder renders the n-th bind parameter, starting at 1.
	Placeholder(n int) string
	MaxParams() int
	SelectBatch(spec *schema.TableSpec, bounded bool, limit int) string
	Upsert(spec *schema.TableSpec, cols []schema.ColumnSpec, rows int) string
	// IsRetryable classifies engine error codes. Network failures are handled by connector.IsTransient.
	IsRetryable(err error) bool
}

// Normalizer is implemented by dialects whose drivers return values that Normalize
// cannot interpret on its own.
type Normalizer interface {
	Normalize(t schema.LogicalType, v any) any
}

type DB struct {
	dialect    Dialect
	driverName string
	dsn        string
	db         *sql.DB
}

func New(dialect Dialect, driverName, dsn string) *DB {
	return &DB{dialect: dialect, driverName: driverName, dsn: dsn}
}

func (d *DB) Kind() connector.Kind {
	return d.dialect.Kind()
}

func (d *DB) Conn() *sql.DB {
	return d.db
}

func (d *DB) Connect(ctx context.Context) error {
	if d.db != nil {
		return nil
	}

	db, err := sql.Open(d.driverName, d.dsn)
	if err != nil {
		return connector.ConnectionError("open", err)
	}
	db.SetMaxOpenConns(1)

	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return connector.ConnectionError("ping", err)
	}

	d.db = db
	logger.Debug("[connector] connected", "kind", d.Kind())
	return nil
}

func (d *DB) Close(_ context.Context) error {
	if d.db == nil {
		return nil
	}
	err := d.db.Close()
	d.db = nil
	if err != nil {
		return errors.Wrap(err, "close connection")
	}
	return nil
}

func (d *DB) ExecuteDDL(ctx context.Context, statement string) error {
	if d.db == nil {
		return connector.DDLError(statement, errors.New("connection not open"))
	}
	if _, err := d.db.ExecContext(ctx, statement); err != nil {
		return connector.DDLError(statement, err)
	}
	return nil
}

func (d *DB) ReadBatch(ctx context.Context, spec *schema.TableSpec, lower schema.Watermark, limit int) (*connector.Batch, error) {
	table := spec.QualifiedName()
	if d.db == nil {
		return nil, connector.ReadError(table, errors.New("connection not open"), true)
	}

	wm, ok := spec.WatermarkColumn()
	if !ok {
		return nil, connector.ReadError(table, errors.Newf("no watermark column designated for %s", table), false)
	}

	var args []any
	if !lower.IsZero() {
		args = append(args, lower.Value())
	}

	rows, err := d.db.QueryContext(ctx, d.dialect.SelectBatch(spec, !lower.IsZero(), limit), args...)
	if err != nil {
		return nil, connector.ReadError(table, err, d.retryable(err))
	}
	defer rows.Close()

	normalize := Normalize
	if n, ok := d.dialect.(Normalizer); ok {
		normalize = n.Normalize
	}

	batch := &connector.Batch{Rows: make([]connector.Row, 0, limit)}
	for rows.Next() {
		values := make([]any, len(spec.Columns))
		ptrs := make([]any, len(spec.Columns))
		for i := range values {
			ptrs[i] = &values[i]
		}

		if err = rows.Scan(ptrs...); err != nil {
			return nil, connector.ReadError(table, err, d.retryable(err))
		}

		row := make(connector.Row, len(spec.Columns))
		for i, c := range spec.Columns {
			row[c.Name] = normalize(c.Type, values[i])
		}
		batch.Rows = append(batch.Rows, row)
	}

	if err = rows.Err(); err != nil {
		return nil, connector.ReadError(table, err, d.retryable(err))
	}

	if len(batch.Rows) > 0 {
		last := batch.Rows[len(batch.Rows)-1][wm.Name]
		if batch.Last, err = schema.WatermarkFor(wm.Type, last); err != nil {
			return nil, connector.ReadError(table, err, false)
		}
	}

	return batch, nil
}

func (d *DB) WriteBatch(ctx context.Context, spec *schema.TableSpec, batch *connector.Batch) (connector.WriteResult, error) {
	table := spec.QualifiedName()
	if batch.IsEmpty() {
		return connector.WriteResult{}, nil
	}
	if d.db == nil {
		return connector.WriteResult{}, connector.WriteError(table, errors.New("connection not open"), true)
	}

	cols := connector.WriteColumns(spec, batch)
	if len(cols) == 0 {
		return connector.WriteResult{}, connector.WriteError(table, errors.Newf("batch shares no columns with %s", table), false)
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return connector.WriteResult{}, connector.WriteError(table, err, d.retryable(err))
	}

	for _, rows := range slice.Chunk(batch.Rows, connector.ChunkSize(d.dialect.MaxParams(), len(cols))) {
		args := make([]any, 0, len(rows)*len(cols))
		for _, r := range rows {
			for _, c := range cols {
				args = append(args, r[c.Name])
			}
		}

		if _, err = tx.ExecContext(ctx, d.dialect.Upsert(spec, cols, len(rows)), args...); err != nil {
			_ = tx.Rollback()
			return connector.WriteResult{}, connector.WriteError(table, err, d.retryable(err))
		}
	}

	if err = tx.Commit(); err != nil {
		return connector.WriteResult{}, connector.WriteError(table, err, d.retryable(err))
	}

	return connector.WriteResult{RowsWritten: int64(len(batch.Rows))}, nil
}

func (d *DB) retryable(err error) bool {
	return d.dialect.IsRetryable(err) || connector.IsTransient(err)
}

// Normalize converts driver values scanned into any so that textual numbers and
// strings returned as bytes carry the column's logical kind.
func Normalize(t schema.LogicalType, v any) any {
	raw, ok := v.([]byte)
	if !ok {
		return v
	}

	switch t.Family() {
	case schema.FamilyBinary:
		return append([]byte(nil), raw...)
	case schema.FamilyInteger:
		if n, err := strconv.ParseInt(string(raw), 10, 64); err == nil {
			return n
		}
	case schema.FamilyNumeric:
		if t.Kind != schema.Decimal {
			if f, err := strconv.ParseFloat(string(raw), 64); err == nil {
				return f
			}
		}
	case schema.FamilyBoolean:
		if b, err := strconv.ParseBool(string(raw)); err == nil {
			return b
		}
	}
	return string(raw)
}

// Placeholders renders one VALUES tuple list for rows rows of width columns.
func Placeholders(d Dialect, rows, width int) string {
	var b strings.Builder
	n := 1
	for r := range rows {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for c := range width {
			if c > 0 {
				b.WriteString(", ")
			}
			b.WriteString(d.Placeholder(n))
			n++
		}
		b.WriteByte(')')
	}
	return b.String()
}

// LimitSelect renders the batch query for engines that support LIMIT.
func LimitSelect(kind connector.Kind, d Dialect, spec *schema.TableSpec, bounded bool, limit int) string {
	wm := connector.QuoteIdentifier(kind, spec.Watermark)
	expr := connector.WatermarkExpr(kind, spec)

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(strings.Join(connector.QuoteAll(kind, spec.ColumnNames()), ", "))
	b.WriteString(" FROM ")
	b.WriteString(connector.QualifiedName(kind, spec))
	if bounded {
		b.WriteString(" WHERE " + expr + " > " + d.Placeholder(1))
	} else {
		b.WriteString(" WHERE " + wm + " IS NOT NULL")
	}
	b.WriteString(" ORDER BY " + expr + " ASC LIMIT " + strconv.Itoa(limit))
	return b.String()
}
