package postgres

import (
	"context"
	"database/sql/driver"
	goerrors "errors"
	"strconv"
	"strings"

	"github.com/Trendyol/go-db-sync/config"
	"github.com/Trendyol/go-db-sync/connector"
	"github.com/Trendyol/go-db-sync/internal/slice"
	"github.com/Trendyol/go-db-sync/logger"
	"github.com/Trendyol/go-db-sync/schema"
	"github.com/go-playground/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const maxParams = 65535

type Connector struct {
	conn   *pgx.Conn
	dsn    string
	schema string
}

func New(cfg config.DatabaseConfig) *Connector {
	return &Connector{dsn: cfg.DSN(), schema: cfg.Schema}
}

func (c *Connector) Kind() connector.Kind {
	return connector.KindPostgres
}

func (c *Connector) Connect(ctx context.Context) error {
	if c.conn != nil && !c.conn.IsClosed() {
		return nil
	}

	conn, err := pgx.Connect(ctx, c.dsn)
	if err != nil {
		return connector.ConnectionError("connect", err)
	}

	if err = conn.Ping(ctx); err != nil {
		_ = conn.Close(context.Background())
		return connector.ConnectionError("ping", err)
	}

	c.conn = conn
	logger.Debug("[connector] connected", "kind", connector.KindPostgres)
	return nil
}

// ensureConnection redials when the connection was never opened or pgx closed it
// after a network failure, so a retried operation does not reuse a dead handle.
func (c *Connector) ensureConnection(ctx context.Context) error {
	if c.conn != nil && !c.conn.IsClosed() {
		return nil
	}
	if c.conn != nil {
		logger.Warn("[connector] reconnecting", "kind", connector.KindPostgres)
	}
	return c.Connect(ctx)
}

func (c *Connector) Close(ctx context.Context) error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close(ctx)
	c.conn = nil
	if err != nil {
		return errors.Wrap(err, "close postgres connection")
	}
	return nil
}

const introspectQuery = `SELECT c.column_name, c.data_type, c.is_nullable,
       c.character_maximum_length, c.numeric_precision, c.numeric_scale,
       EXISTS (
           SELECT 1
           FROM information_schema.table_constraints tc
           JOIN information_schema.key_column_usage ku
             ON tc.constraint_name = ku.constraint_name
            AND tc.table_schema = ku.table_schema
            AND tc.table_name = ku.table_name
           WHERE tc.constraint_type = 'PRIMARY KEY'
             AND tc.table_schema = c.table_schema
             AND tc.table_name = c.table_name
             AND ku.column_name = c.column_name
       ) AS is_key
FROM information_schema.columns c
WHERE c.table_schema = $1 AND c.table_name = $2
ORDER BY c.ordinal_position`

func (c *Connector) IntrospectSchema(ctx context.Context, table string) (*schema.TableSpec, error) {
	if err := c.ensureConnection(ctx); err != nil {
		return nil, err
	}

	schemaName, name := connector.SplitTableName(table, c.schema)

	rows, err := c.conn.Query(ctx, introspectQuery, schemaName, name)
	if err != nil {
		if isRetryable(err) {
			return nil, connector.ConnectionError("introspect "+table, err)
		}
		return nil, connector.SchemaError(table, err)
	}
	defer rows.Close()

	spec := &schema.TableSpec{Schema: schemaName, Name: name}
	for rows.Next() {
		var (
			colName, dataType, nullable string
			length, precision, scale    *int64
			isKey                       bool
		)
		if err = rows.Scan(&colName, &dataType, &nullable, &length, &precision, &scale, &isKey); err != nil {
			return nil, connector.SchemaError(table, err)
		}

		lt, ok := MapType(dataType, deref(length), deref(precision), deref(scale))
		if !ok {
			return nil, connector.SchemaError(table, errors.Newf("column %s has unmappable type %s", colName, dataType))
		}

		spec.Columns = append(spec.Columns, schema.ColumnSpec{
			Name:     colName,
			Type:     lt,
			Nullable: strings.EqualFold(nullable, "YES"),
			IsKey:    isKey,
		})
	}

	if err = rows.Err(); err != nil {
		return nil, connector.SchemaError(table, err)
	}

	if len(spec.Columns) == 0 {
		return nil, connector.SchemaError(table, connector.ErrTableNotFound)
	}

	return spec, nil
}

func deref(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}

// MapType maps information_schema data_type names.
func MapType(dataType string, length, precision, scale int64) (schema.LogicalType, bool) {
	switch strings.ToLower(dataType) {
	case "smallint":
		return schema.LogicalType{Kind: schema.SmallInt}, true
	case "integer":
		return schema.LogicalType{Kind: schema.Integer}, true
	case "bigint":
		return schema.LogicalType{Kind: schema.BigInt}, true
	case "numeric", "decimal":
		return schema.LogicalType{Kind: schema.Decimal, Precision: int(precision), Scale: int(scale)}, true
	case "real":
		return schema.LogicalType{Kind: schema.Float}, true
	case "double precision":
		return schema.LogicalType{Kind: schema.Double}, true
	case "boolean":
		return schema.LogicalType{Kind: schema.Boolean}, true
	case "character":
		return schema.LogicalType{Kind: schema.Char, Length: int(length)}, true
	case "character varying":
		if length == 0 {
			return schema.LogicalType{Kind: schema.Text}, true
		}
		return schema.LogicalType{Kind: schema.Varchar, Length: int(length)}, true
	case "text":
		return schema.LogicalType{Kind: schema.Text}, true
	case "date":
		return schema.LogicalType{Kind: schema.Date}, true
	case "time without time zone":
		return schema.LogicalType{Kind: schema.Time}, true
	case "timestamp without time zone":
		return schema.LogicalType{Kind: schema.Timestamp}, true
	case "timestamp with time zone":
		return schema.LogicalType{Kind: schema.TimestampTZ}, true
	case "bytea":
		return schema.LogicalType{Kind: schema.Binary}, true
	case "json", "jsonb":
		return schema.LogicalType{Kind: schema.JSON}, true
	case "uuid":
		return schema.LogicalType{Kind: schema.UUID}, true
	}
	return schema.LogicalType{Kind: schema.Unknown}, false
}

func (c *Connector) ReadBatch(ctx context.Context, spec *schema.TableSpec, lower schema.Watermark, limit int) (*connector.Batch, error) {
	table := spec.QualifiedName()
	if err := c.ensureConnection(ctx); err != nil {
		return nil, err
	}

	wm, ok := spec.WatermarkColumn()
	if !ok {
		return nil, connector.ReadError(table, errors.Newf("no watermark column designated for %s", table), false)
	}

	var args []any
	if !lower.IsZero() {
		args = append(args, lower.Value())
	}

	rows, err := c.conn.Query(ctx, SelectBatch(spec, !lower.IsZero(), limit), args...)
	if err != nil {
		return nil, connector.ReadError(table, err, isRetryable(err))
	}
	defer rows.Close()

	batch := &connector.Batch{Rows: make([]connector.Row, 0, limit)}
	for rows.Next() {
		values, vErr := rows.Values()
		if vErr != nil {
			return nil, connector.ReadError(table, vErr, isRetryable(vErr))
		}

		row := make(connector.Row, len(spec.Columns))
		for i, col := range spec.Columns {
			row[col.Name] = normalize(values[i])
		}
		batch.Rows = append(batch.Rows, row)
	}

	if err = rows.Err(); err != nil {
		return nil, connector.ReadError(table, err, isRetryable(err))
	}

	if len(batch.Rows) > 0 {
		last := batch.Rows[len(batch.Rows)-1][wm.Name]
		if batch.Last, err = schema.WatermarkFor(wm.Type, last); err != nil {
			return nil, connector.ReadError(table, err, false)
		}
	}

	return batch, nil
}

// normalize flattens pgx values that carry their own wrapper types.
func normalize(v any) any {
	switch t := v.(type) {
	case int16:
		return int64(t)
	case int32:
		return int64(t)
	case [16]byte:
		return uuid.UUID(t).String()
	case driver.Valuer:
		if dv, err := t.Value(); err == nil {
			return dv
		}
	}
	return v
}

func (c *Connector) WriteBatch(ctx context.Context, spec *schema.TableSpec, batch *connector.Batch) (connector.WriteResult, error) {
	table := spec.QualifiedName()
	if batch.IsEmpty() {
		return connector.WriteResult{}, nil
	}
	if err := c.ensureConnection(ctx); err != nil {
		return connector.WriteResult{}, err
	}

	cols := connector.WriteColumns(spec, batch)
	if len(cols) == 0 {
		return connector.WriteResult{}, connector.WriteError(table, errors.Newf("batch shares no columns with %s", table), false)
	}

	err := pgx.BeginFunc(ctx, c.conn, func(tx pgx.Tx) error {
		keys, _ := connector.SplitKeys(cols)
		if len(keys) == 0 {
			return copyRows(ctx, tx, spec, cols, batch.Rows)
		}

		for _, rows := range slice.Chunk(batch.Rows, connector.ChunkSize(maxParams, len(cols))) {
			args := make([]any, 0, len(rows)*len(cols))
			for _, r := range rows {
				for _, col := range cols {
					args = append(args, r[col.Name])
				}
			}

			if _, err := tx.Exec(ctx, Upsert(spec, cols, len(rows)), args...); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return connector.WriteResult{}, connector.WriteError(table, err, isRetryable(err))
	}

	return connector.WriteResult{RowsWritten: int64(len(batch.Rows))}, nil
}

// copyRows uses the COPY protocol for tables without a key, where no conflict can be resolved anyway.
func copyRows(ctx context.Context, tx pgx.Tx, spec *schema.TableSpec, cols []schema.ColumnSpec, rows []connector.Row) error {
	names := make([]string, len(cols))
	for i, col := range cols {
		names[i] = col.Name
	}

	_, err := tx.CopyFrom(ctx, pgx.Identifier{spec.Schema, spec.Name}, names, pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
		values := make([]any, len(cols))
		for j, col := range cols {
			values[j] = rows[i][col.Name]
		}
		return values, nil
	}))
	return err
}

func (c *Connector) ExecuteDDL(ctx context.Context, statement string) error {
	if err := c.ensureConnection(ctx); err != nil {
		return err
	}
	if _, err := c.conn.Exec(ctx, statement); err != nil {
		return connector.DDLError(statement, err)
	}
	return nil
}

func SelectBatch(spec *schema.TableSpec, bounded bool, limit int) string {
	wm := connector.QuoteIdentifier(connector.KindPostgres, spec.Watermark)
	expr := connector.WatermarkExpr(connector.KindPostgres, spec)

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(strings.Join(connector.QuoteAll(connector.KindPostgres, spec.ColumnNames()), ", "))
	b.WriteString(" FROM ")
	b.WriteString(connector.QualifiedName(connector.KindPostgres, spec))
	if bounded {
		b.WriteString(" WHERE " + expr + " > $1")
	} else {
		b.WriteString(" WHERE " + wm + " IS NOT NULL")
	}
	b.WriteString(" ORDER BY " + expr + " ASC LIMIT " + strconv.Itoa(limit))
	return b.String()
}

func Upsert(spec *schema.TableSpec, cols []schema.ColumnSpec, rows int) string {
	names := make([]string, len(cols))
	for i, col := range cols {
		names[i] = col.Name
	}

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(connector.QualifiedName(connector.KindPostgres, spec))
	b.WriteString(" (" + strings.Join(connector.QuoteAll(connector.KindPostgres, names), ", ") + ") VALUES ")

	n := 1
	for r := range rows {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for i := range cols {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString("$" + strconv.Itoa(n))
			n++
		}
		b.WriteByte(')')
	}

	keys, rest := connector.SplitKeys(cols)
	if len(keys) == 0 {
		return b.String()
	}

	b.WriteString(" ON CONFLICT (" + strings.Join(connector.QuoteAll(connector.KindPostgres, keys), ", ") + ")")
	if len(rest) == 0 {
		b.WriteString(" DO NOTHING")
		return b.String()
	}

	b.WriteString(" DO UPDATE SET ")
	for i, name := range rest {
		if i > 0 {
			b.WriteString(", ")
		}
		q := connector.QuoteIdentifier(connector.KindPostgres, name)
		b.WriteString(q + " = EXCLUDED." + q)
	}
	return b.String()
}

var retryableStates = map[string]struct{}{
	"40001": {}, // serialization_failure
	"40P01": {}, // deadlock_detected
	"55P03": {}, // lock_not_available
	"57P01": {}, // admin_shutdown
	"57P02": {}, // crash_shutdown
	"57P03": {}, // cannot_connect_now
	"53300": {}, // too_many_connections
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if goerrors.As(err, &pgErr) {
		if strings.HasPrefix(pgErr.Code, "08") {
			return true
		}
		_, ok := retryableStates[pgErr.Code]
		return ok
	}

	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return true
	}

	return connector.IsTransient(err)
}
