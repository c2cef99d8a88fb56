package sqlite

import (
	"context"
	goerrors "errors"
	"strconv"
	"strings"

	"github.com/Trendyol/go-db-sync/config"
	"github.com/Trendyol/go-db-sync/connector"
	"github.com/Trendyol/go-db-sync/connector/dbsql"
	"github.com/Trendyol/go-db-sync/schema"
	"github.com/go-playground/errors"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLITE_MAX_VARIABLE_NUMBER default since 3.32.
const maxParams = 32766

type Connector struct {
	*dbsql.DB
}

func New(cfg config.DatabaseConfig) *Connector {
	return &Connector{DB: dbsql.New(Dialect{}, "sqlite", cfg.DSN())}
}

const introspectQuery = `SELECT name, type, "notnull", pk FROM pragma_table_info(?) ORDER BY cid`

func (c *Connector) IntrospectSchema(ctx context.Context, table string) (*schema.TableSpec, error) {
	if c.Conn() == nil {
		return nil, connector.SchemaError(table, errors.New("connection not open"))
	}

	rows, err := c.Conn().QueryContext(ctx, introspectQuery, table)
	if err != nil {
		return nil, connector.SchemaError(table, err)
	}
	defer rows.Close()

	spec := &schema.TableSpec{Name: table}
	for rows.Next() {
		var (
			name, declared string
			notNull, pk    int
		)
		if err = rows.Scan(&name, &declared, &notNull, &pk); err != nil {
			return nil, connector.SchemaError(table, err)
		}

		lt, ok := MapType(declared)
		if !ok {
			return nil, connector.SchemaError(table, errors.Newf("column %s has unmappable type %q", name, declared))
		}

		spec.Columns = append(spec.Columns, schema.ColumnSpec{
			Name:     name,
			Type:     lt,
			Nullable: notNull == 0 && pk == 0,
			IsKey:    pk > 0,
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

// MapType maps a declared SQLite column type. SQLite accepts any declaration, so only
// the names the translator itself emits and the common aliases are recognized.
func MapType(declared string) (schema.LogicalType, bool) {
	base, args := splitDeclared(declared)

	switch base {
	case "INTEGER", "BIGINT", "INT8", "UNSIGNED BIG INT":
		return schema.LogicalType{Kind: schema.BigInt}, true
	case "INT", "MEDIUMINT", "INT4":
		return schema.LogicalType{Kind: schema.Integer}, true
	case "SMALLINT", "TINYINT", "INT2":
		return schema.LogicalType{Kind: schema.SmallInt}, true
	case "BOOLEAN", "BOOL":
		return schema.LogicalType{Kind: schema.Boolean}, true
	case "DECIMAL", "NUMERIC":
		lt := schema.LogicalType{Kind: schema.Decimal}
		if len(args) > 0 {
			lt.Precision = args[0]
		}
		if len(args) > 1 {
			lt.Scale = args[1]
		}
		return lt, true
	case "FLOAT":
		return schema.LogicalType{Kind: schema.Float}, true
	case "REAL", "DOUBLE", "DOUBLE PRECISION":
		return schema.LogicalType{Kind: schema.Double}, true
	case "VARCHAR", "CHARACTER VARYING", "NVARCHAR", "VARYING CHARACTER":
		lt := schema.LogicalType{Kind: schema.Varchar}
		if len(args) > 0 {
			lt.Length = args[0]
		}
		return lt, true
	case "CHAR", "CHARACTER", "NCHAR":
		lt := schema.LogicalType{Kind: schema.Char}
		if len(args) > 0 {
			lt.Length = args[0]
		}
		return lt, true
	case "TEXT", "CLOB":
		return schema.LogicalType{Kind: schema.Text}, true
	case "DATE":
		return schema.LogicalType{Kind: schema.Date}, true
	case "TIME":
		return schema.LogicalType{Kind: schema.Time}, true
	case "DATETIME", "TIMESTAMP":
		return schema.LogicalType{Kind: schema.Timestamp}, true
	case "TIMESTAMPTZ", "TIMESTAMP WITH TIME ZONE":
		return schema.LogicalType{Kind: schema.TimestampTZ}, true
	case "BLOB", "BINARY", "VARBINARY":
		return schema.LogicalType{Kind: schema.Binary}, true
	case "JSON":
		return schema.LogicalType{Kind: schema.JSON}, true
	case "UUID":
		return schema.LogicalType{Kind: schema.UUID}, true
	}
	return schema.LogicalType{Kind: schema.Unknown}, false
}

func splitDeclared(declared string) (string, []int) {
	declared = strings.ToUpper(strings.TrimSpace(declared))
	base, rest, ok := strings.Cut(declared, "(")
	base = strings.Join(strings.Fields(base), " ")
	if !ok {
		return base, nil
	}

	rest, _, _ = strings.Cut(rest, ")")
	var args []int
	for _, p := range strings.Split(rest, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return base, nil
		}
		args = append(args, n)
	}
	return base, args
}

type Dialect struct{}

func (Dialect) Kind() connector.Kind { return connector.KindSQLite }

func (Dialect) Placeholder(int) string { return "?" }

func (Dialect) MaxParams() int { return maxParams }

func (d Dialect) SelectBatch(spec *schema.TableSpec, bounded bool, limit int) string {
	return dbsql.LimitSelect(connector.KindSQLite, d, spec, bounded, limit)
}

func (d Dialect) Upsert(spec *schema.TableSpec, cols []schema.ColumnSpec, rows int) string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(connector.QualifiedName(connector.KindSQLite, spec))
	b.WriteString(" (" + strings.Join(connector.QuoteAll(connector.KindSQLite, names), ", ") + ") VALUES ")
	b.WriteString(dbsql.Placeholders(d, rows, len(cols)))

	keys, rest := connector.SplitKeys(cols)
	if len(keys) == 0 {
		return b.String()
	}

	b.WriteString(" ON CONFLICT (" + strings.Join(connector.QuoteAll(connector.KindSQLite, keys), ", ") + ")")
	if len(rest) == 0 {
		b.WriteString(" DO NOTHING")
		return b.String()
	}

	b.WriteString(" DO UPDATE SET ")
	for i, name := range rest {
		if i > 0 {
			b.WriteString(", ")
		}
		q := connector.QuoteIdentifier(connector.KindSQLite, name)
		b.WriteString(q + " = excluded." + q)
	}
	return b.String()
}

func (Dialect) IsRetryable(err error) bool {
	var sErr *sqlite.Error
	if goerrors.As(err, &sErr) {
		switch sErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
	}
	return false
}
