package mysql

import (
	"context"
	"database/sql"
	goerrors "errors"
	"strings"

	"github.com/Trendyol/go-db-sync/config"
	"github.com/Trendyol/go-db-sync/connector"
	"github.com/Trendyol/go-db-sync/connector/dbsql"
	"github.com/Trendyol/go-db-sync/schema"
	"github.com/go-playground/errors"
	gomysql "github.com/go-sql-driver/mysql"
)

const maxParams = 65535

type Connector struct {
	*dbsql.DB
	database string
}

func New(cfg config.DatabaseConfig) *Connector {
	return &Connector{
		DB:       dbsql.New(Dialect{}, "mysql", cfg.DSN()),
		database: cfg.Database,
	}
}

const introspectQuery = `SELECT COLUMN_NAME, DATA_TYPE, COLUMN_TYPE, IS_NULLABLE, COLUMN_KEY,
       CHARACTER_MAXIMUM_LENGTH, NUMERIC_PRECISION, NUMERIC_SCALE
FROM information_schema.COLUMNS
WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
ORDER BY ORDINAL_POSITION`

func (c *Connector) IntrospectSchema(ctx context.Context, table string) (*schema.TableSpec, error) {
	if c.Conn() == nil {
		return nil, connector.SchemaError(table, errors.New("connection not open"))
	}

	database, name := connector.SplitTableName(table, c.database)

	rows, err := c.Conn().QueryContext(ctx, introspectQuery, database, name)
	if err != nil {
		return nil, introspectError(table, err)
	}
	defer rows.Close()

	spec := &schema.TableSpec{Name: name}
	if database != c.database {
		spec.Schema = database
	}

	for rows.Next() {
		var (
			colName, dataType, columnType, nullable, key string
			length, precision, scale                     sql.NullInt64
		)
		if err = rows.Scan(&colName, &dataType, &columnType, &nullable, &key, &length, &precision, &scale); err != nil {
			return nil, introspectError(table, err)
		}

		lt, ok := MapType(dataType, columnType, length.Int64, precision.Int64, scale.Int64)
		if !ok {
			return nil, connector.SchemaError(table, errors.Newf("column %s has unmappable type %s", colName, columnType))
		}

		spec.Columns = append(spec.Columns, schema.ColumnSpec{
			Name:     colName,
			Type:     lt,
			Nullable: strings.EqualFold(nullable, "YES"),
			IsKey:    key == "PRI",
		})
	}

	if err = rows.Err(); err != nil {
		return nil, introspectError(table, err)
	}

	if len(spec.Columns) == 0 {
		return nil, connector.SchemaError(table, connector.ErrTableNotFound)
	}

	return spec, nil
}

func introspectError(table string, err error) error {
	if connector.IsTransient(err) {
		return connector.ConnectionError("introspect "+table, err)
	}
	return connector.SchemaError(table, err)
}

// MapType maps MySQL column types onto logical types.
func MapType(dataType, columnType string, length, precision, scale int64) (schema.LogicalType, bool) {
	columnType = strings.ToLower(columnType)
	unsigned := strings.Contains(columnType, "unsigned")

	switch strings.ToLower(dataType) {
	case "tinyint":
		if strings.HasPrefix(columnType, "tinyint(1)") {
			return schema.LogicalType{Kind: schema.Boolean}, true
		}
		return schema.LogicalType{Kind: schema.SmallInt}, true
	case "smallint", "year":
		if unsigned {
			return schema.LogicalType{Kind: schema.Integer}, true
		}
		return schema.LogicalType{Kind: schema.SmallInt}, true
	case "mediumint":
		return schema.LogicalType{Kind: schema.Integer}, true
	case "int", "integer":
		if unsigned {
			return schema.LogicalType{Kind: schema.BigInt}, true
		}
		return schema.LogicalType{Kind: schema.Integer}, true
	case "bigint":
		// unsigned values above MaxInt64 are rejected on read and coercion
		return schema.LogicalType{Kind: schema.BigInt}, true
	case "decimal", "numeric":
		return schema.LogicalType{Kind: schema.Decimal, Precision: int(precision), Scale: int(scale)}, true
	case "float":
		return schema.LogicalType{Kind: schema.Float}, true
	case "double", "real":
		return schema.LogicalType{Kind: schema.Double}, true
	case "bit":
		if columnType == "bit(1)" {
			return schema.LogicalType{Kind: schema.Boolean}, true
		}
		return schema.LogicalType{Kind: schema.Binary}, true
	case "char":
		return schema.LogicalType{Kind: schema.Char, Length: int(length)}, true
	case "varchar", "enum", "set":
		return schema.LogicalType{Kind: schema.Varchar, Length: int(length)}, true
	case "tinytext", "text", "mediumtext", "longtext":
		return schema.LogicalType{Kind: schema.Text}, true
	case "date":
		return schema.LogicalType{Kind: schema.Date}, true
	case "time":
		return schema.LogicalType{Kind: schema.Time}, true
	case "datetime", "timestamp":
		return schema.LogicalType{Kind: schema.Timestamp}, true
	case "binary", "varbinary", "tinyblob", "blob", "mediumblob", "longblob":
		return schema.LogicalType{Kind: schema.Binary}, true
	case "json":
		return schema.LogicalType{Kind: schema.JSON}, true
	}
	return schema.LogicalType{Kind: schema.Unknown}, false
}

type Dialect struct{}

func (Dialect) Kind() connector.Kind { return connector.KindMySQL }

func (Dialect) Placeholder(int) string { return "?" }

func (Dialect) MaxParams() int { return maxParams }

func (d Dialect) SelectBatch(spec *schema.TableSpec, bounded bool, limit int) string {
	return dbsql.LimitSelect(connector.KindMySQL, d, spec, bounded, limit)
}

func (d Dialect) Upsert(spec *schema.TableSpec, cols []schema.ColumnSpec, rows int) string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(connector.QualifiedName(connector.KindMySQL, spec))
	b.WriteString(" (" + strings.Join(connector.QuoteAll(connector.KindMySQL, names), ", ") + ") VALUES ")
	b.WriteString(dbsql.Placeholders(d, rows, len(cols)))

	keys, rest := connector.SplitKeys(cols)
	if len(keys) == 0 {
		return b.String()
	}

	b.WriteString(" ON DUPLICATE KEY UPDATE ")
	if len(rest) == 0 {
		k := connector.QuoteIdentifier(connector.KindMySQL, keys[0])
		b.WriteString(k + " = " + k)
		return b.String()
	}
	for i, name := range rest {
		if i > 0 {
			b.WriteString(", ")
		}
		q := connector.QuoteIdentifier(connector.KindMySQL, name)
		b.WriteString(q + " = VALUES(" + q + ")")
	}
	return b.String()
}

// IsRetryable reports lock waits, deadlocks, exhausted connections and broken sessions.
func (Dialect) IsRetryable(err error) bool {
	if goerrors.Is(err, gomysql.ErrInvalidConn) {
		return true
	}

	var mErr *gomysql.MySQLError
	if goerrors.As(err, &mErr) {
		switch mErr.Number {
		case 1205, // lock wait timeout
			1213, // deadlock
			1040, // too many connections
			1053, // server shutdown in progress
			1317: // query interrupted
			return true
		}
	}
	return false
}
