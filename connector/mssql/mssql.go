package mssql

import (
	"context"
	"database/sql"
	goerrors "errors"
	"strconv"
	"strings"

	"github.com/Trendyol/go-db-sync/config"
	"github.com/Trendyol/go-db-sync/connector"
	"github.com/Trendyol/go-db-sync/connector/dbsql"
	"github.com/Trendyol/go-db-sync/schema"
	"github.com/go-playground/errors"
	mssqldb "github.com/microsoft/go-mssqldb"
)

// SQL Server accepts 2100 parameters per request, a few are kept in reserve.
const maxParams = 2000

type Connector struct {
	*dbsql.DB
	schema string
}

func New(cfg config.DatabaseConfig) *Connector {
	return &Connector{
		DB:     dbsql.New(Dialect{}, "sqlserver", cfg.DSN()),
		schema: cfg.Schema,
	}
}

const introspectQuery = `SELECT c.COLUMN_NAME, c.DATA_TYPE, c.IS_NULLABLE,
       c.CHARACTER_MAXIMUM_LENGTH, c.NUMERIC_PRECISION, c.NUMERIC_SCALE,
       CASE WHEN k.COLUMN_NAME IS NULL THEN 0 ELSE 1 END
FROM INFORMATION_SCHEMA.COLUMNS c
LEFT JOIN (
    SELECT ku.TABLE_SCHEMA, ku.TABLE_NAME, ku.COLUMN_NAME
    FROM INFORMATION_SCHEMA.TABLE_CONSTRAINTS tc
    JOIN INFORMATION_SCHEMA.KEY_COLUMN_USAGE ku
      ON tc.CONSTRAINT_NAME = ku.CONSTRAINT_NAME AND tc.TABLE_SCHEMA = ku.TABLE_SCHEMA
    WHERE tc.CONSTRAINT_TYPE = 'PRIMARY KEY'
) k ON k.TABLE_SCHEMA = c.TABLE_SCHEMA AND k.TABLE_NAME = c.TABLE_NAME AND k.COLUMN_NAME = c.COLUMN_NAME
WHERE c.TABLE_SCHEMA = @p1 AND c.TABLE_NAME = @p2
ORDER BY c.ORDINAL_POSITION`

func (c *Connector) IntrospectSchema(ctx context.Context, table string) (*schema.TableSpec, error) {
	if c.Conn() == nil {
		return nil, connector.SchemaError(table, errors.New("connection not open"))
	}

	schemaName, name := connector.SplitTableName(table, c.schema)

	rows, err := c.Conn().QueryContext(ctx, introspectQuery, schemaName, name)
	if err != nil {
		if connector.IsTransient(err) {
			return nil, connector.ConnectionError("introspect "+table, err)
		}
		return nil, connector.SchemaError(table, err)
	}
	defer rows.Close()

	spec := &schema.TableSpec{Schema: schemaName, Name: name}
	for rows.Next() {
		var (
			colName, dataType, nullable string
			length, precision, scale    sql.NullInt64
			isKey                       int
		)
		if err = rows.Scan(&colName, &dataType, &nullable, &length, &precision, &scale, &isKey); err != nil {
			return nil, connector.SchemaError(table, err)
		}

		lt, ok := MapType(dataType, length.Int64, precision.Int64, scale.Int64)
		if !ok {
			return nil, connector.SchemaError(table, errors.Newf("column %s has unmappable type %s", colName, dataType))
		}

		spec.Columns = append(spec.Columns, schema.ColumnSpec{
			Name:     colName,
			Type:     lt,
			Nullable: strings.EqualFold(nullable, "YES"),
			IsKey:    isKey == 1,
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

// MapType maps SQL Server types. A length of -1 denotes the MAX variants.
func MapType(dataType string, length, precision, scale int64) (schema.LogicalType, bool) {
	switch strings.ToLower(dataType) {
	case "tinyint", "smallint":
		return schema.LogicalType{Kind: schema.SmallInt}, true
	case "int":
		return schema.LogicalType{Kind: schema.Integer}, true
	case "bigint":
		return schema.LogicalType{Kind: schema.BigInt}, true
	case "decimal", "numeric":
		return schema.LogicalType{Kind: schema.Decimal, Precision: int(precision), Scale: int(scale)}, true
	case "money":
		return schema.LogicalType{Kind: schema.Decimal, Precision: 19, Scale: 4}, true
	case "smallmoney":
		return schema.LogicalType{Kind: schema.Decimal, Precision: 10, Scale: 4}, true
	case "real":
		return schema.LogicalType{Kind: schema.Float}, true
	case "float":
		return schema.LogicalType{Kind: schema.Double}, true
	case "bit":
		return schema.LogicalType{Kind: schema.Boolean}, true
	case "char", "nchar":
		return schema.LogicalType{Kind: schema.Char, Length: int(length)}, true
	case "varchar", "nvarchar":
		if length < 0 {
			return schema.LogicalType{Kind: schema.Text}, true
		}
		return schema.LogicalType{Kind: schema.Varchar, Length: int(length)}, true
	case "text", "ntext", "xml":
		return schema.LogicalType{Kind: schema.Text}, true
	case "date":
		return schema.LogicalType{Kind: schema.Date}, true
	case "time":
		return schema.LogicalType{Kind: schema.Time}, true
	case "datetime", "datetime2", "smalldatetime":
		return schema.LogicalType{Kind: schema.Timestamp}, true
	case "datetimeoffset":
		return schema.LogicalType{Kind: schema.TimestampTZ}, true
	case "binary", "varbinary", "image":
		return schema.LogicalType{Kind: schema.Binary}, true
	case "uniqueidentifier":
		return schema.LogicalType{Kind: schema.UUID}, true
	}
	return schema.LogicalType{Kind: schema.Unknown}, false
}

type Dialect struct{}

func (Dialect) Kind() connector.Kind { return connector.KindMSSQL }

func (Dialect) Placeholder(n int) string { return "@p" + strconv.Itoa(n) }

func (Dialect) MaxParams() int { return maxParams }

func (d Dialect) SelectBatch(spec *schema.TableSpec, bounded bool, limit int) string {
	wm := connector.QuoteIdentifier(connector.KindMSSQL, spec.Watermark)
	expr := connector.WatermarkExpr(connector.KindMSSQL, spec)

	var b strings.Builder
	b.WriteString("SELECT TOP (" + strconv.Itoa(limit) + ") ")
	b.WriteString(strings.Join(connector.QuoteAll(connector.KindMSSQL, spec.ColumnNames()), ", "))
	b.WriteString(" FROM ")
	b.WriteString(connector.QualifiedName(connector.KindMSSQL, spec))
	if bounded {
		b.WriteString(" WHERE " + expr + " > " + d.Placeholder(1))
	} else {
		b.WriteString(" WHERE " + wm + " IS NOT NULL")
	}
	b.WriteString(" ORDER BY " + expr + " ASC")
	return b.String()
}

// Upsert renders a MERGE keyed on the key columns, or a plain INSERT without keys.
func (d Dialect) Upsert(spec *schema.TableSpec, cols []schema.ColumnSpec, rows int) string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	quoted := connector.QuoteAll(connector.KindMSSQL, names)
	table := connector.QualifiedName(connector.KindMSSQL, spec)
	values := dbsql.Placeholders(d, rows, len(cols))

	keys, rest := connector.SplitKeys(cols)
	if len(keys) == 0 {
		return "INSERT INTO " + table + " (" + strings.Join(quoted, ", ") + ") VALUES " + values
	}

	var b strings.Builder
	b.WriteString("MERGE INTO " + table + " WITH (HOLDLOCK) AS tgt USING (VALUES " + values + ") AS src (")
	b.WriteString(strings.Join(quoted, ", ") + ") ON ")
	for i, k := range connector.QuoteAll(connector.KindMSSQL, keys) {
		if i > 0 {
			b.WriteString(" AND ")
		}
		b.WriteString("tgt." + k + " = src." + k)
	}

	if len(rest) > 0 {
		b.WriteString(" WHEN MATCHED THEN UPDATE SET ")
		for i, q := range connector.QuoteAll(connector.KindMSSQL, rest) {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString("tgt." + q + " = src." + q)
		}
	}

	src := make([]string, len(quoted))
	for i, q := range quoted {
		src[i] = "src." + q
	}
	b.WriteString(" WHEN NOT MATCHED THEN INSERT (" + strings.Join(quoted, ", ") + ") VALUES (" + strings.Join(src, ", ") + ");")
	return b.String()
}

// Normalize decodes uniqueidentifier bytes, which the driver returns in SQL Server's
// mixed-endian layout.
func (Dialect) Normalize(t schema.LogicalType, v any) any {
	if raw, ok := v.([]byte); ok && t.Kind == schema.UUID && len(raw) == 16 {
		var u mssqldb.UniqueIdentifier
		if err := u.Scan(raw); err == nil {
			return u.String()
		}
	}
	return dbsql.Normalize(t, v)
}

func (Dialect) IsRetryable(err error) bool {
	var mErr mssqldb.Error
	if goerrors.As(err, &mErr) {
		switch mErr.Number {
		case 1205, // deadlock victim
			1222,  // lock request timeout
			40197, // service error, retry
			40501, // service busy
			40613: // database unavailable
			return true
		}
	}
	return false
}
