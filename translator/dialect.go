package translator

import (
	"fmt"
	"strings"

	"github.com/Trendyol/go-db-sync/config"
	"github.com/Trendyol/go-db-sync/connector"
	"github.com/Trendyol/go-db-sync/schema"
)

const (
	postgresMaxVarchar = 10485760
	// utf8mb4 rows are limited to 65535 bytes, four bytes per character.
	mysqlMaxVarchar = 16383
	mysqlMaxChar    = 255
	mssqlMaxVarchar = 4000
)

// Dialect renders target DDL for one engine. The set of engines is closed, so
// behavior is a switch on the kind rather than an implementation per engine.
type Dialect struct {
	Kind            connector.Kind
	TimestampPolicy string
}

func NewDialect(kind connector.Kind, timestampPolicy string) Dialect {
	if timestampPolicy == "" {
		timestampPolicy = config.TimestampPolicyUTC
	}
	return Dialect{Kind: kind, TimestampPolicy: timestampPolicy}
}

func (d Dialect) Quote(ident string) string {
	return connector.QuoteIdentifier(d.Kind, ident)
}

// TargetType is the logical type a column of type t has once created on this
// engine, which is what introspecting the created target reports.
func (d Dialect) TargetType(t schema.LogicalType) schema.LogicalType {
	utc := d.TimestampPolicy == config.TimestampPolicyUTC

	switch t.Kind {
	case schema.Timestamp:
		if utc && d.Kind != connector.KindMySQL {
			return schema.LogicalType{Kind: schema.TimestampTZ}
		}
	case schema.TimestampTZ:
		if d.Kind == connector.KindMySQL {
			return schema.LogicalType{Kind: schema.Timestamp}
		}
	case schema.Varchar:
		switch {
		case t.Length == 0:
			return schema.LogicalType{Kind: schema.Text}
		case d.Kind == connector.KindPostgres && t.Length > postgresMaxVarchar,
			d.Kind == connector.KindMySQL && t.Length > mysqlMaxVarchar,
			d.Kind == connector.KindMSSQL && t.Length > mssqlMaxVarchar:
			return schema.LogicalType{Kind: schema.Text}
		}
	case schema.Char:
		switch {
		case d.Kind == connector.KindMySQL && t.Length > mysqlMaxChar:
			return d.TargetType(schema.LogicalType{Kind: schema.Varchar, Length: t.Length})
		case d.Kind == connector.KindMSSQL && t.Length > mssqlMaxVarchar:
			return schema.LogicalType{Kind: schema.Text}
		}
	case schema.JSON:
		if d.Kind == connector.KindMSSQL {
			return schema.LogicalType{Kind: schema.Text}
		}
	case schema.UUID:
		if d.Kind == connector.KindMySQL {
			return schema.LogicalType{Kind: schema.Char, Length: 36}
		}
	case schema.Decimal:
		if t.Precision == 0 {
			switch d.Kind {
			case connector.KindMySQL:
				return schema.LogicalType{Kind: schema.Decimal, Precision: 65, Scale: 30}
			case connector.KindMSSQL:
				return schema.LogicalType{Kind: schema.Decimal, Precision: 38, Scale: 10}
			}
		}
	}
	return t
}

// ColumnType renders the engine type name for t.
func (d Dialect) ColumnType(t schema.LogicalType) (string, error) {
	t = d.TargetType(t)

	var name string
	switch d.Kind {
	case connector.KindPostgres:
		name = postgresType(t)
	case connector.KindMySQL:
		name = mysqlType(t)
	case connector.KindMSSQL:
		name = mssqlType(t)
	case connector.KindSQLite:
		name = sqliteType(t)
	}
	if name == "" {
		return "", fmt.Errorf("type %s has no %s equivalent", t, d.Kind)
	}
	return name, nil
}

func postgresType(t schema.LogicalType) string {
	switch t.Kind {
	case schema.SmallInt:
		return "SMALLINT"
	case schema.Integer:
		return "INTEGER"
	case schema.BigInt:
		return "BIGINT"
	case schema.Decimal:
		if t.Precision == 0 {
			return "NUMERIC"
		}
		return fmt.Sprintf("NUMERIC(%d,%d)", t.Precision, t.Scale)
	case schema.Float:
		return "REAL"
	case schema.Double:
		return "DOUBLE PRECISION"
	case schema.Boolean:
		return "BOOLEAN"
	case schema.Char:
		return fmt.Sprintf("CHAR(%d)", max(t.Length, 1))
	case schema.Varchar:
		return fmt.Sprintf("VARCHAR(%d)", t.Length)
	case schema.Text:
		return "TEXT"
	case schema.Date:
		return "DATE"
	case schema.Time:
		return "TIME"
	case schema.Timestamp:
		return "TIMESTAMP"
	case schema.TimestampTZ:
		return "TIMESTAMPTZ"
	case schema.Binary:
		return "BYTEA"
	case schema.JSON:
		return "JSONB"
	case schema.UUID:
		return "UUID"
	}
	return ""
}

func mysqlType(t schema.LogicalType) string {
	switch t.Kind {
	case schema.SmallInt:
		return "SMALLINT"
	case schema.Integer:
		return "INT"
	case schema.BigInt:
		return "BIGINT"
	case schema.Decimal:
		return fmt.Sprintf("DECIMAL(%d,%d)", t.Precision, t.Scale)
	case schema.Float:
		return "FLOAT"
	case schema.Double:
		return "DOUBLE"
	case schema.Boolean:
		return "TINYINT(1)"
	case schema.Char:
		return fmt.Sprintf("CHAR(%d)", max(t.Length, 1))
	case schema.Varchar:
		return fmt.Sprintf("VARCHAR(%d)", t.Length)
	case schema.Text:
		return "LONGTEXT"
	case schema.Date:
		return "DATE"
	case schema.Time:
		return "TIME(6)"
	case schema.Timestamp:
		return "DATETIME(6)"
	case schema.Binary:
		return "LONGBLOB"
	case schema.JSON:
		return "JSON"
	}
	return ""
}

func mssqlType(t schema.LogicalType) string {
	switch t.Kind {
	case schema.SmallInt:
		return "SMALLINT"
	case schema.Integer:
		return "INT"
	case schema.BigInt:
		return "BIGINT"
	case schema.Decimal:
		return fmt.Sprintf("DECIMAL(%d,%d)", t.Precision, t.Scale)
	case schema.Float:
		return "REAL"
	case schema.Double:
		return "FLOAT"
	case schema.Boolean:
		return "BIT"
	case schema.Char:
		return fmt.Sprintf("NCHAR(%d)", max(t.Length, 1))
	case schema.Varchar:
		return fmt.Sprintf("NVARCHAR(%d)", t.Length)
	case schema.Text:
		return "NVARCHAR(MAX)"
	case schema.Date:
		return "DATE"
	case schema.Time:
		return "TIME"
	case schema.Timestamp:
		return "DATETIME2"
	case schema.TimestampTZ:
		return "DATETIMEOFFSET"
	case schema.Binary:
		return "VARBINARY(MAX)"
	case schema.UUID:
		return "UNIQUEIDENTIFIER"
	}
	return ""
}

func sqliteType(t schema.LogicalType) string {
	switch t.Kind {
	case schema.SmallInt:
		return "SMALLINT"
	case schema.Integer:
		return "INT"
	case schema.Binary:
		return "BLOB"
	case schema.Boolean, schema.Float, schema.Date, schema.Time, schema.Timestamp,
		schema.TimestampTZ, schema.JSON, schema.UUID, schema.Text, schema.BigInt,
		schema.Decimal, schema.Char, schema.Varchar:
		return t.String()
	case schema.Double:
		return "DOUBLE"
	}
	return ""
}

// CreateTable renders CREATE TABLE for spec, keeping nullability and the key.
func (d Dialect) CreateTable(spec *schema.TableSpec) (string, error) {
	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	b.WriteString(connector.QualifiedName(d.Kind, spec))
	b.WriteString(" (")

	for i, c := range spec.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		def, err := d.columnDefinition(c)
		if err != nil {
			return "", err
		}
		b.WriteString(def)
	}

	if keys := spec.KeyColumns(); len(keys) > 0 {
		quoted := connector.QuoteAll(d.Kind, keys)
		b.WriteString(", PRIMARY KEY (" + strings.Join(quoted, ", ") + ")")
	}

	b.WriteString(")")
	return b.String(), nil
}

// AddColumn renders ALTER TABLE ADD for a column added on the source.
func (d Dialect) AddColumn(spec *schema.TableSpec, c schema.ColumnSpec) (string, error) {
	def, err := d.columnDefinition(c)
	if err != nil {
		return "", err
	}

	keyword := " ADD COLUMN "
	if d.Kind == connector.KindMSSQL {
		keyword = " ADD "
	}
	return "ALTER TABLE " + connector.QualifiedName(d.Kind, spec) + keyword + def, nil
}

func (d Dialect) columnDefinition(c schema.ColumnSpec) (string, error) {
	typ, err := d.ColumnType(c.Type)
	if err != nil {
		return "", fmt.Errorf("column %s: %w", c.Name, err)
	}
	def := d.Quote(c.Name) + " " + typ
	if !c.Nullable {
		def += " NOT NULL"
	} else if d.Kind == connector.KindMSSQL {
		def += " NULL"
	}
	return def, nil
}
