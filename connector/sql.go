package connector

import (
	"strings"

	"github.com/Trendyol/go-db-sync/schema"
	"github.com/lib/pq"
)

// QuoteIdentifier quotes an identifier for the engine.
func QuoteIdentifier(kind Kind, ident string) string {
	switch kind {
	case KindMySQL:
		return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
	case KindMSSQL:
		return "[" + strings.ReplaceAll(ident, "]", "]]") + "]"
	default:
		return pq.QuoteIdentifier(ident)
	}
}

// WatermarkExpr renders the watermark column for comparison and ordering. String
// watermarks are compared by their bytes so the engine order matches Watermark.Compare
// whatever the column collation is.
func WatermarkExpr(kind Kind, spec *schema.TableSpec) string {
	wm := QuoteIdentifier(kind, spec.Watermark)
	col, ok := spec.WatermarkColumn()
	if !ok || col.Type.Family() != schema.FamilyString {
		return wm
	}

	switch kind {
	case KindMySQL:
		return "CAST(" + wm + " AS BINARY)"
	case KindPostgres:
		return wm + ` COLLATE "C"`
	case KindMSSQL:
		return wm + " COLLATE Latin1_General_BIN2"
	case KindSQLite:
		return wm + " COLLATE BINARY"
	}
	return wm
}

func QualifiedName(kind Kind, spec *schema.TableSpec) string {
	if spec.Schema == "" {
		return QuoteIdentifier(kind, spec.Name)
	}
	return QuoteIdentifier(kind, spec.Schema) + "." + QuoteIdentifier(kind, spec.Name)
}

func QuoteAll(kind Kind, idents []string) []string {
	out := make([]string, len(idents))
	for i, id := range idents {
		out[i] = QuoteIdentifier(kind, id)
	}
	return out
}

// WriteColumns returns the table columns carried by the batch rows. Target columns the
// source does not provide are left out so an upsert never overwrites them.
func WriteColumns(spec *schema.TableSpec, batch *Batch) []schema.ColumnSpec {
	if batch.IsEmpty() {
		return nil
	}
	first := batch.Rows[0]
	cols := make([]schema.ColumnSpec, 0, len(spec.Columns))
	for _, c := range spec.Columns {
		if _, ok := first[c.Name]; ok {
			cols = append(cols, c)
		}
	}
	return cols
}

// SplitKeys separates key and non-key column names.
func SplitKeys(cols []schema.ColumnSpec) (keys []string, rest []string) {
	for _, c := range cols {
		if c.IsKey {
			keys = append(keys, c.Name)
		} else {
			rest = append(rest, c.Name)
		}
	}
	return keys, rest
}

// ChunkSize is the number of rows per statement that keeps the bind parameters
// under maxParams.
func ChunkSize(maxParams, columns int) int {
	if columns == 0 {
		return 1
	}
	n := maxParams / columns
	if n < 1 {
		return 1
	}
	return n
}

// SplitTableName splits an optionally schema-qualified table name.
func SplitTableName(name, defaultSchema string) (schemaName, table string) {
	if s, t, ok := strings.Cut(name, "."); ok {
		return s, t
	}
	return defaultSchema, name
}
