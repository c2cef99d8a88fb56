package translator

import (
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Trendyol/go-db-sync/config"
	"github.com/Trendyol/go-db-sync/connector"
	"github.com/Trendyol/go-db-sync/schema"
	"github.com/Trendyol/go-db-sync/schemacache"
)

func lt(kind schema.TypeKind) schema.LogicalType {
	return schema.LogicalType{Kind: kind}
}

func mysqlOrders() *schema.TableSpec {
	return &schema.TableSpec{
		Schema: "shop",
		Name:   "orders",
		Columns: []schema.ColumnSpec{
			{Name: "id", Type: lt(schema.BigInt), IsKey: true},
			{Name: "customer", Type: schema.LogicalType{Kind: schema.Varchar, Length: 120}},
			{Name: "total", Type: schema.LogicalType{Kind: schema.Decimal, Precision: 10, Scale: 2}, Nullable: true},
			{Name: "created_at", Type: lt(schema.Timestamp)},
		},
		Watermark: "id",
	}
}

func TestDialect(t *testing.T) {
	t.Run("should cap varchar at the engine maximum", func(t *testing.T) {
		long := schema.LogicalType{Kind: schema.Varchar, Length: 20000}

		assert.Equal(t, lt(schema.Text), NewDialect(connector.KindMySQL, "").TargetType(long))
		assert.Equal(t, lt(schema.Text), NewDialect(connector.KindMSSQL, "").TargetType(long))
		assert.Equal(t, long, NewDialect(connector.KindPostgres, "").TargetType(long))
	})

	t.Run("should apply the timestamp policy", func(t *testing.T) {
		utc := NewDialect(connector.KindPostgres, config.TimestampPolicyUTC)
		preserve := NewDialect(connector.KindPostgres, config.TimestampPolicyPreserve)

		assert.Equal(t, lt(schema.TimestampTZ), utc.TargetType(lt(schema.Timestamp)))
		assert.Equal(t, lt(schema.Timestamp), preserve.TargetType(lt(schema.Timestamp)))
		assert.Equal(t, lt(schema.Timestamp), NewDialect(connector.KindMySQL, "").TargetType(lt(schema.TimestampTZ)))
	})

	t.Run("should render engine types", func(t *testing.T) {
		cases := []struct {
			kind connector.Kind
			in   schema.LogicalType
			want string
		}{
			{connector.KindPostgres, lt(schema.JSON), "JSONB"},
			{connector.KindPostgres, lt(schema.Binary), "BYTEA"},
			{connector.KindMySQL, lt(schema.Boolean), "TINYINT(1)"},
			{connector.KindMySQL, lt(schema.UUID), "CHAR(36)"},
			{connector.KindMSSQL, lt(schema.Text), "NVARCHAR(MAX)"},
			{connector.KindMSSQL, lt(schema.JSON), "NVARCHAR(MAX)"},
			{connector.KindSQLite, schema.LogicalType{Kind: schema.Varchar, Length: 10}, "VARCHAR(10)"},
		}
		for _, c := range cases {
			got, err := NewDialect(c.kind, "").ColumnType(c.in)
			require.NoError(t, err)
			assert.Equal(t, c.want, got, "%s %s", c.kind, c.in)
		}
	})

	t.Run("should render create table with key", func(t *testing.T) {
		spec := &schema.TableSpec{
			Schema: "public",
			Name:   "orders",
			Columns: []schema.ColumnSpec{
				{Name: "id", Type: lt(schema.BigInt), IsKey: true},
				{Name: "note", Type: lt(schema.Text), Nullable: true},
			},
		}

		stmt, err := NewDialect(connector.KindPostgres, "").CreateTable(spec)
		require.NoError(t, err)
		assert.Equal(t, `CREATE TABLE "public"."orders" ("id" BIGINT NOT NULL, "note" TEXT, PRIMARY KEY ("id"))`, stmt)
	})

	t.Run("should render add column for sql server", func(t *testing.T) {
		spec := &schema.TableSpec{Schema: "dbo", Name: "orders"}
		stmt, err := NewDialect(connector.KindMSSQL, "").AddColumn(spec, schema.ColumnSpec{Name: "note", Type: lt(schema.Text), Nullable: true})
		require.NoError(t, err)
		assert.Equal(t, "ALTER TABLE [dbo].[orders] ADD [note] NVARCHAR(MAX) NULL", stmt)
	})
}

func TestTranslate(t *testing.T) {
	tr := New(NewDialect(connector.KindPostgres, config.TimestampPolicyUTC), "public")

	t.Run("should create a missing target", func(t *testing.T) {
		res, err := tr.Translate(Request{Source: mysqlOrders(), TargetName: "orders"})
		require.NoError(t, err)

		assert.Equal(t, ActionCreateTarget, res.Action)
		assert.Equal(t, "public", res.TargetSpec.Schema)
		require.Len(t, res.Statements, 1)
		assert.Contains(t, res.Statements[0], `"created_at" TIMESTAMPTZ NOT NULL`)
		assert.Contains(t, res.Statements[0], `"total" NUMERIC(10,2)`)
		assert.Equal(t, schema.FingerprintOf(mysqlOrders()), res.Fingerprint)
	})

	t.Run("should do nothing when the target matches", func(t *testing.T) {
		created, err := tr.Translate(Request{Source: mysqlOrders(), TargetName: "orders"})
		require.NoError(t, err)
		cached := schemacache.NewRecord("orders", mysqlOrders())

		res, err := tr.Translate(Request{Source: mysqlOrders(), Cached: &cached, Target: created.TargetSpec})
		require.NoError(t, err)
		assert.Equal(t, ActionNoOp, res.Action)
		assert.Empty(t, res.Statements)
	})

	t.Run("should add new source columns as nullable", func(t *testing.T) {
		created, err := tr.Translate(Request{Source: mysqlOrders(), TargetName: "orders"})
		require.NoError(t, err)
		cached := schemacache.NewRecord("orders", mysqlOrders())

		source := mysqlOrders()
		source.Columns = append(source.Columns, schema.ColumnSpec{Name: "status", Type: schema.LogicalType{Kind: schema.Varchar, Length: 16}})

		res, err := tr.Translate(Request{Source: source, Cached: &cached, Target: created.TargetSpec})
		require.NoError(t, err)
		assert.Equal(t, ActionAlterTarget, res.Action)
		assert.Equal(t, []string{`ALTER TABLE "public"."orders" ADD COLUMN "status" VARCHAR(16)`}, res.Statements)
		assert.Equal(t, []string{"status"}, res.Drift.Added)

		col, ok := res.TargetSpec.Column("status")
		require.True(t, ok)
		assert.True(t, col.Nullable)
	})

	t.Run("should refuse a dropped column", func(t *testing.T) {
		created, err := tr.Translate(Request{Source: mysqlOrders(), TargetName: "orders"})
		require.NoError(t, err)
		cached := schemacache.NewRecord("orders", mysqlOrders())

		source := mysqlOrders()
		source.Columns = source.Columns[:3]

		res, err := tr.Translate(Request{Source: source, Cached: &cached, Target: created.TargetSpec})
		var drift *DriftError
		require.ErrorAs(t, err, &drift)
		assert.Equal(t, ActionIncompatible, res.Action)
		assert.Equal(t, []string{"created_at"}, drift.Report.Dropped)
		assert.Empty(t, res.Statements)
	})

	t.Run("should refuse a retyped column", func(t *testing.T) {
		cached := schemacache.NewRecord("orders", mysqlOrders())

		source := mysqlOrders()
		source.Columns[1].Type = lt(schema.BigInt)

		res, err := tr.Translate(Request{Source: source, Cached: &cached})
		require.Error(t, err)
		assert.Equal(t, ActionIncompatible, res.Action)
		require.Len(t, res.Drift.Retyped, 1)
		assert.Equal(t, "customer", res.Drift.Retyped[0].Column)
	})

	t.Run("should refuse an incompatible target column", func(t *testing.T) {
		target := &schema.TableSpec{
			Schema: "public",
			Name:   "orders",
			Columns: []schema.ColumnSpec{
				{Name: "id", Type: lt(schema.BigInt), IsKey: true},
				{Name: "customer", Type: lt(schema.Boolean)},
				{Name: "total", Type: lt(schema.Decimal), Nullable: true},
				{Name: "created_at", Type: lt(schema.TimestampTZ)},
			},
		}

		res, err := tr.Translate(Request{Source: mysqlOrders(), Target: target})
		require.Error(t, err)
		assert.Equal(t, ActionIncompatible, res.Action)
		require.Len(t, res.Drift.Retyped, 1)
		assert.True(t, res.Drift.Retyped[0].Target)
	})

	t.Run("should refuse an unmappable column", func(t *testing.T) {
		source := mysqlOrders()
		source.Columns = append(source.Columns, schema.ColumnSpec{Name: "geo", Type: lt(schema.Unknown)})

		res, err := tr.Translate(Request{Source: source})
		require.Error(t, err)
		assert.Equal(t, []string{"geo"}, res.Drift.Unmappable)
	})
}

func TestCoerceRow(t *testing.T) {
	target := &schema.TableSpec{
		Name: "items",
		Columns: []schema.ColumnSpec{
			{Name: "id", Type: lt(schema.Integer), IsKey: true},
			{Name: "active", Type: lt(schema.Boolean), Nullable: true},
			{Name: "price", Type: schema.LogicalType{Kind: schema.Decimal, Precision: 10, Scale: 2}, Nullable: true},
			{Name: "code", Type: schema.LogicalType{Kind: schema.Varchar, Length: 4}, Nullable: true},
			{Name: "doc", Type: lt(schema.JSON), Nullable: true},
			{Name: "ref", Type: lt(schema.UUID), Nullable: true},
			{Name: "seen_at", Type: lt(schema.TimestampTZ), Nullable: true},
			{Name: "ratio", Type: lt(schema.Double), Nullable: true},
		},
	}
	tr := New(NewDialect(connector.KindPostgres, config.TimestampPolicyUTC), "public")

	t.Run("should convert driver values to target kinds", func(t *testing.T) {
		id := uuid.New()
		at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.FixedZone("x", 3*3600))

		row, err := tr.CoerceRow(target, connector.Row{
			"id":      "42",
			"active":  int64(1),
			"price":   12.5,
			"code":    []byte("ab"),
			"doc":     map[string]any{"a": 1},
			"ref":     id[:],
			"seen_at": at,
			"ratio":   int64(3),
		})
		require.NoError(t, err)

		assert.Equal(t, int64(42), row["id"])
		assert.Equal(t, true, row["active"])
		assert.Equal(t, "12.5", row["price"])
		assert.Equal(t, "ab", row["code"])
		assert.JSONEq(t, `{"a":1}`, row["doc"].(string))
		assert.Equal(t, id.String(), row["ref"])
		assert.Equal(t, time.UTC, row["seen_at"].(time.Time).Location())
		assert.True(t, at.Equal(row["seen_at"].(time.Time)))
		assert.Equal(t, float64(3), row["ratio"])
	})

	t.Run("should reject truncation", func(t *testing.T) {
		_, err := tr.CoerceRow(target, connector.Row{"id": int64(1), "code": "toolong"})

		var coercion *CoercionError
		require.ErrorAs(t, err, &coercion)
		assert.Equal(t, "code", coercion.Column)
		assert.ErrorIs(t, err, ErrTruncate)
	})

	t.Run("should reject null in a key", func(t *testing.T) {
		_, err := tr.CoerceRow(target, connector.Row{"id": nil})
		assert.ErrorIs(t, err, ErrNull)
	})

	t.Run("should reject out of range integers", func(t *testing.T) {
		_, err := tr.CoerceRow(target, connector.Row{"id": int64(1) << 40})
		assert.ErrorIs(t, err, ErrRange)
	})

	t.Run("should reject a non boolean number", func(t *testing.T) {
		_, err := tr.CoerceRow(target, connector.Row{"id": int64(1), "active": int64(2)})
		assert.Error(t, err)
	})

	t.Run("should keep decimals beyond float range as text", func(t *testing.T) {
		huge := "123456789012345678901234567890123456789012345678901234567890.25"
		for _, value := range []any{huge, []byte(" 1.5e400 "), "-.75", "+10."} {
			_, err := tr.CoerceRow(target, connector.Row{"id": int64(1), "price": value})
			assert.NoError(t, err, value)
		}

		row, err := tr.CoerceRow(target, connector.Row{"id": int64(1), "price": huge})
		require.NoError(t, err)
		assert.Equal(t, huge, row["price"])
	})

	t.Run("should reject decimals that are not finite numbers", func(t *testing.T) {
		for _, value := range []any{"NaN", "Inf", "-Infinity", "0x1p-2", "1_000", "", math.NaN(), math.Inf(1)} {
			_, err := tr.CoerceRow(target, connector.Row{"id": int64(1), "price": value})

			var coercion *CoercionError
			require.ErrorAs(t, err, &coercion, value)
			assert.Equal(t, "price", coercion.Column)
		}
	})

	t.Run("should reject unknown columns", func(t *testing.T) {
		_, err := tr.CoerceRow(target, connector.Row{"id": int64(1), "extra": "x"})
		var coercion *CoercionError
		require.ErrorAs(t, err, &coercion)
		assert.Equal(t, "extra", coercion.Column)
	})

	t.Run("should keep wall clock under the preserve policy", func(t *testing.T) {
		preserve := New(NewDialect(connector.KindPostgres, config.TimestampPolicyPreserve), "public")
		at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.FixedZone("x", 3*3600))

		row, err := preserve.CoerceRow(target, connector.Row{"id": int64(1), "seen_at": at})
		require.NoError(t, err)
		assert.Equal(t, 3, row["seen_at"].(time.Time).Hour())
	})

	t.Run("should parse timestamps from text", func(t *testing.T) {
		row, err := tr.CoerceRow(target, connector.Row{"id": int64(1), "seen_at": "2024-05-06 07:08:09"})
		require.NoError(t, err)
		assert.Equal(t, time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC), row["seen_at"])
	})
}
