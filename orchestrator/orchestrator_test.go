package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Trendyol/go-db-sync/config"
	"github.com/Trendyol/go-db-sync/connector"
	"github.com/Trendyol/go-db-sync/internal/kv"
	"github.com/Trendyol/go-db-sync/offset"
	"github.com/Trendyol/go-db-sync/report"
	"github.com/Trendyol/go-db-sync/schema"
	"github.com/Trendyol/go-db-sync/schemacache"
	"github.com/Trendyol/go-db-sync/translator"
)

type stores struct {
	offsetKV kv.Store
	offsets  *offset.Store
	schemas  *schemacache.Store
}

func newStores(t *testing.T) *stores {
	t.Helper()
	offsetKV, err := kv.NewFileStore(t.TempDir())
	require.NoError(t, err)
	schemaKV, err := kv.NewFileStore(t.TempDir())
	require.NoError(t, err)
	return &stores{offsetKV: offsetKV, offsets: offset.New(offsetKV), schemas: schemacache.New(schemaKV)}
}

func testConfig(tables ...string) config.Config {
	cfg := config.Config{
		Source: config.DatabaseConfig{Kind: connector.KindMySQL, Database: "shop"},
		Target: config.DatabaseConfig{Kind: connector.KindPostgres, Schema: "public"},
		Sync: config.SyncConfig{
			BatchSize:        50,
			Concurrency:      2,
			MaxBatchesPerRun: 100,
			MaxRetries:       3,
			BackoffBase:      time.Millisecond,
			BackoffMax:       5 * time.Millisecond,
			TimestampPolicy:  config.TimestampPolicyUTC,
		},
	}
	for _, table := range tables {
		cfg.Tables = append(cfg.Tables, config.TablePair{Source: table, Target: table})
	}
	return cfg
}

func newOrchestrator(t *testing.T, cfg config.Config, env *fakeEnv, s *stores) *Orchestrator {
	t.Helper()
	o, err := New(cfg, Dependencies{NewConnector: env.factory, Offsets: s.offsets, Schemas: s.schemas})
	require.NoError(t, err)
	return o
}

func committed(t *testing.T, s *stores, id string) offset.Offset {
	t.Helper()
	o, err := s.offsets.Get(context.Background(), id)
	require.NoError(t, err)
	return o
}

func TestRun(t *testing.T) {
	ctx := context.Background()

	t.Run("should sync a new table in ordered batches", func(t *testing.T) {
		env, s := newFakeEnv(), newStores(t)
		env.seed("orders", 150)

		rep := newOrchestrator(t, testConfig("orders"), env, s).Run(ctx)

		require.Len(t, rep.Tables, 1)
		table := rep.Tables[0]
		assert.Equal(t, report.StatusSuccess, rep.Status)
		assert.Equal(t, report.TableIdle, table.Status)
		assert.Equal(t, translator.ActionCreateTarget, table.Action)
		assert.Equal(t, int64(150), table.RowsSynced)
		assert.Equal(t, 3, table.Batches)
		assert.True(t, table.CaughtUp)
		assert.Equal(t, []int{50, 50, 50, 0}, env.source.readSizes("orders"))

		o := committed(t, s, "orders__orders")
		assert.Equal(t, schema.IntWatermark(150), o.Watermark)
		assert.Equal(t, int64(3), o.BatchSequence)
		assert.Equal(t, o.Watermark, table.LastOffset.Watermark)

		assert.Len(t, env.target.rows("orders"), 150)
		require.Len(t, env.target.ddlStatements(), 1)
		assert.Contains(t, env.target.ddlStatements()[0], `CREATE TABLE "public"."orders"`)

		cached, err := s.schemas.Get(ctx, "orders")
		require.NoError(t, err)
		require.NotNil(t, cached)
		assert.Equal(t, schema.FingerprintOf(ordersSpec("orders")), cached.Fingerprint)
	})

	t.Run("should keep the offset when nothing changed", func(t *testing.T) {
		env, s := newFakeEnv(), newStores(t)
		env.seed("orders", 150)
		o := newOrchestrator(t, testConfig("orders"), env, s)

		o.Run(ctx)
		first := committed(t, s, "orders__orders")

		for range 2 {
			rep := o.Run(ctx)
			assert.Equal(t, report.StatusSuccess, rep.Status)
			assert.Equal(t, translator.ActionNoOp, rep.Tables[0].Action)
			assert.Zero(t, rep.Tables[0].RowsSynced)
			assert.True(t, rep.Tables[0].CaughtUp)
		}

		again := committed(t, s, "orders__orders")
		assert.Equal(t, first.Watermark, again.Watermark)
		assert.Equal(t, first.BatchSequence, again.BatchSequence)
		assert.Len(t, env.target.ddlStatements(), 1)
	})

	t.Run("should sync only new rows on the next run", func(t *testing.T) {
		env, s := newFakeEnv(), newStores(t)
		env.seed("orders", 150)
		o := newOrchestrator(t, testConfig("orders"), env, s)
		o.Run(ctx)

		env.source.insert("orders", orderRows(151, 170)...)
		rep := o.Run(ctx)

		assert.Equal(t, int64(20), rep.Tables[0].RowsSynced)
		assert.Equal(t, schema.IntWatermark(170), committed(t, s, "orders__orders").Watermark)
		assert.Len(t, env.target.rows("orders"), 170)
	})

	t.Run("should stop at the batch limit and resume on the next run", func(t *testing.T) {
		env, s := newFakeEnv(), newStores(t)
		env.seed("orders", 150)
		cfg := testConfig("orders")
		cfg.Sync.MaxBatchesPerRun = 2
		o := newOrchestrator(t, cfg, env, s)

		rep := o.Run(ctx)

		table := rep.Tables[0]
		assert.Equal(t, report.StatusSuccess, rep.Status)
		assert.Equal(t, report.TableIdle, table.Status)
		assert.Equal(t, 2, table.Batches)
		assert.False(t, table.CaughtUp)
		assert.Equal(t, int64(100), table.RowsSynced)

		limited := committed(t, s, "orders__orders")
		assert.Equal(t, schema.IntWatermark(100), limited.Watermark)
		assert.Equal(t, int64(2), limited.BatchSequence)
		assert.Len(t, env.target.rows("orders"), 100)

		rep = o.Run(ctx)
		assert.Equal(t, int64(50), rep.Tables[0].RowsSynced)
		assert.True(t, rep.Tables[0].CaughtUp)
		assert.Equal(t, schema.IntWatermark(150), committed(t, s, "orders__orders").Watermark)
		assert.Len(t, env.target.rows("orders"), 150)
	})

	t.Run("should retry a transient write error without committing twice", func(t *testing.T) {
		env, s := newFakeEnv(), newStores(t)
		env.seed("orders", 150)
		env.target.writeErr = func(table string, call int) error {
			if call < 2 {
				return connector.WriteError(table, errors.New("deadlock detected"), true)
			}
			return nil
		}

		rep := newOrchestrator(t, testConfig("orders"), env, s).Run(ctx)

		table := rep.Tables[0]
		assert.Equal(t, report.StatusSuccess, rep.Status)
		assert.Equal(t, report.TableIdle, table.Status)
		assert.Zero(t, table.FailedAttempt)
		assert.Equal(t, int64(150), table.RowsSynced)
		assert.Equal(t, 3, table.Batches)

		o := committed(t, s, "orders__orders")
		assert.Equal(t, schema.IntWatermark(150), o.Watermark)
		assert.Equal(t, int64(3), o.BatchSequence)
		assert.Len(t, env.target.rows("orders"), 150)
		assert.Equal(t, 5, env.target.writes["orders"])
	})

	t.Run("should report partial success when one table fails", func(t *testing.T) {
		env, s := newFakeEnv(), newStores(t)
		for _, table := range []string{"a", "b", "c"} {
			env.seed(table, 60)
		}
		env.target.writeErr = func(table string, _ int) error {
			if table == "b" {
				return connector.WriteError(table, errors.New("duplicate key value violates unique constraint"), false)
			}
			return nil
		}

		rep := newOrchestrator(t, testConfig("a", "b", "c"), env, s).Run(ctx)

		assert.Equal(t, report.StatusPartialSuccess, rep.Status)
		assert.Equal(t, 2, rep.TablesSucceeded)
		assert.Equal(t, 1, rep.TablesFailed)

		for _, table := range rep.Tables {
			switch table.Source {
			case "b":
				assert.Equal(t, report.TableFailed, table.Status)
				assert.Equal(t, "write", table.ErrorKind)
				assert.Equal(t, 1, table.FailedAttempt)
				assert.Zero(t, table.RowsSynced)
				assert.Contains(t, table.ErrorDetail, "duplicate key")
			default:
				assert.Equal(t, report.TableIdle, table.Status)
				assert.Equal(t, int64(60), table.RowsSynced)
			}
		}
		assert.True(t, committed(t, s, "b__b").IsZero())
	})

	t.Run("should redeliver the uncommitted batch after a crash", func(t *testing.T) {
		env, s := newFakeEnv(), newStores(t)
		env.seed("orders", 150)
		crashing := &crashingKV{Store: s.offsetKV, failAfter: 1}

		o, err := New(testConfig("orders"), Dependencies{
			NewConnector: env.factory,
			Offsets:      offset.New(crashing),
			Schemas:      s.schemas,
		})
		require.NoError(t, err)

		rep := o.Run(ctx)
		assert.Equal(t, report.TableFailed, rep.Tables[0].Status)
		assert.Len(t, env.target.rows("orders"), 100)
		assert.Equal(t, schema.IntWatermark(50), committed(t, s, "orders__orders").Watermark)

		rep = newOrchestrator(t, testConfig("orders"), env, s).Run(ctx)
		assert.Equal(t, report.StatusSuccess, rep.Status)
		assert.Equal(t, int64(100), rep.Tables[0].RowsSynced)
		assert.Equal(t, schema.IntWatermark(150), committed(t, s, "orders__orders").Watermark)

		rows := env.target.rows("orders")
		assert.Len(t, rows, 150)
		for _, r := range orderRows(1, 150) {
			assert.Equal(t, r["customer"], rows[rowKey(ordersSpec("orders"), r)]["customer"])
		}
	})

	t.Run("should fail on a dropped column without ddl", func(t *testing.T) {
		env, s := newFakeEnv(), newStores(t)
		env.seed("orders", 150)
		o := newOrchestrator(t, testConfig("orders"), env, s)
		o.Run(ctx)

		dropped := ordersSpec("orders")
		dropped.Columns = dropped.Columns[:2]
		env.source.setSpec("orders", dropped)
		env.source.insert("orders", orderRows(151, 160)...)

		rep := o.Run(ctx)
		table := rep.Tables[0]
		assert.Equal(t, report.StatusFailed, rep.Status)
		assert.Equal(t, report.TableFailed, table.Status)
		assert.Equal(t, translator.ActionIncompatible, table.Action)
		assert.Equal(t, report.ErrorKindDrift, table.ErrorKind)
		require.NotNil(t, table.Drift)
		assert.Equal(t, []string{"amount"}, table.Drift.Dropped)
		assert.Zero(t, table.RowsSynced)
		assert.Len(t, env.target.ddlStatements(), 1)
		assert.Equal(t, schema.IntWatermark(150), committed(t, s, "orders__orders").Watermark)
	})

	t.Run("should alter the target for an added column", func(t *testing.T) {
		env, s := newFakeEnv(), newStores(t)
		env.seed("orders", 10)
		o := newOrchestrator(t, testConfig("orders"), env, s)
		o.Run(ctx)

		added := ordersSpec("orders")
		added.Columns = append(added.Columns, schema.ColumnSpec{Name: "note", Type: schema.LogicalType{Kind: schema.Text}, Nullable: true})
		env.source.setSpec("orders", added)
		env.source.insert("orders", connector.Row{"id": int64(11), "customer": "c-11", "amount": nil, "note": "hello"})

		rep := o.Run(ctx)
		assert.Equal(t, report.StatusSuccess, rep.Status)
		assert.Equal(t, translator.ActionAlterTarget, rep.Tables[0].Action)
		assert.Equal(t, int64(1), rep.Tables[0].RowsSynced)
		assert.Contains(t, env.target.ddlStatements()[1], `ADD COLUMN "note" TEXT`)
	})

	t.Run("should retry a transient read failure", func(t *testing.T) {
		env, s := newFakeEnv(), newStores(t)
		env.seed("orders", 20)
		env.source.readErr = func(_ string, call int) error {
			if call < 2 {
				return connector.ReadError("orders", errors.New("connection reset by peer"), true)
			}
			return nil
		}

		rep := newOrchestrator(t, testConfig("orders"), env, s).Run(ctx)
		assert.Equal(t, report.StatusSuccess, rep.Status)
		assert.Equal(t, int64(20), rep.Tables[0].RowsSynced)
		assert.Equal(t, []int{-1, -1, 20, 0}, env.source.readSizes("orders"))
	})

	t.Run("should fail after the retry ceiling", func(t *testing.T) {
		env, s := newFakeEnv(), newStores(t)
		env.seed("orders", 20)
		env.source.readErr = func(string, int) error {
			return connector.ReadError("orders", errors.New("lock wait timeout exceeded"), true)
		}

		rep := newOrchestrator(t, testConfig("orders"), env, s).Run(ctx)
		table := rep.Tables[0]
		assert.Equal(t, report.TableFailed, table.Status)
		assert.Equal(t, "read", table.ErrorKind)
		assert.Equal(t, 4, table.FailedAttempt)
		assert.Len(t, env.source.readSizes("orders"), 4)
	})

	t.Run("should finish the current batch when cancelled", func(t *testing.T) {
		env, s := newFakeEnv(), newStores(t)
		env.seed("orders", 150)

		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		env.target.writeErr = func(_ string, call int) error {
			if call == 0 {
				cancel()
			}
			return nil
		}

		rep := newOrchestrator(t, testConfig("orders"), env, s).Run(runCtx)
		table := rep.Tables[0]
		assert.Equal(t, report.TableFailed, table.Status)
		assert.Equal(t, report.ErrorKindCancelled, table.ErrorKind)
		assert.Equal(t, int64(50), table.RowsSynced)
		assert.Equal(t, schema.IntWatermark(50), committed(t, s, "orders__orders").Watermark)
	})

	t.Run("should release connections and bound concurrency", func(t *testing.T) {
		env, s := newFakeEnv(), newStores(t)
		tables := []string{"t1", "t2", "t3", "t4", "t5"}
		for _, table := range tables {
			env.seed(table, 10)
		}
		env.source.readWait = 5 * time.Millisecond
		env.target.writeErr = func(table string, _ int) error {
			if table == "t3" {
				return connector.WriteError(table, errors.New("value too long"), false)
			}
			return nil
		}

		rep := newOrchestrator(t, testConfig(tables...), env, s).Run(ctx)
		assert.Equal(t, report.StatusPartialSuccess, rep.Status)

		assert.LessOrEqual(t, env.source.maxOpen.Load(), int64(2))
		assert.Equal(t, int64(5), env.source.opened.Load())
		assert.Equal(t, env.source.opened.Load(), env.source.closed.Load())
		assert.Equal(t, env.target.opened.Load(), env.target.closed.Load())
		assert.Zero(t, env.target.open.Load())
	})

	t.Run("should fail tables of an already cancelled run", func(t *testing.T) {
		env, s := newFakeEnv(), newStores(t)
		env.seed("orders", 10)

		runCtx, cancel := context.WithCancel(ctx)
		cancel()

		rep := newOrchestrator(t, testConfig("orders"), env, s).Run(runCtx)
		assert.Equal(t, report.StatusFailed, rep.Status)
		assert.Equal(t, report.ErrorKindCancelled, rep.Tables[0].ErrorKind)
		assert.Zero(t, env.source.opened.Load())
	})

	t.Run("should reject an unknown watermark column", func(t *testing.T) {
		env, s := newFakeEnv(), newStores(t)
		env.seed("orders", 10)
		cfg := testConfig("orders")
		cfg.Tables[0].WatermarkColumn = "updated_at"

		rep := newOrchestrator(t, cfg, env, s).Run(ctx)
		assert.Equal(t, report.ErrorKindSchema, rep.Tables[0].ErrorKind)
	})
}

func TestNew(t *testing.T) {
	t.Run("should require its dependencies", func(t *testing.T) {
		_, err := New(testConfig("orders"), Dependencies{})
		assert.Error(t, err)
	})
}

type crashingKV struct {
	kv.Store
	mu        sync.Mutex
	puts      int
	failAfter int
}

func (c *crashingKV) Put(ctx context.Context, key string, v any) error {
	c.mu.Lock()
	c.puts++
	fail := c.puts > c.failAfter
	c.mu.Unlock()

	if fail {
		return errors.New("process killed")
	}
	return c.Store.Put(ctx, key, v)
}
