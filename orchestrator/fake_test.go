package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Trendyol/go-db-sync/config"
	"github.com/Trendyol/go-db-sync/connector"
	"github.com/Trendyol/go-db-sync/schema"
)

type fakeTable struct {
	spec *schema.TableSpec
	rows map[string]connector.Row
}

// fakeDB is an in-memory database shared by every connector built for it.
type fakeDB struct {
	kind connector.Kind

	mu     sync.Mutex
	tables map[string]*fakeTable
	ddl    []string
	reads  map[string][]int
	writes map[string]int

	readErr  func(table string, call int) error
	writeErr func(table string, call int) error
	readWait time.Duration

	open    atomic.Int64
	maxOpen atomic.Int64
	opened  atomic.Int64
	closed  atomic.Int64
}

func newFakeDB(kind connector.Kind) *fakeDB {
	return &fakeDB{
		kind:   kind,
		tables: map[string]*fakeTable{},
		reads:  map[string][]int{},
		writes: map[string]int{},
	}
}

func (db *fakeDB) createTable(spec *schema.TableSpec) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.tables[spec.Name] = &fakeTable{spec: spec.Clone(), rows: map[string]connector.Row{}}
}

func (db *fakeDB) setSpec(name string, spec *schema.TableSpec) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.tables[name].spec = spec.Clone()
}

func (db *fakeDB) insert(table string, rows ...connector.Row) {
	db.mu.Lock()
	defer db.mu.Unlock()
	t := db.tables[table]
	for _, r := range rows {
		t.rows[rowKey(t.spec, r)] = r
	}
}

func (db *fakeDB) rows(table string) map[string]connector.Row {
	db.mu.Lock()
	defer db.mu.Unlock()
	t, ok := db.tables[table]
	if !ok {
		return nil
	}
	out := make(map[string]connector.Row, len(t.rows))
	for k, v := range t.rows {
		out[k] = v
	}
	return out
}

func (db *fakeDB) readSizes(table string) []int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return append([]int(nil), db.reads[table]...)
}

func (db *fakeDB) ddlStatements() []string {
	db.mu.Lock()
	defer db.mu.Unlock()
	return append([]string(nil), db.ddl...)
}

func rowKey(spec *schema.TableSpec, r connector.Row) string {
	keys := spec.KeyColumns()
	if len(keys) == 0 {
		return fmt.Sprint(len(keys), r)
	}
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprint(r[k])
	}
	return strings.Join(parts, "|")
}

type fakeConnector struct {
	db        *fakeDB
	connected bool
}

func (c *fakeConnector) Kind() connector.Kind {
	return c.db.kind
}

func (c *fakeConnector) Connect(context.Context) error {
	c.connected = true
	c.db.opened.Add(1)
	n := c.db.open.Add(1)
	for {
		m := c.db.maxOpen.Load()
		if n <= m || c.db.maxOpen.CompareAndSwap(m, n) {
			break
		}
	}
	return nil
}

func (c *fakeConnector) Close(context.Context) error {
	if c.connected {
		c.connected = false
		c.db.open.Add(-1)
		c.db.closed.Add(1)
	}
	return nil
}

func (c *fakeConnector) IntrospectSchema(_ context.Context, table string) (*schema.TableSpec, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()

	t, ok := c.db.tables[table]
	if !ok || t.spec == nil {
		return nil, connector.SchemaError(table, connector.ErrTableNotFound)
	}
	spec := t.spec.Clone()
	spec.Watermark = ""
	return spec, nil
}

func (c *fakeConnector) ReadBatch(ctx context.Context, spec *schema.TableSpec, lower schema.Watermark, limit int) (*connector.Batch, error) {
	if c.db.readWait > 0 {
		time.Sleep(c.db.readWait)
	}
	if err := ctx.Err(); err != nil {
		return nil, connector.ReadError(spec.Name, err, false)
	}

	c.db.mu.Lock()
	defer c.db.mu.Unlock()

	call := len(c.db.reads[spec.Name])
	if c.db.readErr != nil {
		if err := c.db.readErr(spec.Name, call); err != nil {
			c.db.reads[spec.Name] = append(c.db.reads[spec.Name], -1)
			return nil, err
		}
	}

	col, _ := spec.WatermarkColumn()
	var matching []connector.Row
	for _, r := range c.db.tables[spec.Name].rows {
		w, _ := schema.WatermarkFor(col.Type, r[col.Name])
		if cmp, _ := w.Compare(lower); cmp > 0 {
			matching = append(matching, r)
		}
	}
	sort.Slice(matching, func(i, j int) bool {
		return matching[i][col.Name].(int64) < matching[j][col.Name].(int64)
	})
	if len(matching) > limit {
		matching = matching[:limit]
	}
	c.db.reads[spec.Name] = append(c.db.reads[spec.Name], len(matching))

	batch := &connector.Batch{}
	for _, r := range matching {
		cp := connector.Row{}
		for k, v := range r {
			cp[k] = v
		}
		batch.Rows = append(batch.Rows, cp)
	}
	if len(matching) > 0 {
		batch.Last, _ = schema.WatermarkFor(col.Type, matching[len(matching)-1][col.Name])
	}
	return batch, nil
}

func (c *fakeConnector) WriteBatch(_ context.Context, spec *schema.TableSpec, batch *connector.Batch) (connector.WriteResult, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()

	call := c.db.writes[spec.Name]
	c.db.writes[spec.Name]++
	if c.db.writeErr != nil {
		if err := c.db.writeErr(spec.Name, call); err != nil {
			return connector.WriteResult{}, err
		}
	}

	t, ok := c.db.tables[spec.Name]
	if !ok {
		return connector.WriteResult{}, connector.WriteError(spec.Name, connector.ErrTableNotFound, false)
	}
	t.spec = spec.Clone()
	for _, r := range batch.Rows {
		t.rows[rowKey(spec, r)] = r
	}
	return connector.WriteResult{RowsWritten: int64(len(batch.Rows))}, nil
}

func (c *fakeConnector) ExecuteDDL(_ context.Context, statement string) error {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()

	c.db.ddl = append(c.db.ddl, statement)
	if strings.HasPrefix(statement, "CREATE TABLE ") {
		name := strings.Fields(statement)[2]
		name = strings.Trim(name[strings.LastIndex(name, ".")+1:], `"`)
		c.db.tables[name] = &fakeTable{rows: map[string]connector.Row{}}
	}
	return nil
}

type fakeEnv struct {
	source *fakeDB
	target *fakeDB
}

func newFakeEnv() *fakeEnv {
	return &fakeEnv{
		source: newFakeDB(connector.KindMySQL),
		target: newFakeDB(connector.KindPostgres),
	}
}

func (e *fakeEnv) factory(cfg config.DatabaseConfig) (connector.Connector, error) {
	switch cfg.Kind {
	case connector.KindMySQL:
		return &fakeConnector{db: e.source}, nil
	case connector.KindPostgres:
		return &fakeConnector{db: e.target}, nil
	}
	return nil, fmt.Errorf("unexpected kind %s", cfg.Kind)
}

func ordersSpec(name string) *schema.TableSpec {
	return &schema.TableSpec{
		Schema: "shop",
		Name:   name,
		Columns: []schema.ColumnSpec{
			{Name: "id", Type: schema.LogicalType{Kind: schema.BigInt}, IsKey: true},
			{Name: "customer", Type: schema.LogicalType{Kind: schema.Varchar, Length: 64}},
			{Name: "amount", Type: schema.LogicalType{Kind: schema.Decimal, Precision: 10, Scale: 2}, Nullable: true},
		},
	}
}

func orderRows(from, to int64) []connector.Row {
	var rows []connector.Row
	for id := from; id <= to; id++ {
		rows = append(rows, connector.Row{
			"id":       id,
			"customer": fmt.Sprintf("c-%d", id),
			"amount":   "12.50",
		})
	}
	return rows
}

func (e *fakeEnv) seed(table string, n int64) {
	e.source.createTable(ordersSpec(table))
	e.source.insert(table, orderRows(1, n)...)
}
