package orchestrator

import (
	"context"
	goerrors "errors"
	"time"

	"github.com/go-playground/errors"

	"github.com/Trendyol/go-db-sync/config"
	"github.com/Trendyol/go-db-sync/connector"
	"github.com/Trendyol/go-db-sync/internal/retry"
	"github.com/Trendyol/go-db-sync/logger"
	"github.com/Trendyol/go-db-sync/offset"
	"github.com/Trendyol/go-db-sync/report"
	"github.com/Trendyol/go-db-sync/schema"
	"github.com/Trendyol/go-db-sync/schemacache"
	"github.com/Trendyol/go-db-sync/translator"
)

type State string

const (
	StateIdle          State = "Idle"
	StateIntrospecting State = "Introspecting"
	StateTranslating   State = "Translating"
	StateDDLApplying   State = "DDLApplying"
	StateSyncing       State = "Syncing"
	StateFailed        State = "Failed"
)

// WatermarkError is returned when the source hands back rows that are not above
// the committed watermark or not in ascending order.
type WatermarkError struct {
	Table string
	Bound schema.Watermark
	Got   schema.Watermark
}

func (e *WatermarkError) Error() string {
	return "non monotonic watermark on " + e.Table + ": " + e.Got.String() + " after " + e.Bound.String()
}

type pipeline struct {
	o     *Orchestrator
	pair  config.TablePair
	id    string
	rep   *report.TableReport
	state State

	source connector.Connector
	target connector.Connector

	sourceSpec *schema.TableSpec
	targetSpec *schema.TableSpec
}

func newPipeline(o *Orchestrator, pair config.TablePair, rep *report.TableReport) *pipeline {
	*rep = report.TableReport{
		TableID: pair.ID(),
		Source:  pair.Source,
		Target:  pair.Target,
		Status:  report.TableIdle,
	}
	return &pipeline{o: o, pair: pair, id: pair.ID(), rep: rep, state: StateIdle}
}

func (p *pipeline) transition(s State) {
	logger.Debug("[pipeline] state changed", "table", p.id, "from", p.state, "to", s)
	p.state = s
}

func (p *pipeline) run(ctx context.Context) {
	p.rep.StartedAt = time.Now().UTC()
	defer func() {
		p.rep.EndedAt = time.Now().UTC()
	}()

	if err := ctx.Err(); err != nil {
		p.fail(ctx, err, 0)
		return
	}

	defer p.release(ctx)

	if err := p.open(ctx); err != nil {
		return
	}

	p.transition(StateIntrospecting)
	if err := p.introspect(ctx); err != nil {
		return
	}

	p.transition(StateTranslating)
	res, err := p.translate(ctx)
	if err != nil {
		return
	}

	if len(res.Statements) > 0 {
		p.transition(StateDDLApplying)
		if err = p.applyDDL(ctx, res.Statements); err != nil {
			return
		}
	}

	if err = p.o.deps.Schemas.Put(ctx, schemacache.NewRecord(p.pair.Source, p.sourceSpec)); err != nil {
		p.fail(ctx, err, 0)
		return
	}

	p.transition(StateSyncing)
	if err = p.sync(ctx); err != nil {
		return
	}

	p.transition(StateIdle)
	logger.Info("[pipeline] table synced",
		"table", p.id,
		"rows", p.rep.RowsSynced,
		"batches", p.rep.Batches,
		"caughtUp", p.rep.CaughtUp)
}

func (p *pipeline) open(ctx context.Context) error {
	var err error
	if p.source, err = p.o.deps.NewConnector(p.o.cfg.Source); err != nil {
		p.fail(ctx, connector.ConnectionError("create source connector", err), 0)
		return err
	}
	if p.target, err = p.o.deps.NewConnector(p.o.cfg.Target); err != nil {
		p.fail(ctx, connector.ConnectionError("create target connector", err), 0)
		return err
	}

	for _, c := range []connector.Connector{p.source, p.target} {
		_, attempts, err := retry.Do(ctx, p.o.policy(p.id, "connect"), "connect "+string(c.Kind()), func() (struct{}, error) {
			return struct{}{}, c.Connect(ctx)
		})
		if err != nil {
			p.fail(ctx, err, attempts)
			return err
		}
	}
	return nil
}

func (p *pipeline) release(ctx context.Context) {
	rctx, cancel := releaseContext(ctx)
	defer cancel()

	for _, c := range []connector.Connector{p.source, p.target} {
		if c == nil {
			continue
		}
		if err := c.Close(rctx); err != nil {
			logger.Warn("[pipeline] connection close failed", "table", p.id, "kind", c.Kind(), "error", err)
		}
	}
}

func (p *pipeline) introspect(ctx context.Context) error {
	spec, attempts, err := retry.Do(ctx, p.o.policy(p.id, "introspect"), "introspect source", func() (*schema.TableSpec, error) {
		return p.source.IntrospectSchema(ctx, p.pair.Source)
	})
	if err != nil {
		p.fail(ctx, err, attempts)
		return err
	}

	if err = spec.SetKeyColumns(p.pair.KeyColumns); err != nil {
		p.fail(ctx, connector.SchemaError(p.pair.Source, err), 0)
		return err
	}
	if err = spec.SetWatermark(p.pair.WatermarkColumn); err != nil {
		p.fail(ctx, connector.SchemaError(p.pair.Source, err), 0)
		return err
	}
	p.sourceSpec = spec

	target, attempts, err := retry.Do(ctx, p.o.policy(p.id, "introspect"), "introspect target", func() (*schema.TableSpec, error) {
		return p.target.IntrospectSchema(ctx, p.pair.Target)
	})
	switch {
	case connector.IsTableNotFound(err):
		p.targetSpec = nil
	case err != nil:
		p.fail(ctx, err, attempts)
		return err
	default:
		p.targetSpec = target
	}
	return nil
}

func (p *pipeline) translate(ctx context.Context) (*translator.Result, error) {
	cached, err := p.o.deps.Schemas.Get(ctx, p.pair.Source)
	if err != nil {
		p.fail(ctx, err, 0)
		return nil, err
	}

	res, err := p.o.translator.Translate(translator.Request{
		Source:     p.sourceSpec,
		Cached:     cached,
		Target:     p.targetSpec,
		TargetName: p.pair.Target,
	})
	if res != nil {
		p.rep.Action = res.Action
	}
	if err != nil {
		var drift *translator.DriftError
		if goerrors.As(err, &drift) {
			p.rep.Drift = &drift.Report
			logger.Error("[pipeline] incompatible schema drift", "table", p.id, "drift", drift.Report.String())
		}
		p.fail(ctx, err, 0)
		return nil, err
	}

	p.targetSpec = res.TargetSpec
	if err = p.targetSpec.SetKeyColumns(p.pair.KeyColumns); err != nil {
		p.fail(ctx, connector.SchemaError(p.pair.Target, err), 0)
		return nil, err
	}
	return res, nil
}

func (p *pipeline) applyDDL(ctx context.Context, statements []string) error {
	for _, stmt := range statements {
		logger.Info("[pipeline] applying ddl", "table", p.id, "statement", stmt)
		if err := p.target.ExecuteDDL(ctx, stmt); err != nil {
			p.fail(ctx, err, 0)
			return err
		}
	}
	return nil
}

func (p *pipeline) sync(ctx context.Context) error {
	cur, err := p.o.deps.Offsets.Get(ctx, p.id)
	if err != nil {
		p.fail(ctx, err, 0)
		return err
	}
	p.setOffset(cur)

	for p.rep.Batches < p.o.cfg.Sync.MaxBatchesPerRun {
		// cancellation is only observed between batches
		if err = ctx.Err(); err != nil {
			p.fail(ctx, err, 0)
			return err
		}
		if p.o.limiter != nil {
			if err = p.o.limiter.Wait(ctx); err != nil {
				p.fail(ctx, err, 0)
				return err
			}
		}

		started := time.Now()
		batch, attempts, err := retry.Do(ctx, p.o.policy(p.id, "read"), "read batch", func() (*connector.Batch, error) {
			return p.source.ReadBatch(ctx, p.sourceSpec, cur.Watermark, p.o.cfg.Sync.BatchSize)
		})
		if err != nil {
			p.fail(ctx, err, attempts)
			return err
		}
		if batch.IsEmpty() {
			p.rep.CaughtUp = true
			return nil
		}

		last, err := p.checkMonotonic(cur.Watermark, batch)
		if err != nil {
			p.fail(ctx, err, 0)
			return err
		}

		rows := make([]connector.Row, len(batch.Rows))
		for i, row := range batch.Rows {
			if rows[i], err = p.o.translator.CoerceRow(p.targetSpec, row); err != nil {
				p.fail(ctx, err, 0)
				return err
			}
		}

		// a started batch is always written and committed, even when the run is cancelled
		wctx := context.WithoutCancel(ctx)
		res, attempts, err := retry.Do(wctx, p.o.policy(p.id, "write"), "write batch", func() (connector.WriteResult, error) {
			return p.target.WriteBatch(wctx, p.targetSpec, &connector.Batch{Rows: rows, Last: last})
		})
		if err != nil {
			p.fail(ctx, err, attempts)
			return err
		}

		next, err := p.o.deps.Offsets.Commit(wctx, p.id, cur.Next(last))
		if err != nil {
			p.fail(ctx, err, 0)
			return err
		}
		cur = next
		p.setOffset(cur)

		p.rep.RowsSynced += res.RowsWritten
		p.rep.Batches++

		m := p.o.deps.Metric
		m.RowsSyncedIncrement(p.id, res.RowsWritten)
		m.BatchIncrement(p.id)
		m.SetWatermark(p.id, cur.Watermark.Float())
		m.SetBatchLatency(p.id, time.Since(started))

		logger.Debug("[pipeline] batch committed",
			"table", p.id,
			"sequence", cur.BatchSequence,
			"watermark", cur.Watermark.String(),
			"rows", res.RowsWritten)
	}

	logger.Info("[pipeline] max batches per run reached", "table", p.id, "batches", p.rep.Batches)
	return nil
}

// checkMonotonic verifies every row is above bound and the rows ascend, and
// returns the watermark of the last row.
func (p *pipeline) checkMonotonic(bound schema.Watermark, batch *connector.Batch) (schema.Watermark, error) {
	col, ok := p.sourceSpec.WatermarkColumn()
	if !ok {
		return schema.Watermark{}, connector.ReadError(p.pair.Source, errors.New("no watermark column"), false)
	}

	prev := bound
	for i, row := range batch.Rows {
		w, err := schema.WatermarkFor(col.Type, row[col.Name])
		if err != nil {
			return schema.Watermark{}, connector.ReadError(p.pair.Source, err, false)
		}

		cmp, err := w.Compare(prev)
		if err != nil {
			return schema.Watermark{}, connector.ReadError(p.pair.Source, err, false)
		}
		// rows sharing a watermark may sit in the same batch, never at or below the bound
		if cmp < 0 || (i == 0 && cmp == 0) || w.IsZero() {
			return schema.Watermark{}, &WatermarkError{Table: p.pair.Source, Bound: prev, Got: w}
		}
		prev = w
	}
	return prev, nil
}

func (p *pipeline) setOffset(o offset.Offset) {
	p.rep.LastOffset = &o
}

func (p *pipeline) fail(ctx context.Context, err error, attempt int) {
	kind := classify(ctx, err)

	p.transition(StateFailed)
	p.rep.Fail(kind, err, attempt)
	p.o.deps.Metric.FailureIncrement(p.id, kind)

	logger.Error("[pipeline] table failed", "table", p.id, "kind", kind, "attempt", attempt, "error", err)
}

func classify(ctx context.Context, err error) string {
	if ctx.Err() != nil && (goerrors.Is(err, context.Canceled) || goerrors.Is(err, context.DeadlineExceeded)) {
		return report.ErrorKindCancelled
	}

	var (
		drift      *translator.DriftError
		coercion   *translator.CoercionError
		outOfOrder *offset.OutOfOrderError
		watermark  *WatermarkError
	)
	switch {
	case goerrors.As(err, &drift):
		return report.ErrorKindDrift
	case goerrors.As(err, &coercion):
		return report.ErrorKindCoercion
	case goerrors.As(err, &outOfOrder):
		return report.ErrorKindOffset
	case goerrors.As(err, &watermark):
		return report.ErrorKindWatermark
	}

	if kind := connector.KindOf(err); kind != "" {
		return string(kind)
	}
	if ctx.Err() != nil {
		return report.ErrorKindCancelled
	}
	return "internal"
}
