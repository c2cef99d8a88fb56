// Package orchestrator runs one sync pass over every configured table pair.
// Each pair gets its own pipeline and its own source and target connections; a
// bounded pool runs the pipelines and a failing table never stops its siblings.
package orchestrator

import (
	"context"
	"time"

	"github.com/go-playground/errors"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/Trendyol/go-db-sync/config"
	"github.com/Trendyol/go-db-sync/connector"
	"github.com/Trendyol/go-db-sync/internal/metric"
	"github.com/Trendyol/go-db-sync/internal/retry"
	"github.com/Trendyol/go-db-sync/logger"
	"github.com/Trendyol/go-db-sync/offset"
	"github.com/Trendyol/go-db-sync/report"
	"github.com/Trendyol/go-db-sync/schemacache"
	"github.com/Trendyol/go-db-sync/translator"
)

// ConnectorFactory builds an unconnected connector for a database.
type ConnectorFactory func(cfg config.DatabaseConfig) (connector.Connector, error)

type Dependencies struct {
	NewConnector ConnectorFactory
	Offsets      *offset.Store
	Schemas      *schemacache.Store
	// Metric is optional.
	Metric metric.Metric
}

type Orchestrator struct {
	cfg        config.Config
	deps       Dependencies
	translator *translator.Translator
	limiter    *rate.Limiter
}

func New(cfg config.Config, deps Dependencies) (*Orchestrator, error) {
	if deps.NewConnector == nil {
		return nil, errors.New("connector factory is required")
	}
	if deps.Offsets == nil || deps.Schemas == nil {
		return nil, errors.New("offset store and schema cache are required")
	}
	if deps.Metric == nil {
		deps.Metric = metric.NewMetric(string(cfg.Source.Kind), string(cfg.Target.Kind))
	}

	o := &Orchestrator{
		cfg:        cfg,
		deps:       deps,
		translator: translator.New(translator.NewDialect(cfg.Target.Kind, cfg.Sync.TimestampPolicy), cfg.Target.Schema),
	}
	if r := cfg.Sync.ReadRateLimit; r > 0 {
		o.limiter = rate.NewLimiter(rate.Limit(r), max(1, int(r)))
	}
	return o, nil
}

// Run syncs every table pair once and returns the finished report. It never
// fails as a whole: table failures are recorded in the report.
func (o *Orchestrator) Run(ctx context.Context) *report.RunReport {
	if o.cfg.Sync.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.Sync.RunTimeout)
		defer cancel()
	}

	rep := report.New(uuid.NewString(), len(o.cfg.Tables))
	logger.Info("[orchestrator] run started", "runID", rep.RunID, "tables", len(o.cfg.Tables))

	var g errgroup.Group
	g.SetLimit(max(1, o.cfg.Sync.Concurrency))

	for i, pair := range o.cfg.Tables {
		g.Go(func() error {
			p := newPipeline(o, pair, &rep.Tables[i])
			p.run(ctx)
			return nil
		})
	}
	_ = g.Wait()

	rep.Finish()
	o.deps.Metric.SetRunDuration(rep.Duration())
	o.deps.Metric.SetTables(rep.TablesSucceeded, rep.TablesFailed)

	logger.Info("[orchestrator] run finished",
		"runID", rep.RunID,
		"status", rep.Status,
		"succeeded", rep.TablesSucceeded,
		"failed", rep.TablesFailed,
		"rows", rep.RowsSynced(),
		"duration", rep.Duration().String())

	return rep
}

func (o *Orchestrator) policy(table, op string) retry.Policy {
	return retry.Policy{
		MaxRetries: o.cfg.Sync.MaxRetries,
		Base:       o.cfg.Sync.BackoffBase,
		Max:        o.cfg.Sync.BackoffMax,
		If:         connector.IsRetryable,
		OnRetry: func(n uint, err error) {
			logger.Warn("[orchestrator] retrying", "table", table, "op", op, "attempt", n+1, "error", err)
			o.deps.Metric.RetryIncrement(table, op)
		},
	}
}

// releaseContext outlives a cancelled run so connections are still closed cleanly.
func releaseContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
}
