package dbsync

import (
	"context"
	goerrors "errors"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/go-playground/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/Trendyol/go-db-sync/config"
	"github.com/Trendyol/go-db-sync/internal/http"
	"github.com/Trendyol/go-db-sync/internal/kv"
	"github.com/Trendyol/go-db-sync/internal/metric"
	"github.com/Trendyol/go-db-sync/logger"
	"github.com/Trendyol/go-db-sync/offset"
	"github.com/Trendyol/go-db-sync/orchestrator"
	"github.com/Trendyol/go-db-sync/report"
	"github.com/Trendyol/go-db-sync/schemacache"
)

// ErrRunFailed is returned by Run when no table could be synced.
var ErrRunFailed = goerrors.New("sync run failed for every table")

type Syncer interface {
	// Run performs one sync pass. The report is returned even when err is not nil.
	Run(ctx context.Context) (*report.RunReport, error)
	// Start runs on the configured schedule until ctx is done or the process is signalled.
	Start(ctx context.Context)
	ResetOffset(ctx context.Context, tableID string) error
	LastReport() *report.RunReport
	Close()
	GetConfig() *config.Config
	SetMetricCollectors(collectors ...prometheus.Collector)
}

type syncer struct {
	cfg                *config.Config
	orchestrator       *orchestrator.Orchestrator
	offsets            *offset.Store
	schemas            *schemacache.Store
	prometheusRegistry metric.Registry
	server             http.Server

	mu   sync.RWMutex
	last *report.RunReport

	cancelCh  chan os.Signal
	closeOnce sync.Once
}

func NewSyncerWithConfigFile(ctx context.Context, configFilePath string) (Syncer, error) {
	cfg, err := config.ReadConfigFile(configFilePath)
	if err != nil {
		return nil, err
	}

	return NewSyncer(ctx, cfg)
}

func NewSyncer(_ context.Context, cfg config.Config) (Syncer, error) {
	cfg.SetDefault()
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation")
	}

	logger.InitLogger(cfg.Logger.Logger)
	cfg.Print()

	offsetKV, schemaKV, err := openStores(cfg.Storage)
	if err != nil {
		return nil, err
	}
	offsets := offset.New(offsetKV)
	schemas := schemacache.New(schemaKV)

	m := metric.NewMetric(string(cfg.Source.Kind), string(cfg.Target.Kind))
	o, err := orchestrator.New(cfg, orchestrator.Dependencies{
		NewConnector: NewConnector,
		Offsets:      offsets,
		Schemas:      schemas,
		Metric:       m,
	})
	if err != nil {
		_ = offsets.Close()
		_ = schemas.Close()
		return nil, err
	}

	s := &syncer{
		cfg:                &cfg,
		orchestrator:       o,
		offsets:            offsets,
		schemas:            schemas,
		prometheusRegistry: metric.NewRegistry(m),
		cancelCh:           make(chan os.Signal, 1),
	}
	s.server = http.NewServer(cfg, s.prometheusRegistry, s)

	return s, nil
}

func openStores(cfg config.StorageConfig) (offsets, schemas kv.Store, err error) {
	switch cfg.Kind {
	case config.StorageKindSQLite:
		if offsets, err = kv.NewSQLiteStore(cfg.SQLitePath, "offsets"); err != nil {
			return nil, nil, errors.Wrap(err, "open offset store")
		}
		if schemas, err = kv.NewSQLiteStore(cfg.SQLitePath, "schemas"); err != nil {
			_ = offsets.Close()
			return nil, nil, errors.Wrap(err, "open schema cache")
		}
	default:
		if offsets, err = kv.NewFileStore(cfg.OffsetPath); err != nil {
			return nil, nil, errors.Wrap(err, "open offset store")
		}
		if schemas, err = kv.NewFileStore(cfg.SchemaPath); err != nil {
			return nil, nil, errors.Wrap(err, "open schema cache")
		}
	}
	return offsets, schemas, nil
}

func (s *syncer) Run(ctx context.Context) (*report.RunReport, error) {
	rep := s.orchestrator.Run(ctx)

	s.mu.Lock()
	s.last = rep
	s.mu.Unlock()

	if rep.Status == report.StatusFailed {
		return rep, ErrRunFailed
	}
	return rep, nil
}

func (s *syncer) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go s.server.Listen()

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{})), cron.WithLogger(cronLogger{}))
	id, err := c.AddFunc(s.cfg.Sync.Schedule, func() {
		if _, err := s.Run(ctx); err != nil {
			logger.Error("[syncer] run failed", "error", err)
		}
	})
	if err != nil {
		logger.Error("[syncer] invalid schedule", "schedule", s.cfg.Sync.Schedule, "error", err)
		return
	}

	c.Start()
	logger.Info("[syncer] scheduled", "schedule", s.cfg.Sync.Schedule)

	// first run right away, through the chain so it is skipped by a concurrent tick
	var first sync.WaitGroup
	first.Add(1)
	go func() {
		defer first.Done()
		c.Entry(id).WrappedJob.Run()
	}()

	signal.Notify(s.cancelCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGABRT, syscall.SIGQUIT)

	select {
	case <-s.cancelCh:
		logger.Debug("cancel channel triggered")
	case <-ctx.Done():
		logger.Debug("context done")
	}

	cancel()
	<-c.Stop().Done()
	first.Wait()
	logger.Info("[syncer] stopped")
}

func (s *syncer) ResetOffset(ctx context.Context, tableID string) error {
	for _, pair := range s.cfg.Tables {
		if pair.ID() != tableID && pair.Source != tableID {
			continue
		}
		if err := s.offsets.Reset(ctx, pair.ID()); err != nil {
			return err
		}
		logger.Info("[syncer] offset reset", "table", pair.ID())
		return nil
	}
	return errors.Newf("table %s is not configured", tableID)
}

func (s *syncer) LastReport() *report.RunReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

func (s *syncer) Close() {
	s.closeOnce.Do(func() {
		signal.Stop(s.cancelCh)
		close(s.cancelCh)

		s.server.Shutdown()

		if err := s.offsets.Close(); err != nil {
			logger.Error("offset store close", "error", err)
		}
		if err := s.schemas.Close(); err != nil {
			logger.Error("schema cache close", "error", err)
		}
	})
}

func (s *syncer) GetConfig() *config.Config {
	return s.cfg
}

func (s *syncer) SetMetricCollectors(metricCollectors ...prometheus.Collector) {
	s.prometheusRegistry.AddMetricCollectors(metricCollectors...)
}

type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	logger.Debug("[cron] "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	logger.Error("[cron] "+msg, append(keysAndValues, "error", err)...)
}
