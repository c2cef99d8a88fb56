package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	dbsync "github.com/Trendyol/go-db-sync"
	"github.com/Trendyol/go-db-sync/config"
)

// Syncs every five minutes and serves /metrics, /status and /report on :8081.
func main() {
	ctx := context.Background()
	cfg := config.Config{
		Source: config.DatabaseConfig{
			Kind:     "postgres",
			Host:     "127.0.0.1",
			Database: "orders_db",
			Username: "sync_user",
			Password: "sync_pass",
		},
		Target: config.DatabaseConfig{
			Kind:     "mysql",
			Host:     "127.0.0.1",
			Database: "reporting",
			Username: "sync_user",
			Password: "sync_pass",
		},
		Tables: []config.TablePair{
			{Source: "orders", WatermarkColumn: "id"},
			{Source: "payments", Target: "order_payments", WatermarkColumn: "created_at", KeyColumns: []string{"id"}},
		},
		Sync: config.SyncConfig{
			BatchSize:     1000,
			Concurrency:   2,
			ReadRateLimit: 20,
			RunTimeout:    4 * time.Minute,
			Schedule:      "@every 5m",
		},
		Storage: config.StorageConfig{
			Kind:       config.StorageKindSQLite,
			SQLitePath: "./data/dbsync.db",
		},
		Metric: config.MetricConfig{Port: 8081},
		Logger: config.LoggerConfig{LogLevel: slog.LevelInfo},
	}

	syncer, err := dbsync.NewSyncer(ctx, cfg)
	if err != nil {
		slog.Error("new syncer", "error", err)
		os.Exit(1)
	}
	defer syncer.Close()

	lastRun := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "example_last_run_rows",
		Help: "rows synced by the last run",
	}, func() float64 {
		if rep := syncer.LastReport(); rep != nil {
			return float64(rep.RowsSynced())
		}
		return 0
	})
	syncer.SetMetricCollectors(lastRun)

	syncer.Start(ctx)
}
