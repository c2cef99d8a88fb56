package main

import (
	"context"
	"errors"
	"log/slog"
	"os"

	dbsync "github.com/Trendyol/go-db-sync"
	"github.com/Trendyol/go-db-sync/config"
)

/*
	Copies dbo.events from SQL Server into a local SQLite file.

	CREATE TABLE dbo.events (
	 id BIGINT IDENTITY PRIMARY KEY,
	 name NVARCHAR(100) NOT NULL,
	 payload NVARCHAR(MAX),
	 occurred_at DATETIME2 NOT NULL
	);
*/

func main() {
	ctx := context.Background()
	cfg := config.Config{
		Source: config.DatabaseConfig{
			Kind:     "mssql",
			Host:     "127.0.0.1",
			Database: "events",
			Username: "sa",
			Password: "Passw0rd!",
			Params:   map[string]string{"encrypt": "disable"},
		},
		Target: config.DatabaseConfig{
			Kind:     "sqlite",
			Database: "./data/events.db",
		},
		Tables: []config.TablePair{{Source: "events"}},
	}

	syncer, err := dbsync.NewSyncer(ctx, cfg)
	if err != nil {
		slog.Error("new syncer", "error", err)
		os.Exit(1)
	}
	defer syncer.Close()

	rep, err := syncer.Run(ctx)
	if errors.Is(err, dbsync.ErrRunFailed) {
		for _, t := range rep.Tables {
			slog.Error("table failed", "table", t.TableID, "kind", t.ErrorKind, "error", t.ErrorDetail)
		}
		os.Exit(rep.ExitCode())
	}
	slog.Info("synced", "rows", rep.RowsSynced(), "duration", rep.Duration())
}
