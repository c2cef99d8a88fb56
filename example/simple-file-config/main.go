package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"

	dbsync "github.com/Trendyol/go-db-sync"
)

/*
	mysql -h 127.0.0.1 -u sync_user -psync_pass shop

	CREATE TABLE orders (
	 id BIGINT AUTO_INCREMENT PRIMARY KEY,
	 customer VARCHAR(64) NOT NULL,
	 amount DECIMAL(10,2),
	 created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE customers (
	 id BIGINT PRIMARY KEY,
	 name VARCHAR(128) NOT NULL,
	 updated_at DATETIME(6) NOT NULL
	);
*/

func main() {
	ctx := context.Background()

	syncer, err := dbsync.NewSyncerWithConfigFile(ctx, "./config.yml")
	if err != nil {
		slog.Error("new syncer", "error", err)
		os.Exit(1)
	}
	defer syncer.Close()

	rep, err := syncer.Run(ctx)
	if err != nil {
		slog.Error("run", "error", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(rep)
}
