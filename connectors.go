package dbsync

import (
	"slices"

	"github.com/go-playground/errors"

	"github.com/Trendyol/go-db-sync/config"
	"github.com/Trendyol/go-db-sync/connector"
	"github.com/Trendyol/go-db-sync/connector/mssql"
	"github.com/Trendyol/go-db-sync/connector/mysql"
	"github.com/Trendyol/go-db-sync/connector/postgres"
	"github.com/Trendyol/go-db-sync/connector/sqlite"
)

// NewConnector selects the engine variant for cfg. The connector is not connected yet.
func NewConnector(cfg config.DatabaseConfig) (connector.Connector, error) {
	switch cfg.Kind {
	case connector.KindMySQL:
		return mysql.New(cfg), nil
	case connector.KindPostgres:
		return postgres.New(cfg), nil
	case connector.KindSQLite:
		return sqlite.New(cfg), nil
	case connector.KindMSSQL:
		return mssql.New(cfg), nil
	}
	return nil, errors.Newf("unsupported database kind %q", cfg.Kind)
}

func SupportedKinds() []connector.Kind {
	return slices.Clone(connector.Kinds)
}
