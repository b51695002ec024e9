package db

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/tokenlens/costbasis/pkg/db/clickhouse"
	"github.com/tokenlens/costbasis/pkg/utils"
)

// DB is the ClickHouse-backed storage for wallets, transactions, hourly
// prices and holder cost-basis records. It implements Store.
type DB struct {
	clickhouse.Client
	Name string
}

// New connects to ClickHouse and ensures all tables exist.
// The database name comes from COSTBASIS_DB (default "costbasis").
func New(ctx context.Context, logger *zap.Logger) (*DB, error) {
	dbName := clickhouse.SanitizeName(utils.Env("COSTBASIS_DB", "costbasis"))

	client, err := clickhouse.New(ctx, logger.With(zap.String("db", dbName)), dbName)
	if err != nil {
		return nil, err
	}

	d := &DB{
		Client: client,
		Name:   dbName,
	}

	if err := d.InitializeDB(ctx); err != nil {
		return nil, err
	}

	return d, nil
}

// DatabaseName returns the target database name.
func (db *DB) DatabaseName() string {
	return db.Name
}

// InitializeDB ensures all tables for the engine are created.
func (db *DB) InitializeDB(ctx context.Context) error {
	initOps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"wallets", db.initWallets},
		{"transactions", db.initTransactions},
		{"hourly_prices", db.initHourlyPrices},
		{"holders", db.initHolders},
	}

	for _, op := range initOps {
		if err := op.fn(ctx); err != nil {
			return fmt.Errorf("init table %s: %w", op.name, err)
		}
	}

	db.Logger.Info("Storage schema initialized", zap.String("database", db.Name))
	return nil
}
