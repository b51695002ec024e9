package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"github.com/tokenlens/costbasis/pkg/db/clickhouse"
	"github.com/tokenlens/costbasis/pkg/db/models"
)

func (db *DB) initWallets(ctx context.Context) error {
	schemaSQL := models.ColumnsToSchemaSQL(models.WalletColumns)

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS "%s"."%s" (
			%s
		) ENGINE = %s(created_at)
		ORDER BY (address)
	`, db.Name, models.WalletsTableName, schemaSQL, clickhouse.ReplacingMergeTree)
	if err := db.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", models.WalletsTableName, err)
	}

	return nil
}

// UpsertWallet writes a wallet row. ReplacingMergeTree keyed by address makes
// repeated writes for the same address converge to the newest row.
func (db *DB) UpsertWallet(ctx context.Context, wallet *models.Wallet) error {
	query := fmt.Sprintf(
		`INSERT INTO "%s"."%s" (%s) VALUES`,
		db.Name, models.WalletsTableName,
		strings.Join(models.ColumnsToNameList(models.WalletColumns), ", "),
	)
	batch, err := db.PrepareBatch(ctx, query)
	if err != nil {
		return err
	}
	defer func(batch driver.Batch) {
		_ = batch.Abort()
	}(batch)

	createdAt := wallet.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	if err := batch.Append(wallet.ID, wallet.Address, createdAt); err != nil {
		return err
	}

	return batch.Send()
}

// FindWalletsByAddress resolves addresses to wallets, annotating each with
// whether a holder record exists.
func (db *DB) FindWalletsByAddress(ctx context.Context, addresses []string) ([]*models.Wallet, error) {
	if len(addresses) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(`
		SELECT id, address, created_at,
			id IN (SELECT wallet_id FROM "%s"."%s") AS has_holder
		FROM "%s"."%s" FINAL
		WHERE address IN (?)
	`, db.Name, models.HoldersTableName, db.Name, models.WalletsTableName)

	rows, err := db.Db.Query(ctx, query, addresses)
	if err != nil {
		return nil, fmt.Errorf("query wallets: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			db.Logger.Warn("failed to close rows", zap.Error(closeErr))
		}
	}()

	var wallets []*models.Wallet
	for rows.Next() {
		var (
			w         models.Wallet
			hasHolder uint8
		)
		if err := rows.Scan(&w.ID, &w.Address, &w.CreatedAt, &hasHolder); err != nil {
			return nil, fmt.Errorf("scan wallet row: %w", err)
		}
		w.HasHolder = hasHolder != 0
		wallets = append(wallets, &w)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("wallet rows iteration: %w", err)
	}

	return wallets, nil
}
