package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/tokenlens/costbasis/pkg/db/clickhouse"
	"github.com/tokenlens/costbasis/pkg/db/models"
)

func (db *DB) initHolders(ctx context.Context) error {
	schemaSQL := models.ColumnsToSchemaSQL(models.HolderColumns)

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS "%s"."%s" (
			%s
		) ENGINE = %s(last_calculated)
		ORDER BY (wallet_id)
	`, db.Name, models.HoldersTableName, schemaSQL, clickhouse.ReplacingMergeTree)
	if err := db.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", models.HoldersTableName, err)
	}

	return nil
}

// GetHolder returns the wallet's holder record, or nil when the wallet has
// never been materialized as a holder.
func (db *DB) GetHolder(ctx context.Context, walletID string) (*models.Holder, error) {
	query := fmt.Sprintf(`
		SELECT wallet_id, address, average_acquisition_price_usd, total_cost_usd, total_tokens_acquired, transaction_count, last_calculated
		FROM "%s"."%s" FINAL
		WHERE wallet_id = ?
		LIMIT 1
	`, db.Name, models.HoldersTableName)

	var h models.Holder
	err := db.Db.QueryRow(ctx, query, walletID).Scan(
		&h.WalletID,
		&h.Address,
		&h.AverageAcquisitionPriceUsd,
		&h.TotalCostUsd,
		&h.TotalTokensAcquired,
		&h.TransactionCount,
		&h.LastCalculated,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query holder %s: %w", walletID, err)
	}

	return &h, nil
}

// UpsertHolderCostBasis persists a computed cost basis for the wallet. The
// ReplacingMergeTree version column (last_calculated) makes the newest row
// win.
func (db *DB) UpsertHolderCostBasis(ctx context.Context, walletID, address string, result *models.CostBasisResult) error {
	query := fmt.Sprintf(
		`INSERT INTO "%s"."%s" (%s) VALUES`,
		db.Name, models.HoldersTableName,
		strings.Join(models.ColumnsToNameList(models.HolderColumns), ", "),
	)
	batch, err := db.PrepareBatch(ctx, query)
	if err != nil {
		return err
	}
	defer func(batch driver.Batch) {
		_ = batch.Abort()
	}(batch)

	lastCalculated := result.LastCalculated
	if lastCalculated.IsZero() {
		lastCalculated = time.Now().UTC()
	}

	err = batch.Append(
		walletID,
		address,
		result.AverageAcquisitionPriceUsd,
		result.TotalCostUsd,
		result.TotalTokensAcquired,
		uint64(result.TransactionCount),
		lastCalculated,
	)
	if err != nil {
		return err
	}

	return batch.Send()
}
