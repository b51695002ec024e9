package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"github.com/tokenlens/costbasis/pkg/db/clickhouse"
	"github.com/tokenlens/costbasis/pkg/db/models"
)

func (db *DB) initTransactions(ctx context.Context) error {
	schemaSQL := models.ColumnsToSchemaSQL(models.TransactionColumns)

	// ReplacingMergeTree keyed by signature keeps ingestion idempotent when
	// the same transaction is observed twice.
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS "%s"."%s" (
			%s
		) ENGINE = %s
		ORDER BY (signature)
	`, db.Name, models.TransactionsTableName, schemaSQL, clickhouse.ReplacingMergeTree)
	if err := db.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", models.TransactionsTableName, err)
	}

	return nil
}

// InsertTransactions batch-inserts observed transactions. Ingestion-side
// write path; the engine itself only reads.
func (db *DB) InsertTransactions(ctx context.Context, txs []*models.Transaction) error {
	if len(txs) == 0 {
		return nil
	}

	query := fmt.Sprintf(
		`INSERT INTO "%s"."%s" (%s) VALUES`,
		db.Name, models.TransactionsTableName,
		strings.Join(models.ColumnsToNameList(models.TransactionColumns), ", "),
	)
	batch, err := db.PrepareBatch(ctx, query)
	if err != nil {
		return err
	}
	defer func(batch driver.Batch) {
		_ = batch.Abort()
	}(batch)

	for _, tx := range txs {
		err = batch.Append(
			tx.Signature,
			tx.BlockTime,
			tx.TokenAmount,
			tx.TokenPriceUsd,
			tx.SourceWalletID,
			tx.DestinationWalletID,
		)
		if err != nil {
			return err
		}
	}

	return batch.Send()
}

// FindTransactionsForWallet returns every transaction touching the wallet,
// ordered ascending by block time. The replay algorithm depends on this
// ordering.
func (db *DB) FindTransactionsForWallet(ctx context.Context, walletID string) ([]*models.Transaction, error) {
	query := fmt.Sprintf(`
		SELECT signature, block_time, token_amount, token_price_usd, source_wallet_id, destination_wallet_id
		FROM "%s"."%s" FINAL
		WHERE source_wallet_id = ? OR destination_wallet_id = ?
		ORDER BY block_time ASC, signature ASC
	`, db.Name, models.TransactionsTableName)

	rows, err := db.Db.Query(ctx, query, walletID, walletID)
	if err != nil {
		return nil, fmt.Errorf("query transactions for wallet %s: %w", walletID, err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			db.Logger.Warn("failed to close rows", zap.Error(closeErr))
		}
	}()

	var txs []*models.Transaction
	for rows.Next() {
		var tx models.Transaction
		if err := rows.Scan(
			&tx.Signature,
			&tx.BlockTime,
			&tx.TokenAmount,
			&tx.TokenPriceUsd,
			&tx.SourceWalletID,
			&tx.DestinationWalletID,
		); err != nil {
			return nil, fmt.Errorf("scan transaction row: %w", err)
		}
		txs = append(txs, &tx)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("transaction rows iteration: %w", err)
	}

	return txs, nil
}

// HasTransactionAfter reports whether any transaction touching the wallet has
// a block time strictly greater than afterUnixSeconds.
func (db *DB) HasTransactionAfter(ctx context.Context, walletID string, afterUnixSeconds int64) (bool, error) {
	query := fmt.Sprintf(`
		SELECT count() > 0
		FROM "%s"."%s"
		WHERE (source_wallet_id = ? OR destination_wallet_id = ?) AND block_time > ?
	`, db.Name, models.TransactionsTableName)

	var exists uint8
	if err := db.Db.QueryRow(ctx, query, walletID, walletID, afterUnixSeconds).Scan(&exists); err != nil {
		return false, fmt.Errorf("query transactions after %d for wallet %s: %w", afterUnixSeconds, walletID, err)
	}

	return exists != 0, nil
}

// FindEarliestPricedBuy returns the wallet's earliest buy carrying a known
// non-zero price, or nil when none exists.
func (db *DB) FindEarliestPricedBuy(ctx context.Context, walletID string) (*models.Transaction, error) {
	query := fmt.Sprintf(`
		SELECT signature, block_time, token_amount, token_price_usd, source_wallet_id, destination_wallet_id
		FROM "%s"."%s" FINAL
		WHERE destination_wallet_id = ? AND token_price_usd > 0
		ORDER BY block_time ASC
		LIMIT 1
	`, db.Name, models.TransactionsTableName)

	var tx models.Transaction
	err := db.Db.QueryRow(ctx, query, walletID).Scan(
		&tx.Signature,
		&tx.BlockTime,
		&tx.TokenAmount,
		&tx.TokenPriceUsd,
		&tx.SourceWalletID,
		&tx.DestinationWalletID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query earliest priced buy for wallet %s: %w", walletID, err)
	}

	return &tx, nil
}
