package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/tokenlens/costbasis/pkg/db/clickhouse"
	"github.com/tokenlens/costbasis/pkg/db/models"
)

func (db *DB) initHourlyPrices(ctx context.Context) error {
	schemaSQL := models.ColumnsToSchemaSQL(models.HourlyPriceColumns)

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS "%s"."%s" (
			%s
		) ENGINE = %s
		ORDER BY (timestamp)
	`, db.Name, models.HourlyPricesTableName, schemaSQL, clickhouse.ReplacingMergeTree)
	if err := db.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", models.HourlyPricesTableName, err)
	}

	return nil
}

// InsertHourlyPrices batch-inserts hourly reference prices.
func (db *DB) InsertHourlyPrices(ctx context.Context, points []*models.HourlyPricePoint) error {
	if len(points) == 0 {
		return nil
	}

	query := fmt.Sprintf(
		`INSERT INTO "%s"."%s" (%s) VALUES`,
		db.Name, models.HourlyPricesTableName,
		strings.Join(models.ColumnsToNameList(models.HourlyPriceColumns), ", "),
	)
	batch, err := db.PrepareBatch(ctx, query)
	if err != nil {
		return err
	}
	defer func(batch driver.Batch) {
		_ = batch.Abort()
	}(batch)

	for _, p := range points {
		if err := batch.Append(p.Timestamp, p.PriceUsd); err != nil {
			return err
		}
	}

	return batch.Send()
}

// FindHourlyPrice returns the exact hour-aligned price point, or nil when the
// hour has no point.
func (db *DB) FindHourlyPrice(ctx context.Context, timestamp int64) (*models.HourlyPricePoint, error) {
	query := fmt.Sprintf(`
		SELECT timestamp, price_usd
		FROM "%s"."%s" FINAL
		WHERE timestamp = ?
		LIMIT 1
	`, db.Name, models.HourlyPricesTableName)

	var p models.HourlyPricePoint
	err := db.Db.QueryRow(ctx, query, timestamp).Scan(&p.Timestamp, &p.PriceUsd)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query hourly price at %d: %w", timestamp, err)
	}

	return &p, nil
}

// FindNearestHourlyPrice returns the point closest to target within
// [target-windowSeconds, target+windowSeconds], or nil when the window is
// empty. Ties on distance resolve to the more recent point.
func (db *DB) FindNearestHourlyPrice(ctx context.Context, target, windowSeconds int64) (*models.HourlyPricePoint, error) {
	query := fmt.Sprintf(`
		SELECT timestamp, price_usd
		FROM "%s"."%s" FINAL
		WHERE timestamp >= ? AND timestamp <= ?
		ORDER BY abs(timestamp - ?) ASC, timestamp DESC
		LIMIT 1
	`, db.Name, models.HourlyPricesTableName)

	var p models.HourlyPricePoint
	err := db.Db.QueryRow(ctx, query, target-windowSeconds, target+windowSeconds, target).Scan(&p.Timestamp, &p.PriceUsd)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query nearest hourly price around %d: %w", target, err)
	}

	return &p, nil
}

// FindEarliestHourlyPrice returns the oldest point in the table, or nil when
// the table is empty.
func (db *DB) FindEarliestHourlyPrice(ctx context.Context) (*models.HourlyPricePoint, error) {
	query := fmt.Sprintf(`
		SELECT timestamp, price_usd
		FROM "%s"."%s" FINAL
		ORDER BY timestamp ASC
		LIMIT 1
	`, db.Name, models.HourlyPricesTableName)

	var p models.HourlyPricePoint
	err := db.Db.QueryRow(ctx, query).Scan(&p.Timestamp, &p.PriceUsd)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query earliest hourly price: %w", err)
	}

	return &p, nil
}
