package clickhouse

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"github.com/tokenlens/costbasis/pkg/retry"
	"github.com/tokenlens/costbasis/pkg/utils"
)

// Table engines used by the schema definitions.
const (
	MergeTree          = "MergeTree"
	ReplacingMergeTree = "ReplacingMergeTree"
)

// Client wraps a ClickHouse connection scoped to one database.
type Client struct {
	Logger   *zap.Logger
	Db       driver.Conn
	Database string
}

// New opens a ClickHouse connection and ensures the target database exists.
// Configuration comes from the environment:
//   - CLICKHOUSE_ADDR: host:port (default "localhost:9000")
//   - CLICKHOUSE_USER / CLICKHOUSE_PASSWORD: credentials
//   - CLICKHOUSE_MAX_OPEN_CONNS / CLICKHOUSE_MAX_IDLE_CONNS: pool sizing
func New(ctx context.Context, logger *zap.Logger, dbName string) (client Client, e error) {
	connCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	client.Logger = logger
	client.Database = SanitizeName(dbName)

	addr := utils.Env("CLICKHOUSE_ADDR", "localhost:9000")
	username := utils.Env("CLICKHOUSE_USER", "default")
	password := utils.Env("CLICKHOUSE_PASSWORD", "")
	maxOpenConns := utils.EnvInt("CLICKHOUSE_MAX_OPEN_CONNS", 20)
	maxIdleConns := utils.EnvInt("CLICKHOUSE_MAX_IDLE_CONNS", 10)

	options := &clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			// Connect to the default database first; the target database may not
			// exist yet and is created below.
			Database: "default",
			Username: username,
			Password: password,
		},
		DialTimeout:     30 * time.Second,
		MaxOpenConns:    maxOpenConns,
		MaxIdleConns:    maxIdleConns,
		ConnMaxLifetime: time.Hour,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		Settings: clickhouse.Settings{
			"prefer_column_name_to_alias": 1,
		},
	}

	if logger.Core().Enabled(zap.DebugLevel) {
		options.Debugf = logger.Named("clickhouse.driver").Sugar().Debugf
	}

	retryConfig := retry.DefaultConfig()
	err := retry.WithBackoff(connCtx, retryConfig, logger, "clickhouse_connection", func() error {
		conn, openErr := clickhouse.Open(options)
		if openErr != nil {
			return fmt.Errorf("open clickhouse connection: %w", openErr)
		}
		if pingErr := conn.Ping(connCtx); pingErr != nil {
			return fmt.Errorf("ping clickhouse: %w", pingErr)
		}
		client.Db = conn
		return nil
	})
	if err != nil {
		return client, err
	}

	if err := client.CreateDbIfNotExists(connCtx, client.Database); err != nil {
		return client, err
	}

	logger.Info("ClickHouse connection established",
		zap.String("addr", addr),
		zap.String("database", client.Database),
		zap.Int("max_open_conns", maxOpenConns),
		zap.Int("max_idle_conns", maxIdleConns))

	return client, nil
}

// CreateDbIfNotExists creates the named database when missing.
func (c *Client) CreateDbIfNotExists(ctx context.Context, name string) error {
	query := fmt.Sprintf(`CREATE DATABASE IF NOT EXISTS "%s"`, SanitizeName(name))
	if err := c.Db.Exec(ctx, query); err != nil {
		return fmt.Errorf("create database %s: %w", name, err)
	}
	return nil
}

// Exec executes an arbitrary statement against the connection.
func (c *Client) Exec(ctx context.Context, query string, args ...any) error {
	return c.Db.Exec(ctx, query, args...)
}

// PrepareBatch prepares a batch insert.
func (c *Client) PrepareBatch(ctx context.Context, query string) (driver.Batch, error) {
	return c.Db.PrepareBatch(ctx, query)
}

// Close terminates the connection.
func (c *Client) Close() error {
	if c.Db == nil {
		return nil
	}
	return c.Db.Close()
}

var sanitizeRe = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// SanitizeName strips characters that are unsafe inside quoted identifiers.
func SanitizeName(name string) string {
	return sanitizeRe.ReplaceAllString(strings.TrimSpace(name), "_")
}
