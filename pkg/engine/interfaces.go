package engine

import (
	"context"

	"github.com/tokenlens/costbasis/pkg/db/models"
)

// Store is the storage surface the engine consumes. *db.DB satisfies it; the
// engine never writes transactions or prices, only holder records.
type Store interface {
	FindWalletsByAddress(ctx context.Context, addresses []string) ([]*models.Wallet, error)
	FindTransactionsForWallet(ctx context.Context, walletID string) ([]*models.Transaction, error)
	HasTransactionAfter(ctx context.Context, walletID string, afterUnixSeconds int64) (bool, error)
	FindEarliestPricedBuy(ctx context.Context, walletID string) (*models.Transaction, error)

	FindHourlyPrice(ctx context.Context, timestamp int64) (*models.HourlyPricePoint, error)
	FindNearestHourlyPrice(ctx context.Context, target, windowSeconds int64) (*models.HourlyPricePoint, error)
	FindEarliestHourlyPrice(ctx context.Context) (*models.HourlyPricePoint, error)

	GetHolder(ctx context.Context, walletID string) (*models.Holder, error)
	UpsertHolderCostBasis(ctx context.Context, walletID, address string, result *models.CostBasisResult) error
}

// Cache is the key/value cache collaborator. *redis.Client satisfies it.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttlSeconds int) error
	Delete(ctx context.Context, key string) error
	ClearByPattern(ctx context.Context, pattern string) (int64, error)
}

// Notifier publishes best-effort change notifications for downstream
// consumers. *redis.Client satisfies it.
type Notifier interface {
	Publish(ctx context.Context, channel string, message interface{})
}
