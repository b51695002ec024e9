package db

import (
	"context"

	"github.com/tokenlens/costbasis/pkg/db/models"
)

// Store describes the storage operations consumed by the cost-basis engine
// and by the external ingestion pipeline.
type Store interface {
	DatabaseName() string
	InitializeDB(ctx context.Context) error
	Close() error

	// --- Wallets

	UpsertWallet(ctx context.Context, wallet *models.Wallet) error
	FindWalletsByAddress(ctx context.Context, addresses []string) ([]*models.Wallet, error)

	// --- Transactions (append-only, written by ingestion)

	InsertTransactions(ctx context.Context, txs []*models.Transaction) error
	FindTransactionsForWallet(ctx context.Context, walletID string) ([]*models.Transaction, error)
	HasTransactionAfter(ctx context.Context, walletID string, afterUnixSeconds int64) (bool, error)
	FindEarliestPricedBuy(ctx context.Context, walletID string) (*models.Transaction, error)

	// --- Hourly prices (append-only reference data)

	InsertHourlyPrices(ctx context.Context, points []*models.HourlyPricePoint) error
	FindHourlyPrice(ctx context.Context, timestamp int64) (*models.HourlyPricePoint, error)
	FindNearestHourlyPrice(ctx context.Context, target, windowSeconds int64) (*models.HourlyPricePoint, error)
	FindEarliestHourlyPrice(ctx context.Context) (*models.HourlyPricePoint, error)

	// --- Holders

	GetHolder(ctx context.Context, walletID string) (*models.Holder, error)
	UpsertHolderCostBasis(ctx context.Context, walletID, address string, result *models.CostBasisResult) error
}

var _ Store = (*DB)(nil)
