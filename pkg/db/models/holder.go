package models

import "time"

const HoldersTableName = "holders"

// HolderColumns defines the schema for the holders table.
// ReplacingMergeTree versioned by last_calculated keeps the newest cost-basis
// row per wallet without an update path.
var HolderColumns = []ColumnDef{
	{Name: "wallet_id", Type: "String"},
	{Name: "address", Type: "String"},
	{Name: "average_acquisition_price_usd", Type: "Float64"},
	{Name: "total_cost_usd", Type: "Float64"},
	{Name: "total_tokens_acquired", Type: "Float64"},
	{Name: "transaction_count", Type: "UInt64"},
	{Name: "last_calculated", Type: "DateTime64(3)"},
}

// Holder is the per-wallet holder record carrying the persisted cost basis.
type Holder struct {
	WalletID                   string    `ch:"wallet_id" json:"walletId"`
	Address                    string    `ch:"address" json:"address"`
	AverageAcquisitionPriceUsd float64   `ch:"average_acquisition_price_usd" json:"averageAcquisitionPriceUsd"`
	TotalCostUsd               float64   `ch:"total_cost_usd" json:"totalCostUsd"`
	TotalTokensAcquired        float64   `ch:"total_tokens_acquired" json:"totalTokensAcquired"`
	TransactionCount           uint64    `ch:"transaction_count" json:"transactionCount"`
	LastCalculated             time.Time `ch:"last_calculated" json:"lastCalculated"`
}

// CostBasisResult is the output of one wallet computation.
//
// Invariants after every computation: TotalCostUsd >= 0,
// TotalTokensAcquired >= 0, and AverageAcquisitionPriceUsd equals
// TotalCostUsd / TotalTokensAcquired whenever TotalTokensAcquired > 0
// (zero otherwise).
type CostBasisResult struct {
	AverageAcquisitionPriceUsd float64   `json:"averageAcquisitionPriceUsd"`
	TotalCostUsd               float64   `json:"totalCostUsd"`
	TotalTokensAcquired        float64   `json:"totalTokensAcquired"`
	LastCalculated             time.Time `json:"lastCalculated"`

	// Run metadata, for observability only.
	TransactionCount   int     `json:"transactionCount"`
	TotalAcquiredEver  float64 `json:"totalAcquiredEver"`
	TotalCostEver      float64 `json:"totalCostEver"`
	SyntheticPriceHits int     `json:"syntheticPriceHits"`
}

// CachedCostBasis is the envelope stored in the cache. Derived and
// disposable: losing it costs a recomputation, never correctness.
type CachedCostBasis struct {
	CostBasisResult
	WalletAddress string `json:"walletAddress"`
}
