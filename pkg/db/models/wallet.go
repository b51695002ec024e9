package models

import "time"

const WalletsTableName = "wallets"

// WalletColumns defines the schema for the wallets table.
var WalletColumns = []ColumnDef{
	{Name: "id", Type: "String"},
	{Name: "address", Type: "String"},
	{Name: "created_at", Type: "DateTime64(3)"},
}

// Wallet is the storage identity for a tracked wallet. Identity is the
// address; ID is a storage-internal key referenced by transactions.
type Wallet struct {
	ID        string    `ch:"id" json:"id"`
	Address   string    `ch:"address" json:"address"`
	CreatedAt time.Time `ch:"created_at" json:"createdAt"`

	// HasHolder reports whether a holder record exists for this wallet.
	// Populated by queries that join against the holders table.
	HasHolder bool `ch:"-" json:"hasHolder"`
}
