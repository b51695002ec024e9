package models

const TransactionsTableName = "transactions"

// TransactionColumns defines the schema for the transactions table.
// block_time is stored as unix seconds to keep the replay arithmetic integral.
var TransactionColumns = []ColumnDef{
	{Name: "signature", Type: "String", Codec: "ZSTD(1)"},
	{Name: "block_time", Type: "Int64", Codec: "Delta, ZSTD(1)"},
	{Name: "token_amount", Type: "Float64"},
	{Name: "token_price_usd", Type: "Float64"},
	{Name: "source_wallet_id", Type: "String"},
	{Name: "destination_wallet_id", Type: "String"},
}

// Transaction is one observed token movement. Append-only: produced by the
// external ingestion pipeline, only ever read here. A zero TokenPriceUsd
// means the price was unknown at ingestion time.
type Transaction struct {
	Signature           string  `ch:"signature" json:"signature"`
	BlockTime           int64   `ch:"block_time" json:"blockTime"`
	TokenAmount         float64 `ch:"token_amount" json:"tokenAmount"`
	TokenPriceUsd       float64 `ch:"token_price_usd" json:"tokenPriceUsd"`
	SourceWalletID      string  `ch:"source_wallet_id" json:"sourceWalletId"`
	DestinationWalletID string  `ch:"destination_wallet_id" json:"destinationWalletId"`
}

// IsBuyFor reports whether this transaction acquires tokens for walletID.
func (t *Transaction) IsBuyFor(walletID string) bool {
	return t.DestinationWalletID == walletID
}

// IsSellFor reports whether this transaction moves tokens out of walletID.
func (t *Transaction) IsSellFor(walletID string) bool {
	return t.SourceWalletID == walletID
}
