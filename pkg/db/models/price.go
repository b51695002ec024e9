package models

const HourlyPricesTableName = "hourly_prices"

// HourlyPriceColumns defines the schema for the hourly_prices table.
// ReplacingMergeTree keyed by timestamp lets the ingestion side re-write an
// hour's point idempotently.
var HourlyPriceColumns = []ColumnDef{
	{Name: "timestamp", Type: "Int64", Codec: "Delta, ZSTD(1)"},
	{Name: "price_usd", Type: "Float64"},
}

// HourlyPricePoint is one hour-aligned USD reference price. Read-only to the
// cost-basis engine.
type HourlyPricePoint struct {
	Timestamp int64   `ch:"timestamp" json:"timestamp"`
	PriceUsd  float64 `ch:"price_usd" json:"priceUsd"`
}
