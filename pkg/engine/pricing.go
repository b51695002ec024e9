package engine

import (
	"context"

	"go.uber.org/zap"
)

const (
	// FloorPriceUsd is the sentinel returned when no real price can be
	// resolved. It only exists to keep downstream division and
	// multiplication finite; it must never be read as a market price.
	FloorPriceUsd = 1e-9

	hourSeconds        int64 = 3600
	priceWindowSeconds int64 = 24 * hourSeconds
)

// PriceResolver resolves a USD unit price for a transaction time against the
// hourly price table. One resolver is created per wallet computation run; the
// memo is scoped to that run and thrown away with it.
//
// Resolution order: exact hour-aligned point, then the nearest point within
// a 24-hour window either side (ties on distance go to the more recent
// point), then FloorPriceUsd.
type PriceResolver struct {
	store  Store
	logger *zap.Logger

	memo map[int64]float64

	// syntheticHits counts resolutions that fell through to the floor
	// price, so callers can see when a result leaned on synthetic pricing.
	syntheticHits int

	virtualPrice    float64
	virtualResolved bool
}

// NewPriceResolver builds a resolver for a single computation run.
func NewPriceResolver(store Store, logger *zap.Logger) *PriceResolver {
	return &PriceResolver{
		store:  store,
		logger: logger,
		memo:   make(map[int64]float64),
	}
}

// Resolve returns the USD price for the hour containing blockTimeSeconds.
// Storage errors degrade to the floor price; they never abort the run.
func (r *PriceResolver) Resolve(ctx context.Context, blockTimeSeconds int64) float64 {
	hour := blockTimeSeconds - (blockTimeSeconds % hourSeconds)

	if price, ok := r.memo[hour]; ok {
		return price
	}

	price := r.lookup(ctx, hour)
	r.memo[hour] = price
	return price
}

func (r *PriceResolver) lookup(ctx context.Context, hour int64) float64 {
	exact, err := r.store.FindHourlyPrice(ctx, hour)
	if err != nil {
		r.logger.Warn("hourly price lookup failed, using floor price",
			zap.Int64("hour", hour),
			zap.Error(err))
		r.syntheticHits++
		return FloorPriceUsd
	}
	if exact != nil && exact.PriceUsd > 0 {
		return exact.PriceUsd
	}

	nearest, err := r.store.FindNearestHourlyPrice(ctx, hour, priceWindowSeconds)
	if err != nil {
		r.logger.Warn("nearest price lookup failed, using floor price",
			zap.Int64("hour", hour),
			zap.Error(err))
		r.syntheticHits++
		return FloorPriceUsd
	}
	if nearest != nil && nearest.PriceUsd > 0 {
		return nearest.PriceUsd
	}

	r.logger.Warn("no price point within window, using floor price",
		zap.Int64("hour", hour),
		zap.Int64("window_seconds", priceWindowSeconds))
	r.syntheticHits++
	return FloorPriceUsd
}

// VirtualBuyPrice synthesizes an acquisition price for oversold tokens whose
// real acquisition was never observed. Fallback chain: the wallet's earliest
// buy with a known non-zero price, then the earliest point in the whole
// price table, then the floor price. Resolved once per run.
func (r *PriceResolver) VirtualBuyPrice(ctx context.Context, walletID string) float64 {
	if r.virtualResolved {
		return r.virtualPrice
	}
	r.virtualPrice = r.resolveVirtualBuyPrice(ctx, walletID)
	r.virtualResolved = true
	return r.virtualPrice
}

func (r *PriceResolver) resolveVirtualBuyPrice(ctx context.Context, walletID string) float64 {
	buy, err := r.store.FindEarliestPricedBuy(ctx, walletID)
	if err != nil {
		r.logger.Warn("earliest priced buy lookup failed",
			zap.String("wallet_id", walletID),
			zap.Error(err))
	} else if buy != nil && buy.TokenPriceUsd > 0 {
		return buy.TokenPriceUsd
	}

	earliest, err := r.store.FindEarliestHourlyPrice(ctx)
	if err != nil {
		r.logger.Warn("earliest hourly price lookup failed",
			zap.String("wallet_id", walletID),
			zap.Error(err))
	} else if earliest != nil && earliest.PriceUsd > 0 {
		return earliest.PriceUsd
	}

	r.logger.Warn("no virtual buy price available, using floor price",
		zap.String("wallet_id", walletID))
	r.syntheticHits++
	return FloorPriceUsd
}

// SyntheticHits reports how many resolutions fell back to the floor price
// during this run.
func (r *PriceResolver) SyntheticHits() int {
	return r.syntheticHits
}
