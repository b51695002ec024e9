package engine

import (
	"context"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/tokenlens/costbasis/pkg/db/models"
)

// Calculator replays one wallet's transactions in time order and produces
// its cost basis under the moving-average-cost method: a sell reduces the
// cost basis in proportion to the average cost of all held tokens, not to
// specific dated lots.
type Calculator struct {
	store  Store
	logger *zap.Logger
}

// NewCalculator builds a calculator over the given storage.
func NewCalculator(store Store, logger *zap.Logger) *Calculator {
	return &Calculator{
		store:  store,
		logger: logger,
	}
}

// ComputeCostBasis replays the transactions and returns the wallet's final
// cost basis. Returns nil when the transaction list is empty.
//
// The replay requires ascending block-time order. Out-of-order input is
// re-sorted on a copy rather than rejected, so a caller bug cannot silently
// corrupt the averages.
func (c *Calculator) ComputeCostBasis(ctx context.Context, walletID string, txs []*models.Transaction) *models.CostBasisResult {
	if len(txs) == 0 {
		return nil
	}

	txs = sortedByBlockTime(txs)

	resolver := NewPriceResolver(c.store, c.logger)

	var (
		currentTokens float64
		costBasis     float64
		totalAcquired float64
		totalCostEver float64
	)

	for _, tx := range txs {
		switch {
		case tx.IsBuyFor(walletID):
			price := tx.TokenPriceUsd
			if price <= 0 {
				price = resolver.Resolve(ctx, tx.BlockTime)
			}
			cost := tx.TokenAmount * price
			currentTokens += tx.TokenAmount
			costBasis += cost
			totalAcquired += tx.TokenAmount
			totalCostEver += cost

		case tx.IsSellFor(walletID):
			if currentTokens <= 0 {
				// Nothing tracked as held; nothing to adjust.
				continue
			}
			averageCost := costBasis / currentTokens
			removed := min(tx.TokenAmount, currentTokens) * averageCost
			costBasis -= removed
			currentTokens -= tx.TokenAmount

			if currentTokens < 0 {
				// Oversell: more sold than we ever saw bought. Account the
				// missing tokens as a quiet buy at a synthesized price so the
				// running average stays defined.
				oversell := -currentTokens
				virtualPrice := resolver.VirtualBuyPrice(ctx, walletID)
				costBasis += oversell * virtualPrice
				currentTokens = 0

				c.logger.Debug("oversell corrected",
					zap.String("wallet_id", walletID),
					zap.String("signature", tx.Signature),
					zap.Float64("oversell_amount", oversell),
					zap.Float64("virtual_price", virtualPrice))
			}
		}

		// Floor against compounding float rounding.
		if costBasis < 0 {
			costBasis = 0
		}
	}

	result := &models.CostBasisResult{
		TotalCostUsd:        costBasis,
		TotalTokensAcquired: currentTokens,
		LastCalculated:      time.Now().UTC(),
		TransactionCount:    len(txs),
		TotalAcquiredEver:   totalAcquired,
		TotalCostEver:       totalCostEver,
		SyntheticPriceHits:  resolver.SyntheticHits(),
	}
	if currentTokens > 0 {
		result.AverageAcquisitionPriceUsd = costBasis / currentTokens
	}

	return result
}

// sortedByBlockTime returns txs in ascending block-time order, copying only
// when the input is actually out of order.
func sortedByBlockTime(txs []*models.Transaction) []*models.Transaction {
	inOrder := slices.IsSortedFunc(txs, func(a, b *models.Transaction) int {
		switch {
		case a.BlockTime < b.BlockTime:
			return -1
		case a.BlockTime > b.BlockTime:
			return 1
		default:
			return 0
		}
	})
	if inOrder {
		return txs
	}

	sorted := slices.Clone(txs)
	slices.SortStableFunc(sorted, func(a, b *models.Transaction) int {
		switch {
		case a.BlockTime < b.BlockTime:
			return -1
		case a.BlockTime > b.BlockTime:
			return 1
		default:
			return 0
		}
	})
	return sorted
}
