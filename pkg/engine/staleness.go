package engine

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// StalenessChecker decides whether a stored cost-basis result can be reused:
// it is current iff no transaction touching the wallet postdates it.
type StalenessChecker struct {
	store  Store
	logger *zap.Logger
}

// NewStalenessChecker builds a checker over the given storage.
func NewStalenessChecker(store Store, logger *zap.Logger) *StalenessChecker {
	return &StalenessChecker{
		store:  store,
		logger: logger,
	}
}

// IsCurrent reports whether the result computed at lastCalculated is still
// valid. A zero lastCalculated means never computed. A storage error forces
// a recompute rather than risking stale data.
func (s *StalenessChecker) IsCurrent(ctx context.Context, walletID string, lastCalculated time.Time) bool {
	if lastCalculated.IsZero() {
		return false
	}

	hasNewer, err := s.store.HasTransactionAfter(ctx, walletID, lastCalculated.Unix())
	if err != nil {
		s.logger.Warn("staleness check failed, forcing recompute",
			zap.String("wallet_id", walletID),
			zap.Error(err))
		return false
	}

	return !hasNewer
}
