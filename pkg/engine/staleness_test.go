package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/tokenlens/costbasis/pkg/db/models"
)

func TestStalenessChecker_NeverCalculatedIsStale(t *testing.T) {
	store := newFakeStore()
	checker := NewStalenessChecker(store, zap.NewNop())

	assert.False(t, checker.IsCurrent(context.Background(), testWalletID, time.Time{}))
	// Storage was not even consulted.
	assert.Zero(t, store.hasAfterCalls)
}

func TestStalenessChecker_CurrentWhenNoNewerTransactions(t *testing.T) {
	store := newFakeStore()
	store.txs[testWalletID] = []*models.Transaction{
		buy("sig1", 1_000_000, 10, 1.0),
	}
	checker := NewStalenessChecker(store, zap.NewNop())

	lastCalculated := time.Unix(1_000_500, 0)
	assert.True(t, checker.IsCurrent(context.Background(), testWalletID, lastCalculated))
}

func TestStalenessChecker_StaleWhenTransactionPostdates(t *testing.T) {
	store := newFakeStore()
	store.txs[testWalletID] = []*models.Transaction{
		buy("sig1", 1_000_000, 10, 1.0),
		sell("sig2", 1_002_000, 5),
	}
	checker := NewStalenessChecker(store, zap.NewNop())

	lastCalculated := time.Unix(1_001_000, 0)
	assert.False(t, checker.IsCurrent(context.Background(), testWalletID, lastCalculated))
}

func TestStalenessChecker_StorageErrorForcesRecompute(t *testing.T) {
	store := newFakeStore()
	store.hasAfterErr = errors.New("clickhouse down")
	checker := NewStalenessChecker(store, zap.NewNop())

	assert.False(t, checker.IsCurrent(context.Background(), testWalletID, time.Unix(1_000_000, 0)))
}
