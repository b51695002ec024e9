package engine

import (
	"context"
	"sync"

	"github.com/tokenlens/costbasis/pkg/db/models"
)

// fakeStore is an in-memory Store with call counting and error injection.
type fakeStore struct {
	mu sync.Mutex

	wallets map[string]*models.Wallet          // by address
	txs     map[string][]*models.Transaction   // by wallet ID
	prices  map[int64]float64                  // hour-aligned timestamp -> price
	holders map[string]*models.Holder          // by wallet ID
	upserts map[string]*models.CostBasisResult // by wallet ID

	findWalletsErr error
	findTxErr      map[string]error // by wallet ID
	priceErr       error
	hasAfterErr    error
	upsertErr      map[string]error // by wallet ID

	hourlyCalls   int
	nearestCalls  int
	findTxCalls   map[string]int
	hasAfterCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		wallets:     make(map[string]*models.Wallet),
		txs:         make(map[string][]*models.Transaction),
		prices:      make(map[int64]float64),
		holders:     make(map[string]*models.Holder),
		upserts:     make(map[string]*models.CostBasisResult),
		findTxErr:   make(map[string]error),
		upsertErr:   make(map[string]error),
		findTxCalls: make(map[string]int),
	}
}

func (f *fakeStore) addWallet(id, address string, hasHolder bool) *models.Wallet {
	f.mu.Lock()
	defer f.mu.Unlock()
	w := &models.Wallet{ID: id, Address: address, HasHolder: hasHolder}
	f.wallets[address] = w
	return w
}

func (f *fakeStore) FindWalletsByAddress(_ context.Context, addresses []string) ([]*models.Wallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findWalletsErr != nil {
		return nil, f.findWalletsErr
	}
	var out []*models.Wallet
	for _, addr := range addresses {
		if w, ok := f.wallets[addr]; ok {
			out = append(out, w)
		}
	}
	return out, nil
}

func (f *fakeStore) FindTransactionsForWallet(_ context.Context, walletID string) ([]*models.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.findTxCalls[walletID]++
	if err := f.findTxErr[walletID]; err != nil {
		return nil, err
	}
	return f.txs[walletID], nil
}

func (f *fakeStore) HasTransactionAfter(_ context.Context, walletID string, after int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hasAfterCalls++
	if f.hasAfterErr != nil {
		return false, f.hasAfterErr
	}
	for _, tx := range f.txs[walletID] {
		if tx.BlockTime > after {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) FindEarliestPricedBuy(_ context.Context, walletID string) (*models.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.priceErr != nil {
		return nil, f.priceErr
	}
	var earliest *models.Transaction
	for _, tx := range f.txs[walletID] {
		if tx.DestinationWalletID != walletID || tx.TokenPriceUsd <= 0 {
			continue
		}
		if earliest == nil || tx.BlockTime < earliest.BlockTime {
			earliest = tx
		}
	}
	return earliest, nil
}

func (f *fakeStore) FindHourlyPrice(_ context.Context, timestamp int64) (*models.HourlyPricePoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hourlyCalls++
	if f.priceErr != nil {
		return nil, f.priceErr
	}
	if price, ok := f.prices[timestamp]; ok {
		return &models.HourlyPricePoint{Timestamp: timestamp, PriceUsd: price}, nil
	}
	return nil, nil
}

func (f *fakeStore) FindNearestHourlyPrice(_ context.Context, target, windowSeconds int64) (*models.HourlyPricePoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nearestCalls++
	if f.priceErr != nil {
		return nil, f.priceErr
	}
	var best *models.HourlyPricePoint
	for ts, price := range f.prices {
		if ts < target-windowSeconds || ts > target+windowSeconds {
			continue
		}
		dist := ts - target
		if dist < 0 {
			dist = -dist
		}
		if best == nil {
			best = &models.HourlyPricePoint{Timestamp: ts, PriceUsd: price}
			continue
		}
		bestDist := best.Timestamp - target
		if bestDist < 0 {
			bestDist = -bestDist
		}
		if dist < bestDist || (dist == bestDist && ts > best.Timestamp) {
			best = &models.HourlyPricePoint{Timestamp: ts, PriceUsd: price}
		}
	}
	return best, nil
}

func (f *fakeStore) FindEarliestHourlyPrice(_ context.Context) (*models.HourlyPricePoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.priceErr != nil {
		return nil, f.priceErr
	}
	var best *models.HourlyPricePoint
	for ts, price := range f.prices {
		if best == nil || ts < best.Timestamp {
			best = &models.HourlyPricePoint{Timestamp: ts, PriceUsd: price}
		}
	}
	return best, nil
}

func (f *fakeStore) GetHolder(_ context.Context, walletID string) (*models.Holder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.holders[walletID], nil
}

func (f *fakeStore) UpsertHolderCostBasis(_ context.Context, walletID, address string, result *models.CostBasisResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.upsertErr[walletID]; err != nil {
		return err
	}
	f.upserts[walletID] = result
	f.holders[walletID] = &models.Holder{
		WalletID:                   walletID,
		Address:                    address,
		AverageAcquisitionPriceUsd: result.AverageAcquisitionPriceUsd,
		TotalCostUsd:               result.TotalCostUsd,
		TotalTokensAcquired:        result.TotalTokensAcquired,
		TransactionCount:           uint64(result.TransactionCount),
		LastCalculated:             result.LastCalculated,
	}
	return nil
}

// fakeCache is an in-memory Cache with call counting.
type fakeCache struct {
	mu sync.Mutex

	values map[string]string

	setCalls     int
	deleteCalls  []string
	patternCalls []string
}

func newFakeCache() *fakeCache {
	return &fakeCache{values: make(map[string]string)}
}

func (c *fakeCache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	return v, ok, nil
}

func (c *fakeCache) Set(_ context.Context, key, value string, _ int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setCalls++
	c.values[key] = value
	return nil
}

func (c *fakeCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleteCalls = append(c.deleteCalls, key)
	delete(c.values, key)
	return nil
}

func (c *fakeCache) ClearByPattern(_ context.Context, pattern string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.patternCalls = append(c.patternCalls, pattern)
	return 0, nil
}

// fakeNotifier records published messages.
type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *fakeNotifier) Publish(_ context.Context, _ string, message interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if s, ok := message.(string); ok {
		n.messages = append(n.messages, s)
	}
}
