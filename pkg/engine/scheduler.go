package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"

	"github.com/tokenlens/costbasis/pkg/db/models"
)

// Scheduler defaults, overridable via options.
const (
	DefaultBatchSize       = 10
	DefaultBatchDelay      = 1 * time.Second
	DefaultCacheTTLSeconds = 300
)

// Cache key layout. Aggregate listings are keyed under holders: so one
// pattern sweep invalidates them all.
const (
	costBasisKeyPrefix    = "wallet:costbasis:"
	balanceKeyPrefix      = "wallet:balance:"
	holderListingsPattern = "holders:*"

	// UpdatedChannel is the Pub/Sub channel carrying addresses whose cost
	// basis was just recomputed.
	UpdatedChannel = "costbasis.updated"
)

// CostBasisKey returns the cache key holding a wallet's cost-basis envelope.
func CostBasisKey(address string) string {
	return costBasisKeyPrefix + address
}

// BalanceKey returns the cache key holding a wallet's balance, invalidated
// whenever its cost basis changes.
func BalanceKey(address string) string {
	return balanceKeyPrefix + address
}

// QueueStats is the observable state of the queue and scheduler.
type QueueStats struct {
	QueuedItems  int          `json:"queuedItems"`
	IsProcessing bool         `json:"isProcessing"`
	BatchSize    int          `json:"batchSize"`
	Items        []QueueEntry `json:"items"`
}

// Scheduler drains the recalculation queue in fixed-size groups, computing
// each group's wallets concurrently with a pause between groups to bound
// storage load. At most one drain runs at a time.
type Scheduler struct {
	store    Store
	cache    Cache
	notifier Notifier
	logger   *zap.Logger

	calculator *Calculator
	staleness  *StalenessChecker
	queue      *RecalculationQueue
	pool       pond.Pool

	batchSize       int
	batchDelay      time.Duration
	cacheTTLSeconds int

	isProcessing atomic.Bool

	// sleep is the inter-batch pause, injectable in tests.
	sleep func(ctx context.Context, d time.Duration)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithBatchSize sets the group size (and per-group parallelism).
func WithBatchSize(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithBatchDelay sets the pause between groups.
func WithBatchDelay(d time.Duration) Option {
	return func(s *Scheduler) {
		if d >= 0 {
			s.batchDelay = d
		}
	}
}

// WithCacheTTL sets the cached result lifetime in seconds.
func WithCacheTTL(seconds int) Option {
	return func(s *Scheduler) {
		if seconds > 0 {
			s.cacheTTLSeconds = seconds
		}
	}
}

// WithNotifier attaches a change-notification publisher.
func WithNotifier(n Notifier) Option {
	return func(s *Scheduler) {
		s.notifier = n
	}
}

// NewScheduler builds a scheduler. One per process; inject it into callers
// rather than sharing it as ambient global state.
func NewScheduler(store Store, cache Cache, logger *zap.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:           store,
		cache:           cache,
		logger:          logger,
		batchSize:       DefaultBatchSize,
		batchDelay:      DefaultBatchDelay,
		cacheTTLSeconds: DefaultCacheTTLSeconds,
		queue:           NewRecalculationQueue(),
		sleep:           ctxSleep,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.calculator = NewCalculator(store, logger)
	s.staleness = NewStalenessChecker(store, logger)
	s.pool = pond.NewPool(s.batchSize, pond.WithQueueSize(s.batchSize*4))

	return s
}

// Close releases the worker pool, waiting for in-flight tasks.
func (s *Scheduler) Close() {
	s.pool.StopAndWait()
}

// CalculateCostBasisForWallets recomputes the given wallets in fixed-size
// groups. A single wallet's failure is logged and skipped; only a failure
// that prevents any per-wallet work (the bulk wallet lookup) is returned.
func (s *Scheduler) CalculateCostBasisForWallets(ctx context.Context, addresses []string) error {
	if len(addresses) == 0 {
		return nil
	}

	wallets, err := s.store.FindWalletsByAddress(ctx, addresses)
	if err != nil {
		s.logger.Error("bulk wallet lookup failed",
			zap.Int("addresses", len(addresses)),
			zap.Error(err))
		return fmt.Errorf("find wallets for recalculation: %w", err)
	}

	if len(wallets) == 0 {
		s.logger.Debug("no known wallets among addresses",
			zap.Int("addresses", len(addresses)))
		return nil
	}

	groups := chunkWallets(wallets, s.batchSize)

	s.logger.Info("recalculating cost basis",
		zap.Int("wallets", len(wallets)),
		zap.Int("groups", len(groups)),
		zap.Int("batch_size", s.batchSize))

	for i, batch := range groups {
		group := s.pool.NewGroupContext(ctx)
		groupCtx := group.Context()

		for _, wallet := range batch {
			w := wallet
			group.Submit(func() {
				if err := groupCtx.Err(); err != nil {
					return
				}
				s.processWallet(groupCtx, w)
			})
		}

		if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
			s.logger.Warn("batch group finished with error",
				zap.Int("group", i),
				zap.Error(err))
		}

		if err := ctx.Err(); err != nil {
			return fmt.Errorf("recalculation interrupted: %w", err)
		}

		// Throttle storage load between groups, never after the last one.
		if i < len(groups)-1 {
			s.sleep(ctx, s.batchDelay)
		}
	}

	return nil
}

// processWallet computes, persists and caches one wallet. Failures are
// logged and isolated; they never abort the batch.
func (s *Scheduler) processWallet(ctx context.Context, wallet *models.Wallet) {
	log := s.logger.With(zap.String("address", wallet.Address), zap.String("wallet_id", wallet.ID))

	if !wallet.HasHolder {
		log.Debug("wallet has no holder record, skipping")
		return
	}

	holder, err := s.store.GetHolder(ctx, wallet.ID)
	if err != nil {
		// Treat as stale: recomputing is safe, serving stale data is not.
		log.Warn("holder lookup failed, recomputing", zap.Error(err))
	}

	if holder != nil && s.staleness.IsCurrent(ctx, wallet.ID, holder.LastCalculated) {
		log.Debug("cost basis current, reusing stored result")
		s.recacheFromHolder(ctx, wallet, holder)
		return
	}

	txs, err := s.store.FindTransactionsForWallet(ctx, wallet.ID)
	if err != nil {
		log.Error("transaction load failed", zap.Error(err))
		return
	}

	result := s.calculator.ComputeCostBasis(ctx, wallet.ID, txs)
	if result == nil {
		log.Debug("no transactions, nothing to compute")
		return
	}

	if result.SyntheticPriceHits > 0 {
		log.Warn("cost basis relied on synthetic pricing",
			zap.Int("synthetic_price_hits", result.SyntheticPriceHits))
	}

	if err := s.store.UpsertHolderCostBasis(ctx, wallet.ID, wallet.Address, result); err != nil {
		log.Error("persist cost basis failed", zap.Error(err))
		return
	}

	s.cacheResult(ctx, wallet.Address, result)
	s.invalidateDependents(ctx, wallet.Address)

	if s.notifier != nil {
		s.notifier.Publish(ctx, UpdatedChannel, wallet.Address)
	}

	log.Debug("cost basis recomputed",
		zap.Float64("total_cost_usd", result.TotalCostUsd),
		zap.Float64("total_tokens_acquired", result.TotalTokensAcquired),
		zap.Float64("average_price_usd", result.AverageAcquisitionPriceUsd),
		zap.Int("transactions", result.TransactionCount))
}

// recacheFromHolder repopulates an expired cache entry from the stored
// holder record, so a skip still leaves the cache warm.
func (s *Scheduler) recacheFromHolder(ctx context.Context, wallet *models.Wallet, holder *models.Holder) {
	key := CostBasisKey(wallet.Address)
	if _, hit, err := s.cache.Get(ctx, key); err == nil && hit {
		return
	}

	result := &models.CostBasisResult{
		AverageAcquisitionPriceUsd: holder.AverageAcquisitionPriceUsd,
		TotalCostUsd:               holder.TotalCostUsd,
		TotalTokensAcquired:        holder.TotalTokensAcquired,
		LastCalculated:             holder.LastCalculated,
		TransactionCount:           int(holder.TransactionCount),
	}
	s.cacheResult(ctx, wallet.Address, result)
}

func (s *Scheduler) cacheResult(ctx context.Context, address string, result *models.CostBasisResult) {
	envelope := models.CachedCostBasis{
		CostBasisResult: *result,
		WalletAddress:   address,
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		s.logger.Warn("marshal cached cost basis failed",
			zap.String("address", address),
			zap.Error(err))
		return
	}
	if err := s.cache.Set(ctx, CostBasisKey(address), string(payload), s.cacheTTLSeconds); err != nil {
		// Cache is derived and disposable; losing a write only costs a
		// recomputation later.
		s.logger.Warn("cache cost basis failed",
			zap.String("address", address),
			zap.Error(err))
	}
}

func (s *Scheduler) invalidateDependents(ctx context.Context, address string) {
	if err := s.cache.Delete(ctx, BalanceKey(address)); err != nil {
		s.logger.Warn("invalidate balance cache failed",
			zap.String("address", address),
			zap.Error(err))
	}
	if _, err := s.cache.ClearByPattern(ctx, holderListingsPattern); err != nil {
		s.logger.Warn("invalidate holder listings failed",
			zap.String("pattern", holderListingsPattern),
			zap.Error(err))
	}
}

// QueueWalletsForRecalculation enqueues addresses and kicks off a background
// drain if one is not already running. Fire-and-forget: queue-processing
// failures are logged, never surfaced.
func (s *Scheduler) QueueWalletsForRecalculation(ctx context.Context, addresses []string) {
	s.queue.Enqueue(addresses, PriorityNormal)
	go s.DrainQueue(ctx)
}

// DrainQueue drains the queue until it is empty. The isProcessing guard
// keeps drains strictly serial; entries enqueued mid-drain are picked up by
// the next cycle of the loop.
func (s *Scheduler) DrainQueue(ctx context.Context) {
	if !s.isProcessing.CompareAndSwap(false, true) {
		return
	}
	defer s.isProcessing.Store(false)

	for {
		if err := ctx.Err(); err != nil {
			return
		}

		addresses := s.queue.DrainAll()
		if len(addresses) == 0 {
			return
		}

		if err := s.CalculateCostBasisForWallets(ctx, addresses); err != nil {
			s.logger.Error("queue drain failed",
				zap.Int("addresses", len(addresses)),
				zap.Error(err))
			return
		}
	}
}

// QueueStats returns the queue and scheduler state.
func (s *Scheduler) QueueStats() QueueStats {
	return QueueStats{
		QueuedItems:  s.queue.Size(),
		IsProcessing: s.isProcessing.Load(),
		BatchSize:    s.batchSize,
		Items:        s.queue.Items(),
	}
}

// Queue exposes the underlying queue for callers that only mark wallets
// dirty.
func (s *Scheduler) Queue() *RecalculationQueue {
	return s.queue
}

func chunkWallets(wallets []*models.Wallet, size int) [][]*models.Wallet {
	if size <= 0 {
		size = DefaultBatchSize
	}
	var groups [][]*models.Wallet
	for start := 0; start < len(wallets); start += size {
		end := min(start+size, len(wallets))
		groups = append(groups, wallets[start:end])
	}
	return groups
}

func ctxSleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
