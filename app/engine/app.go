package engine

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/tokenlens/costbasis/pkg/db"
	"github.com/tokenlens/costbasis/pkg/engine"
	"github.com/tokenlens/costbasis/pkg/logging"
	"github.com/tokenlens/costbasis/pkg/redis"
	"github.com/tokenlens/costbasis/pkg/utils"
)

// ChangedChannel is the Pub/Sub channel the external change-detection
// collaborator publishes dirty wallet addresses on. A message is one address
// or a comma-separated list.
const ChangedChannel = "wallets.changed"

// App wires the cost-basis engine: storage, cache, scheduler, the cron tick
// that drains the queue, and the operational HTTP endpoints.
type App struct {
	Logger      *zap.Logger
	DB          *db.DB
	RedisClient *redis.Client
	Scheduler   *engine.Scheduler

	// Cron triggers queue drains on CronSpec so queued wallets are picked up
	// even when no manual trigger fires.
	Cron     *cron.Cron
	CronSpec string

	// Server exposes /healthz, /readyz and /queuez.
	Server *http.Server
}

// Initialize builds the app from environment configuration.
func Initialize(ctx context.Context) (*App, error) {
	logger, err := logging.New()
	if err != nil {
		// nothing else to do here, we'll just log to stderr
		panic(err)
	}

	database, err := db.New(ctx, logger)
	if err != nil {
		logger.Error("Unable to initialize storage", zap.Error(err))
		return nil, err
	}

	redisClient, err := redis.NewClient(ctx, logger)
	if err != nil {
		logger.Error("Unable to initialize Redis", zap.Error(err))
		return nil, err
	}

	scheduler := engine.NewScheduler(
		database,
		redisClient,
		logger,
		engine.WithBatchSize(utils.EnvInt("RECALC_BATCH_SIZE", engine.DefaultBatchSize)),
		engine.WithBatchDelay(utils.EnvDuration("RECALC_BATCH_DELAY", engine.DefaultBatchDelay)),
		engine.WithCacheTTL(utils.EnvInt("COSTBASIS_CACHE_TTL", engine.DefaultCacheTTLSeconds)),
		engine.WithNotifier(redisClient),
	)

	app := &App{
		Logger:      logger,
		DB:          database,
		RedisClient: redisClient,
		Scheduler:   scheduler,
		CronSpec:    utils.Env("RECALC_CRON", "*/15 * * * * *"),
	}

	if err := app.SetupScheduler(ctx, cron.DefaultLogger); err != nil {
		return nil, err
	}
	app.SetupServer()

	return app, nil
}

// SetupScheduler registers the periodic queue drain.
func (a *App) SetupScheduler(ctx context.Context, logger cron.Logger) error {
	a.Cron = cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(logger)))

	_, err := a.Cron.AddFunc(a.CronSpec, func() {
		// keep each run bounded
		rctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		defer cancel()
		a.Scheduler.DrainQueue(rctx)
	})
	return err
}

// Start runs the app until ctx is cancelled: cron ticks, the change-feed
// subscription, and the health server.
func (a *App) Start(ctx context.Context) {
	a.Cron.Start()
	a.Logger.Info("Recalculation cron started", zap.String("cronSpec", a.CronSpec))

	go a.consumeChangeFeed(ctx)
	go a.serve(ctx)

	<-ctx.Done()
	a.shutdown()
}

// consumeChangeFeed subscribes to the change-detection channel and enqueues
// every address it announces.
func (a *App) consumeChangeFeed(ctx context.Context) {
	pubsub := a.RedisClient.Subscribe(ctx, ChangedChannel)
	defer func() {
		if err := pubsub.Close(); err != nil {
			a.Logger.Warn("closing change feed subscription", zap.Error(err))
		}
	}()

	a.Logger.Info("Subscribed to change feed", zap.String("channel", ChangedChannel))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			addresses := splitAddresses(msg.Payload)
			if len(addresses) == 0 {
				continue
			}
			a.Scheduler.QueueWalletsForRecalculation(ctx, addresses)
		}
	}
}

func (a *App) shutdown() {
	a.Logger.Info("Shutting down")

	if a.Cron != nil {
		<-a.Cron.Stop().Done()
	}
	a.stopServer()
	a.Scheduler.Close()

	if err := a.RedisClient.Close(); err != nil {
		a.Logger.Warn("closing Redis", zap.Error(err))
	}
	if err := a.DB.Close(); err != nil {
		a.Logger.Warn("closing ClickHouse", zap.Error(err))
	}
}

func splitAddresses(payload string) []string {
	parts := strings.Split(payload, ",")
	addresses := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			addresses = append(addresses, trimmed)
		}
	}
	return addresses
}
