// The sweeper binary refreshes near-expiry tokens on a schedule. It shares
// the vault, cipher, and refresh semantics with the API server; only the
// trigger differs.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/relaydata/stripebridge/pkg/config"
	"github.com/relaydata/stripebridge/pkg/connect/connectinfra"
	"github.com/relaydata/stripebridge/pkg/cryptox"
	"github.com/relaydata/stripebridge/pkg/dbx"
	"github.com/relaydata/stripebridge/pkg/logx"
	"github.com/relaydata/stripebridge/pkg/sweeper"
)

func main() {
	once := flag.Bool("once", false, "run a single sweep and exit")
	dryRun := flag.Bool("dry-run", false, "log intended refreshes without writing")
	forceAll := flag.Bool("force-all", false, "sweep every connection regardless of expiry")
	flag.Parse()

	_ = godotenv.Load()
	cfg := config.Load()

	cipher, err := cryptox.New(cfg.Crypto.EncryptionKeyHex)
	if err != nil {
		logx.Fatalf("invalid ENCRYPTION_KEY: %v", err)
	}

	db, err := dbx.Connect(cfg.Database)
	if err != nil {
		logx.Fatalf("database unavailable: %v", err)
	}
	defer dbx.Close(db)

	if err := dbx.Migrate(db); err != nil {
		logx.Fatalf("schema migration failed: %v", err)
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logx.Fatalf("redis unavailable: %v", err)
		}
		defer redisClient.Close()
	} else {
		logx.Warn("REDIS_ADDR not set, sweeping without a run lock")
	}

	store := connectinfra.NewPostgresStore(db)
	tokenClient := connectinfra.NewStripeTokenClient(cfg.Stripe.APIBase, cfg.Stripe)
	sw := sweeper.New(store, tokenClient, cipher, redisClient, sweeper.Settings{
		BatchLimit:   cfg.Sweeper.BatchLimit,
		Concurrency:  cfg.Sweeper.Concurrency,
		ExpiryWindow: cfg.Sweeper.ExpiryWindow,
	})

	opts := sweeper.Options{
		DryRun:   *dryRun || cfg.Sweeper.DryRun,
		ForceAll: *forceAll || cfg.Sweeper.ForceAll,
	}

	if *once {
		if err := sweep(sw, opts); err != nil {
			os.Exit(1)
		}
		return
	}

	c := cron.New()
	if _, err := c.AddFunc(cfg.Sweeper.Schedule, func() {
		_ = sweep(sw, opts)
	}); err != nil {
		logx.Fatalf("invalid SWEEPER_SCHEDULE %q: %v", cfg.Sweeper.Schedule, err)
	}
	c.Start()
	logx.WithField("schedule", cfg.Sweeper.Schedule).Info("sweeper scheduled")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	<-sigChan

	logx.Info("stopping sweeper")
	<-c.Stop().Done()
}

func sweep(sw *sweeper.Sweeper, opts sweeper.Options) error {
	summary, err := sw.Run(context.Background(), opts)
	if err != nil {
		if errors.Is(err, sweeper.ErrSweepInProgress) {
			logx.Warn("sweep skipped, another run holds the lock")
			return nil
		}
		logx.WithError(err).Error("sweep failed")
		return err
	}

	for _, failure := range summary.Failures {
		logx.WithFields(logx.Fields{
			"tenant":   failure.Tenant,
			"livemode": failure.Livemode,
			"kind":     failure.Kind,
		}).Warn("refresh failed")
	}
	return nil
}
