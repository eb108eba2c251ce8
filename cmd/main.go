// Command invest-simply runs the spot trading API and the recurring-buy scheduler.
//
// Usage:
//
//	invest-simply --config config.yaml
//	invest-simply --setup (interactive wizard, writes config.gen.yaml)
//
// Required environment variables (a .env file is read if present):
//
//	INVEST_MASTER_KEY    master key for agent key encryption
//	INVEST_DATABASE_DSN  optional, overrides database.dsn
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/stino180/invest-simply/config"
	"github.com/stino180/invest-simply/internal/clients"
	"github.com/stino180/invest-simply/internal/domain"
	"github.com/stino180/invest-simply/internal/logger"
	"github.com/stino180/invest-simply/internal/secretbox"
	"github.com/stino180/invest-simply/internal/services/agentwallet"
	"github.com/stino180/invest-simply/internal/services/dca"
	"github.com/stino180/invest-simply/internal/services/pricer"
	"github.com/stino180/invest-simply/internal/services/reconciler"
	"github.com/stino180/invest-simply/internal/services/resolver"
	"github.com/stino180/invest-simply/internal/services/trader"
	"github.com/stino180/invest-simply/internal/setup"
	"github.com/stino180/invest-simply/internal/storage/gapjournal"
	"github.com/stino180/invest-simply/internal/storage/gormstore"
	"github.com/stino180/invest-simply/internal/web"
	"github.com/stino180/invest-simply/pkg/retrier"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, flags, err := config.Get()
	if err != nil {
		log.Fatal(err)
	}
	if flags.Setup {
		if err := setup.RunTUI(); err != nil {
			log.Fatal(err)
		}
		if cfg, err = config.Load(config.GeneratedFile); err != nil {
			log.Fatal(err)
		}
	}

	lg, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatal(err)
	}
	defer lg.Sync()
	zap.ReplaceGlobals(lg)

	if err := run(cfg, lg); err != nil {
		lg.Fatal("invest-simply stopped", zap.Error(err))
	}
}

func run(cfg config.Config, lg *zap.Logger) error {
	store, err := gormstore.Open(cfg.DatabaseDSN, lg)
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	defer store.Close()

	journal, err := gapjournal.Open(cfg.JournalDir, lg)
	if err != nil {
		return errors.Wrap(err, "failed to open gap journal")
	}
	defer journal.Close()

	codec := secretbox.New(cfg.MasterKey)
	if !codec.Configured() {
		lg.Error("master key is not configured, agent wallets are unavailable", zap.String("env", config.EnvMasterKey))
	}

	api := clients.NewHyperliquidAPI(clients.APIConfig{
		MainnetURL:     cfg.MainnetURL,
		TestnetURL:     cfg.TestnetURL,
		Timeout:        cfg.ExchangeTimeout,
		RateLimit:      cfg.RateLimit,
		RateLimitBurst: cfg.RateLimitBurst,
		MaxAttempts:    cfg.RetryMaxAttempts,
		BaseDelay:      cfg.RetryBaseDelay,
		Multiplier:     cfg.RetryMultiplier,
	}, lg.Named("exchange"))

	mainnetURL, err := api.BaseURL(domain.NetworkMainnet)
	if err != nil {
		return err
	}
	testnetURL, err := api.BaseURL(domain.NetworkTestnet)
	if err != nil {
		return err
	}

	wallets := agentwallet.NewManager(store, codec, api, lg.Named("agent"))
	assets := resolver.New(api, cfg.ResolverCacheTTL, lg.Named("resolver"))
	mids := pricer.NewHyperliquidPricer(api)
	persist := retrier.New(
		retrier.WithMaxRetries(cfg.RetryMaxAttempts-1),
		retrier.WithInitialInterval(cfg.RetryBaseDelay),
		retrier.WithMultiplier(cfg.RetryMultiplier),
	)

	executor := trader.NewExecutor(store, wallets, assets, mids, api, journal, persist, lg.Named("trader"))
	syncer := reconciler.New(store, api, journal, cfg.SyncLookback, lg.Named("sync"))
	scheduler := dca.NewScheduler(store, executor, cfg.DCASweepInterval, cfg.DCADefaultSlippage, lg.Named("dca"))

	handler := web.NewHandler(executor, syncer, store, wallets, scheduler, cfg.DCADefaultSlippage, lg.Named("api"))
	server := web.NewServer(cfg.ServerAddr, handler, web.HeaderIdentity{}, lg.Named("http"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if len(cfg.TLSDomains) > 0 {
			return server.StartWithAutoTLS(gctx, cfg.TLSDomains, cfg.CertCache)
		}
		return server.Start(gctx)
	})
	g.Go(func() error {
		if err := scheduler.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	lg.Info("started",
		zap.String("addr", cfg.ServerAddr),
		zap.String("mainnet", mainnetURL),
		zap.String("testnet", testnetURL))

	if err := g.Wait(); err != nil {
		return err
	}
	lg.Info("shutdown complete")
	return nil
}
