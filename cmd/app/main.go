package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/smcroissant/croissantpay-sub000/internal/config"
	"github.com/smcroissant/croissantpay-sub000/internal/domain/model"
	"github.com/smcroissant/croissantpay-sub000/internal/domain/ports/adapter"
	"github.com/smcroissant/croissantpay-sub000/internal/infra/adapters/store"
	"github.com/smcroissant/croissantpay-sub000/internal/infra/adapters/webhook"
	"github.com/smcroissant/croissantpay-sub000/internal/infra/api"
	pg "github.com/smcroissant/croissantpay-sub000/internal/infra/db/postgres"
	"github.com/smcroissant/croissantpay-sub000/internal/infra/logging"
	"github.com/smcroissant/croissantpay-sub000/internal/infra/metrics"
	red "github.com/smcroissant/croissantpay-sub000/internal/infra/redis"
	"github.com/smcroissant/croissantpay-sub000/internal/infra/sched"
	"github.com/smcroissant/croissantpay-sub000/internal/infra/worker"
	"github.com/smcroissant/croissantpay-sub000/internal/usecase"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Info().Msg("dev mode enabled")
	}

	metrics.MustRegister()

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis")
	}
	defer redisClient.Close()

	// ---- Repositories ----
	txm := pg.NewTxManager(pool)
	subscriberRepo := pg.NewSubscriberRepo(pool)
	productRepo := pg.NewProductRepoCacheDecorator(pg.NewProductRepo(pool), redisClient)
	entitlementRepo := pg.NewEntitlementRepo(pool)
	grantRepo := pg.NewSubscriberEntitlementRepo(pool)
	purchaseRepo := pg.NewPurchaseRepo(pool)
	subscriptionRepo := pg.NewSubscriptionRepo(pool)
	webhookEventRepo := pg.NewWebhookEventRepo(pool)

	// ---- Outbound webhook delivery ----
	deliveryPool := worker.NewPool(cfg.Webhook.Workers, logger)
	deliveryPool.Start(ctx)
	defer deliveryPool.Stop()
	notifier := webhook.NewHTTPNotifier(cfg.Webhook, deliveryPool, webhookEventRepo, logger)

	// ---- Store adapters ----
	// Dev mode without credentials runs against noop adapters, so the whole
	// pipeline is exercisable locally.
	adapters := map[model.Platform]adapter.StoreAdapter{}
	if cfg.Runtime.Dev && len(cfg.Apple.ApplePrivateKey()) == 0 {
		logger.Warn().Msg("no apple credentials, using noop app store adapter")
		adapters[model.PlatformAppStore] = store.NewNoopStoreAdapter(model.PlatformAppStore)
	} else {
		adapters[model.PlatformAppStore] = store.NewAppStoreAdapter(cfg.Apple, cfg.App.BundleID, logger)
	}
	if cfg.Runtime.Dev && len(cfg.Google.Credentials()) == 0 {
		logger.Warn().Msg("no google credentials, using noop play store adapter")
		adapters[model.PlatformPlayStore] = store.NewNoopStoreAdapter(model.PlatformPlayStore)
	} else {
		play, err := store.NewPlayStoreAdapter(ctx, cfg.Google, cfg.App.Package, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("play store adapter")
		}
		adapters[model.PlatformPlayStore] = play
	}

	// ---- Use cases ----
	entitlementUC := usecase.NewEntitlementUseCase(entitlementRepo, grantRepo, subscriptionRepo, purchaseRepo, productRepo, txm, logger)
	receiptUC := usecase.NewReceiptUseCase(adapters, productRepo, subscriberRepo, purchaseRepo, subscriptionRepo, entitlementUC, txm, notifier, cfg.App.ID, logger)
	notificationUC := usecase.NewNotificationUseCase(adapters, productRepo, subscriptionRepo, purchaseRepo, subscriberRepo, webhookEventRepo, receiptUC, cfg.App.ID, logger)
	subscriberUC := usecase.NewSubscriberUseCase(subscriberRepo, receiptUC, cfg.App.ID, logger)
	statsUC := usecase.NewStatsUseCase(webhookEventRepo, subscriptionRepo, cfg.App.ID, logger)
	sweeperUC := usecase.NewSweeperUseCase(subscriptionRepo, grantRepo, subscriberRepo, txm, notifier, cfg.App.ID, cfg.Sweeper.Lookahead, logger)

	// ---- API server ----
	r := chi.NewRouter()
	r.Use(api.TraceID(logger))
	r.Use(api.RequestLog(logger))
	r.Use(api.Recover(logger))
	r.Use(api.Timeout(60 * time.Second))
	srv := api.NewServer(receiptUC, notificationUC, subscriberUC, statsUC, logger)
	srv.Register(r)

	apiServer := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Server.Port), Handler: r}
	go func() {
		logger.Info().Str("addr", apiServer.Addr).Msg("api listening")
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("api server")
		}
	}()

	// ---- Meta server: health + metrics ----
	metaMux := http.NewServeMux()
	metaMux.Handle("/metrics", promhttp.Handler())
	metaMux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	metaServer := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Server.MetaPort), Handler: metaMux}
	go func() {
		logger.Info().Str("addr", metaServer.Addr).Msg("meta listening")
		if err := metaServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("meta server")
		}
	}()

	// ---- Lifecycle sweeper ----
	sweepWorker := sched.NewSweepWorker(cfg.Sweeper.Interval, sweeperUC, statsUC, logger)
	go func() { _ = sweepWorker.Run(ctx) }()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	logger.Info().Msg("shutdown requested")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = apiServer.Shutdown(shutdownCtx)
	_ = metaServer.Shutdown(shutdownCtx)
}
