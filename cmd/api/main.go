package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/dsoc-platform/incident-escrow/internal/api/http"
	"github.com/dsoc-platform/incident-escrow/internal/api/http/handlers"
	"github.com/dsoc-platform/incident-escrow/internal/auth"
	"github.com/dsoc-platform/incident-escrow/internal/config"
	"github.com/dsoc-platform/incident-escrow/internal/credential"
	"github.com/dsoc-platform/incident-escrow/internal/events"
	"github.com/dsoc-platform/incident-escrow/internal/fingerprint"
	"github.com/dsoc-platform/incident-escrow/internal/ledger"
	"github.com/dsoc-platform/incident-escrow/internal/locking"
	"github.com/dsoc-platform/incident-escrow/internal/observability"
	"github.com/dsoc-platform/incident-escrow/internal/persistence"
	"github.com/dsoc-platform/incident-escrow/internal/reconcile"
	"github.com/dsoc-platform/incident-escrow/internal/repository"
	"github.com/dsoc-platform/incident-escrow/internal/service"
	"github.com/dsoc-platform/incident-escrow/internal/settlement"
	"github.com/dsoc-platform/incident-escrow/internal/storage"
	"github.com/dsoc-platform/incident-escrow/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	pool := pg.PoolHandle()
	var (
		ticketRepo   repository.TicketRepository
		evidenceRepo repository.EvidenceRepository
		historyRepo  repository.TransitionHistoryRepository
	)
	if pool != nil {
		ticketRepo = repository.NewTicketRepository(pool)
		evidenceRepo = repository.NewEvidenceRepository(pool)
		historyRepo = repository.NewTransitionHistoryRepository(pool)
	} else {
		logger.Warn("running with in-memory ticket store; state is rebuilt from the ledger on restart")
		ticketRepo = repository.NewMemTicketRepository()
		evidenceRepo = repository.NewMemEvidenceRepository()
		historyRepo = repository.NewMemTransitionHistoryRepository()
	}

	var settlementStore settlement.Store
	if err := redis.Ping(ctx); err == nil {
		settlementStore = settlement.NewRedisStore(redis.Client, 50)
	} else {
		logger.Warn("redis unavailable; using in-memory settlement store", zap.Error(err))
		settlementStore = settlement.NewMemStore(50)
	}

	var escrowLedger ledger.Adapter
	switch cfg.Ledger.Mode {
	case config.LedgerModeHTTP:
		escrowLedger = ledger.NewHTTPLedger(cfg.Ledger, logger)
	default:
		logger.Warn("running against the in-memory ledger; transactions settle locally")
		escrowLedger = ledger.NewMemLedger()
	}

	var contentStore storage.ContentStore
	if cfg.Storage.APIURL != "" {
		contentStore = storage.NewHTTPContentStore(cfg.Storage)
	} else {
		logger.Warn("no content storage configured; evidence bytes are held in memory")
		contentStore = storage.NewMemContentStore()
	}
	var notary storage.Notary
	if cfg.Notary.Endpoint != "" {
		notary = storage.NewHTTPNotary(cfg.Notary)
	}

	credResolver := credential.NewTokenResolver(cfg.Session.JWTSecret)
	gate := credential.NewGate(credResolver, settlementStore)
	dispatcher := events.NewInMemoryDispatcher()

	// the service and the poller serialize on the same per-ticket locks
	locks := locking.NewKeyedMutex()

	ticketService := service.NewTicketService(service.TicketDependencies{
		TicketRepo:   ticketRepo,
		EvidenceRepo: evidenceRepo,
		HistoryRepo:  historyRepo,
		Gate:         gate,
		Ledger:       escrowLedger,
		Fingerprint:  fingerprint.NewService(cfg.Evidence.MaxPayloadBytes),
		ContentStore: contentStore,
		Notary:       notary,
		Dispatcher:   dispatcher,
		Logger:       logger,
		Locks:        locks,
	})

	metrics := observability.NewMetrics()
	poller := reconcile.New(reconcile.Options{
		TicketRepo:     ticketRepo,
		HistoryRepo:    historyRepo,
		Ledger:         escrowLedger,
		Settlement:     settlementStore,
		Dispatcher:     dispatcher,
		Logger:         logger,
		Metrics:        metrics,
		Interval:       cfg.Reconcile.Interval(),
		ConfirmTimeout: time.Duration(cfg.Ledger.ConfirmTimeoutSec) * time.Second,
		Locks:          locks,
	})
	worker.StartReconcileWorker(ctx, poller)

	sessions := auth.NewSessionManager(cfg.Session.JWTSecret, cfg.Session.SessionTTLMinutes)
	authMiddleware := auth.NewMiddleware(sessions)

	app := fiber.New(fiber.Config{
		AppName:   cfg.App.Name,
		BodyLimit: int(cfg.Evidence.MaxPayloadBytes) + 1<<20,
	})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis),
		Session:        handlers.NewSessionHandler(sessions, credResolver),
		Tickets:        handlers.NewTicketsHandler(ticketService),
		AuthMiddleware: authMiddleware,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)
	cancel()

	_ = app.Shutdown()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
