package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"agri-trace-api-server/config"
	"agri-trace-api-server/internal/api/handlers"
	"agri-trace-api-server/internal/api/routes"
	"agri-trace-api-server/internal/auth"
	"agri-trace-api-server/internal/batch"
	"agri-trace-api-server/internal/blockchain"
	"agri-trace-api-server/internal/database"
	"agri-trace-api-server/internal/geocode"
	"agri-trace-api-server/internal/logger"
	"agri-trace-api-server/internal/mirror"
	"agri-trace-api-server/internal/persistence"
	"agri-trace-api-server/internal/socket"
	"agri-trace-api-server/internal/trace"
)

func main() {
	cfg, err := config.LoadConfig("./config")
	if err != nil {
		log.Fatalf("Could not load config: %v", err)
	}

	zl, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("Could not build logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, zl); err != nil {
		zl.Fatal("server stopped with error", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, zl *zap.Logger) error {
	repo, err := persistence.Open(ctx, cfg, logger.Named(zl, "store"))
	if err != nil {
		return err
	}
	defer func() {
		if err := repo.Close(); err != nil {
			zl.Warn("closing store", zap.Error(err))
		}
	}()

	ledger := blockchain.New(cfg.Fabric, logger.Named(zl, "ledger"))
	if ledger.Enabled() {
		zl.Info("ledger mirror enabled",
			zap.String("channel", cfg.Fabric.ChannelName),
			zap.String("chaincode", cfg.Fabric.ChaincodeName),
			zap.String("identity", cfg.Fabric.Identity))
	} else {
		zl.Info("ledger mirror disabled, serving from the local store only")
	}

	locks := &batch.KeyedMutex{}
	reconciler := trace.NewReconciler(repo, ledger, locks, logger.Named(zl, "trace"))

	outbox := mirror.New(ledger, mirror.Options{
		MaxAttempts: cfg.Mirror.MaxAttempts,
		Checker:     reconciler,
	}, logger.Named(zl, "mirror"))
	scheduler := mirror.NewScheduler(outbox, cfg.Mirror.RetrySchedule, logger.Named(zl, "mirror"))
	if ledger.Enabled() {
		if err := scheduler.Start(); err != nil {
			return err
		}
		defer scheduler.Stop()
	}

	hub := socket.NewHub(logger.Named(zl, "socket"))
	geocoder := geocode.New(cfg.Geocode, logger.Named(zl, "geocode"))
	assembler := trace.NewAssembler(geocoder, cfg.Geocode.MaxConcurrent, logger.Named(zl, "views"))
	batches := batch.NewService(batch.Deps{
		Repo:       repo,
		Ledger:     ledger,
		Mirror:     outbox,
		Reconciler: reconciler,
		Events:     hub,
		Locks:      locks,
	}, batch.Options{AllowPlaceholder: cfg.Batch.AllowPlaceholder}, logger.Named(zl, "svc.batch"))

	if cfg.Batch.DemoBatch != "" {
		if _, err := database.SeedDemoBatch(ctx, batches, cfg.Batch.DemoBatch, logger.Named(zl, "seed")); err != nil {
			return err
		}
	}

	router := routes.SetupRouter(routes.Dependencies{
		Batches:  batches,
		Reader:   reconciler,
		Views:    assembler,
		Enricher: assembler,
		Geocoder: geocoder,
		Hub:      hub,
		Issuer:   auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.Expiration),
		Health: &handlers.HealthHandler{
			FabricEnabled: ledger.Enabled,
			StoreDriver:   cfg.Store.Driver,
			Backlog:       outbox.Pending,
			Parked:        outbox.ParkedCount,
		},
		Logger: zl,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		zl.Info("starting API server", zap.String("addr", srv.Addr), zap.String("store", cfg.Store.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	zl.Info("shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if n := outbox.Pending(); n > 0 {
		zl.Warn("unmirrored ledger writes dropped at shutdown", zap.Int("pending", n))
	}
	return nil
}
