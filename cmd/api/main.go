// Package main is the entry point for the field operations API server.
// Its sole responsibility is wiring dependencies together and starting the server.
// No business logic belongs here.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx" driver for database/sql
	"golang.org/x/sync/errgroup"

	"github.com/pkordes/fieldops/internal/auth"
	"github.com/pkordes/fieldops/internal/bg"
	"github.com/pkordes/fieldops/internal/blob"
	"github.com/pkordes/fieldops/internal/config"
	"github.com/pkordes/fieldops/internal/dispatch"
	"github.com/pkordes/fieldops/internal/events"
	"github.com/pkordes/fieldops/internal/handler"
	"github.com/pkordes/fieldops/internal/middleware"
	"github.com/pkordes/fieldops/internal/repo"
	"github.com/pkordes/fieldops/internal/service"
	"github.com/pkordes/fieldops/internal/tracking"
	"github.com/pkordes/fieldops/migrations"
	"github.com/pkordes/fieldops/spec"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// --- Config -----------------------------------------------------------
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// --- Logger -----------------------------------------------------------
	var logLevel slog.Level
	if err := logLevel.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Database ---------------------------------------------------------
	if err := migrate(ctx, cfg.DatabaseURL); err != nil {
		return err
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return err
	}
	slog.Info("database connection established")

	// --- Side stores ------------------------------------------------------
	var blobs service.BlobStore = blob.NewMemoryStore()
	if cfg.S3Bucket != "" {
		s3, err := blob.NewS3Store(ctx, cfg.S3Region, cfg.S3Bucket)
		if err != nil {
			return err
		}
		blobs = s3
		slog.Info("document storage on s3", "bucket", cfg.S3Bucket)
	} else {
		slog.Warn("S3_BUCKET not set, documents and proofs are kept in memory")
	}

	var async bg.Async
	var activity service.ActivityLog = events.NewLogOnly(logger)
	if len(cfg.KafkaBrokers) > 0 {
		kl := events.NewKafkaLog(events.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic), &async, logger)
		defer func() {
			async.Wait()
			if err := kl.Close(); err != nil {
				slog.Error("kafka writer close", "error", err)
			}
		}()
		activity = kl
	}

	// --- Tracking ---------------------------------------------------------
	trips := repo.NewTripRepo(pool)
	deliveries := repo.NewDeliveryRepo(pool)

	store := tracking.NewStore()
	hub := tracking.NewHub(cfg.ObserverBuffer, logger)
	tracker := tracking.NewService(store, hub, service.NewLiveness(trips, deliveries), logger)

	var relay *tracking.AMQPRelay
	if cfg.AMQPURL != "" {
		relay, err = tracking.DialRelay(ctx, cfg.AMQPURL, cfg.AMQPExchange, logger)
		if err != nil {
			return err
		}
		defer relay.Close()
		instance := cfg.InstanceID
		if instance == "" {
			instance = uuid.NewString()
		}
		tracker.SetRelay(relay, instance)
		slog.Info("position relay connected", "exchange", cfg.AMQPExchange, "instance", instance)
	}

	// --- Services ---------------------------------------------------------
	tx := repo.NewTxManager(pool)
	tripSvc := service.NewTripService(trips, repo.NewCheckpointRepo(pool), activity, tracker, service.TripConfig{
		StaleThreshold: cfg.StaleTripThreshold,
		MileageRate:    cfg.MileageRate,
	})
	visits := repo.NewVisitRepo(pool)
	visitSvc := service.NewVisitService(trips, visits, activity)
	couriers := repo.NewCourierRepo(pool)
	deliverySvc := service.NewDeliveryService(tx, deliveries, repo.NewDeliveryEventRepo(pool), couriers, blobs, tracker, activity, service.DeliveryConfig{
		MaxActive:    cfg.MaxActiveDeliveries,
		AutoAccept:   cfg.AutoAccept,
		RequireProof: cfg.RequireProof,
	})
	courierSvc := service.NewCourierService(tx, couriers, repo.NewCourierDocumentRepo(pool), blobs, activity)

	exportSvc := service.NewExportService(trips, visits)

	coord := dispatch.New(tripSvc, visitSvc, deliverySvc, courierSvc, exportSvc, tracker)
	tokens := auth.NewManager(cfg.JWTSecret)
	srv := handler.NewServer(coord, coord, coord, coord)
	ws := tracking.NewWSHandler(tracker, tokens, logger)

	// --- Router -----------------------------------------------------------
	// Middleware is applied in order: RequestID → RealIP → Logger → Recoverer → CORS.
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.NewSlogLogger(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.NewCORSHandler(cfg.CORSOrigins))

	r.Get("/healthz", handler.GetHealth)
	r.Get("/readyz", handler.NewReadyHandler(pool))
	r.Get("/openapi.yaml", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		_, _ = w.Write(spec.OpenAPI)
	})
	r.Get("/ws/agent", ws.Agent)
	r.Get("/ws/observe", ws.Observe)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.NewMaxBodySizeHandler(cfg.MaxBodyBytes))
		r.Use(middleware.NewAuthenticator(tokens))
		srv.Routes(r)
	})

	// --- HTTP Server ------------------------------------------------------
	// WriteTimeout is left unset: WebSocket connections are long-lived and
	// manage their own write deadlines.
	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server starting", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return tripSvc.RunRecovery(gctx, cfg.RecoveryInterval)
	})
	if relay != nil {
		g.Go(func() error {
			return relay.Consume(gctx, tracker.ApplyRemote)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server")
		// Give in-flight requests up to 15 seconds to complete.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("server stopped")
	return nil
}

// migrate applies pending migrations before the pool starts serving traffic.
func migrate(ctx context.Context, dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	provider, err := migrations.NewProvider(db)
	if err != nil {
		return err
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return err
	}
	for _, res := range results {
		slog.Info("migration applied", "version", res.Source.Version, "duration", res.Duration)
	}
	return nil
}
