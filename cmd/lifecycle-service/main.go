package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"order-lifecycle/internal/auth"
	"order-lifecycle/internal/config"
	"order-lifecycle/internal/database/migrations"
	"order-lifecycle/internal/eventlog"
	"order-lifecycle/internal/kafka"
	"order-lifecycle/internal/lifecycle"
	"order-lifecycle/internal/lifecycle/api"
	"order-lifecycle/internal/lifecycle/db"
	lifecyclekafka "order-lifecycle/internal/lifecycle/kafka"
	rediswrap "order-lifecycle/internal/lifecycle/redis"
	"order-lifecycle/internal/logger"
	"order-lifecycle/internal/pickup"
	"order-lifecycle/internal/relay"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logger.NewLogger()
	defer log.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- PostgreSQL ---
	sqldb, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("failed to open Postgres: %v", err))
	}
	defer sqldb.Close()
	sqldb.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.Database.MaxLifetime)

	if err := sqldb.Ping(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("failed to connect to Postgres: %v", err))
	}

	bunDB := bun.NewDB(sqldb, pgdialect.New())

	runner := migrations.NewRunner(bunDB, migrations.DefaultOptions())
	if err := runner.RunMigrations(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("migrations failed: %v", err))
	}
	defer runner.Close()

	// --- Redis (per-order transition lock) ---
	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.Redis.Addr,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal("REDIS", fmt.Sprintf("failed to connect to Redis: %v", err))
	}

	// --- Kafka change stream ---
	var publisher lifecycle.ChangePublisher = lifecyclekafka.NopPublisher{}
	var changeStream relay.Stream

	if cfg.Kafka.Enabled {
		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, []string{cfg.Kafka.ChangeTopic}); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("topic creation failed (continuing): %v", err))
		}

		producer := lifecyclekafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.ChangeTopic, log)
		defer producer.Close()
		publisher = producer

		consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.ChangeTopic, cfg.Kafka.GroupID)
		defer consumer.Close()
		changeStream = consumer
	} else {
		log.Warn("KAFKA", "change stream disabled; sessions serve snapshots without live updates")
	}

	// --- Wiring ---
	dbLayer := &db.DB{Bun: bunDB}
	orderLock := rediswrap.NewRedis(redisClient, cfg.Redis.TransitionLockTTL)
	events := eventlog.New(bunDB)
	service := lifecycle.NewOrderService(dbLayer, orderLock, publisher, events, log)

	qr := pickup.NewQRGenerator(os.Getenv("PICKUP_QR_SECRET"))
	handler := api.NewHandler(service, qr, log)

	changeRelay := relay.NewRelay(changeStream, log)
	if cfg.Kafka.Enabled {
		go changeRelay.Run(ctx)
	}

	sseHandler := api.NewSSEHandler(changeRelay, service, log)

	// --- Router ---
	r := chi.NewRouter()

	if cfg.Auth.Disabled {
		// No verifier; actors still resolve from token claims so cancels
		// and audit rows carry real identities in local development.
		r.Use(auth.DevMiddleware())
	} else {
		r.Use(auth.Middleware(cfg.Auth.OIDCIssuer))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/orders", handler.SubmitOrder)
		r.Get("/orders", handler.ListOrders)
		r.Get("/orders/{orderId}", handler.GetOrder)
		r.Post("/orders/{orderId}/status", handler.Transition)
		r.Post("/orders/{orderId}/cancel", handler.CancelOrder)
		r.Patch("/orders/{orderId}/estimate", handler.UpdateEstimate)
		r.Get("/orders/{orderId}/history", handler.GetHistory)
		r.Get("/orders/{orderId}/pickup-qr", handler.GetPickupQR)
		r.Get("/stream", sseHandler.HandleStream)
	})

	server := &http.Server{
		Addr:        cfg.Server.Port,
		Handler:     r,
		ReadTimeout: cfg.Server.ReadTimeout,
		IdleTimeout: cfg.Server.IdleTimeout,
		// No WriteTimeout: /api/v1/stream holds long-lived SSE connections.
	}

	go func() {
		log.Info("SERVER", fmt.Sprintf("order lifecycle service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("SERVER", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	<-ctx.Done()
	log.Info("SERVER", "shutdown signal received")

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Error("SERVER", fmt.Sprintf("forced shutdown: %v", err))
	}

	log.Info("SERVER", "exited gracefully")
}
