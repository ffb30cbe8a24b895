package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/garnizeh/expertfeed/api"
	dbfs "github.com/garnizeh/expertfeed/db"
	"github.com/garnizeh/expertfeed/internal/config"
	"github.com/garnizeh/expertfeed/internal/db"
	"github.com/garnizeh/expertfeed/internal/jobs"
	"github.com/garnizeh/expertfeed/internal/realtime"
	"github.com/garnizeh/expertfeed/internal/repository/sqlite"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	var configPath = flag.String("config", "", "Path to config YAML file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	level := slog.LevelInfo
	if config.IsDevelopment() {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	api.SetLogger(logger)

	log.Printf("Starting expertfeed server version %s (built at %s)", version, buildTime)

	ctx := context.Background()

	// Open database connection
	conn, err := db.New(ctx, cfg.DatabasePath, logger)
	if err != nil {
		log.Fatalf("Failed to open DB: %v", err)
	}
	if err := db.Migrate(ctx, conn, dbfs.Migrations, dbfs.SeedFiles); err != nil {
		log.Fatalf("Failed to migrate DB: %v", err)
	}
	repo := sqlite.New(conn, logger)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		// broadcasts stay queued and streams report unavailable until Redis is back
		logger.Warn("redis not reachable", slog.String("addr", cfg.Redis.Addr), slog.Any("err", err))
	}
	pingCancel()

	// Jobs left running by a previous process go back to the queue
	jobRepo := jobs.NewRepository(conn)
	if n, err := jobRepo.RecoverRunning(ctx); err != nil {
		log.Fatalf("Failed to recover jobs: %v", err)
	} else if n > 0 {
		logger.Info("requeued interrupted jobs", slog.Int64("count", n))
	}

	publisher := realtime.NewPublisher(rdb, logger)
	pool := jobs.NewWorkerPool(jobRepo, map[string]jobs.Handler{
		jobs.TypeQuestionBroadcast: jobs.BroadcastHandler(publisher),
	}, logger, cfg.Jobs.Workers)
	pool.Start(ctx)

	handler := api.SetupRoutes(cfg, version, buildTime, api.Deps{
		Users:       repo,
		Profiles:    repo,
		Questions:   repo,
		Categories:  repo,
		Broadcaster: jobs.NewBroadcaster(pool, cfg.Jobs.MaxAttempts),
		OpenChannel: func(ctx context.Context) (api.StreamChannel, error) {
			ch, err := realtime.Open(ctx, rdb,
				realtime.WithChannelLogger(logger),
				realtime.WithBuffer(cfg.Stream.Buffer),
			)
			if err != nil {
				return nil, err
			}
			return ch, nil
		},
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.APITimeout,
		WriteTimeout: cfg.APITimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Server starting on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Give outstanding requests 30 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	// Unfinished broadcasts stay in the outbox for the next start
	pool.Stop()

	if err := rdb.Close(); err != nil {
		log.Printf("Error closing redis: %v", err)
	}

	// Close database connection
	if err := conn.Close(); err != nil {
		log.Printf("Error closing DB: %v", err)
	}

	log.Println("Server exited")
}
