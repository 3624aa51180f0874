package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arcade-progression/internal/achievement"
	"github.com/arcade-progression/internal/config"
	"github.com/arcade-progression/internal/handler"
	"github.com/arcade-progression/internal/kafka"
	"github.com/arcade-progression/internal/metrics"
	"github.com/arcade-progression/internal/postgres"
	"github.com/arcade-progression/internal/progression"
	"github.com/arcade-progression/internal/redis"
	"github.com/arcade-progression/internal/service"
	"github.com/arcade-progression/internal/session"
	"github.com/arcade-progression/internal/store"
	"github.com/arcade-progression/internal/websocket"
	"github.com/arcade-progression/internal/worker"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Warn("failed to load config file, using defaults", "error", err)
		cfg = config.DefaultConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize PostgreSQL
	logger.Info("connecting to PostgreSQL", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
	repo, err := postgres.NewRepository(ctx, &cfg.Postgres, logger)
	if err != nil {
		logger.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	logger.Info("connected to PostgreSQL")

	catalogue := achievement.DefaultCatalogue()
	if err := repo.RunMigrations(ctx, catalogue); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	// Initialize Redis
	logger.Info("connecting to Redis", "addr", cfg.Redis.Addr)
	cache, err := redis.NewCache(ctx, &cfg.Redis, logger)
	if err != nil {
		logger.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer cache.Close()
	logger.Info("connected to Redis")

	m := metrics.NewManager(metrics.WithRuntimeCollectors())

	wsHub := websocket.NewHub(logger)
	go wsHub.Run()
	logger.Info("WebSocket hub initialized")

	// Activity is always recorded in PostgreSQL and also published when Kafka is enabled
	tableLog := postgres.NewActivityLog(repo, cfg.Postgres.QueryTimeout, logger)
	activity := store.MultiActivity{tableLog}

	var producer *kafka.ActivityProducer
	if cfg.Kafka.Enabled {
		producer, err = kafka.NewActivityProducer(&cfg.Kafka, logger)
		if err != nil {
			logger.Warn("failed to create Kafka producer, continuing without Kafka", "error", err)
		} else {
			activity = append(activity, producer)
		}
	}

	calc := progression.NewCalculator(&cfg.Progression)

	leaderboardService := service.NewLeaderboardService(service.LeaderboardDeps{
		Reader:    repo,
		Snapshots: repo,
		Cache:     cache,
		Events:    wsHub,
		Metrics:   m,
	}, &cfg.Leaderboard, cfg.Redis.OpTimeout, cfg.Snapshot.TopN, logger)

	scoreService := service.NewScoreService(service.ScoreDeps{
		Runner:      repo,
		Sessions:    session.NewStore(time.Now, logger),
		Calculator:  calc,
		Evaluator:   achievement.NewEvaluator(logger),
		Activity:    activity,
		Events:      wsHub,
		Metrics:     m,
		Invalidator: leaderboardService,
	}, &cfg.Progression, cfg.Leaderboard.InvalidateOnSubmit, logger)

	playerService := service.NewPlayerService(repo, repo, calc, logger)

	snapshotWorker := worker.NewSnapshotWorker(leaderboardService, cfg.Snapshot.Interval, nil, logger)
	if cfg.Snapshot.Enabled {
		if err := snapshotWorker.Start(ctx); err != nil {
			logger.Error("failed to start snapshot worker", "error", err)
			os.Exit(1)
		}
	}

	// Every instance joins its own group so each one invalidates on every batch
	var kafkaConsumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		consumerCfg := cfg.Kafka
		if host, err := os.Hostname(); err == nil {
			consumerCfg.GroupID = fmt.Sprintf("%s-%s", cfg.Kafka.GroupID, host)
		}
		logger.Info("initializing Kafka consumer",
			"brokers", consumerCfg.Brokers,
			"topic", consumerCfg.ActivityTopic,
			"group_id", consumerCfg.GroupID,
		)
		kafkaConsumer, err = kafka.NewConsumer(&consumerCfg, leaderboardService, logger)
		if err != nil {
			logger.Warn("failed to create Kafka consumer, continuing without Kafka", "error", err)
		} else {
			startCtx, startCancel := context.WithTimeout(ctx, 30*time.Second)
			if err := kafkaConsumer.Start(startCtx); err != nil {
				logger.Warn("failed to start Kafka consumer, continuing without Kafka", "error", err)
				kafkaConsumer.Stop()
				kafkaConsumer = nil
			} else {
				logger.Info("Kafka consumer started successfully")
			}
			startCancel()
		}
	}

	httpHandler := handler.NewHandler(handler.Deps{
		Scores:       scoreService,
		Leaderboards: leaderboardService,
		Players:      playerService,
		Hub:          wsHub,
		Metrics:      m,
		Checks: map[string]handler.ReadinessCheck{
			"postgres": repo.Ping,
			"redis":    cache.Ping,
		},
	}, logger)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("starting HTTP server", "port", cfg.Server.Port)
		logger.Info("WebSocket endpoint available at /ws")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop accepting requests before tearing down what they depend on
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
	}

	if kafkaConsumer != nil {
		if err := kafkaConsumer.Stop(); err != nil {
			logger.Error("failed to stop Kafka consumer", "error", err)
		}
	}

	if err := snapshotWorker.Stop(); err != nil {
		logger.Error("failed to stop snapshot worker", "error", err)
	}

	wsHub.Stop()

	if producer != nil {
		if err := producer.Close(); err != nil {
			logger.Error("failed to close Kafka producer", "error", err)
		}
	}
	tableLog.Close()

	logger.Info("server stopped")
}
