package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sentinel/internal/alert"
	"sentinel/internal/check"
	"sentinel/internal/config"
	"sentinel/internal/database"
	"sentinel/internal/elasticsearch"
	"sentinel/internal/logger"
	"sentinel/internal/master/api"
	"sentinel/internal/master/dispatch"
	"sentinel/internal/master/engine"
	"sentinel/internal/master/retention"
	"sentinel/internal/models"
	"sentinel/internal/queue"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.LoadFromFile(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
			os.Exit(1)
		}
	} else {
		cfg = config.Load()
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Logger.Level, cfg.Logger.Output)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Master starting",
		zap.String("db", cfg.Database.Driver),
		zap.Int("agents", len(cfg.Agents)))

	db, err := database.Open(database.Config{
		Driver:   cfg.Database.Driver,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		log.Fatal("Failed to open database", zap.Error(err))
	}

	publisher, err := queue.NewPublisher(cfg.Redis)
	if err != nil {
		log.Fatal("Failed to connect to redis", zap.Error(err))
	}
	defer publisher.Close()

	es, err := elasticsearch.NewClient(cfg.Elasticsearch, log)
	if err != nil {
		log.Fatal("Failed to connect to elasticsearch", zap.Error(err))
	}

	alerter := alert.NewDispatcher(log, db, cfg.Channels, publisher)
	eng := engine.New(log, db, alerter, cfg.SSL)
	agents := dispatch.New(log, db, cfg.Agents)

	pruner := retention.NewPruner(log, db, cfg.History.KeepRangeDays)
	if err := pruner.Start(); err != nil {
		log.Fatal("Failed to start retention pruner", zap.Error(err))
	}
	defer pruner.Stop()

	// Agents hold their job tables in memory; restore them before serving.
	syncCtx, syncCancel := context.WithTimeout(context.Background(), time.Minute)
	agents.SyncAll(syncCtx, func(def *models.CheckDefinition) (check.Spec, error) {
		return def.Spec()
	})
	syncCancel()

	server := api.NewServer(log, db, eng, agents, es, cfg.Agents)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Run(cfg.Server.Host, cfg.Server.Port)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatal("API server failed", zap.Error(err))
		}
	case sig := <-quit:
		log.Info("Shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error("Shutdown error", zap.Error(err))
	}
	log.Info("Master stopped")
}
