package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sentinel/internal/agent/api"
	"sentinel/internal/agent/reporter"
	"sentinel/internal/agent/scheduler"
	"sentinel/internal/check"
	"sentinel/internal/config"
	"sentinel/internal/executor"
	"sentinel/internal/logger"

	"github.com/google/uuid"
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

	if cfg.Agent.UUID == "" {
		cfg.Agent.UUID = uuid.NewString()
	}
	if err := cfg.ValidateAgent(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Logger.Level, cfg.Logger.Output)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Agent starting",
		zap.String("uuid", cfg.Agent.UUID),
		zap.String("master", cfg.Agent.MasterURL),
		zap.String("version", api.Version))

	rep := reporter.New(log, reporter.Config{
		MasterURL: cfg.Agent.MasterURL,
		AgentUUID: cfg.Agent.UUID,
		Attempts:  cfg.Agent.ReportAttempts,
		Delay:     time.Duration(cfg.Agent.ReportDelay) * time.Second,
	})

	runner := func(ctx context.Context, spec *check.Spec) {
		exec, err := executor.New(spec.Type)
		if err != nil {
			log.Error("No executor for check type",
				zap.Uint32("check_id", spec.ID),
				zap.String("type", string(spec.Type)))
			return
		}
		for _, result := range exec.Execute(ctx, spec) {
			rep.Send(&result)
		}
	}

	sched := scheduler.New(log, runner)
	sched.Start()

	server := api.NewServer(log, sched, cfg.Agent.UUID)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Run(cfg.Agent.Host, cfg.Agent.Port)
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

	sched.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error("Shutdown error", zap.Error(err))
	}
	log.Info("Agent stopped")
}
