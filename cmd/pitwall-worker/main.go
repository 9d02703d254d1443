package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/BearBump/PitWall/config"
	"github.com/BearBump/PitWall/internal/logger"
)

func main() {
	if _, err := logger.Setup(os.Stderr, os.Getenv("logLevel")); err != nil {
		panic(err)
	}

	cfg, err := config.LoadConfig(os.Getenv("configPath"))
	if err != nil {
		panic(fmt.Sprintf("config: %v", err))
	}
	if err := config.Validate(cfg); err != nil {
		panic(err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err = RunWorker(ctx, cfg, defaultWorkerFactories(), workerOpts{
		httpAddr:    cfg.PitWall.WorkerHTTPAddr,
		swaggerPath: os.Getenv("workerSwaggerPath"),
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("worker stopped", "error", err.Error())
		cancel()
		os.Exit(1)
	}
}
