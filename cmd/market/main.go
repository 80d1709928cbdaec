// ====================================
// File: cmd/market/main.go
// ====================================
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/nebula-market/internal/app"
	"github.com/rovshanmuradov/nebula-market/internal/config"
	"github.com/rovshanmuradov/nebula-market/internal/logger"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the config file")
	script := flag.String("script", "", "scenario file to run, overrides the config")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *script != "" {
		cfg.Script = *script
	}

	log, err := logger.New(cfg.LoggerConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("Starting nebula market", zap.String("config", *configPath))

	a := app.New(cfg, log)
	if err := a.Initialize(ctx); err != nil {
		log.Error("Failed to initialize market", zap.Error(err))
		os.Exit(1)
	}

	runErr := a.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.Close(shutdownCtx); err != nil {
		log.Error("Shutdown finished with errors", zap.Error(err))
	}

	if runErr != nil && ctx.Err() == nil {
		log.Error("Market run failed", zap.Error(runErr))
		os.Exit(1)
	}
	log.Info("Market stopped")
}
