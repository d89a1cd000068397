package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/nidhinvijay/BTCUSDT/internal/app"
	"github.com/nidhinvijay/BTCUSDT/internal/config"
	"github.com/nidhinvijay/BTCUSDT/internal/logging"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	// .env is optional; env vars win over the yaml file either way.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		zap.NewExample().Error("invalid config", zap.Error(err))
		os.Exit(1)
	}
	log := logging.New(cfg.Log)
	defer log.Sync()
	log.Info("config loaded",
		zap.String("path", *configPath),
		zap.String("symbol", cfg.Engine.Symbol),
		zap.Int("port", cfg.Server.Port))

	application, err := app.New(cfg, log)
	if err != nil {
		log.Error("failed to initialize engine", zap.Error(err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil && err != context.Canceled {
		log.Error("engine terminated", zap.Error(err))
		os.Exit(1)
	}
}
