package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/tinglyhq/agentshell/internal/infrastructure/config"
	"github.com/tinglyhq/agentshell/internal/logging"
	"github.com/tinglyhq/agentshell/internal/server"
)

func main() {
	port := flag.String("port", "", "Server port (overrides PORT)")
	shellProgram := flag.String("shell", "", "Shell program for sessions (overrides SHELL_PROGRAM)")
	dev := flag.Bool("dev", false, "Development mode logging")
	flag.Parse()

	cfg := config.LoadOrDefault()
	if *port != "" {
		cfg.Server.Port = *port
	}
	if *shellProgram != "" {
		cfg.Shell.Program = *shellProgram
	}
	if *dev {
		cfg.Logging.Development = true
		cfg.Logging.Level = "debug"
	}

	logger := logging.NewForLevel(cfg.Logging.Level, cfg.Logging.Development)
	defer logger.Sync()

	logger.Info("starting agentshell",
		zap.String("port", cfg.Server.Port),
		zap.String("shell", cfg.Shell.Program),
		zap.Bool("persistent", cfg.Shell.Persistent),
	)

	srv := server.New(cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		logger.Error("server exited", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}
