package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"obsim/internal/config"
	"obsim/internal/forward"
)

func main() {
	_ = godotenv.Load()

	listen := flag.String("listen", "127.0.0.1:40002", "address to accept on")
	target := flag.String("target", "127.0.0.1:40001", "address to forward to")
	logLevel := flag.String("log-level", "info", "debug|info|warn|error")
	flag.Parse()

	logger := config.NewLogger(*logLevel)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := forward.New(*target, logger).ListenAndServe(ctx, *listen); err != nil {
		logger.Error("port forwarder failed", slog.String("err", err.Error()))
		os.Exit(1)
	}
	logger.Info("bye")
}
