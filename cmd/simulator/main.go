package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"obsim/internal/config"
	"obsim/internal/metrics"
	"obsim/internal/series"
	"obsim/internal/server"
	"obsim/internal/sim"
)

func main() {
	_ = godotenv.Load() // best-effort: .env is optional

	configPath := flag.String("config", "config.yaml", "path to config file")
	host := flag.String("host", "", "listen host (overrides config)")
	port := flag.Int("port", 0, "listen port (overrides config)")
	passive := flag.Bool("passive", false, "on-demand mode: no timer, increments only on request")
	logLevel := flag.String("log-level", "", "debug|info|warn|error (overrides config)")
	seriesFile := flag.String("series", "", `price series JSON {"close":[...]} (overrides config)`)
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *host != "" {
		cfg.Host = *host
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *passive {
		cfg.Mode = config.ModeOnDemand
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *seriesFile != "" {
		cfg.SeriesFile = *seriesFile
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := config.NewLogger(cfg.LogLevel)
	logger.Info("simulator starting",
		slog.String("addr", cfg.Addr()),
		slog.String("mode", cfg.Mode),
		slog.String("symbol", cfg.Symbol),
	)

	params, _ := cfg.BookParams()
	opts := sim.Options{
		Symbol:   cfg.Symbol,
		OnDemand: cfg.OnDemand(),
		Interval: cfg.UpdateInterval,
		Params:   params,
		Seed:     cfg.Seed,
		Logger:   logger,
		Metrics:  metrics.New(),
	}
	if !cfg.OnDemand() {
		opts.Series, err = series.Load(cfg.SeriesFile)
		if err != nil {
			logger.Error("load price series", slog.String("err", err.Error()))
			os.Exit(1)
		}
	}
	s, err := sim.New(opts)
	if err != nil {
		logger.Error("create simulator", slog.String("err", err.Error()))
		os.Exit(1)
	}
	srv := server.NewHTTPServer(s, opts.Metrics, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- s.Run(ctx) }()

	httpSrv := &http.Server{
		Addr:    cfg.Addr(),
		Handler: srv.Router(),
	}
	done := make(chan struct{})
	go func() {
		logger.Info("HTTP server listening", slog.String("addr", cfg.Addr()))
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", slog.String("err", err.Error()))
			cancel()
		}
		close(done)
	}()

	// Graceful shutdown
	exit := 0
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigc:
	case <-ctx.Done():
		exit = 1
	case err := <-runErr:
		if err != nil {
			logger.Error("simulator stopped", slog.String("err", err.Error()))
		}
		if err != nil || ctx.Err() != nil {
			exit = 1
		}
	}

	logger.Info("shutting down...")
	s.Close()
	cancel()
	shCtx, shCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shCancel()
	_ = httpSrv.Shutdown(shCtx)
	<-done
	logger.Info("bye")
	if exit != 0 {
		shCancel()
		os.Exit(exit)
	}
}

// loadConfig reads path, falling back to defaults when the file is absent.
func loadConfig(path string) (config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return config.Default(), nil
	}
	return cfg, err
}
