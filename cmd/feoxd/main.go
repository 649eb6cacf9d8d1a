package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/lukluk/feoxd/internal/config"
	"github.com/lukluk/feoxd/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML config file")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.FromFile(*configPath)
		if err != nil {
			bootstrapLogger().Fatal("loading config", zap.Error(err))
		}
		cfg = loaded
	}

	logger := newLogger(cfg.LogLevel)
	defer logger.Sync()

	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Fatal("starting server", zap.Error(err))
	}

	if cfg.MetricsAddr != "" {
		serveMetrics(cfg.MetricsAddr, srv, logger)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		logger.Error("server exited", zap.Error(err))
		os.Exit(1)
	}
}

// serveMetrics exposes srv's Prometheus registry on a background HTTP
// listener, the way redis_exporter/zmux-server serve /metrics alongside
// their primary protocol.
func serveMetrics(addr string, srv *server.Server, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(srv.Metrics().Registry, promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("metrics listener exited", zap.Error(err))
		}
	}()
}

func bootstrapLogger() *zap.Logger {
	l, _ := zap.NewProduction()
	return l
}

func newLogger(level string) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if lvl, err := zap.ParseAtomicLevel(level); err == nil {
		cfg.Level = lvl
	}
	logger, err := cfg.Build()
	if err != nil {
		return bootstrapLogger()
	}
	return logger
}
