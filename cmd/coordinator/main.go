package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tradeflow/config"
	"tradeflow/internal/bus"
	"tradeflow/internal/coordinator"
	"tradeflow/internal/dag"
	"tradeflow/internal/logger"
	"tradeflow/internal/metrics"
	"tradeflow/internal/nodes/filtersettings"
	"tradeflow/internal/store/rediscache"
	"tradeflow/internal/store/timescale"
)

func main() {
	cfg := config.LoadCoordinator()
	log := logger.Init("coordinator", logger.ParseLevel(cfg.LogLevel))
	log.Info("starting", slog.String("symbol", cfg.Symbol))

	prom := metrics.New()
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	busClient, err := bus.Connect(bus.ConfigFromEnv())
	if err != nil {
		log.Error("bus connect failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer busClient.Close()
	health.SetBusConnected(true)

	registry := dag.NewRegistry()
	filtersettings.Register(registry)

	coord, err := coordinator.New(cfg.Symbol, cfg.ConfigRoot, busClient, registry)
	if err != nil {
		log.Error("pipeline init failed", slog.Any("err", err))
		os.Exit(1)
	}
	coord.OnEvent = func(kind string) {
		prom.EventsTotal.WithLabelValues(kind).Inc()
		health.SetLastEventTime(time.Now())
	}
	coord.OnDecodeError = func(kind string) { prom.DecodeErrors.WithLabelValues(kind).Inc() }
	coord.OnMismatch = prom.SymbolMismatches.Inc
	coord.OnOutput = func(role string) { prom.OutputsPublished.WithLabelValues(role).Inc() }
	coord.OnPublishError = prom.PublishFailures.Inc
	coord.OnWarmStartFailure = func(node string) { prom.WarmStartFailures.Inc() }
	coord.Executor().OnComputeError = func(node string) {
		prom.NodeComputeErrors.WithLabelValues(node).Inc()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Warm start is best effort: without a database every node starts cold.
	if cfg.DatabaseURL != "" {
		warmCtx, warmCancel := context.WithTimeout(ctx, 30*time.Second)
		reader, err := timescale.Connect(warmCtx, cfg.DatabaseURL)
		if err != nil {
			log.Warn("database unavailable, skipping warm start", slog.Any("err", err))
			prom.WarmStartFailures.Inc()
		} else {
			coord.WarmStart(warmCtx, reader)
			reader.Close()
		}
		warmCancel()
	}

	if cfg.RedisAddr != "" {
		cacheCtx, cacheCancel := context.WithTimeout(ctx, 5*time.Second)
		cache, err := rediscache.Connect(cacheCtx, cfg.RedisAddr, cfg.RedisPassword)
		cacheCancel()
		if err != nil {
			log.Warn("redis unavailable, latest-output cache disabled", slog.Any("err", err))
		} else {
			defer cache.Close()
			coord.Cache = cache
			health.StartLivenessChecker(ctx, 30*time.Second, cache)
		}
	}

	if err := coord.Start(); err != nil {
		log.Error("subscribe failed", slog.Any("err", err))
		os.Exit(1)
	}
	log.Info("coordinator running")

	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				st := coord.Status()
				log.Info("pipeline status",
					slog.Int("nodes", st.Nodes),
					slog.Any("topo_order", st.TopoOrder))
			}
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutting down", slog.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Stop(shutdownCtx)
	log.Info("stopped")
}
