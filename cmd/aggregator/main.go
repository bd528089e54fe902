package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tradeflow/config"
	"tradeflow/internal/agg"
	"tradeflow/internal/bus"
	"tradeflow/internal/logger"
	"tradeflow/internal/metrics"
)

func main() {
	cfg := config.LoadAggregator()
	log := logger.Init("aggregator", logger.ParseLevel(cfg.LogLevel))
	log.Info("starting", slog.String("timeframes", cfg.Timeframes))

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

	aggregator, err := agg.New(busClient, cfg.ParseTimeframes())
	if err != nil {
		log.Error("aggregator init failed", slog.Any("err", err))
		os.Exit(1)
	}
	aggregator.OnTick = func() {
		prom.TicksTotal.Inc()
		health.SetLastEventTime(time.Now())
	}
	aggregator.OnCandle = func(tf string) { prom.CandlesTotal.WithLabelValues(tf).Inc() }
	aggregator.OnDroppedTick = prom.DroppedTicks.Inc
	aggregator.OnDecodeError = func() { prom.DecodeErrors.WithLabelValues("tick").Inc() }
	aggregator.OnPublishError = prom.PublishFailures.Inc
	aggregator.OnQueueOverflow = prom.QueueOverflow.Inc

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("shutting down", slog.String("signal", sig.String()))
		cancel()
	}()

	if err := aggregator.Start(); err != nil {
		log.Error("subscribe failed", slog.Any("err", err))
		os.Exit(1)
	}
	log.Info("aggregator running")

	aggregator.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Stop(shutdownCtx)
	log.Info("stopped")
}
