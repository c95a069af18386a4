// Command perpxd runs the streaming kline-aggregation and event-detection
// engine: it dials the exchange combined stream, shards incoming ticks and
// mark-price updates across a worker pool, aggregates OHLCV klines per
// symbol/interval, and pushes detector events onto a durable Redis queue.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/xiangxn/perpx/config"
	"github.com/xiangxn/perpx/internal/detect"
	"github.com/xiangxn/perpx/internal/ingest"
	"github.com/xiangxn/perpx/internal/logging"
	"github.com/xiangxn/perpx/internal/metrics"
	"github.com/xiangxn/perpx/internal/queue"
	"github.com/xiangxn/perpx/internal/secrets"
	"github.com/xiangxn/perpx/internal/stream"
	"github.com/xiangxn/perpx/internal/worker"
)

const streamURL = "wss://fstream.binance.com/stream?streams=!ticker@arr/!markPrice@arr"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "perpx.toml", "path to the TOML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}

	logger := logging.New(&logging.Config{
		Level:     cfg.Logging.Level,
		Output:    "stdout",
		Component: "perpx",
	})
	logging.SetDefault(logger)
	logger.Info("configuration loaded", "worker_count", cfg.Server.WorkerCount)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("shutdown signal received")
		cancel()
	}()

	resolver, err := secrets.NewResolver(cfg.Vault)
	if err != nil {
		logger.Error("failed to build secrets resolver", "error", err)
		return 1
	}
	creds, err := resolver.Resolve(ctx, secrets.RedisCredentials{
		User:     cfg.Redis.User,
		Password: cfg.Redis.Password,
	})
	if err != nil {
		logger.Error("failed to resolve redis credentials", "error", err)
		return 1
	}

	redisClient := queue.NewClient(cfg.Redis.Host, cfg.Redis.Port, creds.User, creds.Password)
	defer redisClient.Close()

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		logger.Error("initial redis ping failed", "error", err)
		return 3
	}

	q := queue.New(redisClient, time.Duration(cfg.Server.RedisDataExpire)*time.Second)

	if cfg.Metrics.Enabled {
		go serveMetrics(cfg.Metrics.ListenAddr, logger)
	}

	dispatcher := ingest.New(cfg.Server.WorkerCount, cfg.Server.InboxCapacity)

	thresholds := detect.FundingThresholds{
		MinFundingRate:          cfg.FundingRate.MinFundingRate,
		MinFundingRateChange:    cfg.FundingRate.MinFundingRateChange,
		FundingRateIntervalSecs: cfg.FundingRate.FundingRateIntervalSecs,
	}
	eventTTL := time.Duration(cfg.Server.RedisDataExpire) * time.Second

	workerDone := make(chan struct{}, cfg.Server.WorkerCount)
	for id, inbox := range dispatcher.Inboxes() {
		w := worker.New(id, inbox, cfg.Server.MaxKlineCount, thresholds, q, eventTTL)
		go func() {
			w.Run(ctx)
			workerDone <- struct{}{}
		}()
	}
	logger.Info("worker pool started", "workers", cfg.Server.WorkerCount)

	reader := stream.New(streamURL, cfg.Proxy.Addr, dispatcher)
	if err := reader.Run(ctx); err != nil {
		logger.Error("initial stream connection failed", "error", err)
		cancel()
		return 2
	}

	dispatcher.Close()
	for range dispatcher.Inboxes() {
		<-workerDone
	}

	logger.Info("shutdown complete")
	return 0
}

func serveMetrics(addr string, log *logging.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	log.Info("metrics server listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		log.Error("metrics server stopped", "error", err)
	}
}
