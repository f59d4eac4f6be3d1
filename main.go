package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"candleflow/config"
	"candleflow/internal/channel"
	"candleflow/internal/history"
	"candleflow/internal/server"
	"candleflow/logger"
	"candleflow/processor"
	"candleflow/reader/binance"
	"candleflow/writer"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", config.DefaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(config.ResolveConfigPath(*configPath))
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Candleflow.Name,
		"version": cfg.Candleflow.Version,
		"symbols": cfg.Candleflow.Symbols,
	}).Info("starting candleflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics.CloudWatch.Enabled {
		logger.InitCloudWatch(
			cfg.Metrics.CloudWatch.Region,
			cfg.Metrics.CloudWatch.Namespace,
			cfg.Metrics.CloudWatch.Dashboard,
		)
	}

	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	channels := channel.NewChannels(
		cfg.Candleflow.Symbols,
		cfg.Aggregator.IntervalSeconds,
		cfg.Channels.TradeBuffer,
		cfg.Channels.CandleBuffer,
		cfg.Channels.StatusBuffer,
	)
	defer channels.Close()

	if cfg.Metrics.ChannelSize {
		channels.StartMetricsReporting(ctx)
	}

	store := history.NewStore(cfg.History.Capacity)

	tradeReader := binance.NewTradeReader(cfg, channels)
	aggregator := processor.NewAggregator(cfg, channels)
	historyWriter := writer.NewHistoryWriter(cfg, channels, store)
	queryServer := server.NewServer(cfg, store, channels.Status)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := tradeReader.Start(ctx); err != nil {
			log.WithError(err).Warn("trade reader failed to start")
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := aggregator.Start(ctx); err != nil {
			log.WithError(err).Warn("aggregator failed to start")
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := historyWriter.Start(ctx); err != nil {
			log.WithError(err).Warn("history writer failed to start")
		}
	}()

	if queryServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := queryServer.Run(ctx); err != nil {
				log.WithError(err).Error("query server exited with error")
			}
		}()
	} else {
		log.WithComponent("main").Info("query server disabled")
	}

	time.Sleep(2 * time.Second)
	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	log.Info("stopping trade reader")
	tradeReader.Stop()

	log.Info("stopping aggregator")
	aggregator.Stop()

	log.Info("stopping history writer")
	historyWriter.Stop()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("candleflow stopped")
}
