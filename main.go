package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"gascap/config"
	"gascap/internal/chain"
	"gascap/internal/events"
	"gascap/internal/poller"
	"gascap/internal/terminal"
	"gascap/internal/tickstore"
	"gascap/logger"
	"gascap/writer"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Gascap.Name,
		"version": cfg.Gascap.Version,
	}).Info("starting gascap")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Logging.CloudWatch.Enabled {
		logger.InitCloudWatch(cfg.Logging.CloudWatch.Region, cfg.Logging.CloudWatch.Namespace)
	}
	if strings.ToLower(cfg.Logging.Level) == "report" {
		interval := cfg.Logging.ReportInterval
		if interval <= 0 {
			interval = 30 * time.Second
		}
		logger.StartReport(ctx, log, interval)
	}

	slot, err := buildSlot(cfg, log)
	if err != nil {
		log.WithError(err).Error("failed to build durable slot")
		os.Exit(1)
	}

	store := tickstore.New(slot, cfg.Market.TickCapacity, cfg.Market.QuiescenceWindow)
	chainClient := chain.NewClient(cfg.Chain)
	syncer := events.NewSynchronizer(chainClient, cfg.Events.LookbackBlocks, cfg.Events.PageLimit, cfg.Events.FeedLimit)

	orchestrator := poller.NewOrchestrator(cfg.Poller, chainClient, store, syncer)
	if !cfg.Market.Seed.Enabled {
		orchestrator.DisableSeeding()
	}

	server := terminal.NewServer(cfg.Terminal, store, syncer, orchestrator)

	var archive *writer.ArchiveWriter
	if cfg.Storage.S3.Enabled {
		archive, err = writer.NewArchiveWriter(cfg.Storage.S3)
		if err != nil {
			log.WithError(err).Error("failed to create archive writer")
			os.Exit(1)
		}
	} else {
		log.WithComponent("main").Info("S3 storage disabled; skipping archive writer")
	}

	var lastArchived atomic.Int64
	orchestrator.OnCycle(func() {
		server.Broadcast()
		if archive == nil {
			return
		}
		ticks := store.Ticks(ctx)
		if n := len(ticks); n > 0 && ticks[n-1].Time > lastArchived.Load() {
			archive.Record(ticks[n-1])
			lastArchived.Store(ticks[n-1].Time)
		}
	})

	if archive != nil {
		if err := archive.Start(ctx); err != nil {
			log.WithError(err).Error("failed to start archive writer")
			os.Exit(1)
		}
	}
	if err := orchestrator.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start poller")
		os.Exit(1)
	}
	if err := server.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start terminal server")
		os.Exit(1)
	}

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	log.Info("stopping terminal server")
	server.Stop()

	log.Info("stopping poller")
	orchestrator.Stop()

	if archive != nil {
		log.Info("stopping archive writer")
		archive.Stop()
	}

	log.Info("gascap stopped")
}

func buildSlot(cfg *config.Config, log *logger.Log) (tickstore.Slot, error) {
	switch cfg.Market.Slot.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Market.Slot.Redis.Addr,
			Password: cfg.Market.Slot.Redis.Password,
			DB:       cfg.Market.Slot.Redis.DB,
		})
		key := cfg.Market.Slot.Key
		if key == "" {
			key = "gascap:ticks"
		}
		log.WithComponent("main").WithFields(logger.Fields{
			"addr": cfg.Market.Slot.Redis.Addr,
			"key":  key,
		}).Info("using redis slot backend")
		return tickstore.NewRedisSlot(client, key)
	default:
		path := cfg.Market.Slot.Path
		if path == "" {
			path = "data/ticks.json"
		}
		log.WithComponent("main").WithFields(logger.Fields{
			"path": path,
		}).Info("using file slot backend")
		return tickstore.NewFileSlot(path)
	}
}
