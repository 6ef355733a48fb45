// Package main is the entry point for the filewarden monitoring service.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"filewarden/internal/api"
	"filewarden/internal/api/auth"
	"filewarden/internal/archive"
	"filewarden/internal/bus"
	"filewarden/internal/config"
	"filewarden/internal/dispatch"
	"filewarden/internal/engine"
	"filewarden/internal/feedback"
	"filewarden/internal/logging"
	"filewarden/internal/model"
	"filewarden/internal/rules"
	"filewarden/internal/store"
	"filewarden/internal/watch"
)

func main() {
	// Load configuration first so logging can follow it
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger := setupLogging(cfg.Logging)
	slog.SetDefault(logger)

	slog.Info("configuration loaded",
		"http_port", cfg.Server.HTTPPort,
		"sqlite_path", cfg.Storage.SQLitePath,
		"auth_enabled", cfg.Auth.Enabled,
		"watcher_enabled", cfg.Watcher.Enabled,
		"bus_enabled", cfg.Bus.Enabled,
		"mirror_enabled", cfg.Storage.ClickHouse.Enabled,
		"archive_enabled", cfg.Archive.Enabled,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Durable storage. Migrations run on open.
	st, err := store.Open(cfg.Storage.SQLitePath)
	if err != nil {
		slog.Error("failed to open store", "error", err)
		os.Exit(1)
	}

	// Audit logs optionally mirror to ClickHouse for analytics.
	logSink := interface {
		AppendLog(ctx context.Context, l *model.Log) error
	}(st)
	var watchStore watch.Store = st
	var mirror *store.AuditMirror

	if cfg.Storage.ClickHouse.Enabled {
		mirror, err = store.NewAuditMirror(cfg.Storage.ClickHouse)
		if err != nil {
			slog.Error("failed to connect to ClickHouse", "error", err)
			os.Exit(1)
		}
		mirrored := store.NewMirroredStore(st, mirror)
		logSink = mirrored
		watchStore = mirrored
	}

	// Rule cache in front of the rule table
	cache := rules.NewCache(st, cfg.Rules.CacheTTL)

	// Notification dispatcher with the configured transports
	var transports []dispatch.Transport
	if cfg.Dispatch.SMTP.Enabled {
		transports = append(transports, dispatch.NewSMTPTransport(cfg.Dispatch.SMTP))
	}
	if cfg.Dispatch.Webhook.Enabled {
		transports = append(transports, dispatch.NewWebhookTransport(cfg.Dispatch.Webhook))
	}
	if len(transports) == 0 {
		slog.Warn("no notification transports configured, notifications are audit-only")
	}

	dispatcher := dispatch.NewDispatcher(dispatch.Config{
		BatchInterval: cfg.Dispatch.BatchInterval,
		MaxRetries:    cfg.Dispatch.MaxRetries,
		RetryUnit:     cfg.Dispatch.RetryUnit,
		SendTimeout:   cfg.Dispatch.SendTimeout,
	}, logSink, cfg.Dispatch.SMTP.Recipients, transports...)

	// Deferred escalation for High and Critical decisions
	escalationCfg := dispatch.DefaultEscalationConfig()
	if cfg.Escalation.HighDelay > 0 {
		escalationCfg.HighDelay = cfg.Escalation.HighDelay
	}
	if cfg.Escalation.CriticalDelay > 0 {
		escalationCfg.CriticalDelay = cfg.Escalation.CriticalDelay
	}
	scheduler := dispatch.NewTimerScheduler()
	escalator := dispatch.NewEscalator(escalationCfg, scheduler, dispatcher, logSink)

	// Scoring and decision pipeline
	eng := engine.New(cache, st, logSink, dispatcher, escalator)

	// Operator feedback adapts rules and invalidates the cache
	adaptor := feedback.NewAdaptor(st, st, logSink, cache)

	// Authentication
	var authSvc *auth.Service
	if cfg.Auth.Enabled {
		var sessions auth.SessionStorage
		switch cfg.Auth.SessionBackend {
		case "redis":
			client, err := auth.NewGoRedisClient(cfg.Auth.Redis)
			if err != nil {
				slog.Error("failed to connect to Redis", "error", err)
				os.Exit(1)
			}
			sessions = auth.NewRedisSessionStorage(client, "")
		default:
			sessions = auth.NewMemorySessionStorage()
		}
		authSvc = auth.NewService(st, sessions, cfg.Auth.SessionTTL, cfg.Auth.BcryptCost, logger)
	}

	// Filesystem watcher over registered folders
	var watcher *watch.Watcher
	if cfg.Watcher.Enabled {
		watchCfg := watch.DefaultConfig()
		if cfg.Watcher.DebounceWindow > 0 {
			watchCfg.DebounceWindow = cfg.Watcher.DebounceWindow
		}
		watcher, err = watch.New(watchCfg, watchStore, eng)
		if err != nil {
			slog.Error("failed to create file watcher", "error", err)
			os.Exit(1)
		}
		if err := watcher.Start(ctx); err != nil {
			slog.Error("failed to start file watcher", "error", err)
			os.Exit(1)
		}
	}

	// Kafka event bus consumer for remote agents
	var consumer *bus.Consumer
	if cfg.Bus.Enabled {
		consumer, err = bus.NewConsumer(bus.Config{
			Brokers:       cfg.Bus.Brokers,
			Topic:         cfg.Bus.Topic,
			ConsumerGroup: cfg.Bus.ConsumerGroup,
			DialTimeout:   cfg.Bus.DialTimeout,
			ReadTimeout:   cfg.Bus.ReadTimeout,
			WriteTimeout:  cfg.Bus.WriteTimeout,
		}, st, eng)
		if err != nil {
			slog.Error("failed to create bus consumer", "error", err)
			os.Exit(1)
		}
		consumer.Start(ctx)
	}

	// Audit log archival to object storage
	var archiver *archive.Archiver
	if cfg.Archive.Enabled {
		objects, err := archive.NewS3Store(ctx, cfg.Archive, logger)
		if err != nil {
			slog.Error("failed to create archive object store", "error", err)
			os.Exit(1)
		}
		archiver = archive.New(cfg.Archive, objects, st, logger)
		archiver.Start(ctx)
	}

	// HTTP API
	opts := api.Options{Auth: authSvc, Notifier: dispatcher}
	if watcher != nil {
		opts.Watcher = watcher
	}
	server := api.NewServer(cfg.Server, st, eng, adaptor, cache, opts, logger)
	handler := server.Handler(cfg.RateLimit)

	go func() {
		if err := server.Start(handler); err != nil {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutdown signal received", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop accepting new requests
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	// Stop the event sources before draining the sinks
	if watcher != nil {
		watcher.Stop()
	}
	if consumer != nil {
		if err := consumer.Close(); err != nil {
			slog.Error("bus consumer close error", "error", err)
		}
	}
	cancel()

	if archiver != nil {
		archiver.Stop()
	}
	scheduler.Stop()

	// Flush batched notifications
	dispatcher.Flush(shutdownCtx)

	if authSvc != nil {
		authSvc.Close()
	}
	if mirror != nil {
		if err := mirror.Close(); err != nil {
			slog.Error("audit mirror close error", "error", err)
		}
	}
	if err := st.Close(); err != nil {
		slog.Error("store close error", "error", err)
	}

	slog.Info("shutdown complete", "dispatch", dispatcher.Stats())
}

// setupLogging builds the process logger from configuration.
func setupLogging(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level, ReplaceAttr: logging.RedactAttr}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
