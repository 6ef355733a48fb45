// Package main is a lightweight remote agent: it watches local folders
// and publishes observed file events to the bus for a central
// filewarden instance to score.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"filewarden/internal/bus"
	"filewarden/internal/logging"
	"filewarden/internal/model"

	"github.com/fsnotify/fsnotify"
)

var version = "dev"

func main() {
	var (
		showVersion bool
		brokers     string
		topic       string
		agentName   string
	)

	flag.BoolVar(&showVersion, "version", false, "Show version and exit")
	flag.StringVar(&brokers, "brokers", "localhost:9092", "Comma-separated Kafka brokers")
	flag.StringVar(&topic, "topic", "filewarden-events", "Bus topic")
	flag.StringVar(&agentName, "agent", "", "Agent name (default: hostname)")
	flag.Parse()

	if showVersion {
		fmt.Printf("filewarden-agent %s\n", version)
		os.Exit(0)
	}

	dirs := flag.Args()
	if len(dirs) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: filewarden-agent [flags] <dir> [<dir>...]")
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		ReplaceAttr: logging.RedactAttr,
	}))
	slog.SetDefault(logger)

	if agentName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		agentName = hostname
	}

	publisher, err := bus.NewPublisher(bus.Config{
		Brokers:       strings.Split(brokers, ","),
		Topic:         topic,
		ConsumerGroup: "agent",
		DialTimeout:   10 * time.Second,
		ReadTimeout:   30 * time.Second,
		WriteTimeout:  30 * time.Second,
	})
	if err != nil {
		slog.Error("failed to create bus publisher", "error", err)
		os.Exit(1)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Error("failed to create filesystem watcher", "error", err)
		os.Exit(1)
	}

	for _, dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			slog.Error("failed to watch directory", "dir", dir, "error", err)
			os.Exit(1)
		}
		slog.Info("watching directory", "dir", dir)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	slog.Info("agent started", "agent", agentName, "topic", topic)

	for {
		select {
		case fsEvent, ok := <-fsw.Events:
			if !ok {
				return
			}
			eventType, ok := mapOp(fsEvent.Op)
			if !ok {
				continue
			}
			env := bus.Envelope{
				Agent:      agentName,
				EventType:  eventType,
				Path:       fsEvent.Name,
				OccurredAt: time.Now().UTC(),
			}
			pubCtx, pubCancel := context.WithTimeout(ctx, 10*time.Second)
			if err := publisher.Publish(pubCtx, env); err != nil {
				slog.Error("failed to publish event",
					"path", fsEvent.Name,
					"event_type", eventType,
					"error", err,
				)
			}
			pubCancel()

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			slog.Error("watcher error", "error", err)

		case sig := <-quit:
			slog.Info("shutdown signal received", "signal", sig.String())
			fsw.Close()
			if err := publisher.Close(); err != nil {
				slog.Error("publisher close error", "error", err)
			}
			slog.Info("agent stopped", "published", publisher.Stats())
			return
		}
	}
}

// mapOp translates filesystem ops to the event types the scorer knows.
func mapOp(op fsnotify.Op) (string, bool) {
	switch {
	case op.Has(fsnotify.Create):
		return model.EventCreate, true
	case op.Has(fsnotify.Write):
		return model.EventModify, true
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		return model.EventDelete, true
	default:
		return "", false
	}
}
