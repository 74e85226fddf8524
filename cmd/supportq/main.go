// Package main runs the supportq agent: a local HTTP surface for submitting
// IT support tickets with durable offline queueing and background
// synchronization toward the portal backend.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lotusit/supportq/internal/client"
	"github.com/lotusit/supportq/internal/config"
	"github.com/lotusit/supportq/internal/httpapi"
	"github.com/lotusit/supportq/internal/logging"
	"github.com/lotusit/supportq/internal/store"
	syncctl "github.com/lotusit/supportq/internal/sync"
)

// Version is set at build time
var Version = "0.1.0"

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Error("failed to load configuration", err)
		os.Exit(1)
	}
	cfg.SetupLogger()

	logging.Info("supportq starting", map[string]interface{}{
		"version":  Version,
		"backend":  cfg.Server.BaseURL,
		"data_dir": cfg.Queue.DataDir,
	})

	portal := client.New(cfg.Server.BaseURL, cfg.Server.Timeout)

	ticketStore := store.New(cfg.Queue.DataDir)
	ticketStore.Init()

	controller := syncctl.NewController(ticketStore, func(ctx context.Context, payload json.RawMessage) (bool, error) {
		result, err := portal.Submit(ctx, payload)
		if err != nil {
			return false, err
		}
		return result.Delivered, nil
	}, &syncctl.Config{
		Interval:    cfg.Queue.SyncInterval,
		MaxAttempts: cfg.Queue.MaxAttempts,
	})

	controller.OnCountChange(func(count int) {
		logging.Info("pending queue count changed", map[string]interface{}{"pending": count})
	})

	monitor := syncctl.NewHealthMonitor(portal.Health, cfg.Queue.ProbeInterval)
	controller.StartMonitoring(monitor)
	monitor.Start()

	// Drain anything left over from a previous run
	go controller.SyncPending(context.Background())

	server := httpapi.NewServer(cfg, portal, controller, ticketStore)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Run(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		logging.Error("http server failed", err)
	case sig := <-quit:
		logging.Info("shutting down", map[string]interface{}{"signal": sig.String()})
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logging.Error("http server shutdown failed", err)
	}
	monitor.Stop()
	controller.Stop()
	if err := ticketStore.Close(); err != nil {
		logging.Error("failed to close ticket store", err)
	}

	logging.Info("supportq stopped")
}
