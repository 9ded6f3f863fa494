// Driftline - Client-Side Analytics Event Pipeline
// Copyright 2026 Driftline Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/driftline/driftline-go

// Package main is a demonstration host for the Driftline SDK.
//
// It brings up a Client against a durable BadgerDB store, emits a few
// events, runs a short screen session, and shuts down gracefully on
// SIGINT/SIGTERM so the queue snapshot survives for the next run.
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins):
//   - Environment variables (DRIFTLINE_APP_ID, DRIFTLINE_ENDPOINT, ...)
//   - Config file (driftline.yaml, or DRIFTLINE_CONFIG_PATH)
//   - Built-in defaults
//
// Example:
//
//	export DRIFTLINE_APP_ID=demo-app
//	export DRIFTLINE_ENDPOINT=https://ingest.example.com/v1
//	export DRIFTLINE_STORAGE_PATH=/var/lib/driftline
//	./driftline
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/driftline/driftline-go"
	"github.com/driftline/driftline-go/internal/config"
	"github.com/driftline/driftline-go/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	logging.SetEnabled(true)

	logging.Info().
		Str("app_id", cfg.AppID).
		Str("endpoint", cfg.Endpoint).
		Str("storage_path", cfg.Storage.Path).
		Msg("Configuration loaded")

	client, err := driftline.New(driftline.Options{
		Config: cfg,
		Device: driftline.DeviceInfo{
			Device:   "demo-host",
			OS:       "linux",
			BundleID: "com.driftline.demo",
			Version:  "1.0.0",
			Language: "en",
		},
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to construct client")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := client.Init(ctx); err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize client")
	}
	logging.Info().Str("user_id", client.ID()).Msg("Client initialized")

	client.Log("demo_started", map[string]string{"mode": "cli"})
	client.StartScreenView("DemoScreen", map[string]string{"source": "main"})

	if variant := client.ABTest("onboarding"); variant != "" {
		logging.Info().Str("variant", variant).Msg("Experiment assignment")
	}

	// Run until interrupted, then flush what the queue still holds.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logging.Info().Str("signal", sig.String()).Msg("Shutting down")
	case <-time.After(30 * time.Second):
		logging.Info().Msg("Demo window elapsed, shutting down")
	}

	client.EndScreenView("DemoScreen")

	flushCtx, flushCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer flushCancel()
	if err := client.Flush(flushCtx); err != nil {
		logging.Warn().Err(err).Msg("Flush incomplete, queue snapshot persisted for next run")
	}

	if err := client.Close(); err != nil {
		logging.Error().Err(err).Msg("Error closing client")
	}
	logging.Info().Msg("Shutdown complete")
}
