// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Mail agent service.
//
// Entry point for the long-running service. It:
//  1. Loads configuration from config.yaml and the environment
//  2. Connects to PostgreSQL and Redis
//  3. Starts the job workers that generate and dispatch replies
//  4. Starts the inbox poller on its interval
//  5. Serves the review API, health and metrics endpoints
//  6. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/awesbecher/poweredbyapp-sub000/internal/api"
	"github.com/awesbecher/poweredbyapp-sub000/internal/app"
	"github.com/awesbecher/poweredbyapp-sub000/internal/config"
	"github.com/awesbecher/poweredbyapp-sub000/internal/logging"
)

func main() {
	logging.Setup(os.Stdout, os.Getenv("LOG_LEVEL"))

	slog.Info("starting mail agent service", "version", app.Version)

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", logging.Err(err))
		os.Exit(1)
	}
	logging.Setup(os.Stdout, cfg.LogLevel)

	slog.Info("configuration loaded",
		"poll_interval", cfg.PollInterval,
		"max_unread", cfg.MaxUnread,
		"agent_concurrency", cfg.AgentConcurrency,
		"workers", cfg.Workers,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Connect and wire components ---
	a, err := app.New(ctx, cfg, app.Options{})
	if err != nil {
		slog.Error("failed to initialise service", logging.Err(err))
		os.Exit(1)
	}
	defer a.Close()

	// --- Job workers ---
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := a.Worker.Run(ctx); err != nil {
			slog.Error("job worker exited", logging.Err(err))
		}
	}()

	// --- API server ---
	ready, err := api.Serve(ctx, cfg.Port, a.Handler())
	if err != nil {
		slog.Error("failed to start api server", logging.Err(err))
		os.Exit(1)
	}
	<-ready

	// --- Inbox poller ---
	a.Poller.Start(ctx)

	slog.Info("mail agent service running", "port", cfg.Port)

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh

	slog.Info("received shutdown signal", "signal", sig.String())
	a.Poller.Stop()
	cancel()
	wg.Wait()

	slog.Info("mail agent service stopped")
}
