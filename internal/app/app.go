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

// Package app wires configuration into the running pipeline components.
// The server and the operator CLI share this graph.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/awesbecher/poweredbyapp-sub000/internal/api"
	"github.com/awesbecher/poweredbyapp-sub000/internal/compose"
	"github.com/awesbecher/poweredbyapp-sub000/internal/config"
	"github.com/awesbecher/poweredbyapp-sub000/internal/decision"
	"github.com/awesbecher/poweredbyapp-sub000/internal/dedup"
	"github.com/awesbecher/poweredbyapp-sub000/internal/dispatch"
	"github.com/awesbecher/poweredbyapp-sub000/internal/knowledge"
	"github.com/awesbecher/poweredbyapp-sub000/internal/llm"
	"github.com/awesbecher/poweredbyapp-sub000/internal/logging"
	"github.com/awesbecher/poweredbyapp-sub000/internal/mailbox"
	"github.com/awesbecher/poweredbyapp-sub000/internal/notify"
	"github.com/awesbecher/poweredbyapp-sub000/internal/poller"
	"github.com/awesbecher/poweredbyapp-sub000/internal/queue"
	"github.com/awesbecher/poweredbyapp-sub000/internal/responder"
	"github.com/awesbecher/poweredbyapp-sub000/internal/review"
	"github.com/awesbecher/poweredbyapp-sub000/internal/store"
	"github.com/awesbecher/poweredbyapp-sub000/internal/token"
)

// Version is reported to Sentry as the release.
var Version = "dev"

// Options changes how downstream work is triggered.
type Options struct {
	// Inline runs generation and dispatch in the caller instead of
	// publishing jobs to Redis.
	Inline bool
}

// App holds the wired components.
type App struct {
	Config     *config.Config
	Pool       *pgxpool.Pool
	Redis      *redis.Client
	Store      *store.Store
	Notifier   *notify.Notifier
	Publisher  *queue.Publisher
	Tokens     *token.Manager
	Dispatcher *dispatch.Dispatcher
	Generator  *responder.Generator
	Poller     *poller.Poller
	Worker     *queue.Worker
	Review     *review.Service
	Indexer    *knowledge.Indexer

	sentry bool
}

// New connects to Postgres and Redis and builds every component.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	a := &App{Config: cfg}

	pool, err := store.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	a.Pool = pool

	st, err := store.New(ctx, pool)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("initialise store: %w", err)
	}
	a.Store = st
	slog.Info("connected to PostgreSQL")

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	a.Redis = redis.NewClient(opt)
	a.Publisher = queue.NewPublisher(a.Redis, cfg.JobsQueue)
	if err := a.Publisher.Ping(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	slog.Info("connected to Redis")

	a.sentry, err = notify.InitSentry(cfg.SentryDSN, cfg.SentryEnvironment, Version)
	if err != nil {
		// Alerting is optional; failures still reach the log and error table.
		slog.Warn("sentry disabled", logging.Err(err))
	}
	a.Notifier = notify.New(notify.Config{Store: st, Sentry: a.sentry, Timeout: cfg.CallTimeout})

	claims := dedup.NewFilter(a.Redis, dedup.DefaultTTL)
	connector := mailbox.NewGmailConnector(cfg.Google.GmailEndpoint, cfg.CallTimeout)
	completions := llm.New(llm.Config{
		APIKey:          cfg.LLM.APIKey,
		BaseURL:         cfg.LLM.BaseURL,
		ChatModel:       cfg.LLM.ChatModel,
		ClassifierModel: cfg.LLM.ClassifierModel,
		EmbeddingModel:  cfg.LLM.EmbeddingModel,
		Timeout:         cfg.CallTimeout,
	})

	a.Tokens = token.NewManager(token.ManagerConfig{
		Store:     st,
		Refresher: token.NewOAuthRefresher(cfg.Google.ClientID, cfg.Google.ClientSecret, cfg.Google.TokenURL),
		Lifetime:  cfg.TokenLifetime,
		Timeout:   cfg.CallTimeout,
	})

	a.Dispatcher = dispatch.NewDispatcher(dispatch.Config{
		Store:     st,
		Tokens:    a.Tokens,
		Connector: connector,
		Claims:    claims,
		Reporter:  a.Notifier,
	})

	var dispatchTrigger responder.DispatchTrigger = a.Publisher
	if opts.Inline {
		dispatchTrigger = queue.Inline{Dispatcher: a.Dispatcher}
	}
	a.Generator = responder.NewGenerator(responder.Config{
		Store: st,
		Retriever: knowledge.NewRetriever(knowledge.RetrieverConfig{
			Embedder:  completions,
			Searcher:  st,
			Reporter:  a.Notifier,
			Threshold: cfg.SimilarityThreshold,
			MaxChunks: cfg.MaxChunks,
		}),
		Classifier: decision.NewEngine(completions, a.Notifier),
		Composer:   compose.NewComposer(completions, cfg.LLM.Temperature),
		History:    compose.NewHistoryReader(st),
		Dispatch:   dispatchTrigger,
		Reporter:   a.Notifier,
	})

	var generateTrigger review.GenerateTrigger = a.Publisher
	if opts.Inline {
		generateTrigger = queue.Inline{Generator: a.Generator}
	}

	a.Poller = poller.New(poller.Config{
		Store:       st,
		Tokens:      a.Tokens,
		Connector:   connector,
		Trigger:     generateTrigger,
		Claims:      claims,
		Reporter:    a.Notifier,
		Interval:    cfg.PollInterval,
		MaxUnread:   cfg.MaxUnread,
		Concurrency: cfg.AgentConcurrency,
	})

	a.Worker = queue.NewWorker(queue.WorkerConfig{
		Client:     a.Redis,
		Queue:      cfg.JobsQueue,
		Generator:  a.Generator,
		Dispatcher: a.Dispatcher,
		Workers:    cfg.Workers,
	})

	a.Review = review.NewService(st, a.Dispatcher, generateTrigger, a.Notifier)
	a.Indexer = knowledge.NewIndexer(completions, st, cfg.ChunkSize)
	return a, nil
}

// Handler returns the HTTP API.
func (a *App) Handler() http.Handler {
	return api.NewHandler(a.Review, map[string]api.Pinger{
		"postgres": a.Store,
		"redis":    a.Publisher,
	}).Routes()
}

// Close flushes alerts and releases connections.
func (a *App) Close() {
	if a.sentry {
		notify.Flush(2 * time.Second)
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			slog.Warn("failed to close redis client", logging.Err(err))
		}
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
}
