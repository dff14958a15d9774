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

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/awesbecher/poweredbyapp-sub000/internal/logging"
)

// Generator produces a reply for a stored message.
type Generator interface {
	Generate(ctx context.Context, agentID, messageID string) error
}

// Dispatcher sends a reply.
type Dispatcher interface {
	Dispatch(ctx context.Context, agentID, messageID, replyText string) error
}

// ErrUnknownJob is returned for a job type no handler serves.
var ErrUnknownJob = errors.New("unknown job type")

// WorkerConfig holds the configuration for the job worker.
type WorkerConfig struct {
	Client     redis.Cmdable
	Queue      string
	Generator  Generator
	Dispatcher Dispatcher
	// Workers is the number of concurrent consumers.
	Workers int
	// PollTimeout is the BRPOP block time. Shutdown waits at most this long.
	PollTimeout time.Duration
}

// Worker consumes jobs. Each job is handled once; failures are logged and
// the job is dropped, since handlers report their own failures.
type Worker struct {
	rdb         redis.Cmdable
	queueName   string
	generator   Generator
	dispatcher  Dispatcher
	workers     int
	pollTimeout time.Duration
}

// NewWorker creates a job worker.
func NewWorker(cfg WorkerConfig) *Worker {
	if cfg.Queue == "" {
		cfg.Queue = DefaultQueue
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.PollTimeout < time.Second {
		cfg.PollTimeout = 5 * time.Second
	}
	return &Worker{
		rdb:         cfg.Client,
		queueName:   cfg.Queue,
		generator:   cfg.Generator,
		dispatcher:  cfg.Dispatcher,
		workers:     cfg.Workers,
		pollTimeout: cfg.PollTimeout,
	}
}

// Run consumes jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	slog.Info("job worker started", "queue", w.queueName, "workers", w.workers)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.workers; i++ {
		g.Go(func() error {
			w.consume(ctx)
			return nil
		})
	}
	err := g.Wait()

	slog.Info("job worker stopped", "queue", w.queueName)
	return err
}

func (w *Worker) consume(ctx context.Context) {
	for ctx.Err() == nil {
		res, err := w.rdb.BRPop(ctx, w.pollTimeout, w.queueName).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("job queue pop failed", "queue", w.queueName, logging.Err(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if len(res) != 2 {
			continue
		}

		var job Job
		if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
			slog.Error("dropping malformed job", "queue", w.queueName, logging.Err(err))
			continue
		}
		if err := w.Handle(ctx, job); err != nil {
			slog.Warn("job failed",
				"job_id", job.ID,
				"type", job.Type,
				logging.AgentID(job.AgentID),
				logging.MessageID(job.MessageID),
				logging.Err(err),
			)
		}
	}
}

// Handle routes one job to its handler.
func (w *Worker) Handle(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job.ID, r)
		}
	}()

	switch job.Type {
	case JobGenerateReply:
		return w.generator.Generate(ctx, job.AgentID, job.MessageID)
	case JobDispatchReply:
		return w.dispatcher.Dispatch(ctx, job.AgentID, job.MessageID, job.ReplyText)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownJob, job.Type)
	}
}
