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

// Package notify records component failures to the error log, metrics and
// an optional Sentry project. Reporting never returns an error or panics.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/awesbecher/poweredbyapp-sub000/internal/logging"
	"github.com/awesbecher/poweredbyapp-sub000/internal/metrics"
	"github.com/awesbecher/poweredbyapp-sub000/internal/models"
)

// Function names used when reporting.
const (
	FuncTokenRefresh       = "token-refresh"
	FuncPollInbox          = "poll-inbox"
	FuncKnowledgeRetrieval = "knowledge-retrieval"
	FuncClassify           = "classify-message"
	FuncCompose            = "compose-reply"
	FuncGenerate           = "generate-reply"
	FuncDispatch           = "send-reply"
	FuncReview             = "review-action"
)

// Failure describes one component failure.
type Failure struct {
	Function string
	Err      error
	AgentID  string
	Metadata map[string]any
}

// Reporter records failures.
type Reporter interface {
	Report(ctx context.Context, f Failure)
}

// Store persists failure records.
type Store interface {
	InsertError(ctx context.Context, r models.ErrorRecord) error
}

// Notifier is the production Reporter.
type Notifier struct {
	store   Store
	sentry  bool
	timeout time.Duration
}

// Config holds the configuration for the notifier.
type Config struct {
	Store Store
	// Sentry enables capture to the globally initialised Sentry hub.
	Sentry bool
	// Timeout bounds the error log write.
	Timeout time.Duration
}

// New creates a notifier.
func New(cfg Config) *Notifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Notifier{store: cfg.Store, sentry: cfg.Sentry, timeout: cfg.Timeout}
}

// InitSentry configures the global Sentry client. An empty DSN disables it.
func InitSentry(dsn, environment, release string) (bool, error) {
	if dsn == "" {
		return false, nil
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: environment,
		Release:     release,
	}); err != nil {
		return false, fmt.Errorf("init sentry: %w", err)
	}
	return true, nil
}

// Report logs, counts, persists and optionally alerts on f. Every secondary
// failure is logged and discarded.
func (n *Notifier) Report(ctx context.Context, f Failure) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("failure notifier panicked", "panic", r, logging.KeyFunction, f.Function)
		}
	}()

	msg := "unknown error"
	if f.Err != nil {
		msg = f.Err.Error()
	}

	slog.Error("component failure",
		logging.KeyFunction, f.Function,
		logging.AgentID(f.AgentID),
		logging.Err(f.Err),
		"metadata", f.Metadata,
	)
	metrics.Failures.WithLabelValues(f.Function).Inc()

	if n.store != nil {
		rec := models.ErrorRecord{
			Function: f.Function,
			Message:  msg,
			Metadata: f.Metadata,
		}
		if f.AgentID != "" {
			agentID := f.AgentID
			rec.AgentID = &agentID
		}

		// The caller's context may already be cancelled; the log write still runs.
		writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
		defer cancel()
		if err := n.store.InsertError(writeCtx, rec); err != nil {
			slog.Warn("failed to write error log", logging.KeyFunction, f.Function, logging.Err(err))
		}
	}

	if n.sentry {
		sentry.WithScope(func(scope *sentry.Scope) {
			scope.SetTag("function", f.Function)
			if f.AgentID != "" {
				scope.SetTag("agent_id", f.AgentID)
			}
			for k, v := range f.Metadata {
				scope.SetExtra(k, v)
			}
			err := f.Err
			if err == nil {
				err = fmt.Errorf("%s failed", f.Function)
			}
			sentry.CaptureException(err)
		})
	}
}

// Flush waits for buffered Sentry events.
func Flush(timeout time.Duration) {
	sentry.Flush(timeout)
}

// Nop discards failures.
type Nop struct{}

// Report implements Reporter.
func (Nop) Report(context.Context, Failure) {}

// Recorder keeps failures in memory for tests and the CLI.
type Recorder struct {
	mu       sync.Mutex
	failures []Failure
}

// Report implements Reporter.
func (r *Recorder) Report(_ context.Context, f Failure) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, f)
}

// Failures returns a copy of the recorded failures.
func (r *Recorder) Failures() []Failure {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Failure(nil), r.failures...)
}

// Functions returns the function names of recorded failures in order.
func (r *Recorder) Functions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.failures))
	for _, f := range r.failures {
		names = append(names, f.Function)
	}
	return names
}
