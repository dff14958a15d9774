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

// Package poller runs the inbox polling cycle: for every agent with
// credentials it lists unread mail, stores messages it has not seen before
// and triggers reply generation for each one.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/awesbecher/poweredbyapp-sub000/internal/dedup"
	"github.com/awesbecher/poweredbyapp-sub000/internal/logging"
	"github.com/awesbecher/poweredbyapp-sub000/internal/mailbox"
	"github.com/awesbecher/poweredbyapp-sub000/internal/metrics"
	"github.com/awesbecher/poweredbyapp-sub000/internal/models"
	"github.com/awesbecher/poweredbyapp-sub000/internal/notify"
	"github.com/awesbecher/poweredbyapp-sub000/internal/token"
)

// DefaultMaxUnread caps how many unread messages are listed per agent per cycle.
const DefaultMaxUnread = 10

// Store is the persistence the poller needs.
type Store interface {
	ListAgentsWithCredentials(ctx context.Context) ([]models.Agent, error)
	MessageExists(ctx context.Context, agentID, providerMessageID string) (bool, error)
	InsertMessage(ctx context.Context, m *models.InboundMessage) (bool, error)
}

// TokenSource yields a valid access token for an agent.
type TokenSource interface {
	AccessToken(ctx context.Context, agent *models.Agent) (string, error)
}

// Claimer claims a key once.
type Claimer interface {
	IsNew(ctx context.Context, key string) (bool, error)
}

// GenerateTrigger requests reply generation for a stored message.
type GenerateTrigger interface {
	TriggerGenerate(ctx context.Context, agentID, messageID string) error
}

// Config holds the configuration for the poller.
type Config struct {
	Store     Store
	Tokens    TokenSource
	Connector mailbox.Connector
	Trigger   GenerateTrigger
	// Claims is optional and guards against triggering a message twice when
	// poll cycles overlap.
	Claims   Claimer
	Reporter notify.Reporter

	Interval  time.Duration
	MaxUnread int64
	// Concurrency is how many agents are polled at once. 1 polls sequentially.
	Concurrency int
	// Now overrides the clock in tests.
	Now func() time.Time
}

// CycleResult summarises one polling cycle.
type CycleResult struct {
	Agents       []AgentResult
	TotalNew     int
	TotalSkipped int
	TotalErrors  int
	Elapsed      time.Duration
}

// AgentResult tracks one agent's progress within a cycle.
type AgentResult struct {
	AgentID string
	Listed  int
	New     int
	Skipped int
	Errors  int
}

// Poller polls agent inboxes.
type Poller struct {
	store       Store
	tokens      TokenSource
	connector   mailbox.Connector
	trigger     GenerateTrigger
	claims      Claimer
	reporter    notify.Reporter
	interval    time.Duration
	maxUnread   int64
	concurrency int
	now         func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a poller.
func New(cfg Config) *Poller {
	if cfg.Reporter == nil {
		cfg.Reporter = notify.Nop{}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.MaxUnread <= 0 {
		cfg.MaxUnread = DefaultMaxUnread
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Poller{
		store:       cfg.Store,
		tokens:      cfg.Tokens,
		connector:   cfg.Connector,
		trigger:     cfg.Trigger,
		claims:      cfg.Claims,
		reporter:    cfg.Reporter,
		interval:    cfg.Interval,
		maxUnread:   cfg.MaxUnread,
		concurrency: cfg.Concurrency,
		now:         cfg.Now,
	}
}

// Start polls once immediately and then at every interval until Stop is
// called or ctx is cancelled.
func (p *Poller) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.wg.Add(1)

	go func() {
		defer p.wg.Done()

		p.runCycle(loopCtx)

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				p.runCycle(loopCtx)
			}
		}
	}()

	slog.Info("inbox poller started", "interval", p.interval, "max_unread", p.maxUnread)
}

// Stop shuts down the polling loop and waits for a running cycle to end.
func (p *Poller) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	slog.Info("inbox poller stopped")
}

func (p *Poller) runCycle(ctx context.Context) {
	if _, err := p.PollAll(ctx); err != nil {
		slog.Error("poll cycle failed", logging.Err(err))
	}
}

// PollAll runs one polling cycle over every agent with credentials. Agent
// and message failures are reported and counted; only a failure to list
// agents aborts the cycle.
func (p *Poller) PollAll(ctx context.Context) (*CycleResult, error) {
	start := p.now()

	agents, err := p.store.ListAgentsWithCredentials(ctx)
	if err != nil {
		err = fmt.Errorf("list agents: %w", err)
		p.reporter.Report(ctx, notify.Failure{Function: notify.FuncPollInbox, Err: err})
		return nil, err
	}

	results := make([]AgentResult, len(agents))
	if p.concurrency == 1 {
		for i := range agents {
			results[i] = p.PollAgent(ctx, &agents[i])
		}
	} else {
		g := new(errgroup.Group)
		g.SetLimit(p.concurrency)
		for i := range agents {
			g.Go(func() error {
				results[i] = p.PollAgent(ctx, &agents[i])
				return nil
			})
		}
		_ = g.Wait()
	}

	result := &CycleResult{Agents: results}
	for _, r := range results {
		result.TotalNew += r.New
		result.TotalSkipped += r.Skipped
		result.TotalErrors += r.Errors
	}
	result.Elapsed = p.now().Sub(start)

	slog.Info("poll cycle complete",
		"agents", len(agents),
		"total_new", result.TotalNew,
		"total_skipped", result.TotalSkipped,
		"total_errors", result.TotalErrors,
		"elapsed", result.Elapsed,
	)
	return result, nil
}

// PollAgent processes one agent's unread mail. Each message is handled in
// isolation; a failure on one does not stop the rest.
func (p *Poller) PollAgent(ctx context.Context, agent *models.Agent) AgentResult {
	ar := AgentResult{AgentID: agent.ID}

	accessToken, err := p.tokens.AccessToken(ctx, agent)
	if err != nil {
		fn := notify.FuncPollInbox
		if errors.Is(err, token.ErrCredentialRefreshFailed) {
			fn = notify.FuncTokenRefresh
		}
		p.reportAgent(ctx, fn, agent.ID, err, nil)
		ar.Errors++
		return ar
	}

	provider, err := p.connector.Connect(ctx, accessToken)
	if err != nil {
		p.reportAgent(ctx, notify.FuncPollInbox, agent.ID, fmt.Errorf("connect mailbox: %w", err), nil)
		ar.Errors++
		return ar
	}

	summaries, err := provider.ListUnread(ctx, p.maxUnread)
	if err != nil {
		p.reportAgent(ctx, notify.FuncPollInbox, agent.ID, fmt.Errorf("list unread: %w", err), nil)
		ar.Errors++
		return ar
	}
	ar.Listed = len(summaries)

	for _, s := range summaries {
		if ctx.Err() != nil {
			break
		}
		switch p.processMessage(ctx, agent, provider, s) {
		case outcomeNew:
			ar.New++
			metrics.MessagesPolled.WithLabelValues(metrics.ResultSuccess).Inc()
		case outcomeDuplicate:
			ar.Skipped++
			metrics.MessagesPolled.WithLabelValues(metrics.ResultDuplicate).Inc()
		case outcomeError:
			ar.Errors++
			metrics.MessagesPolled.WithLabelValues(metrics.ResultError).Inc()
		}
	}

	slog.Info("agent inbox polled",
		logging.AgentID(agent.ID),
		"listed", ar.Listed,
		"new", ar.New,
		"skipped", ar.Skipped,
		"errors", ar.Errors,
	)
	return ar
}

type outcome int

const (
	outcomeNew outcome = iota
	outcomeDuplicate
	outcomeError
)

func (p *Poller) processMessage(ctx context.Context, agent *models.Agent, provider mailbox.Provider, s mailbox.Summary) outcome {
	meta := map[string]any{logging.KeyProviderMessageID: s.ID}

	exists, err := p.store.MessageExists(ctx, agent.ID, s.ID)
	if err != nil {
		p.reportAgent(ctx, notify.FuncPollInbox, agent.ID, fmt.Errorf("check duplicate: %w", err), meta)
		return outcomeError
	}
	if exists {
		return outcomeDuplicate
	}

	full, err := provider.GetMessage(ctx, s.ID)
	if err != nil {
		p.reportAgent(ctx, notify.FuncPollInbox, agent.ID, fmt.Errorf("fetch message: %w", err), meta)
		return outcomeError
	}

	msg := &models.InboundMessage{
		AgentID:           agent.ID,
		ProviderMessageID: s.ID,
		ThreadID:          full.ThreadID,
		InternetMessageID: full.InternetMessageID,
		Sender:            mailbox.ExtractSender(full.From),
		Subject:           full.Subject,
		Body:              full.Body,
		ReceivedAt:        full.ReceivedAt,
	}
	if msg.ThreadID == "" {
		msg.ThreadID = s.ThreadID
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = p.now().UTC()
	}

	inserted, err := p.store.InsertMessage(ctx, msg)
	if err != nil {
		p.reportAgent(ctx, notify.FuncPollInbox, agent.ID, fmt.Errorf("store message: %w", err), meta)
		return outcomeError
	}
	if !inserted {
		// Another writer stored it between the check and the insert.
		return outcomeDuplicate
	}

	log := slog.With(
		logging.AgentID(agent.ID),
		logging.MessageID(msg.ID),
		logging.KeyProviderMessageID, s.ID,
	)

	if err := provider.MarkRead(ctx, s.ID); err != nil {
		p.reportAgent(ctx, notify.FuncPollInbox, agent.ID, fmt.Errorf("mark read: %w", err), stepMeta(meta, msg.ID, "mark_read"))
	}

	if p.claims != nil {
		first, err := p.claims.IsNew(ctx, dedup.GenerateKey(agent.ID, s.ID))
		if err != nil {
			log.Warn("generate claim check failed", logging.Err(err))
		} else if !first {
			log.Info("generation already triggered")
			return outcomeNew
		}
	}

	if err := p.trigger.TriggerGenerate(ctx, agent.ID, msg.ID); err != nil {
		p.reportAgent(ctx, notify.FuncPollInbox, agent.ID, fmt.Errorf("trigger generation: %w", err), stepMeta(meta, msg.ID, "trigger_generate"))
	}

	log.Info("new message stored", logging.Sender(msg.Sender), "subject_len", len(msg.Subject))
	return outcomeNew
}

// stepMeta adds the stored message id and the failed step to meta. The
// message itself still counts as new.
func stepMeta(meta map[string]any, messageID, step string) map[string]any {
	out := make(map[string]any, len(meta)+2)
	for k, v := range meta {
		out[k] = v
	}
	out["message_id"] = messageID
	out["step"] = step
	return out
}

func (p *Poller) reportAgent(ctx context.Context, function, agentID string, err error, meta map[string]any) {
	p.reporter.Report(ctx, notify.Failure{
		Function: function,
		Err:      err,
		AgentID:  agentID,
		Metadata: meta,
	})
}
