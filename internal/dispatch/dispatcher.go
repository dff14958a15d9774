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

// Package dispatch sends approved or auto-approved replies into the original
// conversation thread and records the outcome.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/awesbecher/poweredbyapp-sub000/internal/dedup"
	"github.com/awesbecher/poweredbyapp-sub000/internal/logging"
	"github.com/awesbecher/poweredbyapp-sub000/internal/mailbox"
	"github.com/awesbecher/poweredbyapp-sub000/internal/metrics"
	"github.com/awesbecher/poweredbyapp-sub000/internal/models"
	"github.com/awesbecher/poweredbyapp-sub000/internal/notify"
)

var (
	// ErrNoReplyText is returned when there is nothing to send.
	ErrNoReplyText = errors.New("no reply text")

	// ErrInFlight is returned when another dispatch holds the message.
	ErrInFlight = errors.New("dispatch already in flight")

	// ErrAgentMismatch is returned when the message belongs to another agent.
	ErrAgentMismatch = errors.New("message does not belong to agent")
)

// Store is the persistence the dispatcher needs.
type Store interface {
	GetMessage(ctx context.Context, id string) (*models.InboundMessage, error)
	GetAgent(ctx context.Context, id string) (*models.Agent, error)
	MarkReplied(ctx context.Context, id, reply string, from models.Status, at time.Time) error
}

// TokenSource yields a valid access token for an agent.
type TokenSource interface {
	AccessToken(ctx context.Context, agent *models.Agent) (string, error)
}

// Claimer holds a short-lived exclusive claim on a key.
type Claimer interface {
	IsNew(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// Config holds the configuration for the dispatcher.
type Config struct {
	Store     Store
	Tokens    TokenSource
	Connector mailbox.Connector
	// Claims is optional. Without it concurrent sends are not guarded.
	Claims   Claimer
	Reporter notify.Reporter
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Dispatcher sends replies.
type Dispatcher struct {
	store     Store
	tokens    TokenSource
	connector mailbox.Connector
	claims    Claimer
	reporter  notify.Reporter
	now       func() time.Time
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(cfg Config) *Dispatcher {
	if cfg.Reporter == nil {
		cfg.Reporter = notify.Nop{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Dispatcher{
		store:     cfg.Store,
		tokens:    cfg.Tokens,
		connector: cfg.Connector,
		claims:    cfg.Claims,
		reporter:  cfg.Reporter,
		now:       cfg.Now,
	}
}

// Dispatch sends the reply for a message and marks it replied. A non-empty
// text replaces the stored reply. agentID may be empty; when set it must
// match the message owner. On failure the message keeps its status and the
// failure is reported.
func (d *Dispatcher) Dispatch(ctx context.Context, agentID, messageID, text string) error {
	err := d.dispatch(ctx, agentID, messageID, text)
	if err == nil {
		metrics.RepliesDispatched.WithLabelValues(metrics.ResultSuccess).Inc()
		return nil
	}

	if errors.Is(err, ErrInFlight) {
		metrics.RepliesDispatched.WithLabelValues(metrics.ResultDuplicate).Inc()
		return err
	}
	metrics.RepliesDispatched.WithLabelValues(metrics.ResultError).Inc()
	d.reporter.Report(ctx, notify.Failure{
		Function: notify.FuncDispatch,
		Err:      err,
		AgentID:  agentID,
		Metadata: map[string]any{"message_id": messageID},
	})
	return err
}

func (d *Dispatcher) dispatch(ctx context.Context, agentID, messageID, text string) error {
	msg, err := d.store.GetMessage(ctx, messageID)
	if err != nil {
		return fmt.Errorf("load message %s: %w", messageID, err)
	}
	if agentID != "" && msg.AgentID != agentID {
		return fmt.Errorf("message %s: %w", messageID, ErrAgentMismatch)
	}
	if _, err := models.Transition(msg.Status, models.StatusReplied); err != nil {
		return fmt.Errorf("message %s: %w", messageID, err)
	}

	body := strings.TrimSpace(text)
	if body == "" {
		body = strings.TrimSpace(msg.ReplyText())
	}
	if body == "" {
		return fmt.Errorf("message %s: %w", messageID, ErrNoReplyText)
	}

	key := dedup.DispatchKey(messageID)
	if d.claims != nil {
		ok, err := d.claims.IsNew(ctx, key)
		if err != nil {
			return fmt.Errorf("claim message %s: %w", messageID, err)
		}
		if !ok {
			return fmt.Errorf("message %s: %w", messageID, ErrInFlight)
		}
	}

	sent, err := d.send(ctx, msg, body)
	if err != nil {
		d.release(ctx, key)
		return err
	}

	// The email is out; keep the claim even if recording fails so a retry
	// cannot send it again before the claim lapses.
	if err := d.store.MarkReplied(ctx, msg.ID, body, msg.Status, d.now()); err != nil {
		return fmt.Errorf("record reply for message %s (sent as %s): %w", messageID, sent, err)
	}

	slog.Info("reply dispatched",
		logging.AgentID(msg.AgentID),
		logging.MessageID(msg.ID),
		"thread_id", msg.ThreadID,
		"sent_id", sent,
	)
	return nil
}

func (d *Dispatcher) send(ctx context.Context, msg *models.InboundMessage, body string) (string, error) {
	agent, err := d.store.GetAgent(ctx, msg.AgentID)
	if err != nil {
		return "", fmt.Errorf("load agent %s: %w", msg.AgentID, err)
	}
	token, err := d.tokens.AccessToken(ctx, agent)
	if err != nil {
		return "", err
	}
	provider, err := d.connector.Connect(ctx, token)
	if err != nil {
		return "", fmt.Errorf("connect mailbox for agent %s: %w", agent.ID, err)
	}

	raw, err := BuildReply(Reply{
		FromName:    agent.CompanyName,
		FromAddress: agent.Email,
		To:          msg.Sender,
		Subject:     msg.Subject,
		InReplyTo:   msg.InternetMessageID,
		Body:        body,
		Date:        d.now(),
	})
	if err != nil {
		return "", fmt.Errorf("build reply for message %s: %w", msg.ID, err)
	}

	sent, err := provider.SendReply(ctx, msg.ThreadID, raw)
	if err != nil {
		return "", fmt.Errorf("send reply for message %s: %w", msg.ID, err)
	}
	return sent, nil
}

func (d *Dispatcher) release(ctx context.Context, key string) {
	if d.claims == nil {
		return
	}
	if err := d.claims.Release(context.WithoutCancel(ctx), key); err != nil {
		slog.Warn("failed to release dispatch claim", "key", key, logging.Err(err))
	}
}
