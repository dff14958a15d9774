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

// Package responder runs reply generation for one stored message: retrieve
// knowledge, read thread history, classify, decide, compose, then either park
// the reply for human approval or hand it to the dispatcher.
package responder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/awesbecher/poweredbyapp-sub000/internal/compose"
	"github.com/awesbecher/poweredbyapp-sub000/internal/decision"
	"github.com/awesbecher/poweredbyapp-sub000/internal/logging"
	"github.com/awesbecher/poweredbyapp-sub000/internal/metrics"
	"github.com/awesbecher/poweredbyapp-sub000/internal/models"
	"github.com/awesbecher/poweredbyapp-sub000/internal/notify"
)

// Decision labels for the generated-replies metric.
const (
	DecisionAuto   = "auto"
	DecisionManual = "manual"
)

// ErrAgentMismatch is returned when the message belongs to another agent.
var ErrAgentMismatch = errors.New("message does not belong to agent")

// Store is the persistence the generator needs.
type Store interface {
	GetMessage(ctx context.Context, id string) (*models.InboundMessage, error)
	GetAgent(ctx context.Context, id string) (*models.Agent, error)
	SaveAnalysis(ctx context.Context, id string, analysis models.AutoReplyAnalysis) error
	SaveReply(ctx context.Context, id, reply string, expected, next models.Status) error
	RatingStats(ctx context.Context, agentID string) (models.RatingStats, error)
}

// Retriever returns knowledge relevant to a text. It never fails.
type Retriever interface {
	Retrieve(ctx context.Context, agentID, text string) []string
}

// Classifier analyses a message, falling back to a conservative default.
type Classifier interface {
	Classify(ctx context.Context, agentID, subject, body string) (models.AutoReplyAnalysis, bool)
}

// Composer writes the reply text.
type Composer interface {
	Compose(ctx context.Context, req compose.Request) (string, error)
}

// History returns prior replies to the same sender.
type History interface {
	Recent(ctx context.Context, agent *models.Agent, sender, excludeID string) ([]string, error)
}

// DispatchTrigger hands an auto-approved reply to the dispatcher.
type DispatchTrigger interface {
	TriggerDispatch(ctx context.Context, agentID, messageID, replyText string) error
}

// Config holds the configuration for the generator.
type Config struct {
	Store      Store
	Retriever  Retriever
	Classifier Classifier
	Composer   Composer
	History    History
	Dispatch   DispatchTrigger
	Reporter   notify.Reporter
}

// Generator produces replies.
type Generator struct {
	store      Store
	retriever  Retriever
	classifier Classifier
	composer   Composer
	history    History
	dispatch   DispatchTrigger
	reporter   notify.Reporter
}

// NewGenerator creates a reply generator.
func NewGenerator(cfg Config) *Generator {
	if cfg.Reporter == nil {
		cfg.Reporter = notify.Nop{}
	}
	return &Generator{
		store:      cfg.Store,
		retriever:  cfg.Retriever,
		classifier: cfg.Classifier,
		composer:   cfg.Composer,
		history:    cfg.History,
		dispatch:   cfg.Dispatch,
		reporter:   cfg.Reporter,
	}
}

// Generate produces a reply for a received message. Messages in any other
// status are skipped, so repeated triggers are harmless. Composition failure
// leaves the message received.
func (g *Generator) Generate(ctx context.Context, agentID, messageID string) error {
	msg, err := g.store.GetMessage(ctx, messageID)
	if err != nil {
		return g.fail(ctx, notify.FuncGenerate, agentID, messageID, fmt.Errorf("load message: %w", err))
	}
	if agentID == "" {
		agentID = msg.AgentID
	}
	if msg.AgentID != agentID {
		return g.fail(ctx, notify.FuncGenerate, agentID, messageID, ErrAgentMismatch)
	}
	if msg.Status != models.StatusReceived {
		slog.Info("skipping reply generation",
			logging.AgentID(agentID),
			logging.MessageID(messageID),
			logging.KeyStatus, msg.Status,
		)
		return nil
	}

	agent, err := g.store.GetAgent(ctx, agentID)
	if err != nil {
		return g.fail(ctx, notify.FuncGenerate, agentID, messageID, fmt.Errorf("load agent: %w", err))
	}

	knowledge := g.retriever.Retrieve(ctx, agentID, msg.Body)

	history, err := g.history.Recent(ctx, agent, msg.Sender, msg.ID)
	if err != nil {
		slog.Warn("thread history unavailable",
			logging.AgentID(agentID),
			logging.MessageID(messageID),
			logging.Err(err),
		)
		history = nil
	}

	analysis, fellBack := g.classifier.Classify(ctx, agentID, msg.Subject, msg.Body)

	auto := false
	if !fellBack {
		stats, err := g.store.RatingStats(ctx, agentID)
		if err != nil {
			// Without a track record the rule would treat the agent as cold
			// start, so hold the reply for review instead.
			slog.Warn("rating stats unavailable, routing to review",
				logging.AgentID(agentID),
				logging.Err(err),
			)
		} else {
			auto = decision.ShouldAutoReply(decision.Input{
				AutoReplyEnabled: agent.AutoReply,
				Analysis:         analysis,
				AverageRating:    stats.Average,
				RatingCount:      stats.Count,
			})
		}
	}

	if err := g.store.SaveAnalysis(ctx, msg.ID, analysis); err != nil {
		return g.fail(ctx, notify.FuncGenerate, agentID, messageID, fmt.Errorf("save analysis: %w", err))
	}

	reply, err := g.composer.Compose(ctx, compose.Request{
		Agent:     agent,
		Message:   msg,
		Intent:    analysis.Intent,
		Knowledge: knowledge,
		History:   history,
	})
	if err != nil {
		return g.fail(ctx, notify.FuncCompose, agentID, messageID, err)
	}

	if !auto {
		if err := g.store.SaveReply(ctx, msg.ID, reply, models.StatusReceived, models.StatusAwaitingApproval); err != nil {
			return g.fail(ctx, notify.FuncGenerate, agentID, messageID, fmt.Errorf("save reply: %w", err))
		}
		metrics.RepliesGenerated.WithLabelValues(DecisionManual).Inc()
		slog.Info("reply awaiting approval",
			logging.AgentID(agentID),
			logging.MessageID(messageID),
			logging.KeyIntent, analysis.Intent,
			"fallback", fellBack,
		)
		return nil
	}

	if err := g.store.SaveReply(ctx, msg.ID, reply, models.StatusReceived, models.StatusReceived); err != nil {
		return g.fail(ctx, notify.FuncGenerate, agentID, messageID, fmt.Errorf("save reply: %w", err))
	}
	metrics.RepliesGenerated.WithLabelValues(DecisionAuto).Inc()
	slog.Info("reply approved for automatic send",
		logging.AgentID(agentID),
		logging.MessageID(messageID),
		logging.KeyIntent, analysis.Intent,
		"confidence", analysis.Confidence,
	)

	if err := g.dispatch.TriggerDispatch(ctx, agentID, msg.ID, reply); err != nil {
		// The reply is stored; the message stays received for a human to send.
		g.reporter.Report(ctx, notify.Failure{
			Function: notify.FuncGenerate,
			Err:      fmt.Errorf("trigger dispatch: %w", err),
			AgentID:  agentID,
			Metadata: map[string]any{"message_id": messageID, "step": "trigger_dispatch"},
		})
	}
	return nil
}

func (g *Generator) fail(ctx context.Context, function, agentID, messageID string, err error) error {
	g.reporter.Report(ctx, notify.Failure{
		Function: function,
		Err:      err,
		AgentID:  agentID,
		Metadata: map[string]any{"message_id": messageID},
	})
	return fmt.Errorf("generate reply for message %s: %w", messageID, err)
}
