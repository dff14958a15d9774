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

// Package decision classifies inbound mail and decides whether a generated
// reply may be sent automatically.
package decision

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/awesbecher/poweredbyapp-sub000/internal/llm"
	"github.com/awesbecher/poweredbyapp-sub000/internal/logging"
	"github.com/awesbecher/poweredbyapp-sub000/internal/models"
	"github.com/awesbecher/poweredbyapp-sub000/internal/notify"
)

const classifySystemPrompt = `You triage inbound business email for an automated reply assistant.
Classify the email by calling the classify_email function.
- intent: the sender's main purpose.
- complexity: 1 (trivial, answerable from general knowledge) to 10 (needs investigation or judgement).
- confidence: 0-100, how confident you are that a correct reply can be written without a human.
- should_auto_reply: true only when a reply can safely be sent without human review.
- reasoning: one or two sentences explaining the classification.`

// ClassifyFunction is the schema the completion service must fill.
var ClassifyFunction = llm.Function{
	Name:        "classify_email",
	Description: "Record the classification of an inbound email.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"intent": map[string]any{
				"type": "string",
				"enum": intentNames(),
			},
			"complexity": map[string]any{
				"type":    "integer",
				"minimum": 1,
				"maximum": 10,
			},
			"confidence": map[string]any{
				"type":    "integer",
				"minimum": 0,
				"maximum": 100,
			},
			"should_auto_reply": map[string]any{"type": "boolean"},
			"reasoning":         map[string]any{"type": "string"},
		},
		"required":             []string{"intent", "complexity", "confidence", "should_auto_reply", "reasoning"},
		"additionalProperties": false,
	},
}

func intentNames() []string {
	names := make([]string, len(models.Intents))
	for i, in := range models.Intents {
		names[i] = string(in)
	}
	return names
}

// StructuredCompleter is the completion capability the engine needs.
type StructuredCompleter interface {
	CompleteStructured(ctx context.Context, system, user string, fn llm.Function) (string, error)
}

// Engine classifies messages.
type Engine struct {
	completer StructuredCompleter
	reporter  notify.Reporter
}

// NewEngine creates a classification engine.
func NewEngine(completer StructuredCompleter, reporter notify.Reporter) *Engine {
	if reporter == nil {
		reporter = notify.Nop{}
	}
	return &Engine{completer: completer, reporter: reporter}
}

// Classify returns the model's analysis of the message. On any failure,
// including malformed or out-of-range output, the failure is reported and
// FallbackAnalysis is returned with fellBack set.
func (e *Engine) Classify(ctx context.Context, agentID, subject, body string) (analysis models.AutoReplyAnalysis, fellBack bool) {
	a, err := e.classify(ctx, subject, body)
	if err != nil {
		e.reporter.Report(ctx, notify.Failure{
			Function: notify.FuncClassify,
			Err:      err,
			AgentID:  agentID,
			Metadata: map[string]any{"subject": subject},
		})
		return FallbackAnalysis(), true
	}

	slog.Debug("message classified",
		logging.AgentID(agentID),
		logging.KeyIntent, a.Intent,
		"complexity", a.Complexity,
		"confidence", a.Confidence,
	)
	return a, false
}

func (e *Engine) classify(ctx context.Context, subject, body string) (models.AutoReplyAnalysis, error) {
	var user strings.Builder
	if subject != "" {
		fmt.Fprintf(&user, "Subject: %s\n\n", subject)
	}
	user.WriteString(body)

	args, err := e.completer.CompleteStructured(ctx, classifySystemPrompt, user.String(), ClassifyFunction)
	if err != nil {
		return models.AutoReplyAnalysis{}, fmt.Errorf("classify message: %w", err)
	}

	var a models.AutoReplyAnalysis
	if err := json.Unmarshal([]byte(args), &a); err != nil {
		return models.AutoReplyAnalysis{}, fmt.Errorf("decode classification: %w", err)
	}
	if err := a.Validate(); err != nil {
		return models.AutoReplyAnalysis{}, fmt.Errorf("invalid classification: %w", err)
	}
	return a, nil
}
