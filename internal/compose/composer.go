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

// Package compose builds the grounded system prompt for a reply and asks the
// completion service to write it.
package compose

import (
	"context"
	"fmt"
	"strings"

	"github.com/awesbecher/poweredbyapp-sub000/internal/models"
)

// HistoryLimit is how many prior replies to the same sender are included.
const HistoryLimit = 3

// Completer is the free-form completion capability.
type Completer interface {
	Complete(ctx context.Context, system, user string, temperature float64) (string, error)
}

// ReplyStore lists prior replies, oldest first.
type ReplyStore interface {
	RecentReplies(ctx context.Context, agentID, sender, excludeID string, limit int) ([]string, error)
}

// HistoryReader loads prior replies to the same counterparty.
type HistoryReader struct {
	store ReplyStore
}

// NewHistoryReader creates a history reader.
func NewHistoryReader(store ReplyStore) *HistoryReader {
	return &HistoryReader{store: store}
}

// Recent returns up to three prior replies to sender rendered as
// "<company>: <reply>", oldest first.
func (h *HistoryReader) Recent(ctx context.Context, agent *models.Agent, sender, excludeID string) ([]string, error) {
	replies, err := h.store.RecentReplies(ctx, agent.ID, sender, excludeID, HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("load thread history: %w", err)
	}
	out := make([]string, 0, len(replies))
	for _, r := range replies {
		out = append(out, fmt.Sprintf("%s: %s", agent.CompanyName, r))
	}
	return out, nil
}

// Request is one reply to compose.
type Request struct {
	Agent     *models.Agent
	Message   *models.InboundMessage
	Intent    models.Intent
	Knowledge []string
	History   []string
}

// Composer writes replies.
type Composer struct {
	completer   Completer
	temperature float64
}

// NewComposer creates a composer using the given sampling temperature.
func NewComposer(completer Completer, temperature float64) *Composer {
	return &Composer{completer: completer, temperature: temperature}
}

// Compose returns the reply text for req.
func (c *Composer) Compose(ctx context.Context, req Request) (string, error) {
	reply, err := c.completer.Complete(ctx, SystemPrompt(req), req.Message.Body, c.temperature)
	if err != nil {
		return "", fmt.Errorf("compose reply: %w", err)
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", fmt.Errorf("compose reply: empty completion")
	}
	return reply, nil
}

// SystemPrompt assembles agent identity, tone guidance, knowledge and
// thread history into one system prompt.
func SystemPrompt(req Request) string {
	a := req.Agent
	var b strings.Builder

	fmt.Fprintf(&b, "You are the email assistant for %s, replying from %s.\n", a.CompanyName, a.Email)
	if p := strings.TrimSpace(a.Purpose); p != "" {
		fmt.Fprintf(&b, "Purpose: %s\n", p)
	}
	if t := strings.TrimSpace(a.Tone); t != "" {
		fmt.Fprintf(&b, "Preferred tone: %s\n", t)
	}

	if tones := instructionsFor(a, req.Intent); len(tones) > 0 {
		b.WriteString("\nTone guidance:\n")
		for _, t := range tones {
			fmt.Fprintf(&b, "- %s\n", t)
		}
	}

	b.WriteString("\nRelevant knowledge:\n")
	if len(req.Knowledge) == 0 {
		b.WriteString("No knowledge base entries matched this email. Do not invent facts; offer to follow up instead.\n")
	} else {
		for _, k := range req.Knowledge {
			fmt.Fprintf(&b, "---\n%s\n", strings.TrimSpace(k))
		}
		b.WriteString("---\n")
	}

	if len(req.History) > 0 {
		b.WriteString("\nPrevious replies to this sender:\n")
		for _, h := range req.History {
			fmt.Fprintf(&b, "%s\n", h)
		}
	}

	if req.Message.Subject != "" {
		fmt.Fprintf(&b, "\nThe email's subject is: %s\n", req.Message.Subject)
	}
	b.WriteString("\nWrite only the body of the reply. Do not include a subject line.")
	return b.String()
}
