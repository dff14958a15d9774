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

// Package models defines the data structures shared across the reply pipeline.
package models

import "time"

// Agent is one business email identity with its own tone, purpose,
// knowledge base and mailbox credentials.
type Agent struct {
	ID           string
	CompanyName  string
	Email        string
	Purpose      string
	Tone         string
	AutoReply    bool
	AccessToken  string
	RefreshToken string
	TokenExpiry  time.Time

	// PromptTemplates optionally replaces the default tone instruction for
	// a given intent.
	PromptTemplates map[Intent]string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasCredentials reports whether the agent can authenticate provider calls.
func (a *Agent) HasCredentials() bool {
	return a.RefreshToken != "" || a.AccessToken != ""
}

// InboundMessage is one received email, keyed by (AgentID, ProviderMessageID).
type InboundMessage struct {
	ID                string
	AgentID           string
	ProviderMessageID string
	ThreadID          string
	// InternetMessageID is the RFC 5322 Message-ID header of the original
	// email, used for In-Reply-To / References.
	InternetMessageID string
	Sender            string
	Subject           string
	Body              string
	ReceivedAt        time.Time
	Status            Status
	AIReply           *string
	Analysis          *AutoReplyAnalysis
	Rating            *int
	Feedback          *string
	RepliedAt         *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ReplyText returns the stored reply text or "" when none was composed yet.
func (m *InboundMessage) ReplyText() string {
	if m.AIReply == nil {
		return ""
	}
	return *m.AIReply
}

// KnowledgeChunk is one embedded fragment of an agent's knowledge corpus.
type KnowledgeChunk struct {
	ID         string
	AgentID    string
	Document   string
	ChunkIndex int
	Content    string
	Embedding  []float32
	Similarity float64
}

// ErrorRecord is an append-only failure log entry.
type ErrorRecord struct {
	ID        string
	Function  string
	Message   string
	AgentID   *string
	Metadata  map[string]any
	CreatedAt time.Time
}

// RatingStats summarises human ratings of an agent's past replies.
type RatingStats struct {
	Average float64
	Count   int
}
