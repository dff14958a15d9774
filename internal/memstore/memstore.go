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

// Package memstore is an in-memory implementation of the datastore used by
// the pipeline. It backs tests and dry runs; production uses package store.
package memstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/awesbecher/poweredbyapp-sub000/internal/models"
	"github.com/awesbecher/poweredbyapp-sub000/internal/store"
)

// Store holds agents, messages, knowledge chunks and error records.
type Store struct {
	mu       sync.RWMutex
	agents   map[string]models.Agent
	messages map[string]models.InboundMessage
	order    []string
	chunks   []models.KnowledgeChunk
	errors   []models.ErrorRecord
	now      func() time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{
		agents:   make(map[string]models.Agent),
		messages: make(map[string]models.InboundMessage),
		now:      time.Now,
	}
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// UpsertAgent inserts or replaces an agent.
func (s *Store) UpsertAgent(_ context.Context, a models.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.agents[a.ID]; ok {
		a.CreatedAt = old.CreatedAt
	} else {
		a.CreatedAt = s.now()
	}
	a.UpdatedAt = s.now()
	s.agents[a.ID] = a
	return nil
}

// GetAgent returns a copy of the agent.
func (s *Store) GetAgent(_ context.Context, id string) (*models.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[id]
	if !ok {
		return nil, fmt.Errorf("agent %s: %w", id, store.ErrNotFound)
	}
	return &a, nil
}

// ListAgents returns every agent ordered by id.
func (s *Store) ListAgents(context.Context) ([]models.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Agent, 0, len(s.agents))
	for _, a := range s.agents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListAgentsWithCredentials returns agents that can authenticate.
func (s *Store) ListAgentsWithCredentials(ctx context.Context) ([]models.Agent, error) {
	all, _ := s.ListAgents(ctx)
	out := all[:0]
	for _, a := range all {
		if a.HasCredentials() {
			out = append(out, a)
		}
	}
	return out, nil
}

// UpdateAgentToken stores a refreshed token. An empty refreshToken keeps the
// stored one.
func (s *Store) UpdateAgentToken(_ context.Context, agentID, accessToken, refreshToken string, expiry time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[agentID]
	if !ok {
		return fmt.Errorf("agent %s: %w", agentID, store.ErrNotFound)
	}
	a.AccessToken = accessToken
	if refreshToken != "" {
		a.RefreshToken = refreshToken
	}
	a.TokenExpiry = expiry
	a.UpdatedAt = s.now()
	s.agents[agentID] = a
	return nil
}

// MessageExists reports whether the provider message is already stored.
func (s *Store) MessageExists(_ context.Context, agentID, providerMessageID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findLocked(agentID, providerMessageID) != "", nil
}

func (s *Store) findLocked(agentID, providerMessageID string) string {
	for _, id := range s.order {
		m := s.messages[id]
		if m.AgentID == agentID && m.ProviderMessageID == providerMessageID {
			return id
		}
	}
	return ""
}

// InsertMessage stores m with status received unless (agent, provider id)
// already exists, in which case it reports false.
func (s *Store) InsertMessage(_ context.Context, m *models.InboundMessage) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findLocked(m.AgentID, m.ProviderMessageID) != "" {
		return false, nil
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.Status = models.StatusReceived
	m.CreatedAt = s.now()
	m.UpdatedAt = m.CreatedAt
	s.messages[m.ID] = *m
	s.order = append(s.order, m.ID)
	return true, nil
}

// GetMessage returns a copy of the message.
func (s *Store) GetMessage(_ context.Context, id string) (*models.InboundMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, fmt.Errorf("message %s: %w", id, store.ErrNotFound)
	}
	return &m, nil
}

// Messages returns every stored message, oldest first.
func (s *Store) Messages() []models.InboundMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.InboundMessage, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.messages[id])
	}
	return out
}

// ListMessagesByStatus lists an agent's messages in a status, newest first.
// An empty agentID matches every agent.
func (s *Store) ListMessagesByStatus(_ context.Context, agentID string, status models.Status, limit int) ([]models.InboundMessage, error) {
	var out []models.InboundMessage
	all := s.Messages()
	for i := len(all) - 1; i >= 0; i-- {
		m := all[i]
		if m.Status != status || (agentID != "" && m.AgentID != agentID) {
			continue
		}
		out = append(out, m)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// SaveAnalysis stores the classifier output.
func (s *Store) SaveAnalysis(_ context.Context, id string, analysis models.AutoReplyAnalysis) error {
	return s.update(id, "", func(m *models.InboundMessage) {
		m.Analysis = &analysis
	})
}

// SaveReply stores reply text and moves the message from expected to next.
func (s *Store) SaveReply(_ context.Context, id, reply string, expected, next models.Status) error {
	if expected != next {
		if _, err := models.Transition(expected, next); err != nil {
			return err
		}
	}
	return s.update(id, expected, func(m *models.InboundMessage) {
		m.AIReply = &reply
		m.Status = next
	})
}

// UpdateStatus performs a guarded status transition.
func (s *Store) UpdateStatus(_ context.Context, id string, from, to models.Status) error {
	if _, err := models.Transition(from, to); err != nil {
		return err
	}
	return s.update(id, from, func(m *models.InboundMessage) {
		m.Status = to
	})
}

// MarkReplied records the sent reply and transitions to replied.
func (s *Store) MarkReplied(_ context.Context, id, reply string, from models.Status, at time.Time) error {
	if _, err := models.Transition(from, models.StatusReplied); err != nil {
		return err
	}
	return s.update(id, from, func(m *models.InboundMessage) {
		m.AIReply = &reply
		m.Status = models.StatusReplied
		m.RepliedAt = &at
	})
}

// SaveRating stores a human rating and optional feedback.
func (s *Store) SaveRating(_ context.Context, id string, rating int, feedback *string) error {
	return s.update(id, "", func(m *models.InboundMessage) {
		m.Rating = &rating
		m.Feedback = feedback
	})
}

// update applies fn to a message when its status equals expected. An empty
// expected skips the guard.
func (s *Store) update(id string, expected models.Status, fn func(*models.InboundMessage)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return fmt.Errorf("message %s: %w", id, store.ErrNotFound)
	}
	if expected != "" && m.Status != expected {
		return fmt.Errorf("message %s is %s, expected %s: %w", id, m.Status, expected, store.ErrStatusConflict)
	}
	fn(&m)
	m.UpdatedAt = s.now()
	s.messages[id] = m
	return nil
}

// RecentReplies returns up to limit prior replies to sender, oldest first.
func (s *Store) RecentReplies(_ context.Context, agentID, sender, excludeID string, limit int) ([]string, error) {
	var sent []models.InboundMessage
	for _, m := range s.Messages() {
		if m.AgentID == agentID && m.Sender == sender && m.ID != excludeID &&
			m.Status == models.StatusReplied && m.AIReply != nil {
			sent = append(sent, m)
		}
	}
	sort.SliceStable(sent, func(i, j int) bool { return sentAt(sent[i]).Before(sentAt(sent[j])) })
	if limit > 0 && len(sent) > limit {
		sent = sent[len(sent)-limit:]
	}
	out := make([]string, 0, len(sent))
	for _, m := range sent {
		out = append(out, *m.AIReply)
	}
	return out, nil
}

func sentAt(m models.InboundMessage) time.Time {
	if m.RepliedAt != nil {
		return *m.RepliedAt
	}
	return m.UpdatedAt
}

// RatingStats aggregates human ratings for an agent.
func (s *Store) RatingStats(_ context.Context, agentID string) (models.RatingStats, error) {
	var stats models.RatingStats
	sum := 0
	for _, m := range s.Messages() {
		if m.AgentID == agentID && m.Rating != nil {
			sum += *m.Rating
			stats.Count++
		}
	}
	if stats.Count > 0 {
		stats.Average = float64(sum) / float64(stats.Count)
	}
	return stats, nil
}

// InsertKnowledgeChunk stores a chunk, replacing one with the same
// (agent, document, index).
func (s *Store) InsertKnowledgeChunk(_ context.Context, c models.KnowledgeChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	for i, old := range s.chunks {
		if old.AgentID == c.AgentID && old.Document == c.Document && old.ChunkIndex == c.ChunkIndex {
			s.chunks[i] = c
			return nil
		}
	}
	s.chunks = append(s.chunks, c)
	return nil
}

// DeleteKnowledgeChunksFrom removes the chunks of document at index from and
// above.
func (s *Store) DeleteKnowledgeChunksFrom(_ context.Context, agentID, document string, from int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.chunks[:0]
	for _, c := range s.chunks {
		if c.AgentID == agentID && c.Document == document && c.ChunkIndex >= from {
			continue
		}
		kept = append(kept, c)
	}
	s.chunks = kept
	return nil
}

// SearchKnowledge ranks an agent's chunks by cosine similarity and returns
// those strictly above threshold, most similar first.
func (s *Store) SearchKnowledge(_ context.Context, agentID string, embedding []float32, threshold float64, limit int) ([]models.KnowledgeChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.KnowledgeChunk
	for _, c := range s.chunks {
		if c.AgentID != agentID {
			continue
		}
		c.Similarity = cosine(c.Embedding, embedding)
		if c.Similarity > threshold {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// InsertError appends an error record.
func (s *Store) InsertError(_ context.Context, r models.ErrorRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	s.errors = append(s.errors, r)
	return nil
}

// RecentErrors returns up to limit error records, newest first.
func (s *Store) RecentErrors(_ context.Context, limit int) ([]models.ErrorRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ErrorRecord, 0, len(s.errors))
	for i := len(s.errors) - 1; i >= 0; i-- {
		out = append(out, s.errors[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Seed stores m as-is, assigning an id when empty. It returns the id.
func (s *Store) Seed(m models.InboundMessage) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Status == "" {
		m.Status = models.StatusReceived
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
		m.UpdatedAt = m.CreatedAt
	}
	if _, ok := s.messages[m.ID]; !ok {
		s.order = append(s.order, m.ID)
	}
	s.messages[m.ID] = m
	return m.ID
}

// Claims is an in-memory claim set without expiry.
type Claims struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewClaims creates an empty claim set.
func NewClaims() *Claims {
	return &Claims{held: make(map[string]bool)}
}

// IsNew claims key and reports whether it was free.
func (c *Claims) IsNew(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.held[key] {
		return false, nil
	}
	c.held[key] = true
	return true, nil
}

// Release frees key.
func (c *Claims) Release(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.held, key)
	c.mu.Unlock()
	return nil
}

// Held reports whether key is currently claimed.
func (c *Claims) Held(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.held[key]
}
