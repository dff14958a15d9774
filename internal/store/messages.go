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

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/awesbecher/poweredbyapp-sub000/internal/models"
)

const messageColumns = `
	id, agent_id, provider_message_id, thread_id, internet_message_id,
	sender, subject, body, received_at, status, ai_reply, analysis,
	rating, feedback, replied_at, created_at, updated_at`

// MessageExists reports whether (agentID, providerMessageID) is already stored.
func (s *Store) MessageExists(ctx context.Context, agentID, providerMessageID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM inbound_messages
			WHERE agent_id = $1 AND provider_message_id = $2
		)
	`, agentID, providerMessageID).Scan(&exists)
	return exists, err
}

// InsertMessage stores a newly seen message in status received. It returns
// false without error when the (agent, provider message) pair already exists.
// On insert m.ID and m.Status are populated.
func (s *Store) InsertMessage(ctx context.Context, m *models.InboundMessage) (bool, error) {
	id := m.ID
	if id == "" {
		id = uuid.NewString()
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO inbound_messages
			(id, agent_id, provider_message_id, thread_id, internet_message_id,
			 sender, subject, body, received_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (agent_id, provider_message_id) DO NOTHING
		RETURNING id
	`, id, m.AgentID, m.ProviderMessageID, m.ThreadID, m.InternetMessageID,
		m.Sender, m.Subject, m.Body, m.ReceivedAt, models.StatusReceived).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	m.ID = id
	m.Status = models.StatusReceived
	return true, nil
}

// GetMessage retrieves a stored message by id.
func (s *Store) GetMessage(ctx context.Context, id string) (*models.InboundMessage, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM inbound_messages WHERE id = $1`, id)
	m, err := scanMessage(row)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	return m, nil
}

// ListMessagesByStatus returns an agent's messages in the given status,
// newest first. An empty agentID lists across all agents and a zero limit
// lists every match.
func (s *Store) ListMessagesByStatus(ctx context.Context, agentID string, status models.Status, limit int) ([]models.InboundMessage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+messageColumns+`
		FROM inbound_messages
		WHERE status = $1 AND ($2 = '' OR agent_id = $2)
		ORDER BY received_at DESC
		LIMIT NULLIF($3, 0)
	`, status, agentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMessages(rows)
}

// SaveAnalysis stores the classification result on a message.
func (s *Store) SaveAnalysis(ctx context.Context, id string, analysis models.AutoReplyAnalysis) error {
	data, err := json.Marshal(analysis)
	if err != nil {
		return fmt.Errorf("encode analysis: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE inbound_messages
		SET analysis = $2, updated_at = NOW()
		WHERE id = $1
	`, id, data)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	return nil
}

// SaveReply stores reply text and moves the message from expected to next.
// expected == next stores the text without a status change.
func (s *Store) SaveReply(ctx context.Context, id, reply string, expected, next models.Status) error {
	if expected != next {
		if _, err := models.Transition(expected, next); err != nil {
			return err
		}
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE inbound_messages
		SET ai_reply = $2, status = $4, updated_at = NOW()
		WHERE id = $1 AND status = $3
	`, id, reply, expected, next)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return s.missOrConflict(ctx, id, expected)
	}
	return nil
}

// UpdateStatus performs a guarded status transition.
func (s *Store) UpdateStatus(ctx context.Context, id string, from, to models.Status) error {
	if _, err := models.Transition(from, to); err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE inbound_messages
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, id, from, to)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return s.missOrConflict(ctx, id, from)
	}
	return nil
}

// MarkReplied records the sent reply text and transitions the message to replied.
func (s *Store) MarkReplied(ctx context.Context, id, reply string, from models.Status, at time.Time) error {
	if _, err := models.Transition(from, models.StatusReplied); err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE inbound_messages
		SET ai_reply = $2, status = $4, replied_at = $5, updated_at = NOW()
		WHERE id = $1 AND status = $3
	`, id, reply, from, models.StatusReplied, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return s.missOrConflict(ctx, id, from)
	}
	return nil
}

// SaveRating stores a human rating (1-5) and optional feedback.
func (s *Store) SaveRating(ctx context.Context, id string, rating int, feedback *string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE inbound_messages
		SET rating = $2, feedback = $3, updated_at = NOW()
		WHERE id = $1
	`, id, rating, feedback)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	return nil
}

// RecentReplies returns up to limit prior reply texts sent by an agent to
// sender, oldest first, excluding excludeID.
func (s *Store) RecentReplies(ctx context.Context, agentID, sender, excludeID string, limit int) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT ai_reply FROM (
			SELECT ai_reply, COALESCE(replied_at, updated_at) AS sent_at
			FROM inbound_messages
			WHERE agent_id = $1 AND sender = $2 AND id <> $3
			  AND status = $4 AND ai_reply IS NOT NULL
			ORDER BY sent_at DESC
			LIMIT $5
		) recent
		ORDER BY sent_at ASC
	`, agentID, sender, excludeID, models.StatusReplied, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var replies []string
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			return nil, err
		}
		replies = append(replies, r)
	}
	return replies, rows.Err()
}

// RatingStats aggregates human ratings across an agent's messages.
func (s *Store) RatingStats(ctx context.Context, agentID string) (models.RatingStats, error) {
	var stats models.RatingStats
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(AVG(rating), 0)::float8, COUNT(rating)
		FROM inbound_messages
		WHERE agent_id = $1 AND rating IS NOT NULL
	`, agentID).Scan(&stats.Average, &stats.Count)
	return stats, err
}

// missOrConflict distinguishes a missing row from a status mismatch after a
// guarded update touched nothing.
func (s *Store) missOrConflict(ctx context.Context, id string, expected models.Status) error {
	var current models.Status
	err := s.pool.QueryRow(ctx, `SELECT status FROM inbound_messages WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("message %s is %s, expected %s: %w", id, current, expected, ErrStatusConflict)
}

// scanMessage scans a single row into an InboundMessage.
func scanMessage(row pgx.Row) (*models.InboundMessage, error) {
	var (
		m        models.InboundMessage
		analysis []byte
	)
	err := row.Scan(
		&m.ID, &m.AgentID, &m.ProviderMessageID, &m.ThreadID, &m.InternetMessageID,
		&m.Sender, &m.Subject, &m.Body, &m.ReceivedAt, &m.Status, &m.AIReply, &analysis,
		&m.Rating, &m.Feedback, &m.RepliedAt, &m.CreatedAt, &m.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(analysis) > 0 {
		var a models.AutoReplyAnalysis
		if err := json.Unmarshal(analysis, &a); err != nil {
			return nil, fmt.Errorf("decode analysis for message %s: %w", m.ID, err)
		}
		m.Analysis = &a
	}
	return &m, nil
}

// collectMessages scans multiple rows into a slice of InboundMessages.
func collectMessages(rows pgx.Rows) ([]models.InboundMessage, error) {
	var msgs []models.InboundMessage
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}
