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

// Package store provides the Postgres-backed persistence for agents, inbound
// messages, knowledge chunks and the failure log.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/awesbecher/poweredbyapp-sub000/internal/models"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrStatusConflict is returned when a guarded update finds the row in
	// a different status than expected.
	ErrStatusConflict = errors.New("status conflict")
)

// Store provides CRUD operations for the reply pipeline in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// NewPool creates a pgx pool with the pgvector extension enabled and its
// types registered on every connection.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		if _, err := conn.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
			return fmt.Errorf("create vector extension: %w", err)
		}
		return pgxvec.RegisterTypes(ctx, conn)
	}
	return pgxpool.NewWithConfig(ctx, cfg)
}

// New creates a store backed by the given Postgres pool.
// It ensures the schema exists on creation.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	slog.Info("store initialised")
	return s, nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS agents (
			id               TEXT PRIMARY KEY,
			company_name     TEXT NOT NULL,
			email            TEXT NOT NULL,
			purpose          TEXT DEFAULT '',
			tone             TEXT DEFAULT '',
			auto_reply       BOOLEAN DEFAULT FALSE,
			access_token     TEXT DEFAULT '',
			refresh_token    TEXT DEFAULT '',
			token_expiry     TIMESTAMPTZ,
			prompt_templates JSONB,
			created_at       TIMESTAMPTZ DEFAULT NOW(),
			updated_at       TIMESTAMPTZ DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS inbound_messages (
			id                  TEXT PRIMARY KEY,
			agent_id            TEXT NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
			provider_message_id TEXT NOT NULL,
			thread_id           TEXT DEFAULT '',
			internet_message_id TEXT DEFAULT '',
			sender              TEXT NOT NULL,
			subject             TEXT DEFAULT '',
			body                TEXT DEFAULT '',
			received_at         TIMESTAMPTZ NOT NULL,
			status              TEXT NOT NULL DEFAULT 'received',
			ai_reply            TEXT,
			analysis            JSONB,
			rating              INTEGER CHECK (rating BETWEEN 1 AND 5),
			feedback            TEXT,
			replied_at          TIMESTAMPTZ,
			created_at          TIMESTAMPTZ DEFAULT NOW(),
			updated_at          TIMESTAMPTZ DEFAULT NOW(),
			UNIQUE(agent_id, provider_message_id)
		);
		CREATE INDEX IF NOT EXISTS idx_msgs_agent_status ON inbound_messages(agent_id, status);
		CREATE INDEX IF NOT EXISTS idx_msgs_agent_sender ON inbound_messages(agent_id, sender);

		CREATE TABLE IF NOT EXISTS knowledge_chunks (
			id          TEXT PRIMARY KEY,
			agent_id    TEXT NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
			document    TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			content     TEXT NOT NULL,
			embedding   vector NOT NULL,
			created_at  TIMESTAMPTZ DEFAULT NOW(),
			UNIQUE(agent_id, document, chunk_index)
		);
		CREATE INDEX IF NOT EXISTS idx_chunks_agent ON knowledge_chunks(agent_id);

		CREATE TABLE IF NOT EXISTS error_logs (
			id         TEXT PRIMARY KEY,
			function   TEXT NOT NULL,
			message    TEXT NOT NULL,
			agent_id   TEXT,
			metadata   JSONB,
			created_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_errors_created ON error_logs(created_at);
	`)
	return err
}

const agentColumns = `
	id, company_name, email, purpose, tone, auto_reply,
	access_token, refresh_token, token_expiry, prompt_templates,
	created_at, updated_at`

// ListAgentsWithCredentials returns agents that hold an access or refresh token.
func (s *Store) ListAgentsWithCredentials(ctx context.Context) ([]models.Agent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+agentColumns+`
		FROM agents
		WHERE refresh_token <> '' OR access_token <> ''
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAgents(rows)
}

// ListAgents returns every configured agent.
func (s *Store) ListAgents(ctx context.Context) ([]models.Agent, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+agentColumns+` FROM agents ORDER BY company_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAgents(rows)
}

// GetAgent retrieves a single agent by id.
func (s *Store) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = $1`, id)
	a, err := scanAgent(row)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, fmt.Errorf("agent %s: %w", id, ErrNotFound)
	}
	return a, nil
}

// UpsertAgent inserts or updates an agent's configuration and credentials.
func (s *Store) UpsertAgent(ctx context.Context, a models.Agent) error {
	templates, err := marshalNullable(a.PromptTemplates, len(a.PromptTemplates) == 0)
	if err != nil {
		return fmt.Errorf("encode prompt templates: %w", err)
	}
	var expiry *time.Time
	if !a.TokenExpiry.IsZero() {
		expiry = &a.TokenExpiry
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO agents
			(id, company_name, email, purpose, tone, auto_reply,
			 access_token, refresh_token, token_expiry, prompt_templates)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			company_name     = EXCLUDED.company_name,
			email            = EXCLUDED.email,
			purpose          = EXCLUDED.purpose,
			tone             = EXCLUDED.tone,
			auto_reply       = EXCLUDED.auto_reply,
			access_token     = EXCLUDED.access_token,
			refresh_token    = EXCLUDED.refresh_token,
			token_expiry     = EXCLUDED.token_expiry,
			prompt_templates = EXCLUDED.prompt_templates,
			updated_at       = NOW()
	`, a.ID, a.CompanyName, a.Email, a.Purpose, a.Tone, a.AutoReply,
		a.AccessToken, a.RefreshToken, expiry, templates)
	return err
}

// UpdateAgentToken persists a refreshed access token and expiry. An empty
// refreshToken keeps the stored one.
func (s *Store) UpdateAgentToken(ctx context.Context, agentID, accessToken, refreshToken string, expiry time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE agents
		SET access_token  = $2,
		    refresh_token = COALESCE(NULLIF($3, ''), refresh_token),
		    token_expiry  = $4,
		    updated_at    = NOW()
		WHERE id = $1
	`, agentID, accessToken, refreshToken, expiry)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("agent %s: %w", agentID, ErrNotFound)
	}
	return nil
}

// scanAgent scans a single row into an Agent.
func scanAgent(row pgx.Row) (*models.Agent, error) {
	var (
		a         models.Agent
		expiry    *time.Time
		templates []byte
	)
	err := row.Scan(
		&a.ID, &a.CompanyName, &a.Email, &a.Purpose, &a.Tone, &a.AutoReply,
		&a.AccessToken, &a.RefreshToken, &expiry, &templates,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if expiry != nil {
		a.TokenExpiry = *expiry
	}
	if len(templates) > 0 {
		if err := json.Unmarshal(templates, &a.PromptTemplates); err != nil {
			return nil, fmt.Errorf("decode prompt templates for agent %s: %w", a.ID, err)
		}
	}
	return &a, nil
}

// collectAgents scans multiple rows into a slice of Agents.
func collectAgents(rows pgx.Rows) ([]models.Agent, error) {
	var agents []models.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, *a)
	}
	return agents, rows.Err()
}

// marshalNullable encodes v as JSON, or returns nil when empty is set so the
// column stays NULL.
func marshalNullable(v any, empty bool) ([]byte, error) {
	if empty {
		return nil, nil
	}
	return json.Marshal(v)
}
