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
	"fmt"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/awesbecher/poweredbyapp-sub000/internal/models"
)

// SearchKnowledge returns the agent's chunks whose cosine similarity to
// embedding is strictly above threshold, most similar first.
func (s *Store) SearchKnowledge(ctx context.Context, agentID string, embedding []float32, threshold float64, limit int) ([]models.KnowledgeChunk, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, agent_id, document, chunk_index, content, similarity
		FROM (
			SELECT id, agent_id, document, chunk_index, content,
			       1 - (embedding <=> $2) AS similarity
			FROM knowledge_chunks
			WHERE agent_id = $1
		) scored
		WHERE similarity > $3
		ORDER BY similarity DESC
		LIMIT $4
	`, agentID, pgvector.NewVector(embedding), threshold, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []models.KnowledgeChunk
	for rows.Next() {
		var c models.KnowledgeChunk
		if err := rows.Scan(&c.ID, &c.AgentID, &c.Document, &c.ChunkIndex, &c.Content, &c.Similarity); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// InsertKnowledgeChunk stores one embedded chunk, replacing an existing chunk
// at the same (agent, document, index).
func (s *Store) InsertKnowledgeChunk(ctx context.Context, c models.KnowledgeChunk) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO knowledge_chunks (id, agent_id, document, chunk_index, content, embedding)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (agent_id, document, chunk_index) DO UPDATE SET
			content   = EXCLUDED.content,
			embedding = EXCLUDED.embedding
	`, c.ID, c.AgentID, c.Document, c.ChunkIndex, c.Content, pgvector.NewVector(c.Embedding))
	return err
}

// DeleteKnowledgeChunksFrom removes the chunks of document at index from and
// above, so a shorter re-index leaves nothing stale behind.
func (s *Store) DeleteKnowledgeChunksFrom(ctx context.Context, agentID, document string, from int) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM knowledge_chunks
		WHERE agent_id = $1 AND document = $2 AND chunk_index >= $3
	`, agentID, document, from)
	return err
}

// InsertError appends a failure record. Records are never updated.
func (s *Store) InsertError(ctx context.Context, r models.ErrorRecord) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	metadata, err := marshalNullable(r.Metadata, len(r.Metadata) == 0)
	if err != nil {
		return fmt.Errorf("encode error metadata: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO error_logs (id, function, message, agent_id, metadata)
		VALUES ($1, $2, $3, $4, $5)
	`, r.ID, r.Function, r.Message, r.AgentID, metadata)
	return err
}

// RecentErrors returns the newest failure records first.
func (s *Store) RecentErrors(ctx context.Context, limit int) ([]models.ErrorRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, function, message, agent_id, metadata, created_at
		FROM error_logs
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.ErrorRecord
	for rows.Next() {
		var (
			r        models.ErrorRecord
			metadata []byte
		)
		if err := rows.Scan(&r.ID, &r.Function, &r.Message, &r.AgentID, &metadata, &r.CreatedAt); err != nil {
			return nil, err
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &r.Metadata); err != nil {
				return nil, fmt.Errorf("decode error metadata %s: %w", r.ID, err)
			}
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
