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

// Package knowledge retrieves the agent's knowledge chunks most similar to
// an inbound message. Retrieval is best-effort.
package knowledge

import (
	"context"
	"log/slog"
	"strings"

	"github.com/awesbecher/poweredbyapp-sub000/internal/logging"
	"github.com/awesbecher/poweredbyapp-sub000/internal/models"
	"github.com/awesbecher/poweredbyapp-sub000/internal/notify"
)

const (
	DefaultThreshold = 0.7
	DefaultMaxChunks = 5
)

// Embedder produces embedding vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Searcher runs the per-agent similarity search.
type Searcher interface {
	SearchKnowledge(ctx context.Context, agentID string, embedding []float32, threshold float64, limit int) ([]models.KnowledgeChunk, error)
}

// Retriever embeds text and returns ranked chunk contents.
type Retriever struct {
	embedder  Embedder
	searcher  Searcher
	reporter  notify.Reporter
	threshold float64
	maxChunks int
}

// RetrieverConfig holds the configuration for the retriever.
type RetrieverConfig struct {
	Embedder  Embedder
	Searcher  Searcher
	Reporter  notify.Reporter
	Threshold float64
	MaxChunks int
}

// NewRetriever creates a knowledge retriever.
func NewRetriever(cfg RetrieverConfig) *Retriever {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.MaxChunks <= 0 {
		cfg.MaxChunks = DefaultMaxChunks
	}
	if cfg.Reporter == nil {
		cfg.Reporter = notify.Nop{}
	}
	return &Retriever{
		embedder:  cfg.Embedder,
		searcher:  cfg.Searcher,
		reporter:  cfg.Reporter,
		threshold: cfg.Threshold,
		maxChunks: cfg.MaxChunks,
	}
}

// Retrieve returns up to maxChunks chunk contents for agentID, most similar
// first. Any failure is reported and yields an empty result.
func (r *Retriever) Retrieve(ctx context.Context, agentID, text string) []string {
	if strings.TrimSpace(text) == "" {
		return []string{}
	}

	vec, err := r.embedder.Embed(ctx, text)
	if err != nil {
		r.reporter.Report(ctx, notify.Failure{
			Function: notify.FuncKnowledgeRetrieval,
			Err:      err,
			AgentID:  agentID,
			Metadata: map[string]any{"stage": "embed"},
		})
		return []string{}
	}

	chunks, err := r.searcher.SearchKnowledge(ctx, agentID, vec, r.threshold, r.maxChunks)
	if err != nil {
		r.reporter.Report(ctx, notify.Failure{
			Function: notify.FuncKnowledgeRetrieval,
			Err:      err,
			AgentID:  agentID,
			Metadata: map[string]any{"stage": "search"},
		})
		return []string{}
	}

	out := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if c.AgentID != "" && c.AgentID != agentID {
			continue
		}
		if c.Similarity <= r.threshold {
			continue
		}
		out = append(out, c.Content)
		if len(out) == r.maxChunks {
			break
		}
	}

	slog.Debug("knowledge retrieved", logging.AgentID(agentID), "chunks", len(out))
	return out
}
