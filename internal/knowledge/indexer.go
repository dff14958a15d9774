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

package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/awesbecher/poweredbyapp-sub000/internal/logging"
	"github.com/awesbecher/poweredbyapp-sub000/internal/models"
)

// DefaultChunkSize is the target chunk length in characters.
const DefaultChunkSize = 1200

// ChunkWriter stores embedded chunks.
type ChunkWriter interface {
	InsertKnowledgeChunk(ctx context.Context, c models.KnowledgeChunk) error
	DeleteKnowledgeChunksFrom(ctx context.Context, agentID, document string, from int) error
}

// Indexer splits documents into chunks, embeds them and stores them.
type Indexer struct {
	embedder  Embedder
	writer    ChunkWriter
	chunkSize int
}

// NewIndexer creates an indexer. A zero chunkSize uses DefaultChunkSize.
func NewIndexer(embedder Embedder, writer ChunkWriter, chunkSize int) *Indexer {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Indexer{embedder: embedder, writer: writer, chunkSize: chunkSize}
}

// IndexDocument replaces the chunks of document for agentID and returns how
// many were written. Chunks left over from a longer earlier version are
// removed once every new chunk is stored.
func (ix *Indexer) IndexDocument(ctx context.Context, agentID, document, text string) (int, error) {
	chunks := Chunk(text, ix.chunkSize)
	for i, content := range chunks {
		vec, err := ix.embedder.Embed(ctx, content)
		if err != nil {
			return i, fmt.Errorf("embed chunk %d of %s: %w", i, document, err)
		}
		err = ix.writer.InsertKnowledgeChunk(ctx, models.KnowledgeChunk{
			ID:         uuid.NewString(),
			AgentID:    agentID,
			Document:   document,
			ChunkIndex: i,
			Content:    content,
			Embedding:  vec,
		})
		if err != nil {
			return i, fmt.Errorf("store chunk %d of %s: %w", i, document, err)
		}
	}

	if err := ix.writer.DeleteKnowledgeChunksFrom(ctx, agentID, document, len(chunks)); err != nil {
		return len(chunks), fmt.Errorf("remove stale chunks of %s: %w", document, err)
	}

	slog.Info("knowledge document indexed",
		logging.AgentID(agentID),
		"document", document,
		"chunks", len(chunks),
	)
	return len(chunks), nil
}

// Chunk splits text on blank lines and packs paragraphs into chunks of at
// most size characters. A paragraph longer than size is split on word
// boundaries.
func Chunk(text string, size int) []string {
	var (
		chunks []string
		cur    strings.Builder
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			chunks = append(chunks, s)
		}
		cur.Reset()
	}

	for _, para := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		for _, piece := range splitLong(para, size) {
			if cur.Len() > 0 && cur.Len()+2+len(piece) > size {
				flush()
			}
			if cur.Len() > 0 {
				cur.WriteString("\n\n")
			}
			cur.WriteString(piece)
		}
	}
	flush()
	return chunks
}

func splitLong(para string, size int) []string {
	if len(para) <= size {
		return []string{para}
	}
	var (
		out []string
		cur strings.Builder
	)
	for _, word := range strings.Fields(para) {
		if cur.Len() > 0 && cur.Len()+1+len(word) > size {
			out = append(out, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(word)
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}
