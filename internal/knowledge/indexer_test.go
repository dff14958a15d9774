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
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awesbecher/poweredbyapp-sub000/internal/memstore"
	"github.com/awesbecher/poweredbyapp-sub000/internal/models"
)

func TestChunk(t *testing.T) {
	tests := []struct {
		name string
		text string
		size int
		want []string
	}{
		{"empty", "  \n\n ", 100, nil},
		{"single paragraph", "Opening hours are 9 to 5.", 100, []string{"Opening hours are 9 to 5."}},
		{
			"paragraphs packed together",
			"one\n\ntwo\n\nthree",
			100,
			[]string{"one\n\ntwo\n\nthree"},
		},
		{
			"paragraphs split at size",
			"aaaa\n\nbbbb\n\ncccc",
			10,
			[]string{"aaaa\n\nbbbb", "cccc"},
		},
		{
			"long paragraph split on words",
			"alpha beta gamma delta",
			11,
			[]string{"alpha beta", "gamma delta"},
		},
		{
			"crlf line endings",
			"first\r\n\r\nsecond",
			5,
			[]string{"first", "second"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Chunk(tt.text, tt.size))
		})
	}
}

func TestIndexDocument_StoresSearchableChunks(t *testing.T) {
	st := memstore.New()
	ix := NewIndexer(&fakeEmbedder{}, st, 60)

	n, err := ix.IndexDocument(context.Background(), "agent-1", "faq.md",
		"Reset your password from the login page.\n\nRefunds take five days.")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	chunks, err := st.SearchKnowledge(context.Background(), "agent-1", []float32{1, 0}, 0.5, 10)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	for _, c := range chunks {
		assert.Equal(t, "faq.md", c.Document)
		assert.NotEmpty(t, c.ID)
	}

	other, err := st.SearchKnowledge(context.Background(), "agent-2", []float32{1, 0}, 0.5, 10)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestIndexDocument_ReindexReplacesChunks(t *testing.T) {
	st := memstore.New()
	ix := NewIndexer(&fakeEmbedder{}, st, 0)

	_, err := ix.IndexDocument(context.Background(), "agent-1", "faq.md", "old answer")
	require.NoError(t, err)
	_, err = ix.IndexDocument(context.Background(), "agent-1", "faq.md", "new answer")
	require.NoError(t, err)

	chunks, err := st.SearchKnowledge(context.Background(), "agent-1", []float32{1, 0}, 0.5, 10)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "new answer", chunks[0].Content)
}

func TestIndexDocument_ShorterReindexDropsStaleChunks(t *testing.T) {
	st := memstore.New()
	ix := NewIndexer(&fakeEmbedder{}, st, 10)
	ctx := context.Background()

	n, err := ix.IndexDocument(ctx, "agent-1", "faq.md", "old one\n\nold two\n\nold three")
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.NoError(t, st.InsertKnowledgeChunk(ctx, models.KnowledgeChunk{
		AgentID: "agent-1", Document: "pricing.md", ChunkIndex: 1, Content: "other doc", Embedding: []float32{1, 0},
	}))

	n, err = ix.IndexDocument(ctx, "agent-1", "faq.md", "new only")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	r := NewRetriever(RetrieverConfig{Embedder: &fakeEmbedder{}, Searcher: st})
	assert.ElementsMatch(t, []string{"new only", "other doc"}, r.Retrieve(ctx, "agent-1", "question"))
}

type failingWriter struct{ calls int }

func (w *failingWriter) InsertKnowledgeChunk(context.Context, models.KnowledgeChunk) error {
	w.calls++
	return errors.New("disk full")
}

func (w *failingWriter) DeleteKnowledgeChunksFrom(context.Context, string, string, int) error {
	return nil
}

func TestIndexDocument_Errors(t *testing.T) {
	text := strings.Repeat("word ", 10)

	n, err := NewIndexer(&fakeEmbedder{err: errors.New("rate limited")}, memstore.New(), 0).
		IndexDocument(context.Background(), "agent-1", "doc", text)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
	assert.Equal(t, 0, n)

	w := &failingWriter{}
	n, err = NewIndexer(&fakeEmbedder{}, w, 0).IndexDocument(context.Background(), "agent-1", "doc", text)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, 0, n)
	assert.Equal(t, 1, w.calls)
}
