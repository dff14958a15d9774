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
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/awesbecher/poweredbyapp-sub000/internal/models"
	"github.com/awesbecher/poweredbyapp-sub000/internal/notify"
)

type fakeEmbedder struct {
	err   error
	calls int
}

func (f *fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	f.calls++
	return []float32{1, 0}, f.err
}

type fakeSearcher struct {
	chunks    []models.KnowledgeChunk
	err       error
	agentID   string
	threshold float64
	limit     int
}

func (f *fakeSearcher) SearchKnowledge(_ context.Context, agentID string, _ []float32, threshold float64, limit int) ([]models.KnowledgeChunk, error) {
	f.agentID, f.threshold, f.limit = agentID, threshold, limit
	return f.chunks, f.err
}

func TestRetrieve_RankedContents(t *testing.T) {
	s := &fakeSearcher{chunks: []models.KnowledgeChunk{
		{AgentID: "a1", Content: "Reset via Settings > Security.", Similarity: 0.93},
		{AgentID: "a1", Content: "Passwords expire every 90 days.", Similarity: 0.81},
	}}
	r := NewRetriever(RetrieverConfig{Embedder: &fakeEmbedder{}, Searcher: s})

	got := r.Retrieve(context.Background(), "a1", "how do I reset my password")

	assert.Equal(t, []string{"Reset via Settings > Security.", "Passwords expire every 90 days."}, got)
	assert.Equal(t, "a1", s.agentID)
	assert.Equal(t, 0.7, s.threshold)
	assert.Equal(t, 5, s.limit)
}

// TestRetrieve_ThresholdIsExclusive verifies chunks at exactly the threshold
// and chunks of other agents are dropped.
func TestRetrieve_ThresholdIsExclusive(t *testing.T) {
	s := &fakeSearcher{chunks: []models.KnowledgeChunk{
		{AgentID: "a1", Content: "keep", Similarity: 0.71},
		{AgentID: "a1", Content: "boundary", Similarity: 0.7},
		{AgentID: "other", Content: "leak", Similarity: 0.99},
	}}
	r := NewRetriever(RetrieverConfig{Embedder: &fakeEmbedder{}, Searcher: s})

	assert.Equal(t, []string{"keep"}, r.Retrieve(context.Background(), "a1", "q"))
}

func TestRetrieve_CapsAtMaxChunks(t *testing.T) {
	var chunks []models.KnowledgeChunk
	for i := 0; i < 8; i++ {
		chunks = append(chunks, models.KnowledgeChunk{Content: "c", Similarity: 0.9})
	}
	r := NewRetriever(RetrieverConfig{Embedder: &fakeEmbedder{}, Searcher: &fakeSearcher{chunks: chunks}})

	assert.Len(t, r.Retrieve(context.Background(), "a1", "q"), 5)
}

// TestRetrieve_FailuresYieldEmpty verifies embed and search failures are
// reported and return an empty, non-nil slice.
func TestRetrieve_FailuresYieldEmpty(t *testing.T) {
	rec := &notify.Recorder{}

	r := NewRetriever(RetrieverConfig{Embedder: &fakeEmbedder{err: errors.New("503")}, Searcher: &fakeSearcher{}, Reporter: rec})
	got := r.Retrieve(context.Background(), "a1", "q")
	assert.NotNil(t, got)
	assert.Empty(t, got)

	r = NewRetriever(RetrieverConfig{Embedder: &fakeEmbedder{}, Searcher: &fakeSearcher{err: errors.New("pg down")}, Reporter: rec})
	assert.Empty(t, r.Retrieve(context.Background(), "a1", "q"))

	assert.Equal(t, []string{notify.FuncKnowledgeRetrieval, notify.FuncKnowledgeRetrieval}, rec.Functions())
}

func TestRetrieve_BlankTextSkipsEmbedding(t *testing.T) {
	e := &fakeEmbedder{}
	r := NewRetriever(RetrieverConfig{Embedder: e, Searcher: &fakeSearcher{}})

	assert.Empty(t, r.Retrieve(context.Background(), "a1", "   "))
	assert.Zero(t, e.calls)
}
