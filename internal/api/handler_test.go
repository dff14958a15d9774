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

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awesbecher/poweredbyapp-sub000/internal/dispatch"
	"github.com/awesbecher/poweredbyapp-sub000/internal/memstore"
	"github.com/awesbecher/poweredbyapp-sub000/internal/models"
	"github.com/awesbecher/poweredbyapp-sub000/internal/review"
)

type fakeSender struct {
	texts []string
	err   error
}

func (f *fakeSender) Dispatch(_ context.Context, _, _, text string) error {
	f.texts = append(f.texts, text)
	return f.err
}

type fakeTrigger struct{ ids []string }

func (f *fakeTrigger) TriggerGenerate(_ context.Context, _, messageID string) error {
	f.ids = append(f.ids, messageID)
	return nil
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

type fixture struct {
	store   *memstore.Store
	sender  *fakeSender
	trigger *fakeTrigger
	server  http.Handler
}

func newFixture(checks map[string]Pinger) *fixture {
	f := &fixture{store: memstore.New(), sender: &fakeSender{}, trigger: &fakeTrigger{}}
	svc := review.NewService(f.store, f.sender, f.trigger, nil)
	f.server = NewHandler(svc, checks).Routes()
	return f
}

func (f *fixture) seed(status models.Status, reply string) string {
	m := models.InboundMessage{AgentID: "a1", ProviderMessageID: "p-" + string(status) + reply, Sender: "jenny@acme.com", Subject: "Refund", Status: status}
	if reply != "" {
		m.AIReply = &reply
	}
	return f.store.Seed(m)
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.server.ServeHTTP(w, req)
	return w
}

func TestApproveAndReject(t *testing.T) {
	f := newFixture(nil)
	pending := f.seed(models.StatusAwaitingApproval, "draft")
	other := f.seed(models.StatusAwaitingApproval, "draft2")

	w := f.do(http.MethodPost, "/messages/"+pending+"/approve", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{""}, f.sender.texts)

	w = f.do(http.MethodPost, "/messages/"+other+"/reject", "")
	assert.Equal(t, http.StatusOK, w.Code)
	m, _ := f.store.GetMessage(context.Background(), other)
	assert.Equal(t, models.StatusRejected, m.Status)

	w = f.do(http.MethodPost, "/messages/"+other+"/approve", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(http.MethodPost, "/messages/missing/approve", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(http.MethodGet, "/messages/"+pending+"/approve", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestSend(t *testing.T) {
	f := newFixture(nil)
	id := f.seed(models.StatusAwaitingApproval, "draft")

	w := f.do(http.MethodPost, "/messages/"+id+"/send", `{"text":"edited"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"edited"}, f.sender.texts)

	w = f.do(http.MethodPost, "/messages/"+id+"/send", `{"text":""}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodPost, "/messages/"+id+"/send", `{"txt":"x"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	f.sender.err = dispatch.ErrInFlight
	w = f.do(http.MethodPost, "/messages/"+id+"/send", `{"text":"again"}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	f.sender.err = errors.New("gmail 500")
	w = f.do(http.MethodPost, "/messages/"+id+"/send", `{"text":"again"}`)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "gmail 500")
}

func TestRating(t *testing.T) {
	f := newFixture(nil)
	replied := f.seed(models.StatusReplied, "sent")
	pending := f.seed(models.StatusAwaitingApproval, "draft")

	tests := []struct {
		name string
		id   string
		body string
		want int
	}{
		{"valid", replied, `{"rating":4,"feedback":"good"}`, http.StatusOK},
		{"too high", replied, `{"rating":6}`, http.StatusBadRequest},
		{"missing", replied, `{}`, http.StatusBadRequest},
		{"not sent yet", pending, `{"rating":3}`, http.StatusConflict},
		{"malformed", replied, `{"rating":`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(http.MethodPost, "/messages/"+tt.id+"/rating", tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}

	stats, err := f.store.RatingStats(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Count)
}

func TestRegenerate(t *testing.T) {
	f := newFixture(nil)
	stuck := f.seed(models.StatusReceived, "")

	w := f.do(http.MethodPost, "/messages/"+stuck+"/regenerate", "")
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, []string{stuck}, f.trigger.ids)
}

func TestList(t *testing.T) {
	f := newFixture(nil)
	f.seed(models.StatusAwaitingApproval, "one")
	f.seed(models.StatusReplied, "two")

	w := f.do(http.MethodGet, "/messages", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Messages []MessageView `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, models.StatusAwaitingApproval, resp.Messages[0].Status)
	require.NotNil(t, resp.Messages[0].AIReply)
	assert.Equal(t, "one", *resp.Messages[0].AIReply)

	w = f.do(http.MethodGet, "/messages?status=replied&agent_id=a1&limit=5", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Messages, 1)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/messages?status=bogus", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/messages?limit=0", "").Code)
}

func TestHealth(t *testing.T) {
	f := newFixture(map[string]Pinger{"postgres": pinger{}, "redis": pinger{}})
	w := f.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"redis":"ok"`)

	f = newFixture(map[string]Pinger{"postgres": pinger{}, "redis": pinger{err: errors.New("connection refused")}})
	w = f.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(nil)
	w := f.do(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestServe_BindsAndStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ready, err := Serve(ctx, 0, newFixture(nil).server)
	require.NoError(t, err)
	<-ready
}
