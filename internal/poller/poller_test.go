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

package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awesbecher/poweredbyapp-sub000/internal/logging"
	"github.com/awesbecher/poweredbyapp-sub000/internal/mailbox"
	"github.com/awesbecher/poweredbyapp-sub000/internal/mailbox/mailboxtest"
	"github.com/awesbecher/poweredbyapp-sub000/internal/memstore"
	"github.com/awesbecher/poweredbyapp-sub000/internal/models"
	"github.com/awesbecher/poweredbyapp-sub000/internal/notify"
	"github.com/awesbecher/poweredbyapp-sub000/internal/token"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type triggerRecorder struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (r *triggerRecorder) TriggerGenerate(_ context.Context, agentID, messageID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, agentID+"/"+messageID)
	return r.err
}

func (r *triggerRecorder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type fixture struct {
	store    *memstore.Store
	mailbox  *mailboxtest.Mailbox
	trigger  *triggerRecorder
	claims   *memstore.Claims
	reporter *notify.Recorder
}

func newFixture(t *testing.T, msgs ...*mailbox.Message) *fixture {
	t.Helper()
	f := &fixture{
		store:    memstore.New(),
		mailbox:  mailboxtest.New(msgs...),
		trigger:  &triggerRecorder{},
		claims:   memstore.NewClaims(),
		reporter: &notify.Recorder{},
	}
	f.addAgent(t, "a1", "tok-a1", now.Add(time.Hour))
	return f
}

func (f *fixture) addAgent(t *testing.T, id, accessToken string, expiry time.Time) {
	t.Helper()
	require.NoError(t, f.store.UpsertAgent(context.Background(), models.Agent{
		ID:          id,
		CompanyName: "Acme " + id,
		Email:       id + "@acme.com",
		AccessToken: accessToken,
		TokenExpiry: expiry,
	}))
}

func (f *fixture) poller(concurrency int) *Poller {
	clock := func() time.Time { return now }
	return New(Config{
		Store:       f.store,
		Tokens:      token.NewManager(token.ManagerConfig{Store: f.store, Now: clock}),
		Connector:   f.mailbox,
		Trigger:     f.trigger,
		Claims:      f.claims,
		Reporter:    f.reporter,
		Concurrency: concurrency,
		Now:         clock,
	})
}

func gmailMessage(id, from string) *mailbox.Message {
	return &mailbox.Message{
		ID:                id,
		ThreadID:          "thread-" + id,
		InternetMessageID: "<" + id + "@mail.example.com>",
		From:              from,
		Subject:           "Question " + id,
		Body:              "Body of " + id,
		ReceivedAt:        now.Add(-time.Minute),
	}
}

func TestPollAll_StoresAndTriggersNewMessages(t *testing.T) {
	f := newFixture(t,
		gmailMessage("g1", "Jenny Doe <jenny@acme.com>"),
		gmailMessage("g2", "sam@example.com"),
	)

	res, err := f.poller(1).PollAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.TotalNew)
	assert.Equal(t, 0, res.TotalErrors)
	require.Len(t, res.Agents, 1)
	assert.Equal(t, AgentResult{AgentID: "a1", Listed: 2, New: 2}, res.Agents[0])

	stored := f.store.Messages()
	require.Len(t, stored, 2)
	assert.Equal(t, "jenny@acme.com", stored[0].Sender)
	assert.Equal(t, "sam@example.com", stored[1].Sender)
	assert.Equal(t, "thread-g1", stored[0].ThreadID)
	assert.Equal(t, "<g1@mail.example.com>", stored[0].InternetMessageID)
	assert.Equal(t, models.StatusReceived, stored[0].Status)

	assert.True(t, f.mailbox.IsRead("g1"))
	assert.True(t, f.mailbox.IsRead("g2"))
	assert.Equal(t, []string{"a1/" + stored[0].ID, "a1/" + stored[1].ID}, f.trigger.Calls())
	assert.Equal(t, []string{"tok-a1"}, f.mailbox.Tokens())
	assert.Empty(t, f.reporter.Failures())
}

// TestPollAll_SkipsPersistedMessages verifies a message already stored is
// neither duplicated nor re-triggered, even when it is still unread.
func TestPollAll_SkipsPersistedMessages(t *testing.T) {
	f := newFixture(t, gmailMessage("g1", "sam@example.com"))
	f.store.Seed(models.InboundMessage{AgentID: "a1", ProviderMessageID: "g1", Sender: "sam@example.com"})

	res, err := f.poller(1).PollAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.TotalNew)
	assert.Equal(t, 1, res.TotalSkipped)
	assert.Len(t, f.store.Messages(), 1)
	assert.Empty(t, f.trigger.Calls())
}

func TestPollAll_RepollIsIdempotent(t *testing.T) {
	f := newFixture(t, gmailMessage("g1", "sam@example.com"))
	p := f.poller(1)

	_, err := p.PollAll(context.Background())
	require.NoError(t, err)
	res, err := p.PollAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, res.TotalNew)
	assert.Len(t, f.store.Messages(), 1)
	assert.Len(t, f.trigger.Calls(), 1)
}

// TestPollAll_TokenFailureSkipsAgent verifies one agent's revoked credential
// is reported and the next agent is still polled.
func TestPollAll_TokenFailureSkipsAgent(t *testing.T) {
	f := newFixture(t, gmailMessage("g1", "sam@example.com"))
	f.addAgent(t, "a0", "expired", now.Add(-time.Minute))

	res, err := f.poller(1).PollAll(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Agents, 2)
	assert.Equal(t, AgentResult{AgentID: "a0", Errors: 1}, res.Agents[0])
	assert.Equal(t, 1, res.Agents[1].New)
	assert.Equal(t, []string{notify.FuncTokenRefresh}, f.reporter.Functions())
	assert.ErrorIs(t, f.reporter.Failures()[0].Err, token.ErrCredentialRefreshFailed)
}

func TestPollAll_ProviderFailure(t *testing.T) {
	f := newFixture(t, gmailMessage("g1", "sam@example.com"))
	f.mailbox.Err = errors.New("gmail 503")

	res, err := f.poller(1).PollAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.TotalErrors)
	assert.Empty(t, f.store.Messages())
	assert.Equal(t, []string{notify.FuncPollInbox}, f.reporter.Functions())
}

// TestPollAll_TriggerFailureStillStores verifies a failed downstream trigger
// is reported but is not a failure of the stored message.
func TestPollAll_TriggerFailureStillStores(t *testing.T) {
	f := newFixture(t, gmailMessage("g1", "sam@example.com"))
	f.trigger.err = errors.New("redis down")

	res, err := f.poller(1).PollAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.TotalNew)
	assert.Equal(t, 0, res.TotalErrors)
	stored := f.store.Messages()
	require.Len(t, stored, 1)

	failures := f.reporter.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, notify.FuncPollInbox, failures[0].Function)
	assert.Equal(t, "a1", failures[0].AgentID)
	assert.ErrorContains(t, failures[0].Err, "redis down")
	assert.Equal(t, "trigger_generate", failures[0].Metadata["step"])
	assert.Equal(t, stored[0].ID, failures[0].Metadata["message_id"])
}

func TestPollAll_MarkReadFailureIsReported(t *testing.T) {
	f := newFixture(t, gmailMessage("g1", "sam@example.com"))
	f.mailbox.MarkReadErr = errors.New("label modify forbidden")

	res, err := f.poller(1).PollAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.TotalNew)
	assert.Equal(t, 0, res.TotalErrors)
	assert.False(t, f.mailbox.IsRead("g1"))

	stored := f.store.Messages()
	require.Len(t, stored, 1)
	assert.Equal(t, []string{"a1/" + stored[0].ID}, f.trigger.Calls())

	failures := f.reporter.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, notify.FuncPollInbox, failures[0].Function)
	assert.Equal(t, "mark_read", failures[0].Metadata["step"])
	assert.Equal(t, "g1", failures[0].Metadata[logging.KeyProviderMessageID])
}

func TestPollAll_ClaimedMessageNotRetriggered(t *testing.T) {
	f := newFixture(t, gmailMessage("g1", "sam@example.com"))
	_, _ = f.claims.IsNew(context.Background(), "generate:a1:g1")

	res, err := f.poller(1).PollAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.TotalNew)
	assert.Empty(t, f.trigger.Calls())
}

// inboxes connects each access token to its own mailbox.
type inboxes map[string]*mailboxtest.Mailbox

func (in inboxes) Connect(ctx context.Context, accessToken string) (mailbox.Provider, error) {
	mb, ok := in[accessToken]
	if !ok {
		return nil, errors.New("unknown token")
	}
	return mb.Connect(ctx, accessToken)
}

func TestPollAll_ConcurrentAgents(t *testing.T) {
	f := newFixture(t)
	f.addAgent(t, "a2", "tok-a2", now.Add(time.Hour))
	f.addAgent(t, "a3", "tok-a3", now.Add(time.Hour))
	conn := inboxes{
		"tok-a1": mailboxtest.New(gmailMessage("g1", "sam@example.com")),
		"tok-a2": mailboxtest.New(gmailMessage("g1", "sam@example.com"), gmailMessage("g2", "kim@example.com")),
		"tok-a3": mailboxtest.New(),
	}
	p := f.poller(3)
	p.connector = conn

	res, err := p.PollAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, res.TotalNew)
	require.Len(t, res.Agents, 3)
	assert.Equal(t, 1, res.Agents[0].New)
	assert.Equal(t, 2, res.Agents[1].New)
	assert.Equal(t, 0, res.Agents[2].New)
	assert.Len(t, f.store.Messages(), 3)
	assert.Len(t, f.trigger.Calls(), 3)
}

func TestPollAll_NoAgents(t *testing.T) {
	f := &fixture{store: memstore.New(), mailbox: mailboxtest.New(), trigger: &triggerRecorder{}, reporter: &notify.Recorder{}}
	res, err := f.poller(1).PollAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Agents)
}

func TestStartStop(t *testing.T) {
	f := newFixture(t, gmailMessage("g1", "sam@example.com"))
	p := f.poller(1)

	p.Start(context.Background())
	require.Eventually(t, func() bool { return len(f.trigger.Calls()) == 1 }, 2*time.Second, 10*time.Millisecond)
	p.Stop()

	assert.Len(t, f.store.Messages(), 1)
}
