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

// Package mailboxtest provides an in-memory mailbox for tests.
package mailboxtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/awesbecher/poweredbyapp-sub000/internal/mailbox"
)

// Sent is one reply handed to SendReply.
type Sent struct {
	ThreadID string
	Raw      []byte
}

// Mailbox is a fake provider holding unread messages and recording sends.
// It also acts as its own Connector.
type Mailbox struct {
	mu      sync.Mutex
	unread  []*mailbox.Message
	read    map[string]bool
	sent    []Sent
	tokens  []string
	nextID  int
	Err     error // returned by every provider call when set
	SendErr error // returned by SendReply when set

	MarkReadErr error // returned by MarkRead when set
}

// New creates a mailbox holding msgs as unread.
func New(msgs ...*mailbox.Message) *Mailbox {
	return &Mailbox{unread: msgs, read: make(map[string]bool)}
}

// Connect records the access token and returns the mailbox.
func (m *Mailbox) Connect(_ context.Context, accessToken string) (mailbox.Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens = append(m.tokens, accessToken)
	return m, nil
}

// ListUnread lists up to max unread messages.
func (m *Mailbox) ListUnread(_ context.Context, max int64) ([]mailbox.Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	var out []mailbox.Summary
	for _, msg := range m.unread {
		if m.read[msg.ID] {
			continue
		}
		out = append(out, mailbox.Summary{ID: msg.ID, ThreadID: msg.ThreadID})
		if max > 0 && int64(len(out)) == max {
			break
		}
	}
	return out, nil
}

// GetMessage returns a stored message.
func (m *Mailbox) GetMessage(_ context.Context, id string) (*mailbox.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	for _, msg := range m.unread {
		if msg.ID == id {
			cp := *msg
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("message %s not found", id)
}

// MarkRead flags a message as read.
func (m *Mailbox) MarkRead(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	if m.MarkReadErr != nil {
		return m.MarkReadErr
	}
	m.read[id] = true
	return nil
}

// SendReply records the raw reply.
func (m *Mailbox) SendReply(_ context.Context, threadID string, raw []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return "", m.Err
	}
	if m.SendErr != nil {
		return "", m.SendErr
	}
	m.sent = append(m.sent, Sent{ThreadID: threadID, Raw: raw})
	m.nextID++
	return fmt.Sprintf("sent-%d", m.nextID), nil
}

// Sent returns every recorded send.
func (m *Mailbox) Sent() []Sent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Sent(nil), m.sent...)
}

// IsRead reports whether id was marked read.
func (m *Mailbox) IsRead(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read[id]
}

// Tokens returns the access tokens passed to Connect.
func (m *Mailbox) Tokens() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.tokens...)
}
