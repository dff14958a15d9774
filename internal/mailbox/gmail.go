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

// Package mailbox talks to the agent's Gmail mailbox: listing unread mail,
// fetching full messages, clearing the unread label and sending replies.
package mailbox

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

const (
	// UnreadQuery selects unread mail in the inbox.
	UnreadQuery = "is:unread in:inbox"
	labelUnread = "UNREAD"
	userMe      = "me"
)

// Summary identifies a listed message.
type Summary struct {
	ID       string
	ThreadID string
}

// Provider is an authenticated mailbox session.
type Provider interface {
	ListUnread(ctx context.Context, max int64) ([]Summary, error)
	GetMessage(ctx context.Context, id string) (*Message, error)
	MarkRead(ctx context.Context, id string) error
	SendReply(ctx context.Context, threadID string, raw []byte) (string, error)
}

// Connector opens a Provider for an access token.
type Connector interface {
	Connect(ctx context.Context, accessToken string) (Provider, error)
}

// GmailConnector opens Gmail API sessions.
type GmailConnector struct {
	endpoint string
	timeout  time.Duration
}

// NewGmailConnector creates a connector. An empty endpoint uses the public
// Gmail API; timeout bounds each API call.
func NewGmailConnector(endpoint string, timeout time.Duration) *GmailConnector {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &GmailConnector{endpoint: endpoint, timeout: timeout}
}

// Connect builds a Gmail service authenticated with accessToken.
func (c *GmailConnector) Connect(ctx context.Context, accessToken string) (Provider, error) {
	opts := []option.ClientOption{
		option.WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})),
	}
	if c.endpoint != "" {
		opts = append(opts, option.WithEndpoint(strings.TrimRight(c.endpoint, "/")+"/"))
	}

	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}
	return &gmailProvider{svc: svc, timeout: c.timeout}, nil
}

type gmailProvider struct {
	svc     *gmail.Service
	timeout time.Duration
}

// ListUnread returns at most max unread inbox messages.
func (p *gmailProvider) ListUnread(ctx context.Context, max int64) ([]Summary, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.svc.Users.Messages.List(userMe).Q(UnreadQuery).MaxResults(max).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("list unread messages: %w", err)
	}

	out := make([]Summary, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		out = append(out, Summary{ID: m.Id, ThreadID: m.ThreadId})
	}
	return out, nil
}

// GetMessage fetches and parses the full message.
func (p *gmailProvider) GetMessage(ctx context.Context, id string) (*Message, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	msg, err := p.svc.Users.Messages.Get(userMe, id).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("get message %s: %w", id, err)
	}

	parsed, err := parseGmailMessage(msg)
	if err != nil {
		return nil, fmt.Errorf("parse message %s: %w", id, err)
	}
	return parsed, nil
}

// MarkRead removes the UNREAD label.
func (p *gmailProvider) MarkRead(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	_, err := p.svc.Users.Messages.Modify(userMe, id, &gmail.ModifyMessageRequest{
		RemoveLabelIds: []string{labelUnread},
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("mark message %s read: %w", id, err)
	}
	return nil
}

// SendReply sends a raw RFC 5322 message inside threadID.
func (p *gmailProvider) SendReply(ctx context.Context, threadID string, raw []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	sent, err := p.svc.Users.Messages.Send(userMe, &gmail.Message{
		Raw:      base64.URLEncoding.EncodeToString(raw),
		ThreadId: threadID,
	}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("send reply in thread %s: %w", threadID, err)
	}
	return sent.Id, nil
}
