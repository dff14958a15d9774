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

// Package token keeps each agent's mailbox access token valid, refreshing
// and persisting it when the stored expiry has passed.
package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/awesbecher/poweredbyapp-sub000/internal/logging"
	"github.com/awesbecher/poweredbyapp-sub000/internal/metrics"
	"github.com/awesbecher/poweredbyapp-sub000/internal/models"
)

// ErrCredentialRefreshFailed is returned when the refresh token cannot be
// exchanged. Callers skip the agent rather than abort the batch.
var ErrCredentialRefreshFailed = errors.New("credential refresh failed")

// gmailScopes are requested when exchanging refresh tokens.
var gmailScopes = []string{
	"https://www.googleapis.com/auth/gmail.modify",
	"https://www.googleapis.com/auth/gmail.send",
}

// Refresher exchanges a refresh token for a new access token.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// Store persists refreshed credentials.
type Store interface {
	UpdateAgentToken(ctx context.Context, agentID, accessToken, refreshToken string, expiry time.Time) error
}

// OAuthRefresher refreshes tokens against the Google OAuth endpoint.
type OAuthRefresher struct {
	cfg *oauth2.Config
}

// NewOAuthRefresher builds a refresher for the given OAuth client. An empty
// tokenURL uses Google's endpoint.
func NewOAuthRefresher(clientID, clientSecret, tokenURL string) *OAuthRefresher {
	endpoint := google.Endpoint
	if tokenURL != "" {
		endpoint.TokenURL = tokenURL
	}
	return &OAuthRefresher{cfg: &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     endpoint,
		Scopes:       gmailScopes,
	}}
}

// Refresh performs a single refresh_token grant.
func (r *OAuthRefresher) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	return r.cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
}

// Manager hands out valid access tokens for agents.
type Manager struct {
	store     Store
	refresher Refresher
	lifetime  time.Duration
	timeout   time.Duration
	now       func() time.Time
}

// ManagerConfig holds the configuration for the token manager.
type ManagerConfig struct {
	Store     Store
	Refresher Refresher
	// Lifetime is the validity assumed for a freshly refreshed token.
	Lifetime time.Duration
	// Timeout bounds a single refresh call.
	Timeout time.Duration
	// Now overrides the clock in tests.
	Now func() time.Time
}

// NewManager creates a token manager.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Lifetime <= 0 {
		cfg.Lifetime = time.Hour
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Manager{
		store:     cfg.Store,
		refresher: cfg.Refresher,
		lifetime:  cfg.Lifetime,
		timeout:   cfg.Timeout,
		now:       cfg.Now,
	}
}

// AccessToken returns a currently valid access token for the agent. An
// expiry at or before now counts as expired and triggers one refresh, after
// which the new token and expiry are persisted and written back to agent.
func (m *Manager) AccessToken(ctx context.Context, agent *models.Agent) (string, error) {
	now := m.now()
	if agent.AccessToken != "" && agent.TokenExpiry.After(now) {
		return agent.AccessToken, nil
	}

	if agent.RefreshToken == "" {
		metrics.TokenRefreshes.WithLabelValues(metrics.ResultError).Inc()
		return "", fmt.Errorf("agent %s has no refresh token: %w", agent.ID, ErrCredentialRefreshFailed)
	}

	refreshCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	tok, err := m.refresher.Refresh(refreshCtx, agent.RefreshToken)
	if err != nil {
		metrics.TokenRefreshes.WithLabelValues(metrics.ResultError).Inc()
		return "", fmt.Errorf("refresh token for agent %s: %w: %v", agent.ID, ErrCredentialRefreshFailed, err)
	}
	if tok == nil || tok.AccessToken == "" {
		metrics.TokenRefreshes.WithLabelValues(metrics.ResultError).Inc()
		return "", fmt.Errorf("refresh token for agent %s: empty access token: %w", agent.ID, ErrCredentialRefreshFailed)
	}

	expiry := now.Add(m.lifetime)
	rotated := ""
	if tok.RefreshToken != "" && tok.RefreshToken != agent.RefreshToken {
		rotated = tok.RefreshToken
	}

	if err := m.store.UpdateAgentToken(ctx, agent.ID, tok.AccessToken, rotated, expiry); err != nil {
		metrics.TokenRefreshes.WithLabelValues(metrics.ResultError).Inc()
		return "", fmt.Errorf("persist refreshed token for agent %s: %w", agent.ID, err)
	}
	metrics.TokenRefreshes.WithLabelValues(metrics.ResultSuccess).Inc()

	agent.AccessToken = tok.AccessToken
	agent.TokenExpiry = expiry
	if rotated != "" {
		agent.RefreshToken = rotated
	}

	slog.Info("access token refreshed",
		logging.AgentID(agent.ID),
		"expires_at", expiry,
		"rotated_refresh_token", rotated != "",
	)
	return tok.AccessToken, nil
}
