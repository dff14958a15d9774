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

package token

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/awesbecher/poweredbyapp-sub000/internal/models"
)

type fakeRefresher struct {
	calls int
	tok   *oauth2.Token
	err   error
}

func (f *fakeRefresher) Refresh(_ context.Context, _ string) (*oauth2.Token, error) {
	f.calls++
	return f.tok, f.err
}

type tokenUpdate struct {
	agentID, access, refresh string
	expiry                   time.Time
}

type fakeStore struct {
	updates []tokenUpdate
	err     error
}

func (f *fakeStore) UpdateAgentToken(_ context.Context, agentID, access, refresh string, expiry time.Time) error {
	f.updates = append(f.updates, tokenUpdate{agentID, access, refresh, expiry})
	return f.err
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestManager(st Store, r Refresher) *Manager {
	return NewManager(ManagerConfig{
		Store:     st,
		Refresher: r,
		Lifetime:  time.Hour,
		Now:       func() time.Time { return fixedNow },
	})
}

// TestAccessToken_Unexpired verifies a valid token is returned without refresh.
func TestAccessToken_Unexpired(t *testing.T) {
	r := &fakeRefresher{}
	st := &fakeStore{}
	m := newTestManager(st, r)

	agent := &models.Agent{ID: "a1", AccessToken: "cur", RefreshToken: "rt", TokenExpiry: fixedNow.Add(time.Second)}
	tok, err := m.AccessToken(context.Background(), agent)

	require.NoError(t, err)
	assert.Equal(t, "cur", tok)
	assert.Zero(t, r.calls)
	assert.Empty(t, st.updates)
}

// TestAccessToken_ExpiryEqualsNow verifies expiry == now counts as expired.
func TestAccessToken_ExpiryEqualsNow(t *testing.T) {
	r := &fakeRefresher{tok: &oauth2.Token{AccessToken: "fresh"}}
	st := &fakeStore{}
	m := newTestManager(st, r)

	agent := &models.Agent{ID: "a1", AccessToken: "old", RefreshToken: "rt", TokenExpiry: fixedNow}
	tok, err := m.AccessToken(context.Background(), agent)

	require.NoError(t, err)
	assert.Equal(t, "fresh", tok)
	assert.Equal(t, 1, r.calls)
	require.Len(t, st.updates, 1)
	assert.Equal(t, tokenUpdate{"a1", "fresh", "", fixedNow.Add(time.Hour)}, st.updates[0])
	assert.Equal(t, "fresh", agent.AccessToken)
	assert.Equal(t, fixedNow.Add(time.Hour), agent.TokenExpiry)
}

func TestAccessToken_RotatedRefreshTokenPersisted(t *testing.T) {
	r := &fakeRefresher{tok: &oauth2.Token{AccessToken: "fresh", RefreshToken: "rt2"}}
	st := &fakeStore{}
	m := newTestManager(st, r)

	agent := &models.Agent{ID: "a1", RefreshToken: "rt"}
	_, err := m.AccessToken(context.Background(), agent)

	require.NoError(t, err)
	require.Len(t, st.updates, 1)
	assert.Equal(t, "rt2", st.updates[0].refresh)
	assert.Equal(t, "rt2", agent.RefreshToken)
}

// TestAccessToken_RefreshFailure verifies refresh errors surface as
// ErrCredentialRefreshFailed and nothing is persisted.
func TestAccessToken_RefreshFailure(t *testing.T) {
	r := &fakeRefresher{err: errors.New("invalid_grant")}
	st := &fakeStore{}
	m := newTestManager(st, r)

	_, err := m.AccessToken(context.Background(), &models.Agent{ID: "a1", RefreshToken: "revoked"})

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCredentialRefreshFailed))
	assert.Contains(t, err.Error(), "invalid_grant")
	assert.Empty(t, st.updates)
}

func TestAccessToken_NoRefreshToken(t *testing.T) {
	r := &fakeRefresher{}
	m := newTestManager(&fakeStore{}, r)

	_, err := m.AccessToken(context.Background(), &models.Agent{ID: "a1", AccessToken: "stale", TokenExpiry: fixedNow.Add(-time.Minute)})

	assert.True(t, errors.Is(err, ErrCredentialRefreshFailed))
	assert.Zero(t, r.calls)
}

// TestAccessToken_PersistFailure verifies a store error is returned and is
// not mistaken for a credential failure.
func TestAccessToken_PersistFailure(t *testing.T) {
	r := &fakeRefresher{tok: &oauth2.Token{AccessToken: "fresh"}}
	m := newTestManager(&fakeStore{err: errors.New("db down")}, r)

	_, err := m.AccessToken(context.Background(), &models.Agent{ID: "a1", RefreshToken: "rt"})

	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrCredentialRefreshFailed))
}

// TestOAuthRefresher_TokenEndpoint verifies the refresh_token grant against a
// fake token endpoint.
func TestOAuthRefresher_TokenEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		assert.Equal(t, "rt-1", r.Form.Get("refresh_token"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"at-2","token_type":"Bearer","expires_in":3599}`))
	}))
	defer srv.Close()

	r := NewOAuthRefresher("client", "secret", srv.URL)
	tok, err := r.Refresh(context.Background(), "rt-1")

	require.NoError(t, err)
	assert.Equal(t, "at-2", tok.AccessToken)
}

func TestOAuthRefresher_InvalidGrant(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant","error_description":"Token has been expired or revoked."}`))
	}))
	defer srv.Close()

	r := NewOAuthRefresher("client", "secret", srv.URL)
	_, err := r.Refresh(context.Background(), "revoked")
	assert.Error(t, err)
}
