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

package compose

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awesbecher/poweredbyapp-sub000/internal/models"
)

func TestToneInstructions(t *testing.T) {
	tests := []struct {
		intent  models.Intent
		purpose string
		want    []string
	}{
		{models.IntentComplaint, "support", []string{EmpatheticTone}},
		{models.IntentSimpleInquiry, "support", []string{FriendlyTone}},
		{models.IntentGeneralRequest, "", []string{FriendlyTone}},
		{models.IntentFeedback, "", []string{AppreciativeTone}},
		{models.IntentUrgentRequest, "", []string{EfficientTone}},
		{models.IntentComplexInquiry, "", nil},
		{models.IntentOther, "Drive SALES for our SaaS", []string{PersuasiveTone}},
		{models.IntentComplaint, "Generate leads and upsell", []string{EmpatheticTone, PersuasiveTone}},
	}
	for _, tt := range tests {
		t.Run(string(tt.intent)+"/"+tt.purpose, func(t *testing.T) {
			assert.Equal(t, tt.want, ToneInstructions(tt.intent, tt.purpose))
		})
	}
}

// TestSystemPrompt_TemplateOverride verifies a per-intent template replaces
// the default tone but keeps the sales overlay.
func TestSystemPrompt_TemplateOverride(t *testing.T) {
	agent := &models.Agent{
		CompanyName: "Acme",
		Email:       "help@acme.com",
		Purpose:     "customer support and sales",
		PromptTemplates: map[models.Intent]string{
			models.IntentComplaint: "Always offer a 10% voucher.",
		},
	}
	prompt := SystemPrompt(Request{
		Agent:   agent,
		Message: &models.InboundMessage{Body: "x"},
		Intent:  models.IntentComplaint,
	})

	assert.Contains(t, prompt, "Always offer a 10% voucher.")
	assert.NotContains(t, prompt, EmpatheticTone)
	assert.Contains(t, prompt, PersuasiveTone)
}

func TestSystemPrompt_Sections(t *testing.T) {
	prompt := SystemPrompt(Request{
		Agent:     &models.Agent{CompanyName: "Acme", Email: "help@acme.com", Purpose: "support", Tone: "warm"},
		Message:   &models.InboundMessage{Subject: "Password", Body: "How do I reset?"},
		Intent:    models.IntentSimpleInquiry,
		Knowledge: []string{"Reset via Settings."},
		History:   []string{"Acme: Thanks for reaching out."},
	})

	assert.Contains(t, prompt, "email assistant for Acme")
	assert.Contains(t, prompt, "Preferred tone: warm")
	assert.Contains(t, prompt, FriendlyTone)
	assert.Contains(t, prompt, "Reset via Settings.")
	assert.Contains(t, prompt, "Acme: Thanks for reaching out.")
	assert.True(t, strings.Index(prompt, "Relevant knowledge") < strings.Index(prompt, "Previous replies"))
}

type fakeReplyStore struct {
	replies []string
	limit   int
	err     error
}

func (f *fakeReplyStore) RecentReplies(_ context.Context, _, _, _ string, limit int) ([]string, error) {
	f.limit = limit
	return f.replies, f.err
}

func TestHistoryReader_Recent(t *testing.T) {
	st := &fakeReplyStore{replies: []string{"first", "second"}}
	h := NewHistoryReader(st)

	got, err := h.Recent(context.Background(), &models.Agent{ID: "a1", CompanyName: "Acme"}, "jenny@acme.com", "m9")
	require.NoError(t, err)
	assert.Equal(t, []string{"Acme: first", "Acme: second"}, got)
	assert.Equal(t, 3, st.limit)

	_, err = NewHistoryReader(&fakeReplyStore{err: errors.New("db")}).Recent(context.Background(), &models.Agent{}, "x", "y")
	assert.Error(t, err)
}

type fakeCompleter struct {
	system, user string
	temperature  float64
	out          string
	err          error
}

func (f *fakeCompleter) Complete(_ context.Context, system, user string, temperature float64) (string, error) {
	f.system, f.user, f.temperature = system, user, temperature
	return f.out, f.err
}

func TestCompose_UsesBodyAsUserTurn(t *testing.T) {
	c := &fakeCompleter{out: "  Hi Jenny, here is how.  "}
	reply, err := NewComposer(c, 0.4).Compose(context.Background(), Request{
		Agent:   &models.Agent{CompanyName: "Acme"},
		Message: &models.InboundMessage{Body: "How do I reset my password?"},
		Intent:  models.IntentSimpleInquiry,
	})

	require.NoError(t, err)
	assert.Equal(t, "Hi Jenny, here is how.", reply)
	assert.Equal(t, "How do I reset my password?", c.user)
	assert.Equal(t, 0.4, c.temperature)
	assert.Contains(t, c.system, "Acme")
}

func TestCompose_Failures(t *testing.T) {
	req := Request{Agent: &models.Agent{}, Message: &models.InboundMessage{}}

	_, err := NewComposer(&fakeCompleter{err: errors.New("timeout")}, 0.7).Compose(context.Background(), req)
	assert.Error(t, err)

	_, err = NewComposer(&fakeCompleter{out: "   "}, 0.7).Compose(context.Background(), req)
	assert.Error(t, err)
}
