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

package mailbox

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/gmail/v1"
)

func b64(s string) string {
	return base64.URLEncoding.EncodeToString([]byte(s))
}

func TestExtractSender(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`"Jenny Smith" <jenny@acme.com>`, "jenny@acme.com"},
		{"Jenny <jenny@acme.com>", "jenny@acme.com"},
		{"<bare@acme.com>", "bare@acme.com"},
		{"  plain@acme.com  ", "plain@acme.com"},
		{"Broken <>", "Broken <>"},
		{"", "unknown"},
		{"   ", "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractSender(tt.in))
		})
	}
}

// TestExtractBody_FirstPlainPartDepthFirst verifies the first text/plain part
// in depth-first order is chosen over HTML and later plain parts.
func TestExtractBody_FirstPlainPartDepthFirst(t *testing.T) {
	payload := &gmail.MessagePart{
		MimeType: "multipart/mixed",
		Parts: []*gmail.MessagePart{
			{
				MimeType: "multipart/alternative",
				Parts: []*gmail.MessagePart{
					{MimeType: "text/html", Body: &gmail.MessagePartBody{Data: b64("<p>html</p>")}},
					{MimeType: "text/plain", Body: &gmail.MessagePartBody{Data: b64("nested plain")}},
				},
			},
			{MimeType: "text/plain", Body: &gmail.MessagePartBody{Data: b64("later plain")}},
		},
	}

	body, err := ExtractBody(payload)
	require.NoError(t, err)
	assert.Equal(t, "nested plain", body)
}

func TestExtractBody_SingularPayload(t *testing.T) {
	payload := &gmail.MessagePart{
		MimeType: "text/plain",
		Body:     &gmail.MessagePartBody{Data: b64("How do I reset my password?")},
	}

	body, err := ExtractBody(payload)
	require.NoError(t, err)
	assert.Equal(t, "How do I reset my password?", body)
}

// TestExtractBody_StdEncodingFallback verifies bodies in the standard base64
// alphabet still decode.
func TestExtractBody_StdEncodingFallback(t *testing.T) {
	raw := "a+b/c?>>"
	payload := &gmail.MessagePart{
		MimeType: "text/plain",
		Body:     &gmail.MessagePartBody{Data: base64.StdEncoding.EncodeToString([]byte(raw))},
	}

	body, err := ExtractBody(payload)
	require.NoError(t, err)
	assert.Equal(t, raw, body)
}

func TestExtractBody_HTMLOnly(t *testing.T) {
	payload := &gmail.MessagePart{
		MimeType: "multipart/alternative",
		Parts: []*gmail.MessagePart{
			{MimeType: "text/html", Body: &gmail.MessagePartBody{Data: b64("<p>Hello <strong>there</strong></p>")}},
		},
	}

	body, err := ExtractBody(payload)
	require.NoError(t, err)
	assert.Equal(t, "Hello **there**", body)
}

func TestExtractBody_Empty(t *testing.T) {
	body, err := ExtractBody(nil)
	require.NoError(t, err)
	assert.Empty(t, body)

	body, err = ExtractBody(&gmail.MessagePart{MimeType: "multipart/mixed"})
	require.NoError(t, err)
	assert.Empty(t, body)
}

func TestExtractBody_Undecodable(t *testing.T) {
	_, err := ExtractBody(&gmail.MessagePart{
		MimeType: "text/plain",
		Body:     &gmail.MessagePartBody{Data: "%%%not base64%%%"},
	})
	assert.Error(t, err)
}

func TestHeaderValue_CaseInsensitive(t *testing.T) {
	part := &gmail.MessagePart{Headers: []*gmail.MessagePartHeader{
		{Name: "Message-Id", Value: "<abc@mail.example>"},
	}}
	assert.Equal(t, "<abc@mail.example>", HeaderValue(part, "Message-ID"))
	assert.Empty(t, HeaderValue(part, "References"))
	assert.Empty(t, HeaderValue(nil, "From"))
}
