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
	"fmt"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"google.golang.org/api/gmail/v1"
)

// UnknownSender is used when a message carries no From header.
const UnknownSender = "unknown"

// Message is the subset of a provider message the pipeline needs.
type Message struct {
	ID                string
	ThreadID          string
	InternetMessageID string
	From              string
	Subject           string
	Body              string
	ReceivedAt        time.Time
}

// parseGmailMessage converts a full-format Gmail message into a Message.
func parseGmailMessage(msg *gmail.Message) (*Message, error) {
	body, err := ExtractBody(msg.Payload)
	if err != nil {
		return nil, fmt.Errorf("extract body: %w", err)
	}

	received := time.Now().UTC()
	if msg.InternalDate > 0 {
		received = time.UnixMilli(msg.InternalDate).UTC()
	}

	return &Message{
		ID:                msg.Id,
		ThreadID:          msg.ThreadId,
		InternetMessageID: HeaderValue(msg.Payload, "Message-ID"),
		From:              HeaderValue(msg.Payload, "From"),
		Subject:           HeaderValue(msg.Payload, "Subject"),
		Body:              body,
		ReceivedAt:        received,
	}, nil
}

// HeaderValue returns the first header matching name, case-insensitively.
func HeaderValue(part *gmail.MessagePart, name string) string {
	if part == nil {
		return ""
	}
	for _, h := range part.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// ExtractBody returns the message text. The first text/plain part in
// depth-first order wins; a non-multipart payload falls back to its own
// body; a message with only HTML is converted to Markdown text.
func ExtractBody(payload *gmail.MessagePart) (string, error) {
	if payload == nil {
		return "", nil
	}

	if len(payload.Parts) == 0 {
		if payload.Body == nil || payload.Body.Data == "" {
			return "", nil
		}
		text, err := decodeBody(payload.Body.Data)
		if err != nil {
			return "", err
		}
		if strings.HasPrefix(payload.MimeType, "text/html") {
			return htmlToText(text)
		}
		return text, nil
	}

	var plain, html string
	walkParts(payload, func(part *gmail.MessagePart) {
		if part.Body == nil || part.Body.Data == "" {
			return
		}
		switch {
		case plain == "" && strings.HasPrefix(part.MimeType, "text/plain"):
			plain = part.Body.Data
		case html == "" && strings.HasPrefix(part.MimeType, "text/html"):
			html = part.Body.Data
		}
	})

	if plain != "" {
		return decodeBody(plain)
	}
	if html != "" {
		text, err := decodeBody(html)
		if err != nil {
			return "", err
		}
		return htmlToText(text)
	}
	return "", nil
}

// ExtractSender returns the bracketed address from "Name <addr>", else the
// trimmed header value, else UnknownSender.
func ExtractSender(from string) string {
	from = strings.TrimSpace(from)
	if from == "" {
		return UnknownSender
	}
	if start := strings.LastIndex(from, "<"); start >= 0 {
		if end := strings.Index(from[start:], ">"); end > 1 {
			if addr := strings.TrimSpace(from[start+1 : start+end]); addr != "" {
				return addr
			}
		}
	}
	return from
}

// walkParts visits part and its descendants depth-first.
func walkParts(part *gmail.MessagePart, fn func(*gmail.MessagePart)) {
	if part == nil {
		return
	}

	fn(part)

	for _, subpart := range part.Parts {
		walkParts(subpart, fn)
	}
}

// decodeBody decodes Gmail's base64url body data, falling back to the
// unpadded and standard alphabets.
func decodeBody(data string) (string, error) {
	decoded, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		decoded, err = base64.RawURLEncoding.DecodeString(data)
	}
	if err != nil {
		decoded, err = base64.StdEncoding.DecodeString(data)
	}
	if err != nil {
		return "", fmt.Errorf("decode message body: %w", err)
	}
	return string(decoded), nil
}

func htmlToText(html string) (string, error) {
	md, err := htmltomarkdown.ConvertString(html)
	if err != nil {
		return "", fmt.Errorf("convert html body: %w", err)
	}
	return strings.TrimSpace(md), nil
}
