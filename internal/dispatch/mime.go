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

package dispatch

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
)

// ReplySubject prefixes subject with "Re: " unless it already starts with
// a reply marker. Applying it twice yields the same result.
func ReplySubject(subject string) string {
	trimmed := strings.TrimSpace(subject)
	if strings.HasPrefix(strings.ToLower(trimmed), "re:") {
		return trimmed
	}
	return strings.TrimSpace("Re: " + trimmed)
}

// Reply is the content of one outbound reply.
type Reply struct {
	FromName    string
	FromAddress string
	To          string
	Subject     string
	// InReplyTo is the original RFC 5322 Message-ID, with or without brackets.
	InReplyTo string
	Body      string
	Date      time.Time
}

// BuildReply renders r as an RFC 5322 message with threading headers, an
// RFC 2047 encoded subject and a quoted-printable UTF-8 body.
func BuildReply(r Reply) ([]byte, error) {
	if !strings.Contains(r.To, "@") {
		return nil, fmt.Errorf("invalid recipient %q", r.To)
	}

	var h mail.Header
	h.SetDate(r.Date)
	h.SetAddressList("From", []*mail.Address{{Name: r.FromName, Address: r.FromAddress}})
	h.SetAddressList("To", []*mail.Address{{Address: r.To}})
	h.SetSubject(ReplySubject(r.Subject))
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})

	if id := strings.Trim(strings.TrimSpace(r.InReplyTo), "<>"); id != "" {
		h.SetMsgIDList("In-Reply-To", []string{id})
		h.SetMsgIDList("References", []string{id})
	}
	if err := h.GenerateMessageIDWithHostname(hostOf(r.FromAddress)); err != nil {
		return nil, fmt.Errorf("generate message id: %w", err)
	}

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("create mime writer: %w", err)
	}
	if _, err := w.Write([]byte(r.Body)); err != nil {
		return nil, fmt.Errorf("write reply body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close mime writer: %w", err)
	}
	return buf.Bytes(), nil
}

func hostOf(addr string) string {
	if i := strings.LastIndex(addr, "@"); i >= 0 && i < len(addr)-1 {
		return addr[i+1:]
	}
	return "localhost"
}
