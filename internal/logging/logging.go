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

// Package logging provides the JSON slog setup and shared attribute helpers.
package logging

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"strings"
)

// Common log attribute keys.
const (
	KeyAgentID           = "agent_id"
	KeyMessageID         = "message_id"
	KeyProviderMessageID = "provider_message_id"
	KeyFunction          = "function"
	KeyError             = "error"
	KeyStatus            = "status"
	KeyIntent            = "intent"
	KeySender            = "sender_hash"
)

// Setup installs a JSON handler writing to w as the default logger.
func Setup(w io.Writer, level string) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: ParseLevel(level),
	}))
	slog.SetDefault(logger)
	return logger
}

// ParseLevel maps debug|info|warn|error to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Err returns an error attribute, or an empty group that slog omits when err is nil.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Group("")
	}
	return slog.String(KeyError, err.Error())
}

// AgentID returns the agent attribute.
func AgentID(id string) slog.Attr {
	return slog.String(KeyAgentID, id)
}

// MessageID returns the stored message attribute.
func MessageID(id string) slog.Attr {
	return slog.String(KeyMessageID, id)
}

// AnonymizeEmail hashes an address so log lines can be correlated without PII.
func AnonymizeEmail(email string) string {
	if email == "" {
		return ""
	}
	hash := sha256.Sum256([]byte(strings.ToLower(email)))
	return "sender:" + hex.EncodeToString(hash[:8])
}

// Sender returns the anonymized counterparty attribute.
func Sender(email string) slog.Attr {
	return slog.String(KeySender, AnonymizeEmail(email))
}
