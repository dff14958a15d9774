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

// Package dedup provides short-lived claims using Redis SETNX with TTL.
// The poller claims a message before triggering generation so overlapping
// poll cycles do not enqueue it twice, and the dispatcher claims a message
// while sending so concurrent approvals cannot send it twice.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL is how long a claim is held.
	DefaultTTL = 10 * time.Minute

	// keyPrefix namespaces claim keys in Redis.
	keyPrefix = "mailagent:claim:"
)

// Filter tracks claimed keys.
type Filter struct {
	rdb redis.Cmdable
	ttl time.Duration
}

// NewFilter creates a claim filter backed by Redis. A zero ttl uses DefaultTTL.
func NewFilter(rdb redis.Cmdable, ttl time.Duration) *Filter {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Filter{
		rdb: rdb,
		ttl: ttl,
	}
}

// IsNew returns true if key has NOT been claimed before.
// If true, the key is claimed atomically (SETNX).
func (f *Filter) IsNew(ctx context.Context, key string) (bool, error) {
	// SET NX = set only if key does not exist. Returns true if the key was set.
	set, err := f.rdb.SetNX(ctx, keyPrefix+key, 1, f.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup SETNX: %w", err)
	}

	return set, nil
}

// Release drops a claim so the key can be claimed again.
func (f *Filter) Release(ctx context.Context, key string) error {
	if err := f.rdb.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("dedup DEL: %w", err)
	}
	return nil
}

// GenerateKey is the claim key for triggering reply generation.
func GenerateKey(agentID, providerMessageID string) string {
	return "generate:" + agentID + ":" + providerMessageID
}

// DispatchKey is the claim key for sending a reply.
func DispatchKey(messageID string) string {
	return "dispatch:" + messageID
}
