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

// Package queue carries pipeline jobs over a Redis list. The poller and the
// reply generator publish; the worker consumes and routes each job.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/awesbecher/poweredbyapp-sub000/internal/logging"
)

// DefaultQueue is the Redis list jobs are pushed to.
const DefaultQueue = "mailagent:jobs"

// JobType selects the handler for a job.
type JobType string

const (
	JobGenerateReply JobType = "generate_reply"
	JobDispatchReply JobType = "dispatch_reply"
)

// Job is one unit of downstream work. Handlers re-read state from the
// datastore; the ids are the only authoritative fields.
type Job struct {
	ID         string    `json:"id"`
	Type       JobType   `json:"type"`
	AgentID    string    `json:"agent_id"`
	MessageID  string    `json:"message_id"`
	ReplyText  string    `json:"reply_text,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Publisher pushes jobs onto the queue.
type Publisher struct {
	rdb       redis.Cmdable
	queueName string
}

// NewPublisher creates a new Redis publisher targeting the specified queue.
func NewPublisher(rdb redis.Cmdable, queueName string) *Publisher {
	if queueName == "" {
		queueName = DefaultQueue
	}
	return &Publisher{
		rdb:       rdb,
		queueName: queueName,
	}
}

// Publish serialises a job and pushes it with LPUSH. The worker pops from
// the other end, so jobs are handled in publish order.
func (p *Publisher) Publish(ctx context.Context, job Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := p.rdb.LPush(ctx, p.queueName, data).Err(); err != nil {
		return fmt.Errorf("redis LPUSH: %w", err)
	}

	slog.Info("published job",
		"job_id", job.ID,
		"type", job.Type,
		logging.AgentID(job.AgentID),
		logging.MessageID(job.MessageID),
		"queue", p.queueName,
	)
	return nil
}

// TriggerGenerate requests reply generation for a stored message.
func (p *Publisher) TriggerGenerate(ctx context.Context, agentID, messageID string) error {
	return p.Publish(ctx, Job{Type: JobGenerateReply, AgentID: agentID, MessageID: messageID})
}

// TriggerDispatch requests sending a reply.
func (p *Publisher) TriggerDispatch(ctx context.Context, agentID, messageID, replyText string) error {
	return p.Publish(ctx, Job{Type: JobDispatchReply, AgentID: agentID, MessageID: messageID, ReplyText: replyText})
}

// Depth returns the number of queued jobs.
func (p *Publisher) Depth(ctx context.Context) (int64, error) {
	return p.rdb.LLen(ctx, p.queueName).Result()
}

// Ping checks the Redis connection.
func (p *Publisher) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return p.rdb.Ping(ctx).Err()
}
