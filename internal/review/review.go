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

// Package review implements the human entry points: approve-and-send,
// reject, edit-and-send, rating and regeneration.
package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/awesbecher/poweredbyapp-sub000/internal/logging"
	"github.com/awesbecher/poweredbyapp-sub000/internal/models"
	"github.com/awesbecher/poweredbyapp-sub000/internal/notify"
)

var (
	// ErrNotReviewable is returned when the action does not apply to the
	// message's current status.
	ErrNotReviewable = errors.New("message is not reviewable")

	// ErrInvalidRating is returned for ratings outside 1-5.
	ErrInvalidRating = errors.New("rating must be between 1 and 5")

	// ErrEmptyReply is returned when edit-and-send gets no text.
	ErrEmptyReply = errors.New("reply text is empty")
)

// Store is the persistence review actions need.
type Store interface {
	GetMessage(ctx context.Context, id string) (*models.InboundMessage, error)
	ListMessagesByStatus(ctx context.Context, agentID string, status models.Status, limit int) ([]models.InboundMessage, error)
	UpdateStatus(ctx context.Context, id string, from, to models.Status) error
	SaveRating(ctx context.Context, id string, rating int, feedback *string) error
}

// Sender dispatches a reply synchronously.
type Sender interface {
	Dispatch(ctx context.Context, agentID, messageID, replyText string) error
}

// GenerateTrigger requests reply generation.
type GenerateTrigger interface {
	TriggerGenerate(ctx context.Context, agentID, messageID string) error
}

// Service runs review actions.
type Service struct {
	store     Store
	sender    Sender
	generator GenerateTrigger
	reporter  notify.Reporter
}

// NewService creates a review service.
func NewService(store Store, sender Sender, generator GenerateTrigger, reporter notify.Reporter) *Service {
	if reporter == nil {
		reporter = notify.Nop{}
	}
	return &Service{store: store, sender: sender, generator: generator, reporter: reporter}
}

// Pending lists replies awaiting approval, newest first.
func (s *Service) Pending(ctx context.Context, agentID string, limit int) ([]models.InboundMessage, error) {
	return s.List(ctx, agentID, models.StatusAwaitingApproval, limit)
}

// List lists messages in a status, newest first.
func (s *Service) List(ctx context.Context, agentID string, status models.Status, limit int) ([]models.InboundMessage, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("unknown status %q", status)
	}
	msgs, err := s.store.ListMessagesByStatus(ctx, agentID, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list %s messages: %w", status, err)
	}
	return msgs, nil
}

// Approve sends the stored reply. A message stuck in received after a failed
// automatic send can be approved once it has a reply.
func (s *Service) Approve(ctx context.Context, messageID string) error {
	msg, err := s.load(ctx, messageID)
	if err != nil {
		return err
	}
	if !sendable(msg) || msg.ReplyText() == "" {
		return notReviewable(msg, "approve")
	}
	s.logAction("approve", msg)
	return s.sender.Dispatch(ctx, msg.AgentID, msg.ID, "")
}

// EditAndSend sends text in place of the stored reply.
func (s *Service) EditAndSend(ctx context.Context, messageID, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyReply
	}
	msg, err := s.load(ctx, messageID)
	if err != nil {
		return err
	}
	if !sendable(msg) {
		return notReviewable(msg, "send")
	}
	s.logAction("edit_and_send", msg)
	return s.sender.Dispatch(ctx, msg.AgentID, msg.ID, text)
}

// Reject closes the message without replying.
func (s *Service) Reject(ctx context.Context, messageID string) error {
	msg, err := s.load(ctx, messageID)
	if err != nil {
		return err
	}
	if !models.CanTransition(msg.Status, models.StatusRejected) {
		return notReviewable(msg, "reject")
	}
	if err := s.store.UpdateStatus(ctx, msg.ID, msg.Status, models.StatusRejected); err != nil {
		return s.fail(ctx, msg, fmt.Errorf("reject message: %w", err))
	}
	s.logAction("reject", msg)
	return nil
}

// Rate records a human rating of a sent reply. Ratings feed the auto-send
// track record.
func (s *Service) Rate(ctx context.Context, messageID string, rating int, feedback *string) error {
	if rating < 1 || rating > 5 {
		return ErrInvalidRating
	}
	msg, err := s.load(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.Status != models.StatusReplied {
		return notReviewable(msg, "rate")
	}
	if feedback != nil && strings.TrimSpace(*feedback) == "" {
		feedback = nil
	}
	if err := s.store.SaveRating(ctx, msg.ID, rating, feedback); err != nil {
		return s.fail(ctx, msg, fmt.Errorf("save rating: %w", err))
	}
	s.logAction("rate", msg)
	return nil
}

// Regenerate requests a fresh reply for a message still in received, such
// as one whose composition failed.
func (s *Service) Regenerate(ctx context.Context, messageID string) error {
	msg, err := s.load(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.Status != models.StatusReceived {
		return notReviewable(msg, "regenerate")
	}
	if err := s.generator.TriggerGenerate(ctx, msg.AgentID, msg.ID); err != nil {
		return s.fail(ctx, msg, fmt.Errorf("trigger generation: %w", err))
	}
	s.logAction("regenerate", msg)
	return nil
}

func (s *Service) load(ctx context.Context, id string) (*models.InboundMessage, error) {
	msg, err := s.store.GetMessage(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load message %s: %w", id, err)
	}
	return msg, nil
}

func (s *Service) fail(ctx context.Context, msg *models.InboundMessage, err error) error {
	s.reporter.Report(ctx, notify.Failure{
		Function: notify.FuncReview,
		Err:      err,
		AgentID:  msg.AgentID,
		Metadata: map[string]any{"message_id": msg.ID},
	})
	return err
}

func (s *Service) logAction(action string, msg *models.InboundMessage) {
	slog.Info("review action",
		"action", action,
		logging.AgentID(msg.AgentID),
		logging.MessageID(msg.ID),
		logging.KeyStatus, msg.Status,
	)
}

func sendable(msg *models.InboundMessage) bool {
	return models.CanTransition(msg.Status, models.StatusReplied)
}

func notReviewable(msg *models.InboundMessage, action string) error {
	return fmt.Errorf("%s message %s in status %s: %w", action, msg.ID, msg.Status, ErrNotReviewable)
}
