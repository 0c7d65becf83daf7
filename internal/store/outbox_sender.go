// This file implements the OutboxSender that delivers queued ledger calls.
package store

import (
	"context"
	"log/slog"
	"time"
)

// DefaultMaxAttempts is the number of failed sends after which a message is
// marked failed and no longer retried.
const DefaultMaxAttempts = 8

// OutboxSendFunc is the callback that performs the actual delivery.
// It receives the outbox message and should return an error if sending failed.
type OutboxSendFunc func(ctx context.Context, msg OutboxMessage) error

// OutboxSender periodically claims due outbox messages and attempts to send them.
type OutboxSender struct {
	repo           OutboxRepo
	sendFunc       OutboxSendFunc
	pollInterval   time.Duration
	staleThreshold time.Duration
	claimLimit     int
	maxAttempts    int
	now            func() time.Time
}

// NewOutboxSender creates a new OutboxSender.
func NewOutboxSender(repo OutboxRepo, sendFunc OutboxSendFunc, pollInterval time.Duration) *OutboxSender {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &OutboxSender{
		repo:           repo,
		sendFunc:       sendFunc,
		pollInterval:   pollInterval,
		staleThreshold: 5 * time.Minute,
		claimLimit:     10,
		maxAttempts:    DefaultMaxAttempts,
		now:            time.Now,
	}
}

// SetMaxAttempts overrides DefaultMaxAttempts. Values <= 0 are ignored.
func (s *OutboxSender) SetMaxAttempts(n int) {
	if n > 0 {
		s.maxAttempts = n
	}
}

// RecoverStaleMessages requeues messages stuck in sending state (crash recovery).
// Should be called once at startup and periodically afterwards.
func (s *OutboxSender) RecoverStaleMessages() error {
	staleBefore := s.now().Add(-s.staleThreshold)
	n, err := s.repo.RequeueStaleSendingMessages(staleBefore)
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("OutboxSender.RecoverStaleMessages: requeued stale messages", "count", n)
	}
	return nil
}

// Run starts the polling loop. It blocks until the context is cancelled.
func (s *OutboxSender) Run(ctx context.Context) {
	slog.Info("OutboxSender.Run: starting outbox sender", "pollInterval", s.pollInterval)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("OutboxSender.Run: stopping")
			return
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

// Drain claims and sends due messages until none remain or ctx is done.
// It returns the number of messages delivered successfully.
func (s *OutboxSender) Drain(ctx context.Context) int {
	total := 0
	for ctx.Err() == nil {
		sent, claimed := s.poll(ctx)
		total += sent
		if claimed == 0 {
			break
		}
	}
	return total
}

func (s *OutboxSender) poll(ctx context.Context) (sent, claimed int) {
	now := s.now()
	msgs, err := s.repo.ClaimDueOutboxMessages(now, s.claimLimit)
	if err != nil {
		slog.Error("OutboxSender.poll: claim failed", "error", err)
		return 0, 0
	}

	for _, msg := range msgs {
		slog.Debug("OutboxSender.poll: sending message", "id", msg.ID, "kind", msg.Kind)
		if err := s.sendFunc(ctx, msg); err != nil {
			if msg.Attempts+1 >= s.maxAttempts {
				slog.Error("OutboxSender.poll: giving up on message", "id", msg.ID, "attempts", msg.Attempts+1, "error", err)
				if err := s.repo.GiveUpOutboxMessage(msg.ID, err.Error()); err != nil {
					slog.Error("OutboxSender.poll: give up error", "id", msg.ID, "error", err)
				}
				continue
			}
			slog.Warn("OutboxSender.poll: send failed", "id", msg.ID, "error", err)
			// Exponential backoff: 10s, 20s, 40s, ...
			backoff := time.Duration(10*(1<<msg.Attempts)) * time.Second
			if err := s.repo.FailOutboxMessage(msg.ID, err.Error(), now.Add(backoff)); err != nil {
				slog.Error("OutboxSender.poll: fail message error", "id", msg.ID, "error", err)
			}
			continue
		}
		if err := s.repo.MarkOutboxMessageSent(msg.ID); err != nil {
			slog.Error("OutboxSender.poll: mark sent error", "id", msg.ID, "error", err)
			continue
		}
		sent++
		slog.Debug("OutboxSender.poll: message sent", "id", msg.ID, "kind", msg.Kind)
	}
	return sent, len(msgs)
}
