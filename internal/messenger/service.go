package messenger

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jjnetworks/notify/internal/domain"
	"github.com/jjnetworks/notify/internal/log"
)

// LogStore persists delivery attempts.
type LogStore interface {
	InsertMessageLog(ctx context.Context, m domain.MessageLog) (domain.MessageLog, error)
	SetMessageLogStatus(ctx context.Context, id int64, status string) error
}

// Service combines a Sender with delivery logging: every attempt leaves a
// message_logs row, including skips while sending is disabled.
type Service struct {
	sender Sender
	store  LogStore
	logger *slog.Logger
}

// NewService creates a Service. store may be nil, in which case attempts are
// not persisted.
func NewService(sender Sender, store LogStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = log.Discard()
	}
	return &Service{sender: sender, store: store, logger: logger}
}

// Deliver sends one message to a client and records the outcome. A disabled
// sender logs the attempt as skipped and returns nil; real failures are
// logged as failed and returned.
func (s *Service) Deliver(ctx context.Context, client domain.Client, title, text string) error {
	entry := domain.MessageLog{
		ClientID: client.ID,
		Title:    title,
		Message:  text,
		Status:   domain.MessageStatusPending,
	}
	if s.store != nil {
		var err error
		if entry, err = s.store.InsertMessageLog(ctx, entry); err != nil {
			s.logger.Warn("message log insert failed", "client", client.ID, "err", err)
		}
	}

	err := s.sender.Send(ctx, client.MessengerID, text)
	switch {
	case err == nil:
		s.finalize(ctx, entry.ID, domain.MessageStatusSent)
		s.logger.Info("message sent", "client", client.ID, "title", title)
		return nil
	case errors.Is(err, domain.ErrMessengerDisabled):
		s.finalize(ctx, entry.ID, domain.MessageStatusSkipped)
		s.logger.Debug("message skipped, sending disabled", "client", client.ID, "title", title)
		return nil
	default:
		s.finalize(ctx, entry.ID, domain.MessageStatusFailed)
		s.logger.Warn("message delivery failed", "client", client.ID, "title", title, "err", err)
		return &domain.DeliveryError{ClientID: client.ID, Op: "send", Err: err}
	}
}

func (s *Service) finalize(ctx context.Context, id int64, status string) {
	if s.store == nil || id == 0 {
		return
	}
	if err := s.store.SetMessageLogStatus(ctx, id, status); err != nil {
		s.logger.Warn("message log update failed", "log", id, "err", err)
	}
}
