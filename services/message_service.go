package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/errors"
	"chat-relay/runtime"
)

type IMessageService interface {
	Send(ctx context.Context, cmd domain.SendMessageCommand) (domain.Message, error)
	MarkRead(ctx context.Context, cmd domain.MarkReadCommand) error
	History(a, b string) ([]domain.Message, error)
}

// MessageService routes point-to-point messages: persist first, then attempt
// immediate delivery, then propagate status transitions. All status work for
// a given message runs under its per-ID lock so a mark-read arriving during
// a send cannot interleave between the delivery check and the status update.
type MessageService struct {
	log             *slog.Logger
	messages        contract.IMessageRepository
	registry        contract.IRegistry
	locks           *runtime.MessageLocks
	deliveryTimeout time.Duration
}

func NewMessageService(log *slog.Logger, messages contract.IMessageRepository,
	registry contract.IRegistry, locks *runtime.MessageLocks,
	deliveryTimeout time.Duration) *MessageService {
	return &MessageService{
		log:             log,
		messages:        messages,
		registry:        registry,
		locks:           locks,
		deliveryTimeout: deliveryTimeout,
	}
}

// Send validates, persists with status "sent", and delivers synchronously
// when the receiver is online, in which case the returned message carries
// "delivered". Persistence failure aborts the send: no partial send is ever
// acknowledged. Offline receivers get nothing; catch-up is an explicit
// history fetch on reconnect, never a queue.
func (s *MessageService) Send(ctx context.Context, cmd domain.SendMessageCommand) (domain.Message, error) {
	if strings.TrimSpace(cmd.Text) == "" {
		return domain.Message{}, errors.ErrEmptyMessage
	}
	if strings.TrimSpace(cmd.ReceiverID) == "" {
		return domain.Message{}, errors.ErrInvalidReceiver
	}

	message := domain.Message{
		ID:         uuid.New(),
		SenderID:   cmd.SenderID,
		ReceiverID: cmd.ReceiverID,
		Text:       cmd.Text,
		Status:     domain.StatusSent,
		CreatedAt:  time.Now().UTC(),
	}

	unlock := s.locks.Lock(message.ID.String())
	defer unlock()

	if err := s.messages.Create(message); err != nil {
		return domain.Message{}, fmt.Errorf("persisting message: %w", err)
	}

	receiver, online := s.registry.Lookup(cmd.ReceiverID)
	if !online {
		return message, nil
	}

	deliverCtx, cancel := context.WithTimeout(ctx, s.deliveryTimeout)
	defer cancel()
	err := receiver.Sink.Consume(deliverCtx, event.MessageReceived{Message: event.ToMessagePayload(message)})
	if err != nil {
		// The receiver is mid-disconnect or lagging; the message stays
		// "sent" and reaches them through a later history fetch.
		s.log.Warn("Synchronous delivery failed", "message_id", message.ID, "receiver", cmd.ReceiverID, "err", err)
		return message, nil
	}

	delivered, err := s.messages.UpdateStatus(message.ID.String(), domain.StatusDelivered, time.Now().UTC())
	if err != nil {
		return domain.Message{}, fmt.Errorf("recording delivery: %w", err)
	}
	return delivered, nil
}

// MarkRead sets the read status and notifies the online original sender.
// A missing message is logged, not surfaced. Only the stored receiver may
// mark a message read; other callers are logged and dropped.
func (s *MessageService) MarkRead(ctx context.Context, cmd domain.MarkReadCommand) error {
	unlock := s.locks.Lock(cmd.MessageID)
	defer unlock()

	message, err := s.messages.FindByID(cmd.MessageID)
	if err != nil {
		s.log.Warn("Mark-read for unknown message", "message_id", cmd.MessageID, "err", err)
		return nil
	}

	if message.ReceiverID != cmd.ReaderID {
		s.log.Warn("Mark-read rejected",
			"message_id", cmd.MessageID, "caller", cmd.ReaderID, "err", errors.ErrNotReceiver)
		return nil
	}

	updated, err := s.messages.UpdateStatus(cmd.MessageID, domain.StatusRead, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("recording read: %w", err)
	}

	sender, online := s.registry.Lookup(updated.SenderID)
	if !online {
		return nil
	}

	notifyCtx, cancel := context.WithTimeout(ctx, s.deliveryTimeout)
	defer cancel()
	err = sender.Sink.Consume(notifyCtx, event.MessageStatusUpdated{
		MessageID: updated.ID.String(),
		Status:    updated.Status,
		ReadAt:    updated.ReadAt,
	})
	if err != nil {
		s.log.Debug("Read receipt lost", "message_id", cmd.MessageID, "err", err)
	}
	return nil
}

// History returns the conversation between two users in chronological order.
func (s *MessageService) History(a, b string) ([]domain.Message, error) {
	return s.messages.FindHistoryBetween(a, b)
}
