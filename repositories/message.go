//go:generate go run go.uber.org/mock/mockgen -source=message.go -destination=../mocks/mock_message_repository.go -package=mocks
package repositories

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"chat-relay/domain"
	"chat-relay/errors"
)

// MessageRepository persists messages in BadgerDB.
//
// Primary keys are conversation-scoped: "msg:{lo|hi}:{timestamp_padded}:{uuid}".
// The 19-digit zero padding keeps messages chronologically sorted under
// lexicographic iteration, and the trailing UUID disambiguates two messages
// arriving at the same nanosecond. A secondary key "msgid:{uuid}" points at
// the primary key so delivery/read transitions can address a message by ID.
type MessageRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewMessageRepository(db *badger.DB, log *slog.Logger) *MessageRepository {
	return &MessageRepository{db: db, log: log}
}

type messageRecord struct {
	ID          string     `cbor:"id"`
	SenderID    string     `cbor:"sender_id"`
	ReceiverID  string     `cbor:"receiver_id"`
	Text        string     `cbor:"text"`
	Status      string     `cbor:"status"`
	CreatedAt   time.Time  `cbor:"created_at"`
	DeliveredAt *time.Time `cbor:"delivered_at,omitempty"`
	ReadAt      *time.Time `cbor:"read_at,omitempty"`
}

// conversationScope orders the two participant IDs so both directions of a
// conversation share one key prefix.
func conversationScope(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "|" + b
}

func messageKey(m domain.Message) []byte {
	return []byte(fmt.Sprintf("msg:%s:%019d:%s",
		conversationScope(m.SenderID, m.ReceiverID),
		m.CreatedAt.UnixNano(),
		m.ID,
	))
}

func messageIDKey(id string) []byte { return []byte("msgid:" + id) }

// Create persists a new message and its by-ID pointer in one transaction.
func (m *MessageRepository) Create(message domain.Message) error {
	data, err := cbor.Marshal(fromMessage(message))
	if err != nil {
		return fmt.Errorf("marshal failed: %w", err)
	}
	key := messageKey(message)

	return m.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(key, data); err != nil {
			return err
		}
		return txn.Set(messageIDKey(message.ID.String()), key)
	})
}

// UpdateStatus applies a delivery-status transition inside a single
// transaction, so concurrent transitions on the same message serialize at
// the store. Repeating the current status is an idempotent no-op; any
// regression fails with ErrStatusRegression.
func (m *MessageRepository) UpdateStatus(id string, status domain.DeliveryStatus, at time.Time) (domain.Message, error) {
	var updated domain.Message
	err := m.db.Update(func(txn *badger.Txn) error {
		key, record, err := m.loadByID(txn, id)
		if err != nil {
			return err
		}

		current := domain.DeliveryStatus(record.Status)
		if current == status {
			updated, err = toMessage(record)
			return err
		}
		if !current.CanTransition(status) {
			return fmt.Errorf("%w: %s -> %s", errors.ErrStatusRegression, current, status)
		}

		record.Status = string(status)
		switch status {
		case domain.StatusDelivered:
			record.DeliveredAt = &at
		case domain.StatusRead:
			record.ReadAt = &at
		}

		data, err := cbor.Marshal(record)
		if err != nil {
			return err
		}
		if err := txn.Set(key, data); err != nil {
			return err
		}
		updated, err = toMessage(record)
		return err
	})
	return updated, err
}

func (m *MessageRepository) FindByID(id string) (domain.Message, error) {
	var message domain.Message
	err := m.db.View(func(txn *badger.Txn) error {
		_, record, err := m.loadByID(txn, id)
		if err != nil {
			return err
		}
		message, err = toMessage(record)
		return err
	})
	return message, err
}

// FindMostRecentBetween returns the newest message of a conversation, or nil
// when the two users never exchanged one.
func (m *MessageRepository) FindMostRecentBetween(a, b string) (*domain.Message, error) {
	var message *domain.Message
	err := m.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		prefix := []byte("msg:" + conversationScope(a, b) + ":")
		// Seek past the newest possible timestamp, then step back into the prefix.
		seekKey := append(append([]byte{}, prefix...), []byte("9999999999999999999")...)
		it.Seek(seekKey)
		if !it.ValidForPrefix(prefix) {
			return nil
		}

		return it.Item().Value(func(val []byte) error {
			var record messageRecord
			if err := cbor.Unmarshal(val, &record); err != nil {
				return err
			}
			decoded, err := toMessage(record)
			if err != nil {
				return err
			}
			message = &decoded
			return nil
		})
	})
	return message, err
}

// FindHistoryBetween returns the whole conversation in chronological order.
func (m *MessageRepository) FindHistoryBetween(a, b string) ([]domain.Message, error) {
	var messages []domain.Message
	err := m.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		it := txn.NewIterator(options)
		defer it.Close()

		prefix := []byte("msg:" + conversationScope(a, b) + ":")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var record messageRecord
				if err := cbor.Unmarshal(val, &record); err != nil {
					return err
				}
				decoded, err := toMessage(record)
				if err != nil {
					return err
				}
				messages = append(messages, decoded)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return messages, err
}

// loadByID follows the msgid pointer to the primary record.
func (m *MessageRepository) loadByID(txn *badger.Txn, id string) ([]byte, messageRecord, error) {
	item, err := txn.Get(messageIDKey(id))
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, messageRecord{}, errors.ErrMessageNotFound
		}
		return nil, messageRecord{}, err
	}

	var key []byte
	if err := item.Value(func(val []byte) error {
		key = append([]byte{}, val...)
		return nil
	}); err != nil {
		return nil, messageRecord{}, err
	}

	recordItem, err := txn.Get(key)
	if err != nil {
		return nil, messageRecord{}, err
	}
	var record messageRecord
	if err := recordItem.Value(func(val []byte) error {
		return cbor.Unmarshal(val, &record)
	}); err != nil {
		return nil, messageRecord{}, err
	}
	return key, record, nil
}

func fromMessage(message domain.Message) messageRecord {
	return messageRecord{
		ID:          message.ID.String(),
		SenderID:    message.SenderID,
		ReceiverID:  message.ReceiverID,
		Text:        message.Text,
		Status:      string(message.Status),
		CreatedAt:   message.CreatedAt,
		DeliveredAt: message.DeliveredAt,
		ReadAt:      message.ReadAt,
	}
}

func toMessage(record messageRecord) (domain.Message, error) {
	parsedID, err := uuid.Parse(record.ID)
	if err != nil {
		return domain.Message{}, err
	}
	return domain.Message{
		ID:          parsedID,
		SenderID:    record.SenderID,
		ReceiverID:  record.ReceiverID,
		Text:        record.Text,
		Status:      domain.DeliveryStatus(record.Status),
		CreatedAt:   record.CreatedAt.UTC(),
		DeliveredAt: record.DeliveredAt,
		ReadAt:      record.ReadAt,
	}, nil
}
