//go:generate go run go.uber.org/mock/mockgen -source=user.go -destination=../mocks/mock_user_repository.go -package=mocks
package repositories

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/blugelabs/bluge"
	"github.com/dgraph-io/badger/v4"
	"github.com/fxamacker/cbor/v2"

	"chat-relay/domain"
	"chat-relay/errors"
)

const (
	userKeyPrefix    = "user:"
	contactKeyPrefix = "contact:"
)

// UserRepository persists identities and contact edges in BadgerDB and keeps
// a bluge index over name/email for discovery.
type UserRepository struct {
	db    *badger.DB
	index *bluge.Writer
	log   *slog.Logger
}

func NewUserRepository(db *badger.DB, index *bluge.Writer, log *slog.Logger) *UserRepository {
	return &UserRepository{db: db, index: index, log: log}
}

// userRecord is the on-disk representation of a user.
type userRecord struct {
	ID       string     `cbor:"id"`
	Name     string     `cbor:"name"`
	Email    string     `cbor:"email"`
	Avatar   string     `cbor:"avatar"`
	Status   string     `cbor:"status"`
	LastSeen *time.Time `cbor:"last_seen,omitempty"`
}

func userKey(id string) []byte { return []byte(userKeyPrefix + id) }

func contactKey(owner, contact string) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", contactKeyPrefix, owner, contact))
}

// SaveUser writes the record and indexes name/email for search. Fields are
// lowercased at index time so matching is case-insensitive.
func (u *UserRepository) SaveUser(user domain.UserWithStatus) error {
	record := fromUserWithStatus(user)
	data, err := cbor.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal failed: %w", err)
	}

	err = u.db.Update(func(txn *badger.Txn) error {
		return txn.Set(userKey(user.ID), data)
	})
	if err != nil {
		return err
	}

	doc := bluge.NewDocument(user.ID).
		AddField(bluge.NewTextField("name", strings.ToLower(user.Name)).StoreValue()).
		AddField(bluge.NewTextField("email", strings.ToLower(user.Email)).StoreValue())
	return u.index.Update(doc.ID(), doc)
}

func (u *UserRepository) FindByID(id string) (domain.UserWithStatus, error) {
	var record userRecord
	err := u.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(userKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return cbor.Unmarshal(val, &record)
		})
	})
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return domain.UserWithStatus{}, errors.ErrUserNotFound
		}
		return domain.UserWithStatus{}, err
	}
	return toUserWithStatus(record), nil
}

// FindAllExcluding lists every known user except the given one,
// for directory listings.
func (u *UserRepository) FindAllExcluding(id string) ([]domain.UserWithStatus, error) {
	var users []domain.UserWithStatus
	err := u.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		it := txn.NewIterator(options)
		defer it.Close()

		prefix := []byte(userKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var record userRecord
				if err := cbor.Unmarshal(val, &record); err != nil {
					return err
				}
				if record.ID != id {
					users = append(users, toUserWithStatus(record))
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return users, err
}

// UpdateStatus persists the offline/online flag and last-seen timestamp,
// written on connect and disconnect.
func (u *UserRepository) UpdateStatus(id string, status domain.Presence, lastSeen time.Time) error {
	return u.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(userKey(id))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return errors.ErrUserNotFound
			}
			return err
		}

		var record userRecord
		if err := item.Value(func(val []byte) error {
			return cbor.Unmarshal(val, &record)
		}); err != nil {
			return err
		}

		record.Status = string(status)
		record.LastSeen = &lastSeen

		data, err := cbor.Marshal(record)
		if err != nil {
			return err
		}
		return txn.Set(userKey(id), data)
	})
}

// SearchByNameOrEmail runs a case-insensitive substring match over the bluge
// index. An empty or whitespace-only term yields an empty result set.
func (u *UserRepository) SearchByNameOrEmail(term string, limit int) ([]domain.UserWithStatus, error) {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return nil, nil
	}

	reader, err := u.index.Reader()
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	pattern := "*" + term + "*"
	query := bluge.NewBooleanQuery().AddShould(
		bluge.NewWildcardQuery(pattern).SetField("name"),
		bluge.NewWildcardQuery(pattern).SetField("email"),
	)

	iterator, err := reader.Search(context.Background(), bluge.NewTopNSearch(limit, query))
	if err != nil {
		return nil, err
	}

	var ids []string
	match, err := iterator.Next()
	for err == nil && match != nil {
		visitErr := match.VisitStoredFields(func(field string, value []byte) bool {
			if field == "_id" {
				ids = append(ids, string(value))
			}
			return true
		})
		if visitErr != nil {
			return nil, visitErr
		}
		match, err = iterator.Next()
	}
	if err != nil {
		return nil, err
	}

	var users []domain.UserWithStatus
	for _, id := range ids {
		user, err := u.FindByID(id)
		if err != nil {
			// The index can briefly outlive a record; skip rather than fail
			// the whole search.
			u.log.Warn("Indexed user missing from store", "user_id", id)
			continue
		}
		users = append(users, user)
	}
	return users, nil
}

// AddContact records an asymmetric "added" edge. Calling it twice for the
// same pair leaves exactly one edge and reports ErrContactAlreadyAdded.
func (u *UserRepository) AddContact(ownerID, contactID string) error {
	return u.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(userKey(contactID)); err != nil {
			if err == badger.ErrKeyNotFound {
				return errors.ErrUserNotFound
			}
			return err
		}

		key := contactKey(ownerID, contactID)
		if _, err := txn.Get(key); err == nil {
			return errors.ErrContactAlreadyAdded
		}
		return txn.Set(key, []byte{})
	})
}

// Contacts resolves the owner's contact edges to full user records.
func (u *UserRepository) Contacts(ownerID string) ([]domain.UserWithStatus, error) {
	var contactIDs []string
	err := u.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		options.PrefetchValues = false
		it := txn.NewIterator(options)
		defer it.Close()

		prefixStr := contactKeyPrefix + ownerID + ":"
		prefix := []byte(prefixStr)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			contactIDs = append(contactIDs, string(it.Item().Key()[len(prefixStr):]))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var contacts []domain.UserWithStatus
	for _, id := range contactIDs {
		contact, err := u.FindByID(id)
		if err != nil {
			u.log.Warn("Contact edge points at missing user", "contact_id", id)
			continue
		}
		contacts = append(contacts, contact)
	}
	return contacts, nil
}

func fromUserWithStatus(user domain.UserWithStatus) userRecord {
	return userRecord{
		ID:       user.ID,
		Name:     user.Name,
		Email:    user.Email,
		Avatar:   user.Avatar,
		Status:   string(user.Status),
		LastSeen: user.LastSeen,
	}
}

func toUserWithStatus(record userRecord) domain.UserWithStatus {
	status := domain.Offline
	if record.Status == string(domain.Online) {
		status = domain.Online
	}
	return domain.UserWithStatus{
		Identity: domain.Identity{
			ID:     record.ID,
			Name:   record.Name,
			Email:  record.Email,
			Avatar: record.Avatar,
		},
		Status:   status,
		LastSeen: record.LastSeen,
	}
}
