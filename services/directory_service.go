package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/samber/lo"

	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/errors"
)

const searchResultLimit = 20

type IDirectoryService interface {
	Typing(ctx context.Context, cmd domain.TypingCommand)
	Heartbeat(id string)
	CheckStatus(targetID string) domain.PresenceInfo
	Search(cmd domain.SearchCommand) []domain.UserWithStatus
	ListAllUsers(requesterID string) []domain.UserWithStatus
	ListContacts(ownerID string) []ContactWithLastMessage
	AddContact(ctx context.Context, cmd domain.AddContactCommand) (domain.UserWithStatus, bool, error)
}

// ContactWithLastMessage is a contact enriched with live status and the most
// recent message exchanged with them.
type ContactWithLastMessage struct {
	User        domain.UserWithStatus
	LastMessage *domain.Message
}

// DirectoryService covers activity signals (typing, heartbeat) and the
// read-only composition of the user directory with live presence. Read paths
// log and degrade to empty or partial results rather than failing a request;
// AddContact is the one mutating path and surfaces its errors.
type DirectoryService struct {
	log             *slog.Logger
	users           contract.IUserRepository
	messages        contract.IMessageRepository
	registry        contract.IRegistry
	activityTimeout time.Duration
}

func NewDirectoryService(log *slog.Logger, users contract.IUserRepository,
	messages contract.IMessageRepository, registry contract.IRegistry,
	activityTimeout time.Duration) *DirectoryService {
	return &DirectoryService{
		log:             log,
		users:           users,
		messages:        messages,
		registry:        registry,
		activityTimeout: activityTimeout,
	}
}

// Typing forwards an activity indicator to its target when they are online
// and refreshes the sender's activity clock. Offline targets drop silently.
func (s *DirectoryService) Typing(ctx context.Context, cmd domain.TypingCommand) {
	s.registry.Touch(cmd.FromID)

	receiver, online := s.registry.Lookup(cmd.ReceiverID)
	if !online {
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.activityTimeout)
	defer cancel()
	err := receiver.Sink.Consume(sendCtx, event.ContactActivity{
		UserID:    cmd.FromID,
		Activity:  cmd.Activity,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		s.log.Debug("Activity event lost", "to", cmd.ReceiverID, "err", err)
	}
}

// Heartbeat refreshes LastActiveAt. Eviction of stale entries is driven by
// the transport's own disconnect signal, not by a server-side idle timeout.
func (s *DirectoryService) Heartbeat(id string) {
	s.registry.Touch(id)
}

// CheckStatus reports live presence; when offline, last-seen comes from the
// user directory.
func (s *DirectoryService) CheckStatus(targetID string) domain.PresenceInfo {
	if s.registry.IsOnline(targetID) {
		return domain.PresenceInfo{Status: domain.Online}
	}

	user, err := s.users.FindByID(targetID)
	if err != nil {
		s.log.Warn("Status check for unknown user", "target", targetID, "err", err)
		return domain.PresenceInfo{Status: domain.Offline}
	}
	return domain.PresenceInfo{Status: domain.Offline, LastSeen: user.LastSeen}
}

// Search delegates the substring match to the directory store, excludes the
// requester, and enriches each hit with live status. Result set is capped
// at 20; an empty term yields an empty result.
func (s *DirectoryService) Search(cmd domain.SearchCommand) []domain.UserWithStatus {
	found, err := s.users.SearchByNameOrEmail(cmd.Term, searchResultLimit)
	if err != nil {
		s.log.Error("User search failed", "term", cmd.Term, "err", err)
		return nil
	}

	filtered := lo.Filter(found, func(u domain.UserWithStatus, _ int) bool {
		return u.ID != cmd.RequesterID
	})
	return lo.Map(filtered, func(u domain.UserWithStatus, _ int) domain.UserWithStatus {
		return s.withLiveStatus(u)
	})
}

// ListAllUsers returns the whole directory except the requester, enriched
// with live status.
func (s *DirectoryService) ListAllUsers(requesterID string) []domain.UserWithStatus {
	users, err := s.users.FindAllExcluding(requesterID)
	if err != nil {
		s.log.Error("Directory listing failed", "err", err)
		return nil
	}
	return lo.Map(users, func(u domain.UserWithStatus, _ int) domain.UserWithStatus {
		return s.withLiveStatus(u)
	})
}

// ListContacts composes contact edges, live status, and the most recent
// message per conversation. Partial results on store hiccups.
func (s *DirectoryService) ListContacts(ownerID string) []ContactWithLastMessage {
	contacts, err := s.users.Contacts(ownerID)
	if err != nil {
		s.log.Error("Contact listing failed", "owner", ownerID, "err", err)
		return nil
	}

	result := make([]ContactWithLastMessage, 0, len(contacts))
	for _, contact := range contacts {
		last, err := s.messages.FindMostRecentBetween(ownerID, contact.ID)
		if err != nil {
			s.log.Warn("Last message lookup failed", "contact", contact.ID, "err", err)
		}
		result = append(result, ContactWithLastMessage{
			User:        s.withLiveStatus(contact),
			LastMessage: last,
		})
	}
	return result
}

// AddContact records the edge and notifies the added user when they are
// online. A repeated add reports alreadyAdded without duplicating the edge.
func (s *DirectoryService) AddContact(ctx context.Context, cmd domain.AddContactCommand) (domain.UserWithStatus, bool, error) {
	err := s.users.AddContact(cmd.OwnerID, cmd.ContactID)
	alreadyAdded := err == errors.ErrContactAlreadyAdded
	if err != nil && !alreadyAdded {
		return domain.UserWithStatus{}, false, err
	}

	contact, err := s.users.FindByID(cmd.ContactID)
	if err != nil {
		return domain.UserWithStatus{}, alreadyAdded, err
	}
	contact = s.withLiveStatus(contact)

	if alreadyAdded {
		return contact, true, nil
	}

	if conn, online := s.registry.Lookup(cmd.ContactID); online {
		owner, err := s.users.FindByID(cmd.OwnerID)
		if err == nil {
			notifyCtx, cancel := context.WithTimeout(ctx, s.activityTimeout)
			defer cancel()
			notifyErr := conn.Sink.Consume(notifyCtx, event.ContactAddedYou{
				ContactID: cmd.OwnerID,
				User:      event.ToUserEntry(s.withLiveStatus(owner)),
			})
			if notifyErr != nil {
				s.log.Debug("Contact-added notification lost", "to", cmd.ContactID, "err", notifyErr)
			}
		}
	}
	return contact, false, nil
}

// withLiveStatus overrides stored presence with registry membership, the
// single source of truth for "online right now".
func (s *DirectoryService) withLiveStatus(user domain.UserWithStatus) domain.UserWithStatus {
	if s.registry.IsOnline(user.ID) {
		user.Status = domain.Online
		user.LastSeen = nil
	} else {
		user.Status = domain.Offline
	}
	return user
}
