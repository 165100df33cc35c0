// Package event defines the named events the server pushes to clients.
// Event names are the wire contract of the socket protocol; payload fields
// carry json tags because every sink ultimately frames them as JSON.
package event

import (
	"time"

	"chat-relay/domain"
)

// DomainEvent is anything the core can hand to a connected transport.
type DomainEvent interface {
	EventName() string
}

// MessagePayload is the wire shape of a Message inside events.
type MessagePayload struct {
	ID          string                `json:"id"`
	SenderID    string                `json:"senderId"`
	ReceiverID  string                `json:"receiverId"`
	Text        string                `json:"text"`
	Status      domain.DeliveryStatus `json:"status"`
	CreatedAt   time.Time             `json:"createdAt"`
	DeliveredAt *time.Time            `json:"deliveredAt,omitempty"`
	ReadAt      *time.Time            `json:"readAt,omitempty"`
}

func ToMessagePayload(m domain.Message) MessagePayload {
	return MessagePayload{
		ID:          m.ID.String(),
		SenderID:    m.SenderID,
		ReceiverID:  m.ReceiverID,
		Text:        m.Text,
		Status:      m.Status,
		CreatedAt:   m.CreatedAt,
		DeliveredAt: m.DeliveredAt,
		ReadAt:      m.ReadAt,
	}
}

// MessageSent acknowledges a send to its author. Status is "delivered" when
// the receiver was online at send time, "sent" otherwise.
type MessageSent struct {
	Message MessagePayload `json:"message"`
}

func (MessageSent) EventName() string { return "message_sent" }

// MessageReceived carries a delivered message to its receiver.
type MessageReceived struct {
	Message MessagePayload `json:"message"`
}

func (MessageReceived) EventName() string { return "receive_message" }

// MessageStatusUpdated propagates a read receipt back to the original sender.
type MessageStatusUpdated struct {
	MessageID string                `json:"messageId"`
	Status    domain.DeliveryStatus `json:"status"`
	ReadAt    *time.Time            `json:"readAt,omitempty"`
}

func (MessageStatusUpdated) EventName() string { return "message_status_updated" }

// ContactActivity forwards a typing (or similar) indicator to its target.
type ContactActivity struct {
	UserID    string    `json:"userId"`
	Activity  string    `json:"activity"`
	Timestamp time.Time `json:"timestamp"`
}

func (ContactActivity) EventName() string { return "contact_activity" }

// UserEntry is one row of a directory listing.
type UserEntry struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Email    string          `json:"email"`
	Avatar   string          `json:"avatar"`
	Status   domain.Presence `json:"status"`
	LastSeen *time.Time      `json:"lastSeen,omitempty"`
}

func ToUserEntry(u domain.UserWithStatus) UserEntry {
	return UserEntry{
		ID:       u.ID,
		Name:     u.Name,
		Email:    u.Email,
		Avatar:   u.Avatar,
		Status:   u.Status,
		LastSeen: u.LastSeen,
	}
}

type AllUsers struct {
	Users []UserEntry `json:"users"`
}

func (AllUsers) EventName() string { return "all_users" }

// ContactEntry is a contact enriched with live status and the most recent
// message exchanged with them, when one exists.
type ContactEntry struct {
	UserEntry
	LastMessage *MessagePayload `json:"lastMessage,omitempty"`
}

type MyContacts struct {
	Contacts []ContactEntry `json:"contacts"`
}

func (MyContacts) EventName() string { return "my_contacts" }

type ContactAdded struct {
	Success      bool       `json:"success"`
	AlreadyAdded bool       `json:"alreadyAdded"`
	Contact      *UserEntry `json:"contact,omitempty"`
}

func (ContactAdded) EventName() string { return "contact_added" }

// ContactAddedYou notifies a user that somebody added them.
type ContactAddedYou struct {
	ContactID string    `json:"contactId"`
	User      UserEntry `json:"user"`
}

func (ContactAddedYou) EventName() string { return "contact_added_you" }

type SearchResults struct {
	Users []UserEntry `json:"users"`
}

func (SearchResults) EventName() string { return "search_results" }

type UserStatus struct {
	UserID   string          `json:"userId"`
	Status   domain.Presence `json:"status"`
	LastSeen *time.Time      `json:"lastSeen,omitempty"`
}

func (UserStatus) EventName() string { return "user_status" }

// OnlineUser is one entry of the full online-set snapshot.
type OnlineUser struct {
	UserID     string    `json:"userId"`
	Name       string    `json:"name"`
	Avatar     string    `json:"avatar"`
	LastActive time.Time `json:"lastActive"`
}

// OnlineUsersUpdate is the full current online-set, broadcast after any
// registry mutation so lagging clients can resynchronize.
type OnlineUsersUpdate struct {
	Users []OnlineUser `json:"users"`
}

func (OnlineUsersUpdate) EventName() string { return "online_users_update" }

// UserStatusChanged announces a single presence transition to all peers
// except the originator.
type UserStatusChanged struct {
	UserID   string          `json:"userId"`
	Status   domain.Presence `json:"status"`
	User     *UserEntry      `json:"user,omitempty"`
	LastSeen *time.Time      `json:"lastSeen,omitempty"`
}

func (UserStatusChanged) EventName() string { return "user_status_changed" }

// ErrorEvent is the terse failure report for mutating operations.
type ErrorEvent struct {
	Message string `json:"message"`
}

func (ErrorEvent) EventName() string { return "error" }
