// Package domain contains core concepts of the messaging system.
// This file defines Message and its delivery lifecycle.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// DeliveryStatus is the sent/delivered/read lifecycle of a Message.
type DeliveryStatus string

const (
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusRead      DeliveryStatus = "read"
)

var statusRank = map[DeliveryStatus]int{
	StatusSent:      0,
	StatusDelivered: 1,
	StatusRead:      2,
}

// CanTransition reports whether moving from one status to the next respects
// the monotonic lifecycle. "sent" to "read" is legal: it is the authoritative
// shortcut for a message read by a receiver that was offline at send time,
// so no delivery was ever recorded.
func (s DeliveryStatus) CanTransition(to DeliveryStatus) bool {
	from, ok := statusRank[s]
	if !ok {
		return false
	}
	target, ok := statusRank[to]
	if !ok {
		return false
	}
	return target > from
}

// Message is a point-to-point text message. Created on send, persisted
// immediately, mutated only in its status fields, never deleted by this core.
type Message struct {
	ID          uuid.UUID
	SenderID    string
	ReceiverID  string
	Text        string
	Status      DeliveryStatus
	CreatedAt   time.Time
	DeliveredAt *time.Time
	ReadAt      *time.Time
}
