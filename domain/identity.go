// Package domain contains core concepts of the messaging system.
// This file defines Identity and presence values.
// No runtime, network, or UI logic should be added here.
package domain

import "time"

// Presence is derived solely from registry membership: a user is online
// iff their identity currently holds a live, authenticated connection.
type Presence string

const (
	Online  Presence = "online"
	Offline Presence = "offline"
)

// Identity is the stable user reference plus display metadata.
// It is owned by the user directory and treated as read-mostly here,
// refreshed at connection time.
type Identity struct {
	ID     string
	Name   string
	Email  string
	Avatar string
}

// PresenceInfo is the answer to a status query: live presence plus the
// last-seen timestamp when the user is offline.
type PresenceInfo struct {
	Status   Presence
	LastSeen *time.Time
}

// UserWithStatus is an Identity enriched with live presence, as returned
// by directory listings and search.
type UserWithStatus struct {
	Identity
	Status   Presence
	LastSeen *time.Time
}
