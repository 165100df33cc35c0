//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"reflect"
	"time"

	"chat-relay/domain"
	"chat-relay/domain/event"
)

// EventSink is the write side of a connected transport. Consume is
// best-effort, at-most-once: a sink may drop an event when its client is
// lagging or mid-disconnect.
type EventSink interface {
	Consume(ctx context.Context, e event.DomainEvent) error
	// Close tears the transport down with a reason the client can log.
	// Used when a newer session supersedes this one.
	Close(reason string) error
}

// Connection is the live, in-memory binding of an identity to an active
// transport. Exists only while the connection is open; never persisted.
type Connection struct {
	Identity     domain.Identity
	Sink         EventSink
	LastActiveAt time.Time
}

// IRegistry is the single source of truth for who is online right now.
// All operations are atomic with respect to each other.
type IRegistry interface {
	Register(identity domain.Identity, sink EventSink) (replaced bool)
	Touch(id string)
	Unregister(id string)
	IsOnline(id string) bool
	Lookup(id string) (Connection, bool)
	Snapshot() []Connection
}

// IVerifier authenticates an inbound connection's credential before any
// other component touches the connection.
type IVerifier interface {
	Verify(ctx context.Context, token string) (domain.Identity, error)
}

// IUserRepository is the user-directory collaborator: identities, presence
// persistence, contact edges, and search.
type IUserRepository interface {
	SaveUser(user domain.UserWithStatus) error
	FindByID(id string) (domain.UserWithStatus, error)
	FindAllExcluding(id string) ([]domain.UserWithStatus, error)
	UpdateStatus(id string, status domain.Presence, lastSeen time.Time) error
	SearchByNameOrEmail(term string, limit int) ([]domain.UserWithStatus, error)
	// AddContact records an asymmetric "added" edge. Reports
	// errors.ErrContactAlreadyAdded without duplicating the edge.
	AddContact(ownerID, contactID string) error
	Contacts(ownerID string) ([]domain.UserWithStatus, error)
}

// IMessageRepository is the durable message store collaborator.
type IMessageRepository interface {
	Create(message domain.Message) error
	// UpdateStatus applies a monotonic transition and returns the updated
	// message. Regressions fail with errors.ErrStatusRegression.
	UpdateStatus(id string, status domain.DeliveryStatus, at time.Time) (domain.Message, error)
	FindByID(id string) (domain.Message, error)
	FindMostRecentBetween(a, b string) (*domain.Message, error)
	FindHistoryBetween(a, b string) ([]domain.Message, error)
}

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// Worker doesn't protect itself; supervision handles panics and restarts.
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker,
// avoiding manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}
