package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/samber/lo"

	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/event"
)

// PresenceChange describes one presence transition to announce.
type PresenceChange struct {
	Identity domain.Identity
	Status   domain.Presence
	LastSeen *time.Time
	// ExceptID is skipped during the user_status_changed fan-out,
	// usually the originator of the change.
	ExceptID string
}

// Broadcaster fans presence changes out to every connected transport.
//
// Delivery is best-effort, at-most-once per sink, bounded by sinkTimeout.
// A client mid-disconnect may miss an update; that is acceptable because a
// fresh full snapshot follows every registry change.
type Broadcaster struct {
	log         *slog.Logger
	registry    contract.IRegistry
	changes     chan PresenceChange
	sinkTimeout time.Duration
}

func NewBroadcaster(log *slog.Logger, registry contract.IRegistry,
	bufferSize int, sinkTimeout time.Duration) *Broadcaster {
	return &Broadcaster{
		log:         log,
		registry:    registry,
		changes:     make(chan PresenceChange, bufferSize),
		sinkTimeout: sinkTimeout,
	}
}

// Announce enqueues a presence change without blocking the caller.
func (b *Broadcaster) Announce(change PresenceChange) {
	select {
	case b.changes <- change:
	default:
		b.log.Warn(fmt.Sprintf("Presence channel full, dropping change for %s", change.Identity.ID))
	}
}

// Run drains the presence channel: each change produces exactly one
// user_status_changed fan-out followed by a full online_users_update
// snapshot so lagging clients can resynchronize.
func (b *Broadcaster) Run(ctx context.Context) error {
	for {
		select {
		case change := <-b.changes:
			b.broadcastChange(ctx, change)
			b.BroadcastSnapshot(ctx)
		case <-ctx.Done():
			b.log.Debug("Context done, stopping presence broadcast")
			return nil
		}
	}
}

func (b *Broadcaster) broadcastChange(ctx context.Context, change PresenceChange) {
	evt := event.UserStatusChanged{
		UserID:   change.Identity.ID,
		Status:   change.Status,
		LastSeen: change.LastSeen,
	}
	if change.Status == domain.Online {
		entry := event.ToUserEntry(domain.UserWithStatus{
			Identity: change.Identity,
			Status:   domain.Online,
		})
		evt.User = &entry
	}

	for _, conn := range b.registry.Snapshot() {
		if conn.Identity.ID == change.ExceptID {
			continue
		}
		b.send(ctx, conn, evt)
	}
}

// BroadcastSnapshot pushes the full current online-set to all connections.
func (b *Broadcaster) BroadcastSnapshot(ctx context.Context) {
	snapshot := b.registry.Snapshot()
	evt := event.OnlineUsersUpdate{
		Users: lo.Map(snapshot, func(conn contract.Connection, _ int) event.OnlineUser {
			return event.OnlineUser{
				UserID:     conn.Identity.ID,
				Name:       conn.Identity.Name,
				Avatar:     conn.Identity.Avatar,
				LastActive: conn.LastActiveAt,
			}
		}),
	}

	for _, conn := range snapshot {
		b.send(ctx, conn, evt)
	}
}

func (b *Broadcaster) send(ctx context.Context, conn contract.Connection, evt event.DomainEvent) {
	sendCtx, cancel := context.WithTimeout(ctx, b.sinkTimeout)
	defer cancel()
	if err := conn.Sink.Consume(sendCtx, evt); err != nil {
		b.log.Debug("Presence event lost", "user_id", conn.Identity.ID, "event", evt.EventName(), "err", err)
	}
}
