package ws

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/samber/lo"

	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/runtime"
	"chat-relay/services"
)

// Handler authenticates inbound WebSocket connections and dispatches their
// named events into the core services.
type Handler struct {
	log         *slog.Logger
	verifier    contract.IVerifier
	registry    contract.IRegistry
	broadcaster *runtime.Broadcaster
	messages    services.IMessageService
	directory   services.IDirectoryService
	users       contract.IUserRepository
	bufferSize  int
	upgrader    websocket.Upgrader
}

func NewHandler(log *slog.Logger, verifier contract.IVerifier,
	registry contract.IRegistry, broadcaster *runtime.Broadcaster,
	messages services.IMessageService, directory services.IDirectoryService,
	users contract.IUserRepository, bufferSize int) *Handler {
	return &Handler{
		log:         log,
		verifier:    verifier,
		registry:    registry,
		broadcaster: broadcaster,
		messages:    messages,
		directory:   directory,
		users:       users,
		bufferSize:  bufferSize,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws", h.ServeWS)
	e.GET("/healthz", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
}

// ServeWS runs the connection lifecycle: verify the credential before
// anything else sees the connection, upgrade, register presence, pump until
// disconnect.
func (h *Handler) ServeWS(c echo.Context) error {
	token := c.QueryParam("token")
	if token == "" {
		token = strings.TrimPrefix(c.Request().Header.Get("Authorization"), "Bearer ")
	}

	identity, err := h.verifier.Verify(c.Request().Context(), token)
	if err != nil {
		// Refused before the upgrade: the connection never enters any
		// other component's state.
		return c.String(http.StatusUnauthorized, "authentication failed")
	}

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.log.Error("WebSocket upgrade failed", "err", err)
		return nil
	}

	session := newSession(conn, identity, h.bufferSize, h.log)
	h.connect(session)

	go session.writePump()
	go session.readPump(h)
	return nil
}

func (h *Handler) connect(s *Session) {
	replaced := h.registry.Register(s.identity, s)
	if replaced {
		h.log.Info("Session superseded by newer connection", "user_id", s.identity.ID)
	}

	if err := h.users.UpdateStatus(s.identity.ID, domain.Online, time.Now().UTC()); err != nil {
		h.log.Warn("Failed to persist online status", "user_id", s.identity.ID, "err", err)
	}

	h.broadcaster.Announce(runtime.PresenceChange{
		Identity: s.identity,
		Status:   domain.Online,
		ExceptID: s.identity.ID,
	})
}

// disconnect runs when a session's read pump exits, for any reason. Presence
// is only torn down when this session still owns the registry entry: a
// superseded session must not unregister its replacement.
func (h *Handler) disconnect(s *Session) {
	current, ok := h.registry.Lookup(s.identity.ID)
	if !ok || current.Sink != contract.EventSink(s) {
		return
	}

	h.registry.Unregister(s.identity.ID)

	lastSeen := time.Now().UTC()
	if err := h.users.UpdateStatus(s.identity.ID, domain.Offline, lastSeen); err != nil {
		h.log.Warn("Failed to persist offline status", "user_id", s.identity.ID, "err", err)
	}

	h.broadcaster.Announce(runtime.PresenceChange{
		Identity: s.identity,
		Status:   domain.Offline,
		LastSeen: &lastSeen,
		ExceptID: s.identity.ID,
	})
	h.log.Info("User disconnected", "user_id", s.identity.ID, "name", s.identity.Name)
}

// dispatch routes one inbound envelope. Handlers run synchronously in the
// session's read loop, so events from one connection are processed in order.
func (h *Handler) dispatch(s *Session, envelope Envelope) {
	ctx := context.Background()

	switch envelope.Event {
	case "send_message":
		var payload SendMessagePayload
		if err := decodePayload(envelope.Data, &payload); err != nil {
			h.sendError(ctx, s, "invalid send_message payload")
			return
		}
		message, err := h.messages.Send(ctx, domain.SendMessageCommand{
			SenderID:   s.identity.ID,
			ReceiverID: payload.ReceiverID,
			Text:       payload.Text,
		})
		if err != nil {
			h.sendError(ctx, s, err.Error())
			return
		}
		h.reply(ctx, s, event.MessageSent{Message: event.ToMessagePayload(message)})

	case "message_read":
		var payload MarkReadPayload
		if err := decodePayload(envelope.Data, &payload); err != nil {
			h.sendError(ctx, s, "invalid message_read payload")
			return
		}
		err := h.messages.MarkRead(ctx, domain.MarkReadCommand{
			MessageID: payload.MessageID,
			ReaderID:  s.identity.ID,
		})
		if err != nil {
			h.sendError(ctx, s, err.Error())
		}

	case "user_activity":
		var payload ActivityPayload
		if err := decodePayload(envelope.Data, &payload); err != nil {
			return
		}
		h.directory.Typing(ctx, domain.TypingCommand{
			FromID:     s.identity.ID,
			ReceiverID: payload.ReceiverID,
			Activity:   payload.Activity,
		})

	case "ping":
		h.directory.Heartbeat(s.identity.ID)

	case "get_all_users":
		users := h.directory.ListAllUsers(s.identity.ID)
		h.reply(ctx, s, event.AllUsers{Users: toUserEntries(users)})

	case "get_my_contacts":
		contacts := h.directory.ListContacts(s.identity.ID)
		h.reply(ctx, s, event.MyContacts{Contacts: toContactEntries(contacts)})

	case "add_contact":
		var payload AddContactPayload
		if err := decodePayload(envelope.Data, &payload); err != nil {
			h.sendError(ctx, s, "invalid add_contact payload")
			return
		}
		contact, alreadyAdded, err := h.directory.AddContact(ctx, domain.AddContactCommand{
			OwnerID:   s.identity.ID,
			ContactID: payload.ContactID,
		})
		if err != nil {
			h.sendError(ctx, s, err.Error())
			return
		}
		entry := event.ToUserEntry(contact)
		h.reply(ctx, s, event.ContactAdded{
			Success:      true,
			AlreadyAdded: alreadyAdded,
			Contact:      &entry,
		})

	case "search_users":
		var payload SearchPayload
		if err := decodePayload(envelope.Data, &payload); err != nil {
			return
		}
		found := h.directory.Search(domain.SearchCommand{
			RequesterID: s.identity.ID,
			Term:        payload.Term,
		})
		h.reply(ctx, s, event.SearchResults{Users: toUserEntries(found)})

	case "check_user_status":
		var payload CheckStatusPayload
		if err := decodePayload(envelope.Data, &payload); err != nil {
			return
		}
		info := h.directory.CheckStatus(payload.UserID)
		h.reply(ctx, s, event.UserStatus{
			UserID:   payload.UserID,
			Status:   info.Status,
			LastSeen: info.LastSeen,
		})

	case "disconnect":
		// Explicit goodbye; the read pump's exit runs the presence teardown.
		_ = s.Close("client requested disconnect")

	default:
		h.log.Warn("Unknown event dropped", "event", envelope.Event, "user_id", s.identity.ID)
	}
}

func (h *Handler) reply(ctx context.Context, s *Session, e event.DomainEvent) {
	if err := s.Consume(ctx, e); err != nil {
		h.log.Debug("Reply lost", "event", e.EventName(), "user_id", s.identity.ID, "err", err)
	}
}

// sendError reports a failed mutating operation to the originating client
// only. Errors are never broadcast.
func (h *Handler) sendError(ctx context.Context, s *Session, message string) {
	h.reply(ctx, s, event.ErrorEvent{Message: message})
}

func toUserEntries(users []domain.UserWithStatus) []event.UserEntry {
	return lo.Map(users, func(u domain.UserWithStatus, _ int) event.UserEntry {
		return event.ToUserEntry(u)
	})
}

func toContactEntries(contacts []services.ContactWithLastMessage) []event.ContactEntry {
	return lo.Map(contacts, func(c services.ContactWithLastMessage, _ int) event.ContactEntry {
		entry := event.ContactEntry{UserEntry: event.ToUserEntry(c.User)}
		if c.LastMessage != nil {
			payload := event.ToMessagePayload(*c.LastMessage)
			entry.LastMessage = &payload
		}
		return entry
	})
}
