package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/blugelabs/bluge"
	"github.com/dgraph-io/badger/v4"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"chat-relay/auth"
	"chat-relay/domain"
	"chat-relay/repositories"
	"chat-relay/runtime"
	"chat-relay/services"
)

// serverFixture boots the full stack behind an httptest server so lifecycle
// tests exercise the real handshake, pumps, and presence teardown.
type serverFixture struct {
	server   *httptest.Server
	registry *runtime.Registry
	users    *repositories.UserRepository
	codec    *auth.TokenCodec
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	index, err := bluge.OpenWriter(bluge.InMemoryOnlyConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = index.Close() })

	log := slog.Default()
	users := repositories.NewUserRepository(db, index, log)
	messages := repositories.NewMessageRepository(db, log)
	registry := runtime.NewRegistry()
	broadcaster := runtime.NewBroadcaster(log, registry, 64, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = broadcaster.Run(ctx) }()

	messageService := services.NewMessageService(log, messages, registry, runtime.NewMessageLocks(), time.Second)
	directoryService := services.NewDirectoryService(log, users, messages, registry, time.Second)
	codec := auth.NewTokenCodec("test-secret", "chat-relay", time.Hour)
	verifier := auth.NewVerifier(codec, users, log)

	handler := NewHandler(log, verifier, registry, broadcaster,
		messageService, directoryService, users, 64)
	e := echo.New()
	e.HideBanner = true
	handler.RegisterRoutes(e)

	server := httptest.NewServer(e)
	t.Cleanup(server.Close)
	return &serverFixture{server: server, registry: registry, users: users, codec: codec}
}

func (fx *serverFixture) saveUser(t *testing.T, id, name string) {
	t.Helper()
	require.NoError(t, fx.users.SaveUser(domain.UserWithStatus{
		Identity: domain.Identity{ID: id, Name: name, Email: id + "@example.com"},
		Status:   domain.Offline,
	}))
}

func (fx *serverFixture) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	token, err := fx.codec.GenerateToken(userID)
	require.NoError(t, err)

	endpoint := "ws" + strings.TrimPrefix(fx.server.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(endpoint, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// frameRecorder drains one client connection into an inspectable frame list.
type frameRecorder struct {
	mu     sync.Mutex
	frames []Envelope
}

func recordFrames(conn *websocket.Conn) *frameRecorder {
	r := &frameRecorder{}
	go func() {
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			envelope, err := DecodeEnvelope(raw)
			if err != nil {
				continue
			}
			r.mu.Lock()
			r.frames = append(r.frames, envelope)
			r.mu.Unlock()
		}
	}()
	return r
}

// statusChanges counts user_status_changed frames for one user and status.
func (r *frameRecorder) statusChanges(userID string, status domain.Presence) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, envelope := range r.frames {
		if envelope.Event != "user_status_changed" {
			continue
		}
		var payload struct {
			UserID string          `json:"userId"`
			Status domain.Presence `json:"status"`
		}
		if json.Unmarshal(envelope.Data, &payload) != nil {
			continue
		}
		if payload.UserID == userID && payload.Status == status {
			count++
		}
	}
	return count
}

func (r *frameRecorder) firstOfEvent(name string) (Envelope, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, envelope := range r.frames {
		if envelope.Event == name {
			return envelope, true
		}
	}
	return Envelope{}, false
}

func Test_Connect_Registers_Presence_And_Announces(t *testing.T) {
	req := require.New(t)
	fx := newServerFixture(t)
	fx.saveUser(t, "alice", "Alice")
	fx.saveUser(t, "bob", "Bob")

	bob := recordFrames(fx.dial(t, "bob"))

	// When alice connects
	fx.dial(t, "alice")

	// Then she is in the registry, her stored status flips online, and bob is
	// told exactly once
	req.Eventually(func() bool { return fx.registry.IsOnline("alice") },
		2*time.Second, 10*time.Millisecond)
	req.Eventually(func() bool { return bob.statusChanges("alice", domain.Online) == 1 },
		2*time.Second, 10*time.Millisecond)

	stored, err := fx.users.FindByID("alice")
	req.NoError(err)
	req.Equal(domain.Online, stored.Status)
}

func Test_Handshake_Without_Valid_Token_Is_Refused(t *testing.T) {
	req := require.New(t)
	fx := newServerFixture(t)

	endpoint := "ws" + strings.TrimPrefix(fx.server.URL, "http") + "/ws?token=garbage"
	_, resp, err := websocket.DefaultDialer.Dial(endpoint, nil)
	req.Error(err)
	req.NotNil(resp)
	req.Equal(401, resp.StatusCode)
	req.Empty(fx.registry.Snapshot())
}

func Test_Disconnect_Tears_Presence_Down_Exactly_Once(t *testing.T) {
	req := require.New(t)
	fx := newServerFixture(t)
	fx.saveUser(t, "alice", "Alice")
	fx.saveUser(t, "bob", "Bob")

	bob := recordFrames(fx.dial(t, "bob"))
	alice := fx.dial(t, "alice")
	req.Eventually(func() bool { return fx.registry.IsOnline("alice") },
		2*time.Second, 10*time.Millisecond)

	// When alice's transport drops
	req.NoError(alice.Close())

	// Then her registry entry is gone and her stored status is offline with a
	// last-seen timestamp
	req.Eventually(func() bool { return !fx.registry.IsOnline("alice") },
		2*time.Second, 10*time.Millisecond)
	for _, conn := range fx.registry.Snapshot() {
		req.NotEqual("alice", conn.Identity.ID)
	}

	stored, err := fx.users.FindByID("alice")
	req.NoError(err)
	req.Equal(domain.Offline, stored.Status)
	req.NotNil(stored.LastSeen)

	// And exactly one offline announcement reached bob
	req.Eventually(func() bool { return bob.statusChanges("alice", domain.Offline) == 1 },
		2*time.Second, 10*time.Millisecond)
	time.Sleep(300 * time.Millisecond)
	req.Equal(1, bob.statusChanges("alice", domain.Offline))
}

func Test_Superseded_Session_Does_Not_Unregister_Replacement(t *testing.T) {
	req := require.New(t)
	fx := newServerFixture(t)
	fx.saveUser(t, "alice", "Alice")
	fx.saveUser(t, "bob", "Bob")

	bob := recordFrames(fx.dial(t, "bob"))
	first := fx.dial(t, "alice")
	req.Eventually(func() bool { return fx.registry.IsOnline("alice") },
		2*time.Second, 10*time.Millisecond)

	// When alice opens a second session
	fx.dial(t, "alice")

	// Then the first transport is closed by the server with the replacement
	// reason
	req.NoError(first.SetReadDeadline(time.Now().Add(2 * time.Second)))
	var closeErr error
	for closeErr == nil {
		_, _, closeErr = first.ReadMessage()
	}
	req.True(websocket.IsCloseError(closeErr, websocket.CloseNormalClosure),
		"expected a normal close frame, got %v", closeErr)
	req.Contains(closeErr.Error(), runtime.SupersededReason)

	// And the first session's teardown must not evict the replacement:
	// alice stays online and no offline announcement ever fires
	time.Sleep(300 * time.Millisecond)
	req.True(fx.registry.IsOnline("alice"))
	req.Equal(0, bob.statusChanges("alice", domain.Offline))
}

func Test_Dispatch_Routes_Send_Message_End_To_End(t *testing.T) {
	req := require.New(t)
	fx := newServerFixture(t)
	fx.saveUser(t, "alice", "Alice")
	fx.saveUser(t, "bob", "Bob")

	bob := recordFrames(fx.dial(t, "bob"))
	alice := fx.dial(t, "alice")
	aliceFrames := recordFrames(alice)
	req.Eventually(func() bool {
		return fx.registry.IsOnline("alice") && fx.registry.IsOnline("bob")
	}, 2*time.Second, 10*time.Millisecond)

	// When alice sends a message over the wire
	frame, err := json.Marshal(map[string]any{
		"event": "send_message",
		"data":  map[string]string{"receiverId": "bob", "text": "hello"},
	})
	req.NoError(err)
	req.NoError(alice.WriteMessage(websocket.TextMessage, frame))

	// Then bob receives it and alice gets a delivered ack
	req.Eventually(func() bool {
		_, ok := bob.firstOfEvent("receive_message")
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	received, _ := bob.firstOfEvent("receive_message")
	var delivery struct {
		Message struct {
			SenderID string `json:"senderId"`
			Text     string `json:"text"`
		} `json:"message"`
	}
	req.NoError(json.Unmarshal(received.Data, &delivery))
	req.Equal("alice", delivery.Message.SenderID)
	req.Equal("hello", delivery.Message.Text)

	req.Eventually(func() bool {
		_, ok := aliceFrames.firstOfEvent("message_sent")
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	ack, _ := aliceFrames.firstOfEvent("message_sent")
	var sent struct {
		Message struct {
			Status string `json:"status"`
		} `json:"message"`
	}
	req.NoError(json.Unmarshal(ack.Data, &sent))
	req.Equal("delivered", sent.Message.Status)
}
