package services

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/blugelabs/bluge"
	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"

	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/errors"
	"chat-relay/repositories"
	"chat-relay/runtime"
)

type directoryFixture struct {
	service  *DirectoryService
	registry *runtime.Registry
	users    *repositories.UserRepository
	messages *repositories.MessageRepository
}

func newDirectoryFixture(t *testing.T) directoryFixture {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	index, err := bluge.OpenWriter(bluge.InMemoryOnlyConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = index.Close() })

	users := repositories.NewUserRepository(db, index, slog.Default())
	messages := repositories.NewMessageRepository(db, slog.Default())
	registry := runtime.NewRegistry()
	service := NewDirectoryService(slog.Default(), users, messages, registry, time.Second)
	return directoryFixture{service: service, registry: registry, users: users, messages: messages}
}

func (fx directoryFixture) saveUser(t *testing.T, id, name, email string) {
	t.Helper()
	require.NoError(t, fx.users.SaveUser(domain.UserWithStatus{
		Identity: domain.Identity{ID: id, Name: name, Email: email},
		Status:   domain.Offline,
	}))
}

func Test_Typing_Reaches_Online_Target(t *testing.T) {
	req := require.New(t)
	fx := newDirectoryFixture(t)
	bob := connect(fx.registry, "bob")

	fx.service.Typing(context.Background(), domain.TypingCommand{
		FromID: "alice", ReceiverID: "bob", Activity: "typing",
	})

	events := bob.Events()
	req.Len(events, 1)
	activity, ok := events[0].(event.ContactActivity)
	req.True(ok)
	req.Equal("alice", activity.UserID)
	req.Equal("typing", activity.Activity)
}

func Test_Typing_For_Offline_Target_Is_Dropped(t *testing.T) {
	fx := newDirectoryFixture(t)

	// No panic, no error: the indicator just evaporates
	fx.service.Typing(context.Background(), domain.TypingCommand{
		FromID: "alice", ReceiverID: "bob", Activity: "typing",
	})
}

func Test_Check_Status_Of_Online_User(t *testing.T) {
	req := require.New(t)
	fx := newDirectoryFixture(t)
	connect(fx.registry, "bob")

	info := fx.service.CheckStatus("bob")
	req.Equal(domain.Online, info.Status)
	req.Nil(info.LastSeen)
}

func Test_Check_Status_Of_Offline_User_Carries_Last_Seen(t *testing.T) {
	req := require.New(t)
	fx := newDirectoryFixture(t)
	fx.saveUser(t, "bob", "Bob", "bob@example.com")
	lastSeen := time.Now().UTC().Truncate(time.Second)
	req.NoError(fx.users.UpdateStatus("bob", domain.Offline, lastSeen))

	info := fx.service.CheckStatus("bob")
	req.Equal(domain.Offline, info.Status)
	req.NotNil(info.LastSeen)
	req.True(info.LastSeen.Equal(lastSeen))
}

func Test_Check_Status_Of_Unknown_User_Degrades_To_Offline(t *testing.T) {
	req := require.New(t)
	fx := newDirectoryFixture(t)

	info := fx.service.CheckStatus("ghost")
	req.Equal(domain.Offline, info.Status)
	req.Nil(info.LastSeen)
}

func Test_Search_Excludes_Requester_And_Adds_Live_Status(t *testing.T) {
	req := require.New(t)
	fx := newDirectoryFixture(t)
	fx.saveUser(t, "u1", "Alice", "alice@example.com")
	fx.saveUser(t, "u2", "Alicia", "alicia@example.com")
	connect(fx.registry, "u2")

	// When alice searches for her own name prefix
	users := fx.service.Search(domain.SearchCommand{RequesterID: "u1", Term: "ali"})

	// Then she does not appear in her own results and live status is applied
	req.Len(users, 1)
	req.Equal("u2", users[0].ID)
	req.Equal(domain.Online, users[0].Status)
}

func Test_List_All_Users_Reflects_Registry(t *testing.T) {
	req := require.New(t)
	fx := newDirectoryFixture(t)
	fx.saveUser(t, "u1", "Alice", "alice@example.com")
	fx.saveUser(t, "u2", "Bob", "bob@example.com")
	fx.saveUser(t, "u3", "Carol", "carol@example.com")
	connect(fx.registry, "u3")

	users := fx.service.ListAllUsers("u1")
	req.Len(users, 2)

	byID := map[string]domain.Presence{}
	for _, user := range users {
		byID[user.ID] = user.Status
	}
	req.Equal(domain.Offline, byID["u2"])
	req.Equal(domain.Online, byID["u3"])
}

func Test_List_Contacts_Carries_Last_Message(t *testing.T) {
	req := require.New(t)
	fx := newDirectoryFixture(t)
	fx.saveUser(t, "u1", "Alice", "alice@example.com")
	fx.saveUser(t, "u2", "Bob", "bob@example.com")
	req.NoError(fx.users.AddContact("u1", "u2"))

	locks := runtime.NewMessageLocks()
	sender := NewMessageService(slog.Default(), fx.messages, fx.registry, locks, time.Second)
	_, err := sender.Send(context.Background(), domain.SendMessageCommand{
		SenderID: "u2", ReceiverID: "u1", Text: "latest",
	})
	req.NoError(err)

	contacts := fx.service.ListContacts("u1")
	req.Len(contacts, 1)
	req.Equal("u2", contacts[0].User.ID)
	req.NotNil(contacts[0].LastMessage)
	req.Equal("latest", contacts[0].LastMessage.Text)
}

func Test_List_Contacts_Without_Conversation(t *testing.T) {
	req := require.New(t)
	fx := newDirectoryFixture(t)
	fx.saveUser(t, "u1", "Alice", "alice@example.com")
	fx.saveUser(t, "u2", "Bob", "bob@example.com")
	req.NoError(fx.users.AddContact("u1", "u2"))

	contacts := fx.service.ListContacts("u1")
	req.Len(contacts, 1)
	req.Nil(contacts[0].LastMessage)
}

func Test_Add_Contact_Notifies_Online_Contact(t *testing.T) {
	req := require.New(t)
	fx := newDirectoryFixture(t)
	fx.saveUser(t, "u1", "Alice", "alice@example.com")
	fx.saveUser(t, "u2", "Bob", "bob@example.com")
	bob := connect(fx.registry, "u2")

	contact, alreadyAdded, err := fx.service.AddContact(context.Background(), domain.AddContactCommand{
		OwnerID: "u1", ContactID: "u2",
	})

	req.NoError(err)
	req.False(alreadyAdded)
	req.Equal("u2", contact.ID)
	req.Equal(domain.Online, contact.Status)

	events := bob.Events()
	req.Len(events, 1)
	added, ok := events[0].(event.ContactAddedYou)
	req.True(ok)
	req.Equal("u1", added.ContactID)
	req.Equal("Alice", added.User.Name)
}

func Test_Add_Contact_Twice_Reports_Already_Added(t *testing.T) {
	req := require.New(t)
	fx := newDirectoryFixture(t)
	fx.saveUser(t, "u1", "Alice", "alice@example.com")
	fx.saveUser(t, "u2", "Bob", "bob@example.com")

	_, alreadyAdded, err := fx.service.AddContact(context.Background(), domain.AddContactCommand{
		OwnerID: "u1", ContactID: "u2",
	})
	req.NoError(err)
	req.False(alreadyAdded)

	contact, alreadyAdded, err := fx.service.AddContact(context.Background(), domain.AddContactCommand{
		OwnerID: "u1", ContactID: "u2",
	})
	req.NoError(err)
	req.True(alreadyAdded)
	req.Equal("u2", contact.ID)
}

func Test_Add_Unknown_Contact_Fails(t *testing.T) {
	req := require.New(t)
	fx := newDirectoryFixture(t)
	fx.saveUser(t, "u1", "Alice", "alice@example.com")

	_, _, err := fx.service.AddContact(context.Background(), domain.AddContactCommand{
		OwnerID: "u1", ContactID: "ghost",
	})
	req.ErrorIs(err, errors.ErrUserNotFound)
}
