package domain

// Commands are the normalized inbound intents of the socket protocol.
// Payload shape-shifting is resolved at the transport boundary: by the time
// a command reaches a service, it has exactly one form.

type SendMessageCommand struct {
	SenderID   string
	ReceiverID string
	Text       string
}

type MarkReadCommand struct {
	MessageID string
	ReaderID  string
}

type TypingCommand struct {
	FromID     string
	ReceiverID string
	Activity   string
}

type SearchCommand struct {
	RequesterID string
	Term        string
}

type AddContactCommand struct {
	OwnerID   string
	ContactID string
}
