package errors

import "fmt"

// Connection-level authentication failures. Fatal to the connection attempt:
// the transport must refuse the connection before any other component sees it.
var (
	ErrMissingToken = fmt.Errorf("no credential token presented")
	ErrInvalidToken = fmt.Errorf("credential token invalid or expired")
	ErrUnknownUser  = fmt.Errorf("authenticated user not found")
)

// Payload validation failures. Surfaced to the originating client only,
// never broadcast.
var (
	ErrEmptyMessage    = fmt.Errorf("message text is empty")
	ErrInvalidReceiver = fmt.Errorf("receiver id is missing or malformed")
)

var (
	ErrMessageNotFound     = fmt.Errorf("message not found")
	ErrUserNotFound        = fmt.Errorf("user not found")
	ErrContactAlreadyAdded = fmt.Errorf("contact already added")
	ErrStatusRegression    = fmt.Errorf("delivery status may not regress")
	ErrNotReceiver         = fmt.Errorf("only the receiver may mark a message read")
	ErrWorkerPanic         = fmt.Errorf("worker panic")
)
