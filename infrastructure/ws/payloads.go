package ws

import (
	"encoding/json"

	"github.com/go-playground/validator/v10"
)

// Inbound payloads are normalized exactly once, here at ingress. Legacy
// clients send several of them in loose shapes (bare strings, alternate
// field names); everything downstream sees a single typed form.

var validate = validator.New()

type SendMessagePayload struct {
	ReceiverID string `json:"receiverId" validate:"required"`
	Text       string `json:"text" validate:"required"`
}

// UnmarshalJSON accepts both {"text": "..."} and the legacy
// {"message": "..."} / {"message": {"text": "..."}} shapes.
func (p *SendMessagePayload) UnmarshalJSON(data []byte) error {
	var aux struct {
		ReceiverID string          `json:"receiverId"`
		Text       string          `json:"text"`
		Message    json.RawMessage `json:"message"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	p.ReceiverID = aux.ReceiverID
	p.Text = aux.Text

	if p.Text == "" && len(aux.Message) > 0 {
		var asString string
		if err := json.Unmarshal(aux.Message, &asString); err == nil {
			p.Text = asString
		} else {
			var asObject struct {
				Text string `json:"text"`
			}
			if err := json.Unmarshal(aux.Message, &asObject); err == nil {
				p.Text = asObject.Text
			}
		}
	}
	return nil
}

type MarkReadPayload struct {
	MessageID string `json:"messageId" validate:"required"`
	SenderID  string `json:"senderId"`
}

type ActivityPayload struct {
	ReceiverID string `json:"receiverId" validate:"required"`
	Activity   string `json:"activity" validate:"required"`
}

type AddContactPayload struct {
	ContactID string `json:"contactId" validate:"required"`
}

type SearchPayload struct {
	Term string `json:"term"`
}

// UnmarshalJSON accepts either a bare string term or {"term": "..."}.
func (p *SearchPayload) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		p.Term = asString
		return nil
	}
	var aux struct {
		Term string `json:"term"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	p.Term = aux.Term
	return nil
}

type CheckStatusPayload struct {
	UserID string `json:"userId" validate:"required"`
}

// UnmarshalJSON accepts either a bare string ID or {"userId": "..."}.
func (p *CheckStatusPayload) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		p.UserID = asString
		return nil
	}
	var aux struct {
		UserID string `json:"userId"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	p.UserID = aux.UserID
	return nil
}

// decodePayload unmarshals and validates an inbound payload in one step.
func decodePayload(data json.RawMessage, target any) error {
	if err := json.Unmarshal(data, target); err != nil {
		return err
	}
	return validate.Struct(target)
}
