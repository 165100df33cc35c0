// Package ws carries the named-event socket protocol over WebSocket.
// Frames are JSON envelopes: {"event": "<name>", "data": <payload>}.
package ws

import (
	"encoding/json"

	"chat-relay/domain/event"
)

type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// EncodeEvent frames a domain event under its wire name.
func EncodeEvent(e event.DomainEvent) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: e.EventName(), Data: data})
}

func DecodeEnvelope(raw []byte) (Envelope, error) {
	var envelope Envelope
	err := json.Unmarshal(raw, &envelope)
	return envelope, err
}
