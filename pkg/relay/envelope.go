package relay

import (
	"encoding/json"
	"time"
)

// Envelope message types.
const (
	TypeConnection  = "connection"
	TypeAuth        = "auth"
	TypeStream      = "stream"
	TypeStreamEnd   = "streamEnd"
	TypeStreamError = "streamError"
	TypeAcknowledge = "acknowledge"
	TypeError       = "error"
)

// Envelope is the frame exchanged over the WebSocket channel.
type Envelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	RequestID string          `json:"requestId,omitempty"`

	// Index is the fragment position for "stream" envelopes.
	Index *int `json:"index,omitempty"`
}

// StreamEndPayload is the payload of a streamEnd envelope.
type StreamEndPayload struct {
	Completed bool `json:"completed"`
}

// StreamErrorPayload is the payload of a streamError envelope.
type StreamErrorPayload struct {
	Error string `json:"error"`
}

// NewEnvelope marshals payload into an envelope of the given type.
func NewEnvelope(typ string, payload any) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{Type: typ, Payload: data}, nil
}

// Encode marshals the envelope.
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Timestamp is the wire format used in envelope payloads.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
