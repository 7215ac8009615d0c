// Package chat defines the chat broadcast domain: authenticated identities,
// chat messages and the wire envelope pushed to connected clients.
package chat

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Strob0t/chathub/internal/domain"
)

// DefaultMaxBodyBytes is the body limit applied when none is configured.
const DefaultMaxBodyBytes = 4096

// Frame types exchanged with clients.
const (
	FrameSend    = "chat.send"    // client → server
	FrameMessage = "chat.message" // server → client
	FrameError   = "error"        // server → client
)

// Identity is the authenticated principal behind a connection or request.
// It is produced by the authorization collaborator and trusted as-is.
type Identity struct {
	UserID string `json:"user_id"`
	Name   string `json:"name,omitempty"`
}

// IsZero reports whether the identity carries no principal.
func (i Identity) IsZero() bool {
	return i.UserID == ""
}

// Message is one chat message accepted for broadcast.
type Message struct {
	ID        string    `json:"id"`
	Sender    Identity  `json:"sender"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
	Origin    string    `json:"origin,omitempty"` // node that accepted the message
}

// Validate checks the message against the broadcast contract: an
// authenticated sender and a non-empty body within maxBody bytes.
// Whitespace is content; only an empty body is rejected.
// maxBody <= 0 disables the length check.
func (m *Message) Validate(maxBody int) error {
	if m == nil {
		return fmt.Errorf("%w: message is required", domain.ErrInvalidArgument)
	}
	if m.Sender.IsZero() {
		return fmt.Errorf("%w: sender is required", domain.ErrInvalidArgument)
	}
	if m.Body == "" {
		return fmt.Errorf("%w: body is required", domain.ErrInvalidArgument)
	}
	if maxBody > 0 && len(m.Body) > maxBody {
		return fmt.Errorf("%w: body exceeds %d bytes", domain.ErrInvalidArgument, maxBody)
	}
	return nil
}

// Frame is the envelope for every WebSocket frame.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// SendRequest is the payload of a client chat.send frame and of
// POST /api/v1/messages.
type SendRequest struct {
	Body string `json:"body"`
}

// ErrorPayload is the payload of a server error frame.
type ErrorPayload struct {
	Error string `json:"error"`
}

// EncodeFrame marshals payload into a frame of the given type.
func EncodeFrame(frameType string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", frameType, err)
	}
	return json.Marshal(Frame{Type: frameType, Payload: data})
}
