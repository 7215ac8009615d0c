package messagequeue

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Strob0t/chathub/internal/domain/chat"
)

// DecodeRelayed checks that data is a relayed chat message: valid JSON
// carrying the id, timestamp, sender and origin assigned by the node that
// accepted it. Body rules are enforced later by the broadcaster.
func DecodeRelayed(data []byte) (*chat.Message, error) {
	if !json.Valid(data) {
		return nil, errors.New("invalid JSON")
	}

	var msg chat.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}
	switch {
	case msg.ID == "":
		return nil, errors.New("relayed message has no id")
	case msg.Timestamp.IsZero():
		return nil, errors.New("relayed message has no timestamp")
	case msg.Origin == "":
		return nil, errors.New("relayed message has no origin")
	case msg.Sender.IsZero():
		return nil, errors.New("relayed message has no sender")
	}
	return &msg, nil
}
