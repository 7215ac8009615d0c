// Package broadcast defines the ports between the broadcast core and its
// transport: the per-connection send handle and the fan-out contract.
package broadcast

import (
	"context"

	"github.com/Strob0t/chathub/internal/domain/chat"
)

// SendHandle pushes one encoded frame to a single connection.
// Send must honor ctx cancellation; Close releases the transport and must
// unblock any in-flight Send. Implementations must be safe for concurrent use.
type SendHandle interface {
	Send(ctx context.Context, data []byte) error
	Close() error
}

// Report is the aggregate outcome of one broadcast.
type Report struct {
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
}

// Total returns the number of delivery attempts.
func (r Report) Total() int {
	return r.Delivered + r.Failed
}

// Broadcaster delivers one message to every live connection.
// It returns an error only when the message itself is invalid;
// per-recipient failures are folded into the Report.
type Broadcaster interface {
	Broadcast(ctx context.Context, msg *chat.Message) (Report, error)
}
