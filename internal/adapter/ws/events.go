package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/Strob0t/chathub/internal/domain"
	"github.com/Strob0t/chathub/internal/domain/chat"
)

// conn is the send handle for one WebSocket connection. The registry owns
// it; Close is safe to call more than once.
type conn struct {
	ws     *websocket.Conn
	cancel context.CancelFunc

	closeOnce sync.Once
	closeErr  error
}

// Send writes one encoded frame.
func (c *conn) Send(ctx context.Context, data []byte) error {
	return c.ws.Write(ctx, websocket.MessageText, data)
}

// Close stops the read loop and tears down the socket without waiting for
// the close handshake.
func (c *conn) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		c.closeErr = c.ws.CloseNow()
	})
	return c.closeErr
}

func (c *conn) writeError(ctx context.Context, msg string) {
	data, err := chat.EncodeFrame(chat.FrameError, chat.ErrorPayload{Error: msg})
	if err != nil {
		slog.ErrorContext(ctx, "encode error frame", "error", err)
		return
	}
	if err := c.Send(ctx, data); err != nil {
		slog.DebugContext(ctx, "write error frame", "error", err)
	}
}

// handleFrame dispatches one client frame. rateKey is the limiter key
// computed at upgrade time, keyed the same way as HTTP requests.
func (h *Hub) handleFrame(ctx context.Context, c *conn, identity chat.Identity, rateKey string, data []byte) {
	var f chat.Frame
	if err := json.Unmarshal(data, &f); err != nil {
		c.writeError(ctx, "malformed frame")
		return
	}

	switch f.Type {
	case chat.FrameSend:
		var req chat.SendRequest
		if err := json.Unmarshal(f.Payload, &req); err != nil {
			c.writeError(ctx, "malformed chat.send payload")
			return
		}
		if h.limiter != nil {
			if ok, wait := h.limiter.Allow(rateKey); !ok {
				c.writeError(ctx, fmt.Sprintf("rate limit exceeded, retry in %s", wait.Round(time.Millisecond)))
				return
			}
		}
		if _, err := h.sender.SendChatMessage(ctx, identity, req.Body); err != nil {
			if errors.Is(err, domain.ErrInvalidArgument) {
				c.writeError(ctx, err.Error())
				return
			}
			slog.ErrorContext(ctx, "send chat message", "error", err)
			c.writeError(ctx, "internal error")
		}
	default:
		c.writeError(ctx, fmt.Sprintf("unknown frame type %q", f.Type))
	}
}
