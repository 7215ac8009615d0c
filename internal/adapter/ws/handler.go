// Package ws implements the WebSocket transport: each accepted connection is
// registered with the connection registry and its chat.send frames are
// turned into SendChatMessage calls.
package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/coder/websocket"

	"github.com/Strob0t/chathub/internal/domain/chat"
	"github.com/Strob0t/chathub/internal/logger"
	"github.com/Strob0t/chathub/internal/middleware"
	"github.com/Strob0t/chathub/internal/port/broadcast"
)

// readLimitOverhead covers the JSON envelope around the body.
const readLimitOverhead = 1024

// jsonEscapeFactor bounds how much JSON string escaping can grow a body:
// a control byte encodes as a six byte \u00XX sequence.
const jsonEscapeFactor = 6

// Registry is the subset of the connection registry the transport needs.
type Registry interface {
	Register(identity chat.Identity, handle broadcast.SendHandle) string
	Unregister(id string) bool
	Len() int
}

// Sender accepts chat messages on behalf of an authenticated identity.
type Sender interface {
	SendChatMessage(ctx context.Context, sender chat.Identity, body string) (*chat.Message, error)
}

// Limiter rate limits chat.send frames per key.
type Limiter interface {
	Allow(key string) (bool, time.Duration)
}

// Hub accepts WebSocket connections and wires them into the registry.
type Hub struct {
	registry Registry
	sender   Sender
	limiter  Limiter

	originPatterns []string
	maxBody        int
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithLimiter rate limits chat.send frames per user.
func WithLimiter(l Limiter) HubOption {
	return func(h *Hub) { h.limiter = l }
}

// WithOrigin restricts the accepted Origin header to the host of origin.
// "*" or empty accepts any origin.
func WithOrigin(origin string) HubOption {
	return func(h *Hub) {
		if origin == "" || origin == "*" {
			return
		}
		if u, err := url.Parse(origin); err == nil && u.Host != "" {
			origin = u.Host
		}
		h.originPatterns = []string{origin}
	}
}

// WithMaxBody sets the body limit used to size the read limit.
func WithMaxBody(n int) HubOption {
	return func(h *Hub) { h.maxBody = n }
}

// NewHub creates a Hub registering connections in registry and forwarding
// client messages to sender.
func NewHub(registry Registry, sender Sender, opts ...HubOption) *Hub {
	h := &Hub{
		registry: registry,
		sender:   sender,
		maxBody:  chat.DefaultMaxBodyBytes,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// ConnectionCount returns the number of live connections.
func (h *Hub) ConnectionCount() int {
	return h.registry.Len()
}

// HandleWS upgrades the request and serves the connection until the client
// goes away or the registry drops it. The identity must already be on the
// request context.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		http.Error(w, `{"error":"authorization required"}`, http.StatusUnauthorized)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:     h.originPatterns,
		InsecureSkipVerify: len(h.originPatterns) == 0, // CORS handled by middleware
	})
	if err != nil {
		slog.ErrorContext(r.Context(), "websocket accept failed", "error", err)
		return
	}
	// The body limit applies to the decoded body; the frame carries it escaped.
	ws.SetReadLimit(int64(jsonEscapeFactor*h.maxBody + readLimitOverhead))

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	c := &conn{ws: ws, cancel: cancel}
	id := h.registry.Register(identity, c)
	ctx = logger.WithConnectionID(ctx, id)
	rateKey := middleware.RateKey(r)

	slog.InfoContext(ctx, "websocket connected", "user_id", identity.UserID, "remote", r.RemoteAddr)
	defer func() {
		h.registry.Unregister(id)
		slog.InfoContext(ctx, "websocket disconnected", "user_id", identity.UserID)
	}()

	h.readLoop(ctx, c, identity, rateKey)
}

func (h *Hub) readLoop(ctx context.Context, c *conn, identity chat.Identity, rateKey string) {
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status == -1 && !errors.Is(err, context.Canceled) {
				slog.DebugContext(ctx, "websocket read failed", "error", err)
			}
			return
		}
		if typ != websocket.MessageText {
			c.writeError(ctx, "binary frames are not supported")
			continue
		}
		h.handleFrame(ctx, c, identity, rateKey, data)
	}
}
