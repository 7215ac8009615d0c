package http

import (
	"context"
	"net/http"

	"github.com/Strob0t/chathub/internal/domain/chat"
	"github.com/Strob0t/chathub/internal/middleware"
)

// envelopeOverhead is added to the body limit when capping request sizes.
const envelopeOverhead = 1024

// ChatSender is the caller-facing chat operation.
type ChatSender interface {
	SendChatMessage(ctx context.Context, sender chat.Identity, body string) (*chat.Message, error)
}

// ConnectionCounter reports how many connections are live.
type ConnectionCounter interface {
	Len() int
}

// RelayStatus reports cross-node relay connectivity.
type RelayStatus interface {
	IsConnected() bool
}

// Handlers holds the HTTP handlers' dependencies.
type Handlers struct {
	Chat        ChatSender
	Connections ConnectionCounter
	Relay       RelayStatus // nil when the relay is disabled
	MaxBody     int
}

type healthResponse struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
	Relay       string `json:"relay"`
}

// Health handles GET /health.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status:      "ok",
		Connections: h.Connections.Len(),
		Relay:       "disabled",
	}
	if h.Relay != nil {
		resp.Relay = "connected"
		if !h.Relay.IsConnected() {
			resp.Relay = "disconnected"
			resp.Status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// SendMessage handles POST /api/v1/messages. The sender is the
// authenticated caller; it need not hold a WebSocket connection.
func (h *Handlers) SendMessage(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authorization required")
		return
	}

	maxBody := h.MaxBody
	if maxBody <= 0 {
		maxBody = chat.DefaultMaxBodyBytes
	}
	req, ok := readJSON[chat.SendRequest](w, r, int64(maxBody+envelopeOverhead))
	if !ok {
		return
	}

	msg, err := h.Chat.SendChatMessage(r.Context(), identity, req.Body)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, msg)
}

// ConnectionCount handles GET /api/v1/connections.
func (h *Handlers) ConnectionCount(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"count": h.Connections.Len()})
}
