// Package service contains application services.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	cfotel "github.com/Strob0t/chathub/internal/adapter/otel"
	"github.com/Strob0t/chathub/internal/domain"
	"github.com/Strob0t/chathub/internal/domain/chat"
	"github.com/Strob0t/chathub/internal/port/broadcast"
)

// Connection is one live, authenticated client session.
// Values returned by Snapshot share the send handle with the registry entry;
// only the registry closes it.
type Connection struct {
	ID          string
	Identity    chat.Identity
	ConnectedAt time.Time

	handle broadcast.SendHandle
}

// Send pushes one encoded frame through the connection's handle.
func (c Connection) Send(ctx context.Context, data []byte) error {
	return c.handle.Send(ctx, data)
}

// Registry is the authoritative set of live connections, kept in
// insertion order.
type Registry struct {
	mu    sync.Mutex
	conns *orderedmap.OrderedMap[string, *Connection]

	newID   func() string
	now     func() time.Time
	metrics *cfotel.Metrics
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithIDGenerator overrides connection id assignment (default: random UUIDs).
func WithIDGenerator(fn func() string) RegistryOption {
	return func(r *Registry) { r.newID = fn }
}

// WithRegistryMetrics records live connection counts on m.
func WithRegistryMetrics(m *cfotel.Metrics) RegistryOption {
	return func(r *Registry) { r.metrics = m }
}

// NewRegistry creates an empty Registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		conns: orderedmap.New[string, *Connection](),
		newID: uuid.NewString,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a connection for an already-authorized identity and returns
// its fresh id. The connection is visible to every Snapshot taken afterwards.
// A duplicate id means id assignment is broken; Register panics.
func (r *Registry) Register(identity chat.Identity, handle broadcast.SendHandle) string {
	c := &Connection{
		ID:          r.newID(),
		Identity:    identity,
		ConnectedAt: r.now().UTC(),
		handle:      handle,
	}

	r.mu.Lock()
	if _, exists := r.conns.Get(c.ID); exists {
		r.mu.Unlock()
		slog.Error("duplicate connection id", "connection_id", c.ID, "user_id", identity.UserID)
		panic(fmt.Errorf("%w: duplicate connection id %q", domain.ErrRegistryInvariant, c.ID))
	}
	r.conns.Set(c.ID, c)
	size := r.conns.Len()
	r.mu.Unlock()

	r.metrics.ConnectionsChanged(context.Background(), 1)
	slog.Debug("connection registered", "connection_id", c.ID, "user_id", identity.UserID, "live", size)
	return c.ID
}

// Unregister removes the connection and closes its send handle. Removing an
// absent id is a no-op; the return value reports whether anything was removed.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	c, ok := r.conns.Delete(id)
	size := r.conns.Len()
	r.mu.Unlock()

	if !ok {
		return false
	}

	if err := c.handle.Close(); err != nil {
		slog.Debug("close send handle", "connection_id", id, "error", err)
	}
	r.metrics.ConnectionsChanged(context.Background(), -1)
	slog.Debug("connection unregistered", "connection_id", id, "user_id", c.Identity.UserID, "live", size)
	return true
}

// Snapshot returns a point-in-time copy of all live connections in
// insertion order. Later registry mutations do not affect the copy.
func (r *Registry) Snapshot() []Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Connection, 0, r.conns.Len())
	for pair := r.conns.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, *pair.Value)
	}
	return out
}

// Contains reports whether id is live.
func (r *Registry) Contains(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.conns.Get(id)
	return ok
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conns.Len()
}

// CloseAll unregisters every live connection, closing their handles.
// Used on shutdown.
func (r *Registry) CloseAll() int {
	n := 0
	for _, c := range r.Snapshot() {
		if r.Unregister(c.ID) {
			n++
		}
	}
	return n
}
