package ws_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/Strob0t/chathub/internal/adapter/ws"
	"github.com/Strob0t/chathub/internal/config"
	"github.com/Strob0t/chathub/internal/domain/chat"
	"github.com/Strob0t/chathub/internal/middleware"
	"github.com/Strob0t/chathub/internal/service"
)

type denyLimiter struct{}

func (denyLimiter) Allow(string) (bool, time.Duration) { return false, 2 * time.Second }

// keyLimiter allows everything and records the keys it was asked about.
type keyLimiter struct {
	mu   sync.Mutex
	keys []string
}

func (l *keyLimiter) Allow(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys = append(l.keys, key)
	return true, 0
}

func (l *keyLimiter) seen() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.keys...)
}

type testEnv struct {
	srv      *httptest.Server
	registry *service.Registry
}

func newTestEnv(t *testing.T, opts ...ws.HubOption) *testEnv {
	t.Helper()
	return newTestEnvMaxBody(t, 64, opts...)
}

func newTestEnvMaxBody(t *testing.T, maxBody int, opts ...ws.HubOption) *testEnv {
	t.Helper()
	reg := service.NewRegistry()
	disp := service.NewDispatcher(reg, config.Dispatch{SendTimeout: 2 * time.Second, MaxBodyBytes: maxBody}, nil)
	chatSvc := service.NewChatService(disp, maxBody)
	hub := ws.NewHub(reg, chatSvc, append([]ws.HubOption{ws.WithMaxBody(maxBody)}, opts...)...)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch user := r.URL.Query().Get("user"); user {
		case "":
		case middleware.AnonymousIdentity.UserID:
			r = r.WithContext(middleware.WithIdentity(r.Context(), middleware.AnonymousIdentity))
		default:
			r = r.WithContext(middleware.WithIdentity(r.Context(), chat.Identity{UserID: user}))
		}
		hub.HandleWS(w, r)
	}))
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, registry: reg}
}

func (e *testEnv) dial(t *testing.T, user string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws?user=" + user
	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.CloseNow() })
	return c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func writeFrame(t *testing.T, c *websocket.Conn, frameType string, payload any) {
	t.Helper()
	data, err := chat.EncodeFrame(frameType, payload)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readFrame(t *testing.T, c *websocket.Conn) chat.Frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var f chat.Frame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	return f
}

func TestHub_RejectsUnauthenticated(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.srv.URL + "/ws")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestHub_BroadcastReachesAllClients(t *testing.T) {
	env := newTestEnv(t)
	alice := env.dial(t, "alice")
	bob := env.dial(t, "bob")
	waitFor(t, "two registrations", func() bool { return env.registry.Len() == 2 })

	writeFrame(t, alice, chat.FrameSend, chat.SendRequest{Body: "hello"})

	for name, c := range map[string]*websocket.Conn{"alice": alice, "bob": bob} {
		f := readFrame(t, c)
		if f.Type != chat.FrameMessage {
			t.Fatalf("%s: frame type = %q, want %q", name, f.Type, chat.FrameMessage)
		}
		var msg chat.Message
		if err := json.Unmarshal(f.Payload, &msg); err != nil {
			t.Fatal(err)
		}
		if msg.Body != "hello" || msg.Sender.UserID != "alice" || msg.ID == "" {
			t.Fatalf("%s: unexpected message %+v", name, msg)
		}
	}
}

func TestHub_InvalidBodyGetsErrorFrame(t *testing.T) {
	env := newTestEnv(t)
	c := env.dial(t, "alice")

	writeFrame(t, c, chat.FrameSend, chat.SendRequest{Body: ""})

	f := readFrame(t, c)
	if f.Type != chat.FrameError {
		t.Fatalf("frame type = %q, want error", f.Type)
	}
	var p chat.ErrorPayload
	_ = json.Unmarshal(f.Payload, &p)
	if !strings.Contains(p.Error, "body is required") {
		t.Fatalf("error = %q", p.Error)
	}
}

func TestHub_UnknownFrameType(t *testing.T) {
	env := newTestEnv(t)
	c := env.dial(t, "alice")

	writeFrame(t, c, "chat.edit", chat.SendRequest{Body: "x"})

	if f := readFrame(t, c); f.Type != chat.FrameError {
		t.Fatalf("frame type = %q, want error", f.Type)
	}
}

func TestHub_RateLimited(t *testing.T) {
	env := newTestEnv(t, ws.WithLimiter(denyLimiter{}))
	c := env.dial(t, "alice")

	writeFrame(t, c, chat.FrameSend, chat.SendRequest{Body: "hi"})

	f := readFrame(t, c)
	var p chat.ErrorPayload
	_ = json.Unmarshal(f.Payload, &p)
	if f.Type != chat.FrameError || !strings.Contains(p.Error, "rate limit") {
		t.Fatalf("got %s %q, want rate limit error", f.Type, p.Error)
	}
}

func TestHub_RateKeyPerUser(t *testing.T) {
	lim := &keyLimiter{}
	env := newTestEnv(t, ws.WithLimiter(lim))
	c := env.dial(t, "alice")

	writeFrame(t, c, chat.FrameSend, chat.SendRequest{Body: "hi"})
	readFrame(t, c)

	if keys := lim.seen(); len(keys) != 1 || keys[0] != "user:alice" {
		t.Fatalf("limiter keys = %v, want [user:alice]", keys)
	}
}

func TestHub_AnonymousRateKeyedByIP(t *testing.T) {
	lim := &keyLimiter{}
	env := newTestEnv(t, ws.WithLimiter(lim))
	c := env.dial(t, middleware.AnonymousIdentity.UserID)

	writeFrame(t, c, chat.FrameSend, chat.SendRequest{Body: "hi"})
	readFrame(t, c)

	keys := lim.seen()
	if len(keys) != 1 || !strings.HasPrefix(keys[0], "ip:") {
		t.Fatalf("limiter keys = %v, want one ip: key", keys)
	}
	if keys[0] == "user:"+middleware.AnonymousIdentity.UserID {
		t.Fatal("anonymous connections must not share one bucket")
	}
}

func TestHub_EscapedBodyWithinLimit(t *testing.T) {
	const maxBody = 4096
	env := newTestEnvMaxBody(t, maxBody)
	c := env.dial(t, "alice")
	waitFor(t, "registration", func() bool { return env.registry.Len() == 1 })

	// A body at the limit made of control bytes encodes as six bytes
	// per byte on the wire.
	body := strings.Repeat("\x01", maxBody)
	writeFrame(t, c, chat.FrameSend, chat.SendRequest{Body: body})

	f := readFrame(t, c)
	if f.Type != chat.FrameMessage {
		t.Fatalf("frame type = %q, want %q", f.Type, chat.FrameMessage)
	}
	var msg chat.Message
	if err := json.Unmarshal(f.Payload, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Body != body {
		t.Fatalf("body mangled: %q", msg.Body)
	}
	if env.registry.Len() != 1 {
		t.Fatalf("registry size = %d, want connection kept", env.registry.Len())
	}
}

func TestHub_DisconnectUnregisters(t *testing.T) {
	env := newTestEnv(t)
	c := env.dial(t, "alice")
	waitFor(t, "registration", func() bool { return env.registry.Len() == 1 })

	_ = c.Close(websocket.StatusNormalClosure, "bye")

	waitFor(t, "unregistration", func() bool { return env.registry.Len() == 0 })
}

func TestHub_CloseAllDisconnectsClients(t *testing.T) {
	env := newTestEnv(t)
	c := env.dial(t, "alice")
	waitFor(t, "registration", func() bool { return env.registry.Len() == 1 })

	if n := env.registry.CloseAll(); n != 1 {
		t.Fatalf("CloseAll = %d, want 1", n)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, _, err := c.Read(ctx); err == nil {
		t.Fatal("expected read error after server closed the connection")
	}
}

func TestHub_OriginRestricted(t *testing.T) {
	env := newTestEnv(t, ws.WithOrigin("https://chat.example.com"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/ws?user=alice"
	_, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: http.Header{"Origin": []string{"https://evil.example.com"}},
	})
	if err == nil {
		t.Fatal("expected handshake from a foreign origin to fail")
	}
}
