package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Strob0t/chathub/internal/domain/chat"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiterAllowsBurst(t *testing.T) {
	rl := NewRateLimiter(10, 10)
	handler := rl.Handler(okHandler())

	for i := range 10 {
		req := httptest.NewRequest(http.MethodPost, "/", http.NoBody)
		req.RemoteAddr = "192.168.1.1:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("request %d: expected 200, got %d", i+1, rec.Code)
		}
	}
}

func TestRateLimiterRejectsOverLimit(t *testing.T) {
	rl := NewRateLimiter(1, 3)
	handler := rl.Handler(okHandler())

	var last *httptest.ResponseRecorder
	for range 4 {
		req := httptest.NewRequest(http.MethodPost, "/", http.NoBody)
		req.RemoteAddr = "192.168.1.1:1234"
		last = httptest.NewRecorder()
		handler.ServeHTTP(last, req)
	}

	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", last.Code)
	}
	if last.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
}

func TestRateLimiterKeysByIdentity(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	handler := rl.Handler(okHandler())

	send := func(user string) int {
		req := httptest.NewRequest(http.MethodPost, "/", http.NoBody)
		req.RemoteAddr = "10.0.0.1:5555" // shared NAT address
		req = req.WithContext(WithIdentity(req.Context(), chat.Identity{UserID: user}))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	if send("alice") != http.StatusOK || send("bob") != http.StatusOK {
		t.Fatal("distinct users behind one IP should have separate buckets")
	}
	if send("alice") != http.StatusTooManyRequests {
		t.Fatal("alice's second request should be limited")
	}
}

func TestRateLimiterRefills(t *testing.T) {
	now := time.Now()
	rl := NewRateLimiter(1, 1)
	rl.now = func() time.Time { return now }

	if ok, _ := rl.Allow("k"); !ok {
		t.Fatal("first event should pass")
	}
	ok, wait := rl.Allow("k")
	if ok || wait <= 0 {
		t.Fatalf("second event: ok=%v wait=%v, want limited with positive wait", ok, wait)
	}

	now = now.Add(1100 * time.Millisecond)
	if ok, _ := rl.Allow("k"); !ok {
		t.Fatal("bucket should refill after 1s")
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	now := time.Now()
	rl := NewRateLimiter(1, 1)
	rl.now = func() time.Time { return now }

	rl.Allow("old")
	now = now.Add(time.Hour)
	rl.Allow("fresh")

	rl.cleanup(time.Minute)
	if rl.Len() != 1 {
		t.Fatalf("Len = %d after cleanup, want 1", rl.Len())
	}
}

func TestRateLimiterMaxKeys(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	rl.maxKeys = 2
	rl.Allow("a")
	rl.Allow("b")
	if ok, _ := rl.Allow("c"); ok {
		t.Fatal("new key beyond capacity should be rejected")
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.RemoteAddr = "203.0.113.7:443"
	if got := clientIP(req); got != "203.0.113.7" {
		t.Errorf("clientIP = %q", got)
	}
	req.RemoteAddr = "no-port"
	if got := clientIP(req); got != "no-port" {
		t.Errorf("clientIP = %q", got)
	}
}

func TestRateKey(t *testing.T) {
	tests := []struct {
		name     string
		identity *chat.Identity
		want     string
	}{
		{"no identity", nil, "ip:203.0.113.7"},
		{"anonymous", &AnonymousIdentity, "ip:203.0.113.7"},
		{"user", &chat.Identity{UserID: "alice"}, "user:alice"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ws", http.NoBody)
			req.RemoteAddr = "203.0.113.7:5000"
			if tt.identity != nil {
				req = req.WithContext(WithIdentity(req.Context(), *tt.identity))
			}
			if got := RateKey(req); got != tt.want {
				t.Errorf("RateKey = %q, want %q", got, tt.want)
			}
		})
	}
}
