package natskv

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/Strob0t/chathub/internal/domain/chat"
)

// testBucket creates a fresh KV bucket or skips if NATS_URL is not set.
func testBucket(t *testing.T) jetstream.KeyValue {
	t.Helper()

	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("requires NATS_URL")
	}
	nc, err := nats.Connect(url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(nc.Close)

	js, err := jetstream.New(nc)
	if err != nil {
		t.Fatalf("jetstream: %v", err)
	}
	ctx := context.Background()
	bucket := "chathub-test-" + t.Name()
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{Bucket: bucket, TTL: time.Minute})
	if err != nil {
		t.Fatalf("create bucket: %v", err)
	}
	t.Cleanup(func() { _ = js.DeleteKeyValue(context.Background(), bucket) })
	return kv
}

func TestCache_SetGetDelete(t *testing.T) {
	c := New[chat.Identity](testBucket(t))
	ctx := context.Background()
	want := chat.Identity{UserID: "u-1", Name: "alice"}

	if err := c.Set(ctx, "k", want, time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, remaining, ok, err := c.GetTTL(ctx, "k")
	if err != nil {
		t.Fatalf("GetTTL: %v", err)
	}
	if !ok || got != want {
		t.Fatalf("GetTTL = %+v %v", got, ok)
	}
	if remaining <= 0 || remaining > time.Minute {
		t.Fatalf("remaining = %s", remaining)
	}

	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, err := c.Get(ctx, "k"); err != nil || ok {
		t.Fatalf("after delete: ok=%v err=%v, want clean miss", ok, err)
	}
}

func TestCache_MissIsNotAnError(t *testing.T) {
	c := New[chat.Identity](testBucket(t))
	ctx := context.Background()

	if _, ok, err := c.Get(ctx, "absent"); err != nil || ok {
		t.Fatalf("Get absent: ok=%v err=%v", ok, err)
	}
	if err := c.Delete(ctx, "absent"); err != nil {
		t.Fatalf("Delete absent: %v", err)
	}
}

func TestCache_ExpiredEntryIsMiss(t *testing.T) {
	c := New[chat.Identity](testBucket(t))
	ctx := context.Background()
	now := time.Now()
	c.now = func() time.Time { return now }

	if err := c.Set(ctx, "k", chat.Identity{UserID: "u-1"}, time.Second); err != nil {
		t.Fatal(err)
	}
	now = now.Add(2 * time.Second)

	if _, ok, err := c.Get(ctx, "k"); err != nil || ok {
		t.Fatalf("expired entry: ok=%v err=%v, want clean miss", ok, err)
	}
}

func TestCache_NonPositiveTTLNotStored(t *testing.T) {
	c := New[chat.Identity](testBucket(t))
	ctx := context.Background()

	if err := c.Set(ctx, "k", chat.Identity{UserID: "u-1"}, 0); err != nil {
		t.Fatal(err)
	}

	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Fatal("zero ttl must not be stored")
	}
}

func TestCache_CorruptEntryIsError(t *testing.T) {
	kv := testBucket(t)
	c := New[chat.Identity](kv)
	ctx := context.Background()

	if _, err := kv.Put(ctx, "k", []byte("not json")); err != nil {
		t.Fatal(err)
	}
	if _, ok, err := c.Get(ctx, "k"); err == nil || ok {
		t.Fatalf("corrupt entry: ok=%v err=%v, want error", ok, err)
	}
}
