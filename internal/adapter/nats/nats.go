// Package nats implements the message queue port on core NATS. It carries
// the cross-node chat relay; there is no stream, so nothing is persisted or
// replayed.
package nats

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/Strob0t/chathub/internal/logger"
	"github.com/Strob0t/chathub/internal/port/messagequeue"
)

// Queue implements messagequeue.Queue using a core NATS connection.
type Queue struct {
	nc *nats.Conn
}

var _ messagequeue.Queue = (*Queue)(nil)

// Connect establishes a connection to NATS. The client reconnects forever;
// publishes during an outage are buffered by the client up to its limit.
func Connect(_ context.Context, url, name string) (*Queue, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats reconnected", "url", nc.ConnectedUrlRedacted())
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			slog.Debug("nats connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	slog.Info("nats connected", "url", nc.ConnectedUrlRedacted())
	return &Queue{nc: nc}, nil
}

// Publish sends a message to the given subject. The request id from ctx, if
// any, travels in a header.
func (q *Queue) Publish(ctx context.Context, subject string, data []byte) error {
	msg := nats.NewMsg(subject)
	msg.Data = data
	if reqID := logger.RequestID(ctx); reqID != "" {
		msg.Header.Set(messagequeue.HeaderRequestID, reqID)
	}

	if err := q.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe registers a handler for messages on the given subject. Handler
// errors are logged; core NATS has no redelivery.
func (q *Queue) Subscribe(ctx context.Context, subject string, handler messagequeue.Handler) (func(), error) {
	base := context.WithoutCancel(ctx)
	sub, err := q.nc.Subscribe(subject, func(msg *nats.Msg) {
		msgCtx := base
		if reqID := msg.Header.Get(messagequeue.HeaderRequestID); reqID != "" {
			msgCtx = logger.WithRequestID(msgCtx, reqID)
		}
		if err := handler(msgCtx, msg.Subject, msg.Data); err != nil {
			slog.ErrorContext(msgCtx, "message handler failed", "subject", msg.Subject, "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	return func() {
		if err := sub.Unsubscribe(); err != nil {
			slog.Debug("nats unsubscribe", "subject", subject, "error", err)
		}
	}, nil
}

// Drain unsubscribes, lets pending messages reach their handlers and then
// closes the connection. It returns before draining completes.
func (q *Queue) Drain() error {
	if err := q.nc.Drain(); err != nil {
		return fmt.Errorf("nats drain: %w", err)
	}
	return nil
}

// Close shuts down the NATS connection.
func (q *Queue) Close() error {
	q.nc.Close()
	return nil
}

// KeyValue opens the JetStream KV bucket, creating it if needed. ttl bounds
// the age of every entry in the bucket.
func (q *Queue) KeyValue(ctx context.Context, bucket string, ttl time.Duration) (jetstream.KeyValue, error) {
	js, err := jetstream.New(q.nc)
	if err != nil {
		return nil, fmt.Errorf("jetstream init: %w", err)
	}
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket: bucket,
		TTL:    ttl,
	})
	if err != nil {
		return nil, fmt.Errorf("jetstream kv %s: %w", bucket, err)
	}
	return kv, nil
}

// IsConnected reports whether the underlying connection is up.
func (q *Queue) IsConnected() bool {
	return q.nc.IsConnected()
}
