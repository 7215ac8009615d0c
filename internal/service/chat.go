package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	cfotel "github.com/Strob0t/chathub/internal/adapter/otel"
	"github.com/Strob0t/chathub/internal/domain/chat"
	"github.com/Strob0t/chathub/internal/port/broadcast"
	"github.com/Strob0t/chathub/internal/port/messagequeue"
	"github.com/Strob0t/chathub/internal/resilience"
)

// ChatService is the caller-facing chat operation. It validates input,
// derives the sender from the authenticated session and hands the message to
// the broadcaster. With a relay attached, accepted messages are also
// published for other nodes and messages from other nodes are re-broadcast
// locally.
type ChatService struct {
	broadcaster broadcast.Broadcaster
	maxBody     int
	nodeID      string

	relay *relay
}

type relay struct {
	queue   messagequeue.Queue
	subject string
	breaker *resilience.Breaker
	metrics *cfotel.Metrics
}

// NewChatService creates a ChatService delivering through b. maxBody bounds
// message bodies in bytes; <= 0 uses chat.DefaultMaxBodyBytes.
func NewChatService(b broadcast.Broadcaster, maxBody int) *ChatService {
	if maxBody <= 0 {
		maxBody = chat.DefaultMaxBodyBytes
	}
	return &ChatService{
		broadcaster: b,
		maxBody:     maxBody,
		nodeID:      uuid.NewString(),
	}
}

// NodeID identifies this process on the relay.
func (s *ChatService) NodeID() string {
	return s.nodeID
}

// EnableRelay attaches a cross-node relay. breaker guards publishing and
// metrics may be nil.
func (s *ChatService) EnableRelay(q messagequeue.Queue, subject string, breaker *resilience.Breaker, metrics *cfotel.Metrics) {
	s.relay = &relay{queue: q, subject: subject, breaker: breaker, metrics: metrics}
}

// SendChatMessage broadcasts body from sender to every live connection and
// returns the accepted message with its id and timestamp assigned. The only
// error is domain.ErrInvalidArgument, returned before anything is sent;
// undeliverable recipients are dropped silently. The sender need not hold a
// live connection.
func (s *ChatService) SendChatMessage(ctx context.Context, sender chat.Identity, body string) (*chat.Message, error) {
	msg := &chat.Message{
		Sender: sender,
		Body:   body,
		Origin: s.nodeID,
	}
	if err := msg.Validate(s.maxBody); err != nil {
		return nil, err
	}

	report, err := s.broadcaster.Broadcast(ctx, msg)
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "chat message sent",
		"message_id", msg.ID,
		"sender", sender.UserID,
		"delivered", report.Delivered,
		"failed", report.Failed,
	)

	s.publish(ctx, msg)
	return msg, nil
}

// publish forwards an accepted message to the relay. Failures are logged and
// never reach the sender: local fan-out has already happened.
func (s *ChatService) publish(ctx context.Context, msg *chat.Message) {
	if s.relay == nil {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		slog.ErrorContext(ctx, "marshal relay message", "message_id", msg.ID, "error", err)
		return
	}

	err = s.relay.breaker.Execute(ctx, func(ctx context.Context) error {
		return s.relay.queue.Publish(ctx, s.relay.subject, data)
	})
	s.relay.metrics.RecordRelayPublish(ctx, err == nil)
	if err != nil {
		level := slog.LevelError
		if errors.Is(err, resilience.ErrCircuitOpen) {
			level = slog.LevelDebug
		}
		slog.Log(ctx, level, "relay publish failed", "message_id", msg.ID, "subject", s.relay.subject, "error", err)
	}
}

// StartRelaySubscriber subscribes to the relay subject and re-broadcasts
// messages accepted by other nodes. The returned function stops it.
func (s *ChatService) StartRelaySubscriber(ctx context.Context) (func(), error) {
	if s.relay == nil {
		return func() {}, nil
	}
	cancel, err := s.relay.queue.Subscribe(ctx, s.relay.subject, s.handleRelayed)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", s.relay.subject, err)
	}
	slog.Info("relay subscriber started", "subject", s.relay.subject, "node_id", s.nodeID)
	return cancel, nil
}

func (s *ChatService) handleRelayed(ctx context.Context, subject string, data []byte) error {
	msg, err := messagequeue.DecodeRelayed(data)
	if err != nil {
		return fmt.Errorf("decode relayed message: %w", err)
	}
	if msg.Origin == s.nodeID {
		return nil
	}

	ctx, span := cfotel.StartRelaySpan(ctx, subject, msg.Origin)
	defer span.End()

	report, err := s.broadcaster.Broadcast(ctx, msg)
	if err != nil {
		return fmt.Errorf("broadcast relayed message %s: %w", msg.ID, err)
	}
	slog.DebugContext(ctx, "relayed message broadcast",
		"message_id", msg.ID,
		"origin", msg.Origin,
		"delivered", report.Delivered,
		"failed", report.Failed,
	)
	return nil
}
