package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	cfotel "github.com/Strob0t/chathub/internal/adapter/otel"
	"github.com/Strob0t/chathub/internal/config"
	"github.com/Strob0t/chathub/internal/domain/chat"
	"github.com/Strob0t/chathub/internal/port/broadcast"
)

// errSendTimeout marks a delivery that did not complete within the send timeout.
var errSendTimeout = errors.New("send timed out")

// Dispatcher fans one message out to every connection in its Registry.
type Dispatcher struct {
	registry *Registry
	cfg      config.Dispatch
	metrics  *cfotel.Metrics

	now       func() time.Time
	lastStamp atomic.Int64 // unix nanos of the last assigned timestamp
}

var _ broadcast.Broadcaster = (*Dispatcher)(nil)

// NewDispatcher creates a Dispatcher over registry. metrics may be nil.
func NewDispatcher(registry *Registry, cfg config.Dispatch, metrics *cfotel.Metrics) *Dispatcher {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = config.Defaults().Dispatch.SendTimeout
	}
	return &Dispatcher{
		registry: registry,
		cfg:      cfg,
		metrics:  metrics,
		now:      time.Now,
	}
}

// Registry returns the registry the dispatcher delivers to.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Broadcast validates msg, stamps it if it has no id yet, and delivers it to
// every connection live at snapshot time. Each connection gets exactly one
// attempt bounded by the send timeout; a connection whose attempt fails is
// unregistered. The only error is an invalid message, returned before any
// send. Broadcast returns once every attempt has finished, and cancelling
// ctx does not abort the fan-out.
func (d *Dispatcher) Broadcast(ctx context.Context, msg *chat.Message) (broadcast.Report, error) {
	if err := msg.Validate(d.cfg.MaxBodyBytes); err != nil {
		return broadcast.Report{}, err
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
		msg.Timestamp = d.stamp()
	}

	data, err := chat.EncodeFrame(chat.FrameMessage, msg)
	if err != nil {
		return broadcast.Report{}, fmt.Errorf("encode message: %w", err)
	}

	start := time.Now()
	conns := d.registry.Snapshot()

	ctx = context.WithoutCancel(ctx)
	ctx, span := cfotel.StartBroadcastSpan(ctx, msg.ID, len(conns))

	var delivered, failed atomic.Int64
	var g errgroup.Group
	if d.cfg.MaxParallel > 0 {
		g.SetLimit(d.cfg.MaxParallel)
	}
	for _, c := range conns {
		g.Go(func() error {
			if err := d.deliver(ctx, c, data); err != nil {
				failed.Add(1)
				slog.DebugContext(ctx, "delivery failed, dropping connection",
					"connection_id", c.ID,
					"user_id", c.Identity.UserID,
					"message_id", msg.ID,
					"error", err,
				)
				d.registry.Unregister(c.ID)
				return nil
			}
			delivered.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	report := broadcast.Report{Delivered: int(delivered.Load()), Failed: int(failed.Load())}
	cfotel.EndBroadcastSpan(span, report.Delivered, report.Failed)
	d.metrics.RecordBroadcast(ctx, report.Delivered, report.Failed, time.Since(start))

	slog.DebugContext(ctx, "broadcast complete",
		"message_id", msg.ID,
		"sender", msg.Sender.UserID,
		"delivered", report.Delivered,
		"failed", report.Failed,
	)
	return report, nil
}

// deliver performs one bounded send. The send runs on its own goroutine so a
// handle that ignores ctx still cannot hold the fan-out past the timeout;
// unregistering the connection afterwards closes the handle and releases it.
func (d *Dispatcher) deliver(ctx context.Context, c Connection, data []byte) error {
	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("send panicked: %v", r)
			}
		}()
		done <- c.Send(sendCtx, data)
	}()

	select {
	case err := <-done:
		return err
	case <-sendCtx.Done():
		return fmt.Errorf("%w after %s", errSendTimeout, d.cfg.SendTimeout)
	}
}

// stamp returns a timestamp strictly greater than every previous one issued
// by this dispatcher, even if the wall clock stalls or steps back.
func (d *Dispatcher) stamp() time.Time {
	for {
		last := d.lastStamp.Load()
		next := d.now().UnixNano()
		if next <= last {
			next = last + 1
		}
		if d.lastStamp.CompareAndSwap(last, next) {
			return time.Unix(0, next).UTC()
		}
	}
}
