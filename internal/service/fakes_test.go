package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var errBrokenPipe = errors.New("broken pipe")

// mockHandle implements broadcast.SendHandle for testing.
type mockHandle struct {
	mu      sync.Mutex
	frames  [][]byte
	sendErr error
	block   bool // block until ctx is done
	ignore  bool // with block: ignore ctx and wait for Close
	onSend  func()

	attempts atomic.Int64
	closes   atomic.Int64
	closed   chan struct{}
	once     sync.Once
}

func newMockHandle() *mockHandle {
	return &mockHandle{closed: make(chan struct{})}
}

func (m *mockHandle) Send(ctx context.Context, data []byte) error {
	m.attempts.Add(1)
	if m.onSend != nil {
		m.onSend()
	}
	if m.block {
		if m.ignore {
			<-m.closed
			return errors.New("closed")
		}
		<-ctx.Done()
		return ctx.Err()
	}
	if m.sendErr != nil {
		return m.sendErr
	}
	m.mu.Lock()
	m.frames = append(m.frames, append([]byte(nil), data...))
	m.mu.Unlock()
	return nil
}

func (m *mockHandle) Close() error {
	m.closes.Add(1)
	m.once.Do(func() { close(m.closed) })
	return nil
}

func (m *mockHandle) received() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.frames...)
}
