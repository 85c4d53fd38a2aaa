package core

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Status describes the lifecycle of a session.
type Status int32

const (
	// StatusActive means the session accepts outbound pushes.
	StatusActive Status = iota
	// StatusDisconnecting means a close was initiated; no further pushes land.
	StatusDisconnecting
)

// Session is the per-connection context. It owns the bounded outbound queue
// the broadcast fan-out writes into. Nick and CurrentChannel are mutated only
// by the connection's own reader goroutine; all shared state lives in the
// registries.
type Session struct {
	ID         string
	RemoteAddr string

	// Nick is the claimed nickname, empty until the handshake succeeds.
	Nick string
	// CurrentChannel is where plain-text sends route, set by the most
	// recent successful join.
	CurrentChannel string

	out       chan []byte
	done      chan struct{}
	closeOnce sync.Once
	status    atomic.Int32
}

// NewSession constructs a session with an outbound queue of the given capacity.
func NewSession(queueSize int, remoteAddr string) *Session {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Session{
		ID:         uuid.NewString(),
		RemoteAddr: remoteAddr,
		out:        make(chan []byte, queueSize),
		done:       make(chan struct{}),
	}
}

// Push enqueues one encoded line without blocking. It reports false when the
// session is disconnecting or its queue is full; the caller decides whether
// that drops the connection.
func (s *Session) Push(line []byte) bool {
	if s.Status() != StatusActive {
		return false
	}
	select {
	case s.out <- line:
		return true
	default:
		return false
	}
}

// Out is the stream the connection's writer drains.
func (s *Session) Out() <-chan []byte {
	return s.out
}

// Done is closed once the session starts disconnecting.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Status returns the current lifecycle state.
func (s *Session) Status() Status {
	return Status(s.status.Load())
}

// Close transitions the session to disconnecting. Safe to call concurrently
// with in-flight dispatch; only the first call has effect.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.status.Store(int32(StatusDisconnecting))
		close(s.done)
	})
}
