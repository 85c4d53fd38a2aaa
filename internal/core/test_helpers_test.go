package core

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/vovakirdan/betairc-server/internal/proto"
)

const testQueueSize = 64

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func newTestRegistries() (*UserRegistry, *ChannelRegistry) {
	channels := NewChannelRegistry(50, zerolog.Nop())
	users := NewUserRegistry(channels, zerolog.Nop())
	return users, channels
}

func newTestDispatcher() (*Dispatcher, *UserRegistry, *ChannelRegistry) {
	users, channels := newTestRegistries()
	return NewDispatcher(users, channels, nil, 1024, zerolog.Nop()), users, channels
}

// connect registers a nickname on a fresh session, as the handshake would.
func connect(t *testing.T, users *UserRegistry, nick string, admin bool) *Session {
	t.Helper()
	sess := NewSession(testQueueSize, "test")
	sess.Nick = nick
	if _, err := users.Register(nick, sess, admin); err != nil {
		t.Fatalf("register %s: %v", nick, err)
	}
	return sess
}

// drainEnvelopes decodes everything currently queued on the session.
func drainEnvelopes(t *testing.T, sess *Session) []proto.Envelope {
	t.Helper()
	var out []proto.Envelope
	for {
		select {
		case line := <-sess.Out():
			env, err := proto.DecodeEnvelope(line[:len(line)-1])
			if err != nil {
				t.Fatalf("decode envelope %q: %v", line, err)
			}
			out = append(out, env)
		default:
			return out
		}
	}
}

func mustEnvelope(t *testing.T, sess *Session, envType string) proto.Envelope {
	t.Helper()
	for _, env := range drainEnvelopes(t, sess) {
		if env.Type == envType {
			return env
		}
	}
	t.Fatalf("expected queued envelope of type %q", envType)
	return proto.Envelope{}
}
