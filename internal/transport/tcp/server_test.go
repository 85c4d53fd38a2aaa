package tcp

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/betairc-server/internal/config"
	"github.com/vovakirdan/betairc-server/internal/core"
	"github.com/vovakirdan/betairc-server/internal/proto"
)

func startTestServer(t *testing.T) string {
	return startTestServerWith(t, func(*config.Config) {})
}

func startTestServerWith(t *testing.T, mutate func(*config.Config)) string {
	t.Helper()

	cfg := config.Default()
	cfg.OutboundQueue = 64
	cfg.MessageRate = 1000
	cfg.MessageBurst = 1000
	cfg.Admins = []string{"admin1"}
	mutate(&cfg)

	channels := core.NewChannelRegistry(cfg.HistorySize, zerolog.Nop())
	users := core.NewUserRegistry(channels, zerolog.Nop())
	dispatcher := core.NewDispatcher(users, channels, nil, cfg.MaxMessageLen, zerolog.Nop())
	srv := New(cfg, users, dispatcher, zerolog.Nop())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		ln.Close()
	})

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go srv.HandleConn(ctx, conn)
		}
	}()

	return ln.Addr().String()
}

type testClient struct {
	t      *testing.T
	conn   net.Conn
	reader *bufio.Reader
}

func dialClient(t *testing.T, addr string) *testClient {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &testClient{t: t, conn: conn, reader: bufio.NewReader(conn)}
}

func (c *testClient) send(line string) {
	c.t.Helper()
	if _, err := c.conn.Write([]byte(line + "\n")); err != nil {
		c.t.Fatalf("write %q: %v", line, err)
	}
}

// readLine returns the next decoded JSON line from the server.
func (c *testClient) readLine() map[string]any {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	raw, err := c.reader.ReadBytes('\n')
	if err != nil {
		c.t.Fatalf("read line: %v", err)
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		c.t.Fatalf("decode %q: %v", raw, err)
	}
	return obj
}

// readResponse skips envelopes until the next command response.
func (c *testClient) readResponse() map[string]any {
	c.t.Helper()
	for i := 0; i < 20; i++ {
		obj := c.readLine()
		if _, ok := obj["code"]; ok {
			return obj
		}
	}
	c.t.Fatalf("no response seen within 20 lines")
	return nil
}

// expectCode reads the next command response and asserts its code.
func (c *testClient) expectCode(code proto.Code) map[string]any {
	c.t.Helper()
	obj := c.readResponse()
	if obj["code"] != string(code) {
		c.t.Fatalf("response code = %v (%v), want %s", obj["code"], obj["message"], code)
	}
	return obj
}

// expectEnvelope skips lines until an envelope of the given type arrives.
func (c *testClient) expectEnvelope(envType string) map[string]any {
	c.t.Helper()
	for i := 0; i < 20; i++ {
		obj := c.readLine()
		if obj["type"] == envType {
			return obj
		}
	}
	c.t.Fatalf("no %s envelope seen within 20 lines", envType)
	return nil
}

func (c *testClient) handshake(nick string) {
	c.t.Helper()
	c.send(nick)
	c.expectCode(proto.CodeOK)
	c.expectEnvelope(proto.TypeSystem) // welcome notice
}

func TestHandshakeJoinAndBroadcast(t *testing.T) {
	addr := startTestServer(t)

	alice := dialClient(t, addr)
	alice.handshake("alice")

	alice.send("/JOIN #general")
	alice.expectCode(proto.CodeOK)

	bob := dialClient(t, addr)
	bob.handshake("bob")
	bob.send("/join #general")
	bob.expectCode(proto.CodeOK)

	alice.send("hello bob")
	alice.expectCode(proto.CodeOK)

	env := bob.expectEnvelope(proto.TypeChannel)
	if env["sender"] != "alice" || env["recipient"] != "#general" || env["content"] != "hello bob" {
		t.Fatalf("unexpected envelope: %v", env)
	}
}

func TestDuplicateNicknameRefused(t *testing.T) {
	addr := startTestServer(t)

	alice := dialClient(t, addr)
	alice.handshake("alice")

	intruder := dialClient(t, addr)
	intruder.send("alice")
	intruder.expectCode(proto.CodeBadRequest)
}

func TestInvalidNicknameRefused(t *testing.T) {
	addr := startTestServer(t)

	c := dialClient(t, addr)
	c.send("no spaces allowed")
	c.expectCode(proto.CodeBadRequest)
}

func TestPrivateMessageBetweenConnections(t *testing.T) {
	addr := startTestServer(t)

	alice := dialClient(t, addr)
	alice.handshake("alice")
	bob := dialClient(t, addr)
	bob.handshake("bob")

	alice.send("/msg bob psst")
	alice.expectCode(proto.CodeOK)

	env := bob.expectEnvelope(proto.TypePrivate)
	if env["sender"] != "alice" || env["content"] != "psst" {
		t.Fatalf("unexpected envelope: %v", env)
	}
}

func TestRateLimitedLineAnswers400(t *testing.T) {
	// Zero rate with a burst of one admits exactly one line after the
	// handshake, so the second is always over the limit.
	addr := startTestServerWith(t, func(cfg *config.Config) {
		cfg.MessageRate = 0
		cfg.MessageBurst = 1
	})

	c := dialClient(t, addr)
	c.handshake("alice")

	c.send("/help")
	c.expectCode(proto.CodeOK)

	c.send("/help")
	obj := c.expectCode(proto.CodeBadRequest)
	if msg, _ := obj["message"].(string); !strings.Contains(msg, "rate limit") {
		t.Fatalf("message = %q, want a rate limit notice", msg)
	}

	// The connection survives; the line was refused, not the client.
	c.send("/quit bye")
	c.expectCode(proto.CodeBadRequest)
}

func TestQuitClosesConnectionAndFreesNickname(t *testing.T) {
	addr := startTestServer(t)

	alice := dialClient(t, addr)
	alice.handshake("alice")
	alice.send("/quit bye")
	alice.expectCode(proto.CodeOK)

	// The server tears the connection down after the response.
	alice.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := alice.reader.ReadBytes('\n'); err == nil {
		t.Fatal("connection still open after quit")
	}

	// Nickname is reusable once deregistration completed.
	deadline := time.Now().Add(2 * time.Second)
	for {
		next := dialClient(t, addr)
		next.send("alice")
		obj := next.readResponse()
		if obj["code"] == string(proto.CodeOK) {
			return
		}
		next.conn.Close()
		if time.Now().After(deadline) {
			t.Fatalf("nickname never freed: %v", obj)
		}
		time.Sleep(50 * time.Millisecond)
	}
}
