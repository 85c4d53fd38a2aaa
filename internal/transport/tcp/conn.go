package tcp

import (
	"bufio"
	"context"
	"net"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/vovakirdan/betairc-server/internal/core"
	"github.com/vovakirdan/betairc-server/internal/proto"
)

const (
	maxLineBytes = 64 * 1024
	writeTimeout = 10 * time.Second
)

// HandleConn runs the full lifecycle of one client connection: nickname
// handshake, read loop feeding the dispatcher, and exactly-once cleanup. It
// also serves websocket clients wrapped into a net.Conn.
func (s *Server) HandleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	sess := core.NewSession(s.cfg.OutboundQueue, conn.RemoteAddr().String())
	logger := s.log.With().Str("session_id", sess.ID).Str("remote", sess.RemoteAddr).Logger()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(ctx, conn, sess)
	}()

	// Cleanup runs once per connection regardless of how the read loop ends:
	// EOF, read error, quit, or a forced drop. The writer drains pending
	// output before the leave notices go out.
	defer func() {
		sess.Close()
		<-writerDone
		if sess.Nick != "" {
			s.dispatcher.Disconnect(sess.Nick)
			logger.Info().Str("nickname", sess.Nick).Msg("connection closed")
		}
	}()

	reader := bufio.NewScanner(conn)
	reader.Buffer(make([]byte, 0, 4096), maxLineBytes)

	// Handshake: the first line claims a nickname; nothing else is admitted
	// before it succeeds.
	if !reader.Scan() {
		return
	}
	nick := strings.TrimSpace(reader.Text())
	if !core.ValidNickname(nick) {
		sess.Push(proto.EncodeResponse(proto.Response{
			Code:      proto.CodeBadRequest,
			Message:   "invalid nickname, use 3-16 alphanumeric characters or underscores",
			Timestamp: time.Now().Unix(),
		}))
		return
	}
	if _, err := s.users.Register(nick, sess, s.cfg.IsAdmin(nick)); err != nil {
		resp := proto.Response{Code: proto.CodeBadRequest, Message: err.Error(), Timestamp: time.Now().Unix()}
		if ce, ok := err.(*core.CoreError); ok {
			resp.Code = ce.Code
		}
		sess.Push(proto.EncodeResponse(resp))
		return
	}
	sess.Nick = nick
	logger.Info().Str("nickname", nick).Msg("user connected")

	sess.Push(proto.EncodeResponse(proto.Response{
		Code:      proto.CodeOK,
		Message:   "welcome, " + nick,
		Timestamp: time.Now().Unix(),
	}))
	s.dispatcher.Welcome(sess)

	limiter := rate.NewLimiter(rate.Limit(s.cfg.MessageRate), s.cfg.MessageBurst)

	for reader.Scan() {
		select {
		case <-sess.Done():
			return
		default:
		}

		if !limiter.Allow() {
			if !sess.Push(proto.EncodeResponse(proto.Response{
				Code:      proto.CodeBadRequest,
				Message:   "rate limit exceeded, slow down",
				Timestamp: time.Now().Unix(),
			})) {
				return
			}
			continue
		}

		resp, quit := s.dispatcher.Dispatch(ctx, sess, reader.Text())
		if !sess.Push(proto.EncodeResponse(resp)) {
			return
		}
		if quit {
			return
		}
	}
	if err := reader.Err(); err != nil {
		logger.Debug().Err(err).Msg("read loop ended")
	}
}

// writeLoop drains the session's outbound queue onto the connection. When the
// session starts disconnecting it flushes what is queued, then closes the
// socket to unblock a reader stuck in Scan.
func (s *Server) writeLoop(ctx context.Context, conn net.Conn, sess *core.Session) {
	defer conn.Close()

	for {
		select {
		case line := <-sess.Out():
			if !s.write(conn, line) {
				sess.Close()
				return
			}
		case <-sess.Done():
			for {
				select {
				case line := <-sess.Out():
					if !s.write(conn, line) {
						return
					}
				default:
					return
				}
			}
		case <-ctx.Done():
			sess.Close()
		}
	}
}

func (s *Server) write(conn net.Conn, line []byte) bool {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, err := conn.Write(line)
	return err == nil
}
