package http

import (
	stdhttp "net/http"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/betairc-server/internal/transport/tcp"
)

// WSHandler upgrades HTTP connections and feeds them into the same
// per-connection protocol loop as the TCP listener. Each websocket text
// message carries one protocol line.
type WSHandler struct {
	tcp *tcp.Server
	log *zerolog.Logger
}

// NewWSHandler builds a new websocket handler.
func NewWSHandler(tcpSrv *tcp.Server, logger *zerolog.Logger) *WSHandler {
	return &WSHandler{tcp: tcpSrv, log: logger}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	netConn := websocket.NetConn(r.Context(), conn, websocket.MessageText)
	h.tcp.HandleConn(r.Context(), netConn)

	conn.Close(websocket.StatusNormalClosure, "closing")
}
