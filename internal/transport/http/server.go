// Package http exposes a read-only status API over the registries and a
// websocket endpoint that speaks the same line protocol as the TCP listener.
package http

import (
	stdhttp "net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/betairc-server/internal/config"
	"github.com/vovakirdan/betairc-server/internal/core"
	"github.com/vovakirdan/betairc-server/internal/transport/tcp"
)

// NewServer builds the HTTP server with API routes and the websocket bridge.
func NewServer(cfg config.Config, users *core.UserRegistry, channels *core.ChannelRegistry, tcpSrv *tcp.Server, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())

	h := &Handlers{users: users, channels: channels, log: logger}
	router.GET("/healthz", h.Health)

	api := router.Group("/api")
	api.GET("/channels", h.ListChannels)
	api.GET("/channels/:name/members", h.ListMembers)
	api.GET("/users", h.ListUsers)

	ws := NewWSHandler(tcpSrv, logger)
	router.GET("/ws", func(c *gin.Context) {
		ws.ServeHTTP(c.Writer, c.Request)
	})

	return &stdhttp.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
