// Package tcp implements the line-oriented client transport: one goroutine
// pair per accepted connection, bridging raw sockets to the dispatcher.
package tcp

import (
	"context"
	"net"
	"sync"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/betairc-server/internal/config"
	"github.com/vovakirdan/betairc-server/internal/core"
)

// Server accepts TCP connections and runs the per-connection protocol loop.
type Server struct {
	cfg        config.Config
	users      *core.UserRegistry
	dispatcher *core.Dispatcher
	log        zerolog.Logger
}

// New builds the TCP server.
func New(cfg config.Config, users *core.UserRegistry, dispatcher *core.Dispatcher, logger zerolog.Logger) *Server {
	return &Server{
		cfg:        cfg,
		users:      users,
		dispatcher: dispatcher,
		log:        logger,
	}
}

// Run listens on the configured address and serves connections until the
// context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.log.Info().Str("addr", s.cfg.Addr).Msg("tcp server listening")

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	var wg sync.WaitGroup
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				wg.Wait()
				return nil
			}
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.HandleConn(ctx, conn)
		}()
	}
}
