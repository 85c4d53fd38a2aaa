// Package app wires the registries, store, and transports together.
package app

import (
	"context"
	stdhttp "net/http"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/betairc-server/internal/config"
	"github.com/vovakirdan/betairc-server/internal/core"
	"github.com/vovakirdan/betairc-server/internal/log"
	"github.com/vovakirdan/betairc-server/internal/store"
	"github.com/vovakirdan/betairc-server/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/betairc-server/internal/transport/http"
	"github.com/vovakirdan/betairc-server/internal/transport/tcp"
)

// App holds the assembled server components.
type App struct {
	cfg        config.Config
	tcpServer  *tcp.Server
	httpServer *stdhttp.Server
	dispatcher *core.Dispatcher
	store      store.Store
	log        *zerolog.Logger
}

// New constructs the application with the provided configuration.
func New(cfg config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	channels := core.NewChannelRegistry(cfg.HistorySize, log.Component(logger, "channels"))
	users := core.NewUserRegistry(channels, log.Component(logger, "users"))
	dispatcher := core.NewDispatcher(users, channels, st, cfg.MaxMessageLen, log.Component(logger, "dispatcher"))

	for name, topic := range cfg.Channels {
		channels.Seed(name, topic)
	}

	// Restore persisted bans before the first connection is admitted.
	bans, err := st.ListBans(context.Background())
	if err != nil {
		st.Close()
		return nil, err
	}
	for _, b := range bans {
		channels.SeedBan(b.Channel, b.Nickname)
	}
	if len(bans) > 0 {
		logger.Info().Int("count", len(bans)).Msg("restored persisted bans")
	}

	tcpServer := tcp.New(cfg, users, dispatcher, log.Component(logger, "tcp"))
	httpServer := transporthttp.NewServer(cfg, users, channels, tcpServer, logger)

	return &App{
		cfg:        cfg,
		tcpServer:  tcpServer,
		httpServer: httpServer,
		dispatcher: dispatcher,
		store:      st,
		log:        logger,
	}, nil
}

// Run starts both listeners and blocks until context cancellation or a fatal
// error on either of them.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 2)

	go func() {
		serverErr <- a.tcpServer.Run(ctx)
	}()
	go func() {
		if err := a.httpServer.ListenAndServe(); err != nil && err != stdhttp.ErrServerClosed {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()
	a.log.Info().Str("http_addr", a.cfg.HTTPAddr).Msg("http server listening")

	select {
	case err := <-serverErr:
		a.cleanup()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down")
		a.dispatcher.Announce("server is shutting down")
		if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
			a.cleanup()
			return err
		}
		a.cleanup()
		return <-serverErr
	}
}

func (a *App) cleanup() {
	if a.store == nil {
		return
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn().Err(err).Msg("failed to close store")
	} else {
		a.log.Info().Msg("store closed")
	}
}
