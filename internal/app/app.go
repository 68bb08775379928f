package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/relaychat/internal/config"
	"github.com/vovakirdan/relaychat/internal/server"
	"github.com/vovakirdan/relaychat/internal/store"
	"github.com/vovakirdan/relaychat/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/relaychat/internal/transport/http"
)

// App wires together core and transport layers.
type App struct {
	chat            *server.Server
	chatLn          net.Listener
	http            *stdhttp.Server
	httpLn          net.Listener
	shutdownTimeout time.Duration
	journal         store.Journal
	log             *zerolog.Logger
}

// New constructs the application and binds its listeners.
func New(cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	journal, err := openJournal(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	if cfg.DatabasePath != "" {
		logger.Info().Str("db_path", cfg.DatabasePath).Msg("session journal initialized")
	}

	chat := server.New(server.Config{
		Workers:      cfg.Workers,
		IdleTimeout:  cfg.IdleTimeout,
		WriteTimeout: cfg.WriteTimeout,
		MaxSessions:  cfg.MaxSessions,
	}, logger, server.WithJournal(journal))

	a := &App{
		chat:            chat,
		shutdownTimeout: cfg.ShutdownTimeout,
		journal:         journal,
		log:             logger,
	}

	a.chatLn, err = net.Listen("tcp", cfg.Addr)
	if err != nil {
		a.cleanup()
		return nil, fmt.Errorf("listen %s: %w", cfg.Addr, err)
	}

	if cfg.HTTPAddr != "" {
		a.http = transporthttp.NewServer(chat, cfg, logger)
		a.httpLn, err = net.Listen("tcp", cfg.HTTPAddr)
		if err != nil {
			a.chatLn.Close()
			a.cleanup()
			return nil, fmt.Errorf("listen http %s: %w", cfg.HTTPAddr, err)
		}
	}

	return a, nil
}

func openJournal(path string) (store.Journal, error) {
	if path == "" {
		return store.Nop{}, nil
	}
	st, err := sqlite.New(path)
	if err != nil {
		return nil, fmt.Errorf("init journal: %w", err)
	}
	return st, nil
}

// Addr returns the chat listener address.
func (a *App) Addr() net.Addr {
	return a.chatLn.Addr()
}

// HTTPAddr returns the ops listener address, or nil when disabled.
func (a *App) HTTPAddr() net.Addr {
	if a.httpLn == nil {
		return nil
	}
	return a.httpLn.Addr()
}

// Run serves until ctx is cancelled, the chat server shuts itself down after
// inactivity, or a listener fails.
func (a *App) Run(ctx context.Context) error {
	defer a.cleanup()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := a.chat.Serve(a.chatLn)
		if errors.Is(err, server.ErrServerClosed) {
			return nil
		}
		return err
	})

	if a.http != nil {
		g.Go(func() error {
			a.log.Info().Str("addr", a.httpLn.Addr().String()).Msg("http server listening")
			err := a.http.Serve(a.httpLn)
			if errors.Is(err, stdhttp.ErrServerClosed) {
				return nil
			}
			return err
		})
	}

	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-a.chat.Done():
		}
		return a.shutdown()
	})

	return g.Wait()
}

func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
	defer cancel()

	var err error
	if a.http != nil {
		a.log.Info().Msg("shutting down http server")
		if herr := a.http.Shutdown(ctx); herr != nil {
			err = multierr.Append(err, fmt.Errorf("http shutdown: %w", herr))
		}
	}
	if cerr := a.chat.Shutdown(ctx); cerr != nil {
		err = multierr.Append(err, fmt.Errorf("chat shutdown: %w", cerr))
	}
	return err
}

// cleanup closes database and other resources.
func (a *App) cleanup() {
	if a.journal == nil {
		return
	}
	if err := a.journal.Close(); err != nil {
		a.log.Warn().Err(err).Msg("failed to close journal")
	} else {
		a.log.Debug().Msg("journal closed")
	}
}
