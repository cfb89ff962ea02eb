package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/Subhangi-2216/KharchaNepal-sub000/internal/httpapi"
	"github.com/Subhangi-2216/KharchaNepal-sub000/internal/syncer"
)

const shutdownTimeout = 15 * time.Second

// Mode selects which parts of the application a process runs.
type Mode struct {
	// API serves the HTTP control surface.
	API bool
	// Worker consumes sync tasks. With the local pool, workers also start
	// whenever API is set, since the pool lives in the same process.
	Worker bool
	// Watchdog runs the periodic stuck-lock sweep.
	Watchdog bool
	// Listener overrides the configured HTTP address.
	Listener net.Listener
}

// Run starts the selected components and blocks until ctx is canceled or
// one of them fails.
func (a *App) Run(ctx context.Context, mode Mode) error {
	if !mode.API && !mode.Worker && !mode.Watchdog {
		return errors.New("nothing to run")
	}
	ln := mode.Listener
	if mode.API {
		if a.Config.HTTP.JWTSecret == "" {
			return errors.New("http.jwt_secret is required to serve the API")
		}
		if ln == nil {
			var err error
			if ln, err = net.Listen("tcp", a.Config.HTTP.Addr); err != nil {
				return fmt.Errorf("listening on %s: %w", a.Config.HTTP.Addr, err)
			}
		}
	}
	a.logger.Info("starting kharcha daemon", "api", mode.API, "worker", mode.Worker, "watchdog", mode.Watchdog)

	g, gctx := errgroup.WithContext(ctx)

	if mode.Watchdog {
		wd := syncer.NewWatchdog(a.Coordinator, a.Config.Sync.WatchdogInterval, a.logger)
		g.Go(func() error { return wd.Run(gctx) })
	}

	switch {
	case a.amqp != nil && mode.Worker:
		g.Go(func() error { return a.amqp.Consume(gctx, a.runTask) })
	case a.pool != nil && (mode.Worker || mode.API):
		a.pool.Start(gctx)
	}

	if mode.API {
		a.serveHTTP(gctx, g, ln)
	}

	err := g.Wait()
	if a.pool != nil {
		a.pool.Stop()
	}
	a.logger.Info("daemon stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *App) serveHTTP(ctx context.Context, g *errgroup.Group, ln net.Listener) {
	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Handler: httpapi.NewRouter(httpapi.Deps{
			Syncer:    a.Coordinator,
			Approvals: a.Approvals,
			Accounts:  a.Store,
			Health:    a.Store,
			JWTSecret: a.Config.HTTP.JWTSecret,
			Providers: []string{a.Config.Mailbox.Plugin},
			Logger:    a.logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		a.logger.Info("http server listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down http server: %w", err)
		}
		return nil
	})
}
