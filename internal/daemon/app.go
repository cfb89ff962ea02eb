// Package daemon wires configuration into running kharcha components.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Subhangi-2216/KharchaNepal-sub000/internal/approval"
	"github.com/Subhangi-2216/KharchaNepal-sub000/internal/plugins"
	"github.com/Subhangi-2216/KharchaNepal-sub000/internal/queue"
	"github.com/Subhangi-2216/KharchaNepal-sub000/internal/seen"
	"github.com/Subhangi-2216/KharchaNepal-sub000/internal/store"
	"github.com/Subhangi-2216/KharchaNepal-sub000/internal/store/memory"
	pgstore "github.com/Subhangi-2216/KharchaNepal-sub000/internal/store/postgres"
	"github.com/Subhangi-2216/KharchaNepal-sub000/internal/syncer"
	"github.com/Subhangi-2216/KharchaNepal-sub000/pkg/api"
	"github.com/Subhangi-2216/KharchaNepal-sub000/pkg/classifier"
	"github.com/Subhangi-2216/KharchaNepal-sub000/pkg/client"
	"github.com/Subhangi-2216/KharchaNepal-sub000/pkg/config"
	"github.com/Subhangi-2216/KharchaNepal-sub000/pkg/extractor"
	"github.com/Subhangi-2216/KharchaNepal-sub000/pkg/mailbox"
)

// Options adjust how Build assembles the application.
type Options struct {
	Logger *slog.Logger
	// InMemory uses the in-process store instead of PostgreSQL.
	InMemory bool
	// Clients overrides the OAuth client store built from the config.
	Clients *client.Store
}

// App is a fully wired kharcha instance.
type App struct {
	Config      config.Config
	Store       store.Store
	Registry    *plugins.Registry
	Clients     *client.Store
	// Mailbox is the configured connector, wrapped with retries.
	Mailbox     api.Mailbox
	Coordinator *syncer.Coordinator
	Approvals   *approval.Service

	pool    *queue.Pool
	amqp    *queue.AMQP
	closers []func() error
	logger  *slog.Logger
}

// Build creates every component named by cfg. Callers must Close the App.
func Build(ctx context.Context, cfg config.Config, opts Options) (_ *App, err error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	app := &App{Config: cfg, Registry: plugins.Default(), logger: logger}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()

	var pool *pgxpool.Pool
	if opts.InMemory {
		app.Store = memory.New()
	} else {
		pool, err = pgstore.Connect(ctx, cfg.Postgres, logger)
		if err != nil {
			return nil, err
		}
		s, err := pgstore.New(ctx, pool, logger)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("opening store: %w", err)
		}
		app.Store = s
	}
	app.closers = append(app.closers, func() error { app.Store.Close(); return nil })

	app.Clients = opts.Clients
	if app.Clients == nil {
		if app.Clients, err = app.clientStore(); err != nil {
			return nil, err
		}
	}
	env := plugins.Env{Clients: app.Clients, Pool: pool}

	mb, err := app.Registry.CreateMailbox(ctx, cfg.Mailbox.Plugin, env, cfg.Mailbox.RawConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("creating %s mailbox: %w", cfg.Mailbox.Plugin, err)
	}
	mb = mailbox.WithRetry(mb, mailbox.RetryConfig{
		Attempts: cfg.Sync.Backoff.Attempts,
		Delay:    cfg.Sync.Backoff.Delay,
		MaxDelay: cfg.Sync.Backoff.MaxDelay,
	}, logger)
	app.Mailbox = mb

	ledger, err := app.Registry.CreateLedger(ctx, cfg.Ledger.Plugin, env, cfg.Ledger.RawConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("creating %s ledger: %w", cfg.Ledger.Plugin, err)
	}
	if c, ok := ledger.(io.Closer); ok {
		app.closers = append(app.closers, c.Close)
	}

	cls, err := classifier.New(cfg.Classifier)
	if err != nil {
		return nil, fmt.Errorf("building classifier: %w", err)
	}
	ext := extractor.New(extractor.Options{
		MaxAmounts:      cfg.Extractor.MaxAmounts,
		MaxMerchants:    cfg.Extractor.MaxMerchants,
		DefaultCurrency: cfg.Extractor.DefaultCurrency,
	})

	cache, err := app.seenCache(ctx)
	if err != nil {
		return nil, err
	}

	dispatcher, err := app.dispatcher()
	if err != nil {
		return nil, err
	}

	app.Coordinator, err = syncer.New(syncer.Deps{
		Store:      app.Store,
		Mailboxes:  map[string]api.Mailbox{cfg.Mailbox.Plugin: mb},
		Classifier: cls,
		Extractor:  ext,
		Seen:       cache,
		Dispatcher: dispatcher,
		Logger:     logger,
	}, syncer.Options{
		StuckTimeout: cfg.Sync.StuckTimeout,
		BatchSize:    cfg.Sync.BatchSize,
		MaxMessages:  cfg.Sync.MaxMessages,
	})
	if err != nil {
		return nil, err
	}
	app.Approvals = approval.New(app.Store, ledger, logger)

	queueKind := "local"
	if app.amqp != nil {
		queueKind = "amqp"
	}
	logger.Info("application built",
		"mailbox", cfg.Mailbox.Plugin,
		"ledger", cfg.Ledger.Plugin,
		"queue", queueKind,
		"seen_cache", cfg.Redis.Addr != "",
		"classifier_version", cls.Version(),
	)
	return app, nil
}

// clientStore builds the OAuth store when the selected plugins need scopes.
func (a *App) clientStore() (*client.Store, error) {
	scopes, err := a.Registry.AllScopes(a.Config.Mailbox.Plugin, a.Config.Ledger.Plugin)
	if err != nil {
		return nil, err
	}
	if len(scopes) == 0 {
		return nil, nil
	}
	a.logger.Info("OAuth scopes required", "scopes", scopes)
	cs, err := client.NewStore(a.Config.Mailbox.ClientSecretFile, a.Config.Mailbox.TokenDir, a.logger, scopes...)
	if err != nil {
		return nil, fmt.Errorf("creating OAuth client store: %w", err)
	}
	return cs, nil
}

func (a *App) seenCache(ctx context.Context) (seen.Cache, error) {
	rc := a.Config.Redis
	if rc.Addr == "" {
		return seen.Nop{}, nil
	}
	rdb, err := seen.NewClient(ctx, seen.Options{Addr: rc.Addr, Password: rc.Password, DB: rc.DB, TTL: rc.TTL})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, rdb.Close)
	return seen.NewRedis(rdb, rc.TTL, a.logger), nil
}

// dispatcher returns the AMQP queue when configured, else a local pool whose
// workers call back into the coordinator.
func (a *App) dispatcher() (queue.Dispatcher, error) {
	if a.Config.AMQP.URL != "" {
		q, err := queue.DialAMQP(queue.AMQPConfig{
			URL:      a.Config.AMQP.URL,
			Exchange: a.Config.AMQP.Exchange,
			Queue:    a.Config.AMQP.Queue,
		}, a.logger)
		if err != nil {
			return nil, err
		}
		a.amqp = q
		a.closers = append(a.closers, q.Close)
		return q, nil
	}

	workers := a.Config.Sync.Workers
	a.pool = queue.NewPool(workers, workers*4, a.runTask, a.logger)
	return a.pool, nil
}

func (a *App) runTask(ctx context.Context, t queue.Task) error {
	return a.Coordinator.RunSync(ctx, t)
}

// Close releases every resource in reverse order of creation.
func (a *App) Close() {
	if a.pool != nil {
		a.pool.Stop()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("closing application", "error", err)
	}
}
