package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/nhle/otp-forwarder/internal/credential"
	"github.com/nhle/otp-forwarder/internal/dedup"
	"github.com/nhle/otp-forwarder/internal/deliver"
	"github.com/nhle/otp-forwarder/internal/history"
	"github.com/nhle/otp-forwarder/internal/model"
	"github.com/nhle/otp-forwarder/internal/poll"
	"github.com/nhle/otp-forwarder/internal/session"
	"github.com/nhle/otp-forwarder/internal/source/ivasms"
	"github.com/nhle/otp-forwarder/internal/store"
	"github.com/nhle/otp-forwarder/internal/telegram"
	"github.com/nhle/otp-forwarder/internal/web"
)

// App wires the pipeline together: source adapter, session manager,
// dedup store, poll loop, delivery queue, command bot, and the
// optional status server.
type App struct {
	cfg      *model.AppConfig
	sqlStore *store.SQLiteStore // nil when running memory-only
	seen     dedup.Store
	sessions *session.Manager
	queue    *deliver.Queue
	loop     *poll.Loop
	bot      *telegram.Bot
	web      *web.Server
	history  *history.Query
}

// New builds the application from configuration and stored credentials.
// Missing credentials and invalid configuration are fatal here; nothing
// else is allowed to be.
func New(cfg *model.AppConfig) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	email, err := credential.Get(credential.KeySourceEmail)
	if err != nil {
		return nil, err
	}
	password, err := credential.Get(credential.KeySourcePassword)
	if err != nil {
		return nil, err
	}
	token, err := credential.Get(credential.KeyTelegramToken)
	if err != nil {
		return nil, err
	}

	adapter := ivasms.NewClient(cfg.Source.BaseURL, email, password, cfg.RequestTimeout())
	sessions := session.NewManager(adapter, session.Options{
		MaxAge:           cfg.SessionMaxAge(),
		LoginMaxAttempts: cfg.Source.LoginMaxAttempts,
	})

	a := &App{cfg: cfg, sessions: sessions}

	if cfg.Storage.DBPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.DBPath), 0o755); err != nil {
			return nil, fmt.Errorf("creating storage directory: %w", err)
		}
		s, err := store.NewSQLiteStore(cfg.Storage.DBPath)
		if err != nil {
			return nil, err
		}
		a.sqlStore = s
		a.seen = s
	} else {
		log.Warn().Msg("No db_path configured, dedup state will not survive restarts")
		a.seen = dedup.NewMemoryStore()
	}

	client := telegram.NewClient(token)
	a.queue = deliver.NewQueue(telegram.NewSink(client), deliver.Options{
		MaxAttempts: cfg.Delivery.MaxAttempts,
		BackoffBase: time.Duration(cfg.Delivery.BackoffBaseMs) * time.Millisecond,
		BackoffCap:  time.Duration(cfg.Delivery.BackoffCapMs) * time.Millisecond,
		SendTimeout: cfg.RequestTimeout(),
		Format:      telegram.FormatMessage,
		OnTerminalFailure: func(task deliver.Task, err error) {
			if a.bot != nil {
				a.bot.ReportTerminalFailure(task, err)
			}
		},
	})

	var archive store.Store
	if a.sqlStore != nil {
		archive = a.sqlStore
	}

	a.loop = poll.New(sessions, adapter, a.seen, a.queue, archive, poll.Options{
		Interval:     cfg.PollInterval(),
		Destinations: cfg.Telegram.ChatIDs,
	})
	a.history = history.New(sessions, adapter, time.Duration(cfg.History.MaxSpanDays)*24*time.Hour)
	a.bot = telegram.NewBot(client, cfg.Telegram.AdminIDs, archive, a.loop, a.queue, a.history)

	if cfg.Web.ListenAddr != "" {
		a.web = web.NewServer(cfg.Web.ListenAddr, a.loop, a.queue)
	}

	return a, nil
}

// Run starts every component and blocks until a shutdown signal or a
// fatal component error. Shutdown is graceful: new poll cycles stop,
// in-flight delivery attempts get their timeout to finish, and the
// database is closed last.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.queue.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.loop.Run(gctx) })
	g.Go(func() error { return a.bot.Run(gctx) })
	g.Go(func() error {
		return dedup.RunPruner(gctx, a.seen, a.cfg.PruneInterval(), a.cfg.DedupRetention())
	})
	if a.web != nil {
		g.Go(func() error { return a.web.Run(gctx) })
	}

	a.bot.NotifyAdmins(gctx, "OTP forwarder started.")

	err := g.Wait()

	a.queue.Stop()
	if a.sqlStore != nil {
		if cerr := a.sqlStore.Close(); cerr != nil {
			log.Warn().Err(cerr).Msg("Closing database failed")
		}
	} else if cerr := a.seen.Close(); cerr != nil {
		log.Warn().Err(cerr).Msg("Closing dedup store failed")
	}

	log.Info().Msg("Shutdown complete")
	return err
}

// History exposes the range query helper for one-shot CLI use.
func (a *App) History() *history.Query {
	return a.history
}
