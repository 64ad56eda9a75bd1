package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/pulse-dev/pulse/internal/config"
	"github.com/pulse-dev/pulse/pkg/effect"
	"github.com/pulse-dev/pulse/pkg/event"
	"github.com/pulse-dev/pulse/pkg/middleware"
	"github.com/pulse-dev/pulse/pkg/persist"
	"github.com/pulse-dev/pulse/pkg/server"
	"github.com/pulse-dev/pulse/pkg/session"
	"github.com/pulse-dev/pulse/pkg/state"
)

func serveCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the demo live-state server",
		Long: `Start a server with a small demo application: a per-session
counter and name cell, a derived greeting, and bound client events.
Connect a WebSocket client to /live and send:

  {"type":"event","name":"counter:increment"}
  {"type":"event","name":"name:input","data":{"value":"Ada"}}`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return runServe(cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML config file")

	return cmd
}

func runServe(cfg *config.Config) error {
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	// Cells. All of them must exist before the server is built so the
	// outbound queue picks them up.
	counter := state.NewCell("counter", 0)
	name := state.NewCell("name", "")

	cells := state.NewRegistry()
	cells.MustAdd(counter)
	cells.MustAdd(name)

	greeting := state.NewComputed("greeting", func(sessionID string) string {
		n := name.Get(sessionID)
		if n == "" {
			return "Hello, stranger"
		}
		return fmt.Sprintf("Hello, %s (clicks: %d)", n, counter.Get(sessionID))
	}, counter, name)
	defer greeting.Dispose()
	cells.MustAddDerived(greeting)

	sessCfg := session.DefaultConfig()
	sessCfg.DebounceWindow = cfg.DebounceWindow
	sessCfg.IdleTimeout = cfg.IdleTimeout
	sessCfg.MaxSessions = cfg.MaxSessions
	sessCfg.MaxProcessMemory = cfg.MaxProcessMemory
	sessions := session.NewRegistry(cells, sessCfg, logger)

	// Events.
	events := event.NewRegistry(event.WithLogger(logger))
	events.Bind("name:input", name)
	events.On("counter:increment", func(ctx context.Context, ec *event.Context) error {
		counter.Update(ec.Session.ID, func(n int) int { return n + 1 })
		return nil
	})
	events.On("counter:reset", func(ctx context.Context, ec *event.Context) error {
		counter.Set(ec.Session.ID, 0)
		return nil
	})

	// Push the derived greeting whenever its inputs change.
	greeter := effect.On(sessions, func(s *session.Session, _ any) {
		s.QueueUpdate("greeting", greeting.Get(s.ID))
	}, counter, name)
	defer greeter.Dispose()

	audit := effect.NewWatch(sessions, counter, func(s *session.Session, old, new any) {
		logger.Debug("counter changed", "session", s.ID, "from", old, "to", new)
	})
	defer audit.Dispose()

	chain := middleware.NewChain(
		middleware.Prometheus(),
		middleware.Logging(logger),
	)
	if cfg.RateLimit > 0 {
		chain.Use(middleware.RateLimit(middleware.RateLimitConfig{
			Limit:  cfg.RateLimit,
			Window: time.Minute,
		}))
	}
	chain.Use(middleware.Validation(map[string]middleware.Validator{
		"name:input": middleware.Require("value"),
	}))

	opts := []server.Option{
		server.WithLogger(logger),
		server.WithChain(chain),
	}

	manager, cleanup, err := newPersistence(cfg, counter, name)
	if err != nil {
		return err
	}
	if manager != nil {
		defer manager.Dispose()
		defer cleanup()
		opts = append(opts, server.WithPersistence(manager))
	}

	srvCfg := server.DefaultConfig()
	srvCfg.Addr = cfg.Addr
	srvCfg.Session = sessCfg
	srv := server.New(srvCfg, cells, sessions, events, opts...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return srv.ListenAndServe(ctx)
}

// newPersistence builds the configured store and watches the demo cells.
// The returned cleanup closes backend resources; both returns are nil
// when persistence is off.
func newPersistence(cfg *config.Config, cells ...state.AnyCell) (*persist.Manager, func(), error) {
	var store persist.Store
	cleanup := func() {}

	switch cfg.Persistence {
	case "none":
		return nil, nil, nil
	case "memory":
		store = persist.NewMemoryStore()
	case "sqlite":
		db, err := sql.Open("sqlite", cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite database: %w", err)
		}
		sqlStore := persist.NewSQLStore(db, persist.WithSQLDialect(persist.DialectSQLite))
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := sqlStore.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("ensure schema: %w", err)
		}
		store = sqlStore
		cleanup = func() { db.Close() }
	default:
		return nil, nil, fmt.Errorf("unknown persistence backend %q", cfg.Persistence)
	}

	manager := persist.NewManager(store, persist.WithDebounce(cfg.PersistDebounce))
	for _, cell := range cells {
		manager.Watch(cell)
	}
	return manager, cleanup, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
