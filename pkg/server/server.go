// Package server exposes the state engine over WebSocket. It upgrades
// connections, creates or resumes sessions, pushes an init snapshot,
// routes inbound events through the middleware chain, and forwards cell
// changes back out through the session's debounced queue.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pulse-dev/pulse/pkg/event"
	"github.com/pulse-dev/pulse/pkg/middleware"
	"github.com/pulse-dev/pulse/pkg/persist"
	"github.com/pulse-dev/pulse/pkg/protocol"
	"github.com/pulse-dev/pulse/pkg/session"
	"github.com/pulse-dev/pulse/pkg/state"
)

// Server ties the engine together for one application.
type Server struct {
	cfg      *Config
	cells    *state.Registry
	sessions *session.Registry
	events   *event.Registry
	handler  event.Handler
	persist  *persist.Manager

	upgrader websocket.Upgrader
	router   chi.Router
	http     *http.Server
	logger   *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithChain wraps event dispatch with the given middleware chain.
func WithChain(chain *middleware.Chain) Option {
	return func(s *Server) {
		s.handler = chain.Then(s.dispatch)
	}
}

// WithPersistence restores persisted cell values on connect and cancels
// pending saves on disconnect.
func WithPersistence(m *persist.Manager) Option {
	return func(s *Server) {
		s.persist = m
	}
}

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// New creates a server over the given registries. Register every cell
// before calling New: the outbound queue is wired to the cells present
// at construction time.
func New(cfg *Config, cells *state.Registry, sessions *session.Registry, events *event.Registry, opts ...Option) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	s := &Server{
		cfg:      cfg,
		cells:    cells,
		sessions: sessions,
		events:   events,
		logger:   slog.Default(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin:     cfg.CheckOrigin,
		},
	}
	s.handler = s.dispatch
	for _, opt := range opts {
		opt(s)
	}

	s.wireOutbound()
	s.wireHooks()
	s.routes()
	return s
}

// dispatch is the terminal stage of the middleware chain.
func (s *Server) dispatch(ctx context.Context, ec *event.Context) error {
	return s.events.DispatchContext(ctx, ec)
}

// wireOutbound subscribes every cell to the session update queue, so a
// cell change for a connected session ends up in its debounced flush.
func (s *Server) wireOutbound() {
	s.cells.Each(func(cell state.AnyCell) bool {
		name := cell.Name()
		cell.SubscribeAny(func(sessionID string, value any) {
			if sess, ok := s.sessions.Get(sessionID); ok {
				sess.QueueUpdate(name, value)
			}
		})
		return true
	})
}

// wireHooks attaches metrics and persistence to the session lifecycle.
func (s *Server) wireHooks() {
	s.sessions.SetOnCreate(func(*session.Session) {
		middleware.RecordSessionCreate()
	})
	s.sessions.SetOnRemove(func(sess *session.Session) {
		middleware.RecordSessionDestroy()
		if s.persist != nil {
			s.persist.CancelAll(sess.ID)
		}
	})
	s.sessions.SetOnFlush(func(_ *session.Session, count int) {
		middleware.RecordUpdate(count)
	})
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Get(s.cfg.LivePath, s.handleWS)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	s.router = r
}

// Handler returns the HTTP handler for mounting in an external router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// handleWS upgrades the connection and runs the session until the
// client goes away.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		middleware.RecordWebSocketError("upgrade")
		return
	}
	ch := newWSChannel(conn, s.cfg.WriteTimeout)
	defer ch.close()

	sess, resumed, err := s.attach(r, ch)
	if err != nil {
		s.logger.Warn("session attach failed", "error", err, "remote", r.RemoteAddr)
		return
	}
	defer s.sessions.Remove(sess.ID)

	if s.persist != nil {
		if err := s.persist.RestoreAll(r.Context(), sess.ID); err != nil {
			s.logger.Warn("state restore incomplete", "session", sess.ID, "error", err)
		}
	}
	if resumed {
		middleware.RecordSessionResume()
	}

	if err := sess.SendInit(s.cells.SnapshotFor(sess.ID)); err != nil {
		s.logger.Warn("init send failed", "session", sess.ID, "error", err)
		return
	}
	s.logger.Info("session connected", "session", sess.ID, "resumed", resumed, "remote", r.RemoteAddr)

	stop := make(chan struct{})
	go s.pingLoop(ch, sess, stop)
	s.readLoop(conn, sess)
	close(stop)

	s.logger.Info("session disconnected", "session", sess.ID)
}

// attach creates a session, reusing the client-supplied ID when it asks
// to resume one.
func (s *Server) attach(r *http.Request, ch session.Channel) (*session.Session, bool, error) {
	if id := r.URL.Query().Get("session"); id != "" {
		if _, ok := s.sessions.Get(id); !ok {
			sess, err := s.sessions.CreateWithID(id, ch)
			if err == nil {
				return sess, true, nil
			}
			if !errors.Is(err, session.ErrDuplicateSession) {
				return nil, false, err
			}
		}
		// ID is taken by a live session; fall through to a fresh one.
	}
	sess, err := s.sessions.Create(ch)
	return sess, false, err
}

func (s *Server) readLoop(conn *websocket.Conn, sess *session.Session) {
	conn.SetReadLimit(s.cfg.MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("websocket read failed", "session", sess.ID, "error", err)
				middleware.RecordWebSocketError("read")
			}
			return
		}
		sess.Touch()

		ev, err := protocol.DecodeClientEvent(raw)
		if err != nil {
			s.logger.Debug("dropping malformed message", "session", sess.ID, "error", err)
			continue
		}
		ec := event.NewContext(sess, event.FromWire(ev))
		if err := s.handler(context.Background(), ec); err != nil {
			s.logger.Debug("event rejected", "session", sess.ID, "event", ev.Name, "error", err)
		}
	}
}

func (s *Server) pingLoop(ch *wsChannel, sess *session.Session, stop <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := ch.ping(); err != nil {
				s.logger.Debug("ping failed", "session", sess.ID, "error", err)
				return
			}
		case <-stop:
			return
		}
	}
}

// ListenAndServe runs the server until ctx is cancelled, then shuts
// down gracefully: the HTTP listener stops, pending session updates are
// flushed, and pending persistence writes complete.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.http = &http.Server{
		Addr:    s.cfg.Addr,
		Handler: s.router,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", s.cfg.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Shutdown()
	}
}

// Shutdown stops accepting connections and drains sessions.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	var errs []error
	if s.http != nil {
		if err := s.http.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if s.persist != nil {
		s.sessions.Each(func(sess *session.Session) bool {
			s.persist.FlushAll(sess.ID)
			return true
		})
	}
	if err := s.sessions.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	s.logger.Info("server stopped")
	return errors.Join(errs...)
}
