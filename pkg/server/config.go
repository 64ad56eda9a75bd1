package server

import (
	"net/http"
	"time"

	"github.com/pulse-dev/pulse/pkg/session"
)

// Config holds the HTTP/WebSocket server configuration.
type Config struct {
	// Addr is the listen address (default ":8080").
	Addr string

	// LivePath is the WebSocket endpoint path (default "/live").
	LivePath string

	// ReadBufferSize is the WebSocket read buffer size in bytes.
	ReadBufferSize int

	// WriteBufferSize is the WebSocket write buffer size in bytes.
	WriteBufferSize int

	// MaxMessageSize caps inbound WebSocket messages in bytes.
	MaxMessageSize int64

	// WriteTimeout bounds each outbound WebSocket write.
	WriteTimeout time.Duration

	// PongTimeout is how long to wait for a pong before dropping the
	// connection.
	PongTimeout time.Duration

	// PingInterval is how often to ping idle connections. Must be
	// shorter than PongTimeout.
	PingInterval time.Duration

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration

	// CheckOrigin validates the WebSocket Origin header. Nil uses the
	// gorilla default (same-origin only).
	CheckOrigin func(r *http.Request) bool

	// Session configures the session registry.
	Session *session.Config
}

// DefaultConfig returns a production-ready configuration.
func DefaultConfig() *Config {
	return &Config{
		Addr:            ":8080",
		LivePath:        "/live",
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		MaxMessageSize:  64 * 1024,
		WriteTimeout:    10 * time.Second,
		PongTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		Session:         session.DefaultConfig(),
	}
}
