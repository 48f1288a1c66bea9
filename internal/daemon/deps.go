package daemon

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/livefeed/internal/config"
)

// StreamCloser ends long-lived responses before the HTTP server drains.
// http.Server.Shutdown does not wait for hijacked or streaming handlers to
// notice on their own.
type StreamCloser interface {
	CloseStreams()
}

// Deps contains dependencies required by the daemon Manager.
type Deps struct {
	Logger zerolog.Logger

	// APIHandler is the HTTP handler for the API server
	APIHandler http.Handler

	// Streams is closed first on shutdown. Optional.
	Streams StreamCloser

	// MetricsHandler is the HTTP handler for Prometheus metrics (if enabled)
	MetricsHandler http.Handler
}

// Validate checks if the dependencies are valid.
func (d *Deps) Validate() error {
	if d.APIHandler == nil {
		return ErrMissingAPIHandler
	}
	return nil
}

// ServerConfig holds the listener settings of the Manager.
type ServerConfig struct {
	ListenAddr        string
	MetricsAddr       string // empty disables the metrics listener
	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
}

const (
	defaultReadHeaderTimeout = 5 * time.Second
	defaultIdleTimeout       = 120 * time.Second
)

// ServerConfigFrom maps the file-level server section.
func ServerConfigFrom(cfg config.ServerConfig) ServerConfig {
	return ServerConfig{
		ListenAddr:        cfg.Listen,
		MetricsAddr:       cfg.MetricsListen,
		ReadHeaderTimeout: defaultReadHeaderTimeout,
		IdleTimeout:       defaultIdleTimeout,
		ShutdownTimeout:   cfg.ShutdownTimeout,
	}
}
