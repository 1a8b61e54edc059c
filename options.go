package keymesh

import (
	"github.com/c360/keymesh/metric"
)

// Logger is the logging interface the session and engine report through.
// The default implementation writes through the standard library log
// package with Debugf silent.
type Logger interface {
	Printf(format string, v ...any)
	Errorf(format string, v ...any)
	Debugf(format string, v ...any)
}

type sessionOptions struct {
	logger     Logger
	metrics    *metric.Metrics
	standalone bool
}

// SessionOption configures a session at Open time.
type SessionOption func(*sessionOptions)

// WithLogger sets the logger used by the session and its engine.
func WithLogger(logger Logger) SessionOption {
	return func(o *sessionOptions) {
		o.logger = logger
	}
}

// WithMetrics wires a metrics instance into the session's engine and link.
func WithMetrics(m *metric.Metrics) SessionOption {
	return func(o *sessionOptions) {
		o.metrics = m
	}
}

// WithStandaloneEngine gives the session its own isolated engine instead
// of the process-shared one. Sessions on standalone engines do not see
// each other's local traffic; tests use this for isolation.
func WithStandaloneEngine() SessionOption {
	return func(o *sessionOptions) {
		o.standalone = true
	}
}
