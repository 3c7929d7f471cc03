// Package config holds the options recognized by a squeal session, as
// described in spec §6's configuration table, plus the ambient settings
// (log level, metrics namespace, tracing) any complete deployment of
// this broker needs.
package config

import (
	"fmt"
	"time"

	"github.com/oriys/squeal/internal/queue"
)

// Config holds all session-level options. Zero value is not valid;
// construct via Default and override fields, then call Validate.
type Config struct {
	// Prefix is prepended to every table name the SQL backend manages.
	Prefix string

	// NewMessageDelay is the default delay applied at enqueue time.
	NewMessageDelay time.Duration
	// FailureBaseDelay is the base of the exponential nack backoff.
	FailureBaseDelay time.Duration
	// VisibilityTimeout is the default message lease duration.
	VisibilityTimeout time.Duration
	// TopicLockVisibilityTimeout is the default topic-lock lease duration.
	TopicLockVisibilityTimeout time.Duration

	// PollInterval is the client-side polling gap for a blocking get
	// built on top of BatchGet. This module does not implement the
	// polling loop itself (spec: out of scope), but carries the option
	// so a caller's loop can read it from the same config.
	PollInterval time.Duration
	// Timeout is the client-side blocking-get deadline: negative means
	// forever, zero means non-blocking, positive is a duration.
	Timeout time.Duration

	// AutoCreate records whether Backend.Create should run when a session
	// opens. No code in this module reads it: queue.NewSession does not
	// take a Config and does not call Create.
	AutoCreate bool

	// LogLevel is one of "debug", "info", "warn", "error".
	LogLevel string
	// MetricsNamespace is the Prometheus namespace for this module's
	// collectors.
	MetricsNamespace string
	// TracingEnabled records whether the application wants spans. The
	// tracing package does not read it: sqlqueue creates spans on every
	// call, and they are no-ops only when no TracerProvider is configured.
	TracingEnabled bool
}

// Default returns a Config with the source's defaults: no delay, 1s
// failure base delay, 60s visibility timeout, auto-create enabled,
// blocking get disabled (non-blocking), info-level logging.
func Default() Config {
	return Config{
		Prefix:                     "squeal",
		NewMessageDelay:            0,
		FailureBaseDelay:           time.Second,
		VisibilityTimeout:          60 * time.Second,
		TopicLockVisibilityTimeout: 60 * time.Second,
		PollInterval:               time.Second,
		Timeout:                    0,
		AutoCreate:                 true,
		LogLevel:                   "info",
		MetricsNamespace:           "squeal",
		TracingEnabled:             false,
	}
}

// Validate checks the bounds spec §7 requires, failing fast before any
// side effect: an empty prefix and negative delays are rejected, and a
// non-positive visibility timeout, topic-lock visibility timeout or poll
// interval is rejected. Timeout is not checked, since every value of it
// is meaningful (negative means wait forever).
func (c Config) Validate() error {
	if c.Prefix == "" {
		return fmt.Errorf("%w: prefix must not be empty", queue.ErrInvalidArgument)
	}
	if c.NewMessageDelay < 0 {
		return fmt.Errorf("%w: new message delay must be non-negative", queue.ErrInvalidArgument)
	}
	if c.FailureBaseDelay < 0 {
		return fmt.Errorf("%w: failure base delay must be non-negative", queue.ErrInvalidArgument)
	}
	if c.VisibilityTimeout <= 0 {
		return fmt.Errorf("%w: visibility timeout must be positive", queue.ErrInvalidArgument)
	}
	if c.TopicLockVisibilityTimeout <= 0 {
		return fmt.Errorf("%w: topic lock visibility timeout must be positive", queue.ErrInvalidArgument)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("%w: poll interval must be positive", queue.ErrInvalidArgument)
	}
	return nil
}
