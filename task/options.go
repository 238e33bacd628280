package task

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/tikaika/crynux-node/metrics"
)

// Option configures a System constructed via NewSystem.
type Option func(*config)

// WithRetryDelay overrides how long the dispatcher waits before no_ack'ing
// a retryable event (default 5s).
func WithRetryDelay(d time.Duration) Option {
	return func(c *config) { c.RetryDelay = d }
}

// WithShieldDeadline overrides the bound on every shielded section (default
// 5s).
func WithShieldDeadline(d time.Duration) Option {
	return func(c *config) { c.ShieldDeadline = d }
}

// WithLogger sets the structured logger the System logs through. Every
// emitted event carries task_id and, where applicable, event_kind fields.
// Runners log through their own RunnerDeps.Logger; this option does not
// reach them.
func WithLogger(l zerolog.Logger) Option {
	return func(c *config) { c.Logger = l }
}

// WithMetrics sets the metrics provider backing the System's instruments.
func WithMetrics(p metrics.Provider) Option {
	return func(c *config) { c.Metrics = metrics.NewTaskInstruments(p) }
}

// WithRunnerFactory overrides how the dispatcher constructs a Runner for a
// task id it hasn't seen yet. NewSystem builds no default factory, so this
// option or SetRunnerFactory must supply one before Start.
func WithRunnerFactory(f RunnerFactory) Option {
	return func(c *config) { c.RunnerFactory = f }
}
