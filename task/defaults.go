package task

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/tikaika/crynux-node/metrics"
)

const (
	defaultRetryDelay     = 5 * time.Second
	defaultShieldDeadline = 5 * time.Second
)

// defaultConfig centralizes System defaults: a no-op logger, a no-op metrics
// provider, and the standard retry/shield timings. RunnerFactory is left nil
// deliberately — see the field comment on config.RunnerFactory — the caller
// must supply one via WithRunnerFactory or SetRunnerFactory before Start.
func defaultConfig() config {
	return config{
		RetryDelay:     defaultRetryDelay,
		ShieldDeadline: defaultShieldDeadline,
		Logger:         zerolog.Nop(),
		Metrics:        metrics.NewTaskInstruments(metrics.NewNoopProvider()),
	}
}
