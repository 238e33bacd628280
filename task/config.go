package task

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/tikaika/crynux-node/metrics"
)

// config holds System configuration assembled by Option values. It is
// unexported; callers only ever see it through NewSystem's Option params.
type config struct {
	// RetryDelay is how long the dispatcher sleeps before no_ack'ing an
	// event whose handler returned a retryable Error. Default: 5s.
	RetryDelay time.Duration

	// ShieldDeadline bounds every shielded (cancellation-immune) section:
	// the state-context dump, cleanup, and the dispatcher's post-handler
	// ack/no_ack path. Default: 5s.
	ShieldDeadline time.Duration

	Logger  zerolog.Logger
	Metrics metrics.TaskInstruments

	// RunnerFactory constructs a Runner for a task id on first sight. NewSystem
	// takes no collaborator set of its own (Contracts/Relay/Compute/Watcher
	// live on RunnerDeps, which only the caller can assemble), so there is no
	// default: callers must supply one via WithRunnerFactory or
	// SetRunnerFactory before calling Start, typically
	// `func(id uint64) Runner { return NewInferenceRunner(id, deps) }` closed
	// over a RunnerDeps built from the real collaborators. If it never was
	// set, each leased event for a new task id fails with
	// ErrRunnerFactoryRequired, which the dispatcher logs before no_acking
	// the event.
	RunnerFactory RunnerFactory
}
