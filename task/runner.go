package task

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tikaika/crynux-node/commitment"
)

// Runner is the per-task state machine (C3). A System owns exactly one
// Runner per live task id; Init must be called exactly once before the
// first ProcessEvent call.
type Runner interface {
	// Init loads prior state from the state cache, or seeds {round: 0,
	// status: Pending} if none exists. Returns ErrAlreadyInitialized if
	// called twice.
	Init(ctx context.Context) error

	// ProcessEvent applies event and returns true iff the task reached a
	// terminal status and the caller should discard this Runner. Returned
	// errors are context.Canceled/context.DeadlineExceeded (rethrow
	// verbatim), *Error (classified), or ErrNotInitialized if Init was never
	// called.
	ProcessEvent(ctx context.Context, event Event) (finished bool, err error)
}

// RunnerFactory constructs a Runner for a task id seen for the first time.
type RunnerFactory func(taskID uint64) Runner

// RunnerDeps bundles a Runner's collaborators. ShieldDeadline bounds the
// state-context dump and cleanup (see deadline.go).
type RunnerDeps struct {
	StateCache     StateCache
	Queue          EventQueue
	Contracts      Contracts
	Relay          Relay
	Compute        ComputeBackend
	Watcher        Watcher
	Logger         zerolog.Logger
	ShieldDeadline time.Duration
}

// InferenceRunner is the production Runner: it drives the real chain
// contracts, relay, and compute-backend collaborators through a task's
// full commit-disclose-settle lifecycle.
type InferenceRunner struct {
	taskID uint64
	deps   RunnerDeps

	mu          sync.Mutex // the runner's exclusive lock (process_event serialization)
	initialized bool
	state       *State

	commitmentWatch    WatchID
	successWatch       WatchID
	abortedWatch       WatchID
	hasCommitmentWatch bool
	hasSuccessWatch    bool
	hasAbortedWatch    bool
}

// NewInferenceRunner constructs a runner for taskID and registers its three
// chain-event subscriptions. Each callback decodes straight into a task
// Event and pushes it into the shared event queue; the watcher holds no
// reference to this runner, only to the queue, so a runner being discarded
// never leaves a dangling callback closure alive.
func NewInferenceRunner(taskID uint64, deps RunnerDeps) *InferenceRunner {
	r := &InferenceRunner{taskID: taskID, deps: deps}

	push := func(ev Event) {
		// Background: the watcher's own goroutine isn't tied to any
		// caller's cancellation. A Put error (e.g. a failed write to a
		// durable queue) is discarded here.
		_ = deps.Queue.Put(context.Background(), ev)
	}

	r.commitmentWatch = deps.Watcher.WatchEvent(
		"task", "TaskResultCommitmentsReady",
		FilterArgs{"taskId": taskID},
		push,
	)
	r.hasCommitmentWatch = true

	r.successWatch = deps.Watcher.WatchEvent(
		"task", "TaskSuccess",
		FilterArgs{"taskId": taskID, "resultNode": deps.Contracts.Account()},
		push,
	)
	r.hasSuccessWatch = true

	r.abortedWatch = deps.Watcher.WatchEvent(
		"task", "TaskAborted",
		FilterArgs{"taskId": taskID},
		push,
	)
	r.hasAbortedWatch = true

	return r
}

func (r *InferenceRunner) Init(ctx context.Context) error {
	if r.initialized {
		return ErrAlreadyInitialized
	}

	state, err := r.deps.StateCache.Load(ctx, r.taskID)
	if errors.Is(err, ErrNotFound) {
		state = State{TaskID: r.taskID, Round: 0, Status: StatusPending}
	} else if err != nil {
		return err
	}

	r.state = &state
	r.initialized = true
	return nil
}

func (r *InferenceRunner) ProcessEvent(ctx context.Context, event Event) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.initialized {
		return false, ErrNotInitialized
	}

	finished, err := r.dispatch(ctx, event)
	if err != nil {
		return false, classify(err)
	}
	return finished, nil
}

func (r *InferenceRunner) dispatch(ctx context.Context, event Event) (bool, error) {
	// A terminal status can be reached from any non-terminal step (Aborted
	// especially: its position in the Status ordering is not where the
	// ordinal comparison in requirePrecondition would place it). Any event
	// other than the terminal ones themselves arriving once the task is
	// already terminal (e.g. two events for the same task id leased before
	// the first's handler finished) is a moot duplicate: report finished so
	// the dispatcher discards this runner instead of asking
	// requirePrecondition to reason about an ordinal that doesn't hold for
	// Aborted.
	if r.state.Status.Terminal() {
		switch event.Kind {
		case KindTaskSuccess, KindTaskAborted:
		default:
			return true, nil
		}
	}

	switch event.Kind {
	case KindTaskCreated:
		return false, r.taskCreated(ctx, event)
	case KindTaskResultReady:
		return false, r.resultReady(ctx, event)
	case KindTaskResultCommitmentsReady:
		return false, r.commitmentReady(ctx, event)
	case KindTaskSuccess:
		return true, r.taskSuccess(ctx, event)
	case KindTaskAborted:
		return true, r.taskAborted(ctx, event)
	default:
		return false, ErrUnknownEventKind
	}
}

// withStateContext runs fn and then, regardless of whether fn returns an
// error or succeeds, dumps the runner's current state through a shielded
// deadline. This is the sole persistence point; dump-before-ack holds
// because the dispatcher only acks after ProcessEvent returns, which cannot
// happen before this defer runs. A failed dump is returned as the handler's
// error when fn itself succeeded, so the event is not acked.
func (r *InferenceRunner) withStateContext(ctx context.Context, fn func() error) (err error) {
	defer func() {
		if r.state == nil {
			return
		}
		st := r.state.Clone()
		if dumpErr := shielded(ctx, r.deps.ShieldDeadline, func(sctx context.Context) error {
			return r.deps.StateCache.Dump(sctx, st)
		}); dumpErr != nil {
			r.deps.Logger.Error().Err(dumpErr).Uint64("task_id", r.taskID).Msg("state dump failed")
			if err == nil {
				err = dumpErr
			}
		}
	}()
	return fn()
}

// requirePrecondition checks event's expected pre-status against the
// runner's current status. If the current status already is at or past
// post, the event has already been applied (crash-recovery redelivery) and
// the caller should no-op; any other mismatch is a genuine precondition
// violation. dispatch intercepts terminal statuses for every event kind
// except TaskSuccess and TaskAborted, so taskSuccess can reach this with cur
// Success or Aborted; before excludes Aborted from the ordering, so both
// count as already applied and the event is a no-op.
func (r *InferenceRunner) requirePrecondition(event Event, pre, post Status) (alreadyApplied bool, err error) {
	cur := r.state.Status
	if cur == pre {
		return false, nil
	}
	if !cur.before(post) {
		return true, nil
	}
	return false, newPreconditionError(r.taskID, event.Kind, pre, cur)
}

func (r *InferenceRunner) taskCreated(ctx context.Context, event Event) error {
	applied, err := r.requirePrecondition(event, StatusPending, StatusExecuting)
	if err != nil {
		return err
	}
	if applied {
		return nil
	}

	return r.withStateContext(ctx, func() error {
		r.state.Round = event.Round

		spec, err := r.deps.Relay.GetTask(ctx, event.TaskID)
		if err != nil {
			return err
		}

		job := Job{
			TaskID:     spec.TaskID,
			Prompt:     spec.Prompt,
			BaseModel:  spec.BaseModel,
			LoraModel:  spec.LoraModel,
			TaskConfig: spec.TaskConfig,
			Pose:       spec.Pose,
		}
		if err := r.deps.Compute.Run(ctx, job); err != nil {
			return err
		}

		r.state.Status = StatusExecuting
		return nil
	})
}

func (r *InferenceRunner) resultReady(ctx context.Context, event Event) error {
	applied, err := r.requirePrecondition(event, StatusExecuting, StatusResultUploaded)
	if err != nil {
		return err
	}
	if applied {
		return nil
	}

	return r.withStateContext(ctx, func() error {
		cr, err := commitment.Make(event.Hashes)
		if err != nil {
			return err
		}

		if err := r.deps.Contracts.SubmitTaskResultCommitment(
			ctx, r.taskID, r.state.Round, cr.Commitment, cr.Nonce,
		); err != nil {
			return err
		}

		r.state.Files = append([]string(nil), event.Files...)
		r.state.Result = cr.Result
		r.state.Status = StatusResultUploaded
		return nil
	})
}

func (r *InferenceRunner) commitmentReady(ctx context.Context, event Event) error {
	applied, err := r.requirePrecondition(event, StatusResultUploaded, StatusDisclosed)
	if err != nil {
		return err
	}
	if applied {
		return nil
	}

	if len(r.state.Result) == 0 {
		return newAssertionError(r.taskID, event.Kind, ErrEmptyResult)
	}

	err = r.withStateContext(ctx, func() error {
		if err := r.deps.Contracts.DiscloseTaskResult(ctx, r.taskID, r.state.Round, r.state.Result); err != nil {
			return err
		}
		r.state.Status = StatusDisclosed
		return nil
	})
	if err != nil {
		return err
	}

	if r.hasCommitmentWatch {
		r.deps.Watcher.UnwatchEvent(r.commitmentWatch)
		r.hasCommitmentWatch = false
	}
	return nil
}

func (r *InferenceRunner) taskSuccess(ctx context.Context, event Event) error {
	applied, err := r.requirePrecondition(event, StatusDisclosed, StatusSuccess)
	if err != nil {
		return err
	}
	if applied {
		return nil
	}

	err = r.withStateContext(ctx, func() error {
		if err := r.deps.Relay.UploadTaskResult(ctx, r.taskID, r.state.Files); err != nil {
			return err
		}
		r.state.Status = StatusSuccess
		return nil
	})
	if err != nil {
		return err
	}

	r.cleanup(ctx)
	return nil
}

func (r *InferenceRunner) taskAborted(ctx context.Context, _ Event) error {
	if r.state.Status.Terminal() {
		// Already Success or Aborted: a redelivered/duplicate TaskAborted
		// after this runner already reached a terminal status.
		return nil
	}

	err := r.withStateContext(ctx, func() error {
		r.state.Status = StatusAborted
		return nil
	})
	if err != nil {
		return err
	}

	r.cleanup(ctx)
	return nil
}

// cleanup unsubscribes the remaining chain-event watches and removes the
// artifact directory. It never fails the handler: errors are logged only,
// and the directory removal runs under a shielded deadline.
func (r *InferenceRunner) cleanup(ctx context.Context) {
	if r.hasSuccessWatch {
		r.deps.Watcher.UnwatchEvent(r.successWatch)
		r.hasSuccessWatch = false
	}
	if r.hasAbortedWatch {
		r.deps.Watcher.UnwatchEvent(r.abortedWatch)
		r.hasAbortedWatch = false
	}

	if len(r.state.Files) == 0 {
		return
	}
	dir := filepath.Dir(r.state.Files[0])

	err := shielded(ctx, r.deps.ShieldDeadline, func(sctx context.Context) error {
		done := make(chan error, 1)
		go func() { done <- os.RemoveAll(dir) }()
		select {
		case err := <-done:
			return err
		case <-sctx.Done():
			return sctx.Err()
		}
	})
	if err != nil {
		r.deps.Logger.Error().Err(err).Uint64("task_id", r.taskID).Str("dir", dir).Msg("cleanup: remove artifact dir failed")
	}
}
