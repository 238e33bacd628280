package task

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// Contracts is the subset of the on-chain task contract the runner calls
// directly. Implementations submit real transactions; tx submission
// mechanics (gas, nonce management, confirmation waits) are this
// interface's problem, not the runner's.
type Contracts interface {
	// Account is this node's own chain account, used to scope the
	// TaskSuccess subscription filter to results destined for this node.
	Account() common.Address

	SubmitTaskResultCommitment(ctx context.Context, taskID, round uint64, commitment, nonce [32]byte) error
	DiscloseTaskResult(ctx context.Context, taskID, round uint64, result []byte) error
}

// WatchID identifies a live chain-event subscription registered through
// Watcher.WatchEvent; pass it to Watcher.UnwatchEvent to cancel it.
type WatchID uint64

// FilterArgs narrows a chain-event subscription to logs matching every
// key/value pair (e.g. {"taskId": 7}).
type FilterArgs map[string]any

// Watcher polls the chain's event logs and invokes callback for each
// matching log, decoded to a task Event. It never touches the event queue
// itself; callers (the runner) decide what to do with decoded events.
type Watcher interface {
	WatchEvent(contract, event string, filter FilterArgs, callback func(Event)) WatchID
	UnwatchEvent(id WatchID)
}

// TaskConfig and Pose are opaque, relay-supplied generation parameters the
// runner forwards to the compute backend unmodified. They're optional on
// TaskSpec; when absent the runner omits them from the compute-backend job
// rather than sending zero values.
type TaskConfig map[string]any
type Pose map[string]any

// TaskSpec is the relay's description of what to compute for a task.
type TaskSpec struct {
	TaskID     uint64
	Prompt     string
	BaseModel  string
	LoraModel  string
	TaskConfig *TaskConfig
	Pose       *Pose
}

// Relay is the off-chain HTTP service storing task specs and result
// artifacts. Errors returned by GetTask/UploadTaskResult should be (or
// wrap) a type satisfying the relayError shape in errors.go so classify can
// recognize them.
type Relay interface {
	GetTask(ctx context.Context, taskID uint64) (TaskSpec, error)
	UploadTaskResult(ctx context.Context, taskID uint64, files []string) error
}

// Job is the inference job submitted to the compute backend, mirroring the
// sd_lora_inference task's keyword arguments.
type Job struct {
	TaskID     uint64
	Prompt     string
	BaseModel  string
	LoraModel  string
	TaskConfig *TaskConfig
	Pose       *Pose
}

// ComputeBackend runs an inference job synchronously to the caller: Run
// blocks until the job completes or fails. Errors should satisfy one of the
// computeTimeoutError / computeRetrySignalError / computeTaskFailureError
// shapes in errors.go so classify can recognize them; anything else is
// classified Unknown/retryable.
type ComputeBackend interface {
	Run(ctx context.Context, job Job) error
}
