package task

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// fakeContracts records every call the runner makes into it and lets tests
// inject failures for a specific task id.
type fakeContracts struct {
	mu sync.Mutex

	account common.Address

	commitCalls   []commitCall
	discloseCalls []discloseCall

	commitErr   error
	discloseErr error
}

type commitCall struct {
	taskID, round     uint64
	commitment, nonce [32]byte
}

type discloseCall struct {
	taskID, round uint64
	result        []byte
}

func (f *fakeContracts) Account() common.Address { return f.account }

func (f *fakeContracts) SubmitTaskResultCommitment(_ context.Context, taskID, round uint64, commitment, nonce [32]byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commitErr != nil {
		return f.commitErr
	}
	f.commitCalls = append(f.commitCalls, commitCall{taskID, round, commitment, nonce})
	return nil
}

func (f *fakeContracts) DiscloseTaskResult(_ context.Context, taskID, round uint64, result []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.discloseErr != nil {
		return f.discloseErr
	}
	f.discloseCalls = append(f.discloseCalls, discloseCall{taskID, round, append([]byte(nil), result...)})
	return nil
}

func (f *fakeContracts) snapshotCommits() []commitCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]commitCall(nil), f.commitCalls...)
}

func (f *fakeContracts) snapshotDiscloses() []discloseCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]discloseCall(nil), f.discloseCalls...)
}

// fakeWatcher records subscriptions and lets tests drive a callback directly,
// or assert that a given watch id was unsubscribed.
type fakeWatcher struct {
	mu      sync.Mutex
	nextID  WatchID
	watches map[WatchID]struct {
		contract, event string
		filter          FilterArgs
		cb              func(Event)
	}
	unwatched map[WatchID]bool
}

func newFakeWatcher() *fakeWatcher {
	return &fakeWatcher{
		watches: make(map[WatchID]struct {
			contract, event string
			filter          FilterArgs
			cb              func(Event)
		}),
		unwatched: make(map[WatchID]bool),
	}
}

func (w *fakeWatcher) WatchEvent(contract, event string, filter FilterArgs, cb func(Event)) WatchID {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.nextID++
	id := w.nextID
	w.watches[id] = struct {
		contract, event string
		filter          FilterArgs
		cb              func(Event)
	}{contract, event, filter, cb}
	return id
}

func (w *fakeWatcher) UnwatchEvent(id WatchID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.unwatched[id] = true
}

func (w *fakeWatcher) isUnwatched(id WatchID) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.unwatched[id]
}

// fakeRelay serves a canned TaskSpec and records uploads; GetTask/Upload
// errors are injectable per call.
type fakeRelay struct {
	mu sync.Mutex

	spec      TaskSpec
	getErr    error
	uploadErr error

	uploads []uploadCall
}

type uploadCall struct {
	taskID uint64
	files  []string
}

func (r *fakeRelay) GetTask(_ context.Context, taskID uint64) (TaskSpec, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return TaskSpec{}, r.getErr
	}
	spec := r.spec
	spec.TaskID = taskID
	return spec, nil
}

func (r *fakeRelay) UploadTaskResult(_ context.Context, taskID uint64, files []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.uploadErr != nil {
		return r.uploadErr
	}
	r.uploads = append(r.uploads, uploadCall{taskID, append([]string(nil), files...)})
	return nil
}

func (r *fakeRelay) snapshotUploads() []uploadCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uploadCall(nil), r.uploads...)
}

// fakeRelayError satisfies the relayError shape errors.go duck-types against.
type fakeRelayError struct {
	status  int
	method  string
	message string
}

func (e *fakeRelayError) Error() string   { return e.message }
func (e *fakeRelayError) StatusCode() int { return e.status }
func (e *fakeRelayError) Method() string  { return e.method }
func (e *fakeRelayError) Message() string { return e.message }

// fakeCompute runs a job synchronously and records it; Err is returned
// verbatim from Run when set.
type fakeCompute struct {
	mu   sync.Mutex
	jobs []Job
	err  error
}

func (c *fakeCompute) Run(_ context.Context, job Job) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.jobs = append(c.jobs, job)
	return nil
}

func (c *fakeCompute) snapshotJobs() []Job {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Job(nil), c.jobs...)
}

// fakeTxReverted satisfies txRevertedError.
type fakeTxReverted struct{}

func (fakeTxReverted) Error() string { return "tx reverted" }
func (fakeTxReverted) TxReverted()   {}

// fakeComputeTimeout satisfies computeTimeoutError.
type fakeComputeTimeout struct{}

func (fakeComputeTimeout) Error() string   { return "compute timeout" }
func (fakeComputeTimeout) ComputeTimeout() {}

func newTestDeps() (RunnerDeps, *fakeContracts, *fakeWatcher, *fakeRelay, *fakeCompute) {
	contracts := &fakeContracts{}
	watcher := newFakeWatcher()
	relay := &fakeRelay{}
	compute := &fakeCompute{}

	deps := RunnerDeps{
		StateCache:     NewMemoryStateCache(),
		Queue:          NewMemoryEventQueue(),
		Contracts:      contracts,
		Relay:          relay,
		Compute:        compute,
		Watcher:        watcher,
		ShieldDeadline: defaultShieldDeadline,
	}
	return deps, contracts, watcher, relay, compute
}
