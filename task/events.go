package task

// EventKind discriminates the TaskEvent variants.
type EventKind string

const (
	KindTaskCreated                EventKind = "TaskCreated"
	KindTaskResultReady            EventKind = "TaskResultReady"
	KindTaskResultCommitmentsReady EventKind = "TaskResultCommitmentsReady"
	KindTaskSuccess                EventKind = "TaskSuccess"
	KindTaskAborted                EventKind = "TaskAborted"
)

// Event is the tagged union of chain-derived occurrences a Runner reacts to.
// Exactly one of the Kind-specific fields is meaningful for a given Kind;
// callers should type-switch on Kind rather than inspect every field.
type Event struct {
	Kind   EventKind
	TaskID uint64

	// TaskCreated
	Round uint64

	// TaskResultReady
	Hashes []string // "0x"-prefixed hex, one per file, same order as Files
	Files  []string // filesystem paths, same order as Hashes

	// TaskSuccess
	Result []byte
}

// TaskCreated constructs a TaskCreated event.
func TaskCreated(taskID, round uint64) Event {
	return Event{Kind: KindTaskCreated, TaskID: taskID, Round: round}
}

// TaskResultReady constructs a TaskResultReady event. hashes and files must
// be the same length and index-aligned.
func TaskResultReady(taskID uint64, hashes, files []string) Event {
	return Event{Kind: KindTaskResultReady, TaskID: taskID, Hashes: hashes, Files: files}
}

// TaskResultCommitmentsReady constructs a TaskResultCommitmentsReady event.
func TaskResultCommitmentsReady(taskID uint64) Event {
	return Event{Kind: KindTaskResultCommitmentsReady, TaskID: taskID}
}

// TaskSuccess constructs a TaskSuccess event carrying the disclosed result.
func TaskSuccess(taskID uint64, result []byte) Event {
	return Event{Kind: KindTaskSuccess, TaskID: taskID, Result: result}
}

// TaskAborted constructs a TaskAborted event.
func TaskAborted(taskID uint64) Event {
	return Event{Kind: KindTaskAborted, TaskID: taskID}
}
