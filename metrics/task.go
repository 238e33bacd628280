package metrics

// TaskInstruments bundles the small set of instruments the task execution
// core records against. Names follow the dispatcher/runner's vocabulary
// (task_id, event kind, retry) rather than being generic request counters.
type TaskInstruments struct {
	// EventsProcessed counts events for which ProcessEvent returned normally,
	// labeled indirectly by caller (the provider implementation may attach
	// attributes; this facade stays attribute-free to keep cardinality low).
	EventsProcessed Counter

	// EventsRetried counts events that were no_ack'd for a retryable TaskError.
	EventsRetried Counter

	// EventsDropped counts events that were ack'd and dropped for a
	// non-retryable TaskError.
	EventsDropped Counter

	// TasksActive tracks the number of runners currently held by the dispatcher.
	TasksActive UpDownCounter

	// HandlerDuration records wall-clock seconds spent inside ProcessEvent,
	// including the state-context dump but excluding the shielded ack/no_ack
	// tail.
	HandlerDuration Histogram
}

// NewTaskInstruments creates the standard instrument set from p. Pass
// NewNoopProvider() to disable metrics entirely.
func NewTaskInstruments(p Provider) TaskInstruments {
	return TaskInstruments{
		EventsProcessed: p.Counter("task_events_processed_total", WithDescription("events for which ProcessEvent returned normally"), WithUnit("1")),
		EventsRetried:   p.Counter("task_events_retried_total", WithDescription("events no_ack'd for a retryable error"), WithUnit("1")),
		EventsDropped:   p.Counter("task_events_dropped_total", WithDescription("events ack'd and dropped for a non-retryable error"), WithUnit("1")),
		TasksActive:     p.UpDownCounter("task_runners_active", WithDescription("runners currently held by the dispatcher"), WithUnit("1")),
		HandlerDuration: p.Histogram("task_handler_duration_seconds", WithDescription("time spent inside ProcessEvent"), WithUnit("s")),
	}
}
