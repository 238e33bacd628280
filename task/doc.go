// Package task implements the off-chain worker's task execution core: a
// per-task state machine (Runner) that steps a task's State through
// Pending -> Executing -> ResultUploaded -> Disclosed -> Success|Aborted in
// response to chain events, and a dispatcher (System) that demultiplexes a
// durable, acknowledged event queue onto per-task runners with at-most-one
// concurrent handler per task id.
//
// The package owns none of its collaborators: chain contract calls, chain
// event subscriptions, the relay HTTP client, and the compute backend are
// all interfaces (see collaborators.go). This module ships no implementation
// of them outside the test fakes.
package task
