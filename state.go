package gputasks

import "fmt"

// TaskState represents the lifecycle state of a task.
//
// The happy path is Created -> Queued -> Executing -> Finished. Canceled is
// reachable from any non-terminal state; Failed records an execution error.
// Finished, Canceled and Failed are terminal: once entered, a task never
// leaves them.
type TaskState int32

const (
	// TaskCreated means the task has been constructed but not yet queued
	// or executed.
	TaskCreated TaskState = iota

	// TaskQueued means the task is waiting in a manager queue for dispatch.
	TaskQueued

	// TaskExecuting means the task's work has been issued to the execution
	// channel and its completion has not yet been observed.
	TaskExecuting

	// TaskFinished means the task's work has completed and the result is
	// safe to use.
	TaskFinished

	// TaskCanceled means the task was abandoned before completion.
	TaskCanceled

	// TaskFailed means the task's work ran but an error was recorded.
	// The scheduler reaps Failed tasks exactly like Finished ones; a task
	// is never left pending because its execution failed.
	TaskFailed
)

// String returns the string representation of TaskState.
func (s TaskState) String() string {
	switch s {
	case TaskCreated:
		return "Created"
	case TaskQueued:
		return "Queued"
	case TaskExecuting:
		return "Executing"
	case TaskFinished:
		return "Finished"
	case TaskCanceled:
		return "Canceled"
	case TaskFailed:
		return "Failed"
	default:
		return fmt.Sprintf("Unknown(%d)", int32(s))
	}
}

// Terminal reports whether the state is one a task can never leave.
func (s TaskState) Terminal() bool {
	return s == TaskFinished || s == TaskCanceled || s == TaskFailed
}
