package gputasks

import "errors"

// Scheduling errors.
var (
	// ErrContextClosed is returned when operating on a closed tasks context.
	ErrContextClosed = errors.New("gputasks: context closed")

	// ErrChannelClosed is returned when submitting work to a closed channel.
	ErrChannelClosed = errors.New("gputasks: command channel closed")

	// ErrSyncTimeout is returned when waiting for GPU work exceeds the
	// task's sync timeout.
	ErrSyncTimeout = errors.New("gputasks: timed out waiting for GPU work")

	// ErrTaskNotExecuted is returned when a result is requested from a task
	// that never ran against a channel.
	ErrTaskNotExecuted = errors.New("gputasks: task was not executed")

	// ErrTaskCanceled is returned when a result is requested from a task
	// that was canceled before completion.
	ErrTaskCanceled = errors.New("gputasks: task canceled")

	// ErrMipsUnsupported is returned by channels that cannot generate
	// mipmaps on the device.
	ErrMipsUnsupported = errors.New("gputasks: channel does not support mip generation")
)
