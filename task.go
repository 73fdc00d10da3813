package gputasks

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// SyncPoint is a logical frame index. A task whose sync point is at or below
// the context's current sync point is guaranteed to have its result
// available, so the per-frame sweep may force completion without stalling
// the pipeline for longer than the work actually needs.
//
// Zero is the "not yet assigned" sentinel on fresh tasks. The context's
// counter starts well above zero (see NewContext) so the sentinel can never
// compare as already elapsed.
type SyncPoint uint64

// defaultSyncTimeout bounds how long Sync waits for the channel before
// recording a failure. Matches the per-dispatch wait the GPU backends use.
const defaultSyncTimeout = 5 * time.Second

// Task is a unit of asynchronous GPU-bound work tracked by a TasksContext.
//
// Implementations are dispatched dynamically by the scheduler; it never
// inspects anything beyond this capability set. Concrete tasks embed
// [TaskBase], which supplies everything except Execute.
type Task interface {
	// Execute issues the task's work against the context's execution
	// channel. Called synchronously from TasksContext.Run on the frame
	// goroutine. Errors are recorded on the task itself, never returned.
	Execute(ctx *TasksContext)

	// Sync forces completion to be observed now, blocking the calling
	// goroutine until the execution channel confirms the work if needed.
	// Calling Sync on a task in a terminal state is a no-op.
	Sync()

	// CancelSync abandons the task regardless of progress and releases any
	// resources it was about to touch. Safe to call on a task that was
	// never executed.
	CancelSync()

	// State returns the task's current lifecycle state.
	State() TaskState

	// SyncPoint returns the logical frame index at or after which the
	// task's result is guaranteed available, or zero if unassigned.
	SyncPoint() SyncPoint

	// String returns a human-readable description for diagnostics.
	String() string
}

// queueable is implemented by tasks that can record being parked in a
// manager queue. TaskBase provides it.
type queueable interface {
	markQueued() bool
}

// TaskBase implements the shared part of the Task contract: the state
// machine, the deferred-completion bookkeeping, cancellation, and the
// diagnostic identity. Concrete tasks embed it and implement Execute,
// calling begin, deferCompletion and fail as their work proceeds.
//
// The zero value is not usable; construct with newTaskBase.
type TaskBase struct {
	label string
	id    string

	state     atomic.Int32
	syncPoint atomic.Uint64

	mu        sync.Mutex
	channel   CommandChannel // set by deferCompletion
	waitPoint uint64         // channel point that confirms the work
	err       error

	// finish runs on the syncing goroutine after the channel confirms the
	// work and before the task turns Finished. Readback tasks use it to
	// pull results out of the channel.
	finish func(ch CommandChannel) error

	// release runs at most once when the task is canceled, to drop any
	// in-flight resources.
	release func()

	timeout time.Duration
}

// newTaskBase creates the embedded base for a concrete task. The label names
// the task kind in diagnostics ("UploadBuffer", "ReadbackBuffer", ...).
func newTaskBase(label string) TaskBase {
	return TaskBase{
		label:   label,
		id:      uuid.NewString()[:8],
		timeout: defaultSyncTimeout,
	}
}

// State returns the task's current lifecycle state.
func (b *TaskBase) State() TaskState {
	return TaskState(b.state.Load())
}

// SyncPoint returns the assigned sync point, or zero if the task has not
// been executed yet.
func (b *TaskBase) SyncPoint() SyncPoint {
	return SyncPoint(b.syncPoint.Load())
}

// Err returns the execution error recorded on the task, if any. Meaningful
// once the task is in a terminal state.
func (b *TaskBase) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// String returns the task's diagnostic identity, e.g. "UploadBuffer[3f2a91c4]".
func (b *TaskBase) String() string {
	return fmt.Sprintf("%s[%s]", b.label, b.id)
}

// markQueued transitions Created -> Queued. Reports false if the task had
// already left the Created state (e.g. canceled while waiting).
func (b *TaskBase) markQueued() bool {
	return b.state.CompareAndSwap(int32(TaskCreated), int32(TaskQueued))
}

// begin transitions the task into Executing. Reports false if the task is
// already terminal (canceled before dispatch), in which case Execute must
// issue nothing.
func (b *TaskBase) begin() bool {
	for {
		s := b.State()
		if s.Terminal() {
			return false
		}
		if b.state.CompareAndSwap(int32(s), int32(TaskExecuting)) {
			return true
		}
	}
}

// deferCompletion records where and when the issued work will be confirmed:
// the context's channel, the channel point the next flush signals, and the
// frame at which the result is guaranteed visible. Execute bodies call it
// after successfully issuing their commands.
func (b *TaskBase) deferCompletion(ctx *TasksContext) {
	ch := ctx.Channel()
	b.mu.Lock()
	b.channel = ch
	b.waitPoint = ch.PendingPoint()
	b.mu.Unlock()
	b.syncPoint.Store(uint64(ctx.CurrentSyncPoint()) + ch.FrameLatency())
}

// fail records err and moves the task to the Failed terminal state. The
// scheduler reaps Failed tasks on the next sweep; an execution error never
// leaves a task pending forever.
func (b *TaskBase) fail(err error) {
	b.mu.Lock()
	if b.err == nil {
		b.err = err
	}
	b.mu.Unlock()
	if b.setTerminal(TaskFailed) {
		Logger().Warn("task failed", "task", b.String(), "err", err)
	}
}

// setTerminal latches the task into a terminal state. Reports false if the
// task was already terminal.
func (b *TaskBase) setTerminal(to TaskState) bool {
	for {
		s := b.State()
		if s.Terminal() {
			return false
		}
		if b.state.CompareAndSwap(int32(s), int32(to)) {
			return true
		}
	}
}

// Sync forces completion to be observed now. If the issued work has not been
// confirmed yet, Sync blocks until the channel signals the task's wait point
// (flushing first if the work was still only recorded). Idempotent: a task
// in a terminal state is left untouched.
func (b *TaskBase) Sync() {
	if b.State().Terminal() {
		return
	}
	b.mu.Lock()
	ch, point := b.channel, b.waitPoint
	b.mu.Unlock()

	if ch != nil {
		if err := ch.Wait(point, b.timeout); err != nil {
			b.fail(err)
			return
		}
	}
	if b.finish != nil {
		if err := b.finish(ch); err != nil {
			b.fail(err)
			return
		}
	}
	b.setTerminal(TaskFinished)
}

// CancelSync abandons the task and releases in-flight resources. Safe from
// any goroutine and on tasks that were never executed. A task that already
// reached a terminal state is left untouched.
//
// CancelSync does not notify the tracking context; the owner calls
// TasksContext.OnCancelSync separately if the task was submitted.
func (b *TaskBase) CancelSync() {
	if !b.setTerminal(TaskCanceled) {
		return
	}
	b.mu.Lock()
	if b.err == nil {
		b.err = ErrTaskCanceled
	}
	release := b.release
	b.release = nil
	b.mu.Unlock()
	if release != nil {
		release()
	}
}
