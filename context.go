package gputasks

import (
	"sync"

	"github.com/gogpu/gputasks/internal/affinity"
)

// initialSyncPoint is the baseline value of a fresh context's sync-point
// counter. Fresh tasks carry a zero sync point until their work is issued;
// starting the counter well above zero guarantees that sentinel can never
// compare as already elapsed on the first frames. Anything greater than zero
// by a comfortable margin works.
const initialSyncPoint SyncPoint = 10

// TasksContext tracks submitted tasks until their completion is confirmed
// and drives the per-frame reconciliation sweep.
//
// One context exists per rendering device. It borrows the device's main
// execution channel, or owns a private one when constructed with
// WithDedicatedChannel.
//
// Threading: Run, OnFrameBegin, OnFrameEnd and Close must be called from the
// goroutine that created the context (the frame driver); violations panic.
// OnCancelSync may be called from any goroutine. The pending list is guarded
// by a mutex solely for that cross-goroutine path; the mutex is never held
// across a blocking Sync call.
type TasksContext struct {
	device      Device
	channel     CommandChannel
	ownsChannel bool

	guard  affinity.Guard
	closed bool

	mu      sync.Mutex // guards pending
	pending []Task

	syncPoint      SyncPoint
	totalCompleted uint64
	totalFailed    uint64

	scratch []Task // sweep snapshot, reused across frames
}

// NewContext creates a tasks context for the given device.
//
// The context is bound to the calling goroutine: all mutating calls except
// OnCancelSync must come from it. By default the device's main channel is
// borrowed; WithDedicatedChannel makes the context create and own a private
// one, released on Close.
func NewContext(device Device, opts ...ContextOption) (*TasksContext, error) {
	if device == nil {
		panic("gputasks: nil device")
	}
	o := defaultContextOptions()
	for _, opt := range opts {
		opt(&o)
	}

	c := &TasksContext{
		device:    device,
		syncPoint: o.initialSyncPoint,
	}
	c.guard.Bind()

	if o.dedicatedChannel {
		ch, err := device.CreateChannel()
		if err != nil {
			return nil, err
		}
		c.channel = ch
		c.ownsChannel = true
	} else {
		c.channel = device.MainChannel()
	}
	Logger().Info("tasks context created",
		"dedicatedChannel", c.ownsChannel,
		"syncPoint", uint64(c.syncPoint))
	return c, nil
}

// Channel returns the execution channel tasks run against.
func (c *TasksContext) Channel() CommandChannel {
	return c.channel
}

// CurrentSyncPoint returns the context's current logical frame index.
func (c *TasksContext) CurrentSyncPoint() SyncPoint {
	return c.syncPoint
}

// PendingCount returns the number of tasks submitted but not yet reaped.
func (c *TasksContext) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// TotalCompleted returns the number of tasks that reached Finished and were
// reaped by a sweep. Diagnostics only; never used for correctness decisions.
func (c *TasksContext) TotalCompleted() uint64 {
	return c.totalCompleted
}

// TotalFailed returns the number of tasks reaped in the Failed state.
// Diagnostics only.
func (c *TasksContext) TotalFailed() uint64 {
	return c.totalFailed
}

// Run submits a task: it is remembered as pending completion, then its
// execution body is invoked synchronously against the context's channel.
// The task's state may advance all the way to Finished within this call if
// the work is trivially fast.
//
// Preconditions (panic on violation): task is non-nil, not already pending
// in this context, the context is open, and the caller is the frame
// goroutine. Errors during execution are recorded on the task itself, never
// raised to the caller.
func (c *TasksContext) Run(task Task) {
	c.guard.Check("gputasks: TasksContext.Run")
	if task == nil {
		panic("gputasks: Run called with nil task")
	}
	if c.closed {
		panic("gputasks: Run called on closed context")
	}

	c.mu.Lock()
	for _, t := range c.pending {
		if t == task {
			c.mu.Unlock()
			panic("gputasks: task already pending: " + task.String())
		}
	}
	c.pending = append(c.pending, task)
	c.mu.Unlock()

	task.Execute(c)
}

// OnCancelSync notifies the context that a task is being abandoned before
// the scheduler got to synchronize it. The task is removed from the pending
// set if present (no-op otherwise) and a warning is logged. The warning is
// deliberately tied to removal: a task the context is no longer tracking was
// already reconciled, and canceling it is not worth a log line. OnCancelSync
// does not cancel the task itself; the caller is assumed to be doing so.
//
// Safe to call from any goroutine.
func (c *TasksContext) OnCancelSync(task Task) {
	if task == nil {
		panic("gputasks: OnCancelSync called with nil task")
	}

	c.mu.Lock()
	removed := false
	for i, t := range c.pending {
		if t == task {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			removed = true
			break
		}
	}
	c.mu.Unlock()

	if removed {
		Logger().Warn("task canceled before sync", "task", task.String())
	}
}

// OnFrameBegin advances the sync-point counter by exactly one and sweeps the
// pending set in submission order: every task whose sync point has arrived
// and that is not yet Finished is forced to complete via Sync, and every
// task observed in a terminal state afterwards is removed.
//
// Must be called exactly once per frame from the frame goroutine.
func (c *TasksContext) OnFrameBegin() {
	c.guard.Check("gputasks: TasksContext.OnFrameBegin")
	if c.closed {
		panic("gputasks: OnFrameBegin called on closed context")
	}

	if c.ownsChannel {
		c.channel.FrameBegin()
	}

	// Move forward one frame.
	c.syncPoint++

	c.sweep()
}

// sweep syncs and reaps pending tasks. Sync may block, so it runs on a
// snapshot outside the pending lock; a concurrent OnCancelSync removal is
// observed by the rebuild below and the canceled task, being terminal, is
// skipped by Sync itself.
func (c *TasksContext) sweep() {
	c.mu.Lock()
	c.scratch = append(c.scratch[:0], c.pending...)
	c.mu.Unlock()

	for _, task := range c.scratch {
		if task.SyncPoint() <= c.syncPoint && task.State() != TaskFinished {
			task.Sync()
		}
	}

	// Rebuild the pending list, keeping submission order and counting the
	// reaped tasks. Filtering a fresh retained list sidesteps the classic
	// skip/double-visit bug of removing during forward iteration.
	reaped := 0
	c.mu.Lock()
	kept := c.pending[:0]
	for _, task := range c.pending {
		switch task.State() {
		case TaskFinished:
			c.totalCompleted++
			reaped++
		case TaskFailed:
			c.totalFailed++
			reaped++
		case TaskCanceled:
			// Removed without counting; cancellation is reported by
			// OnCancelSync, not the sweep.
		default:
			kept = append(kept, task)
		}
	}
	// Drop trailing references so reaped tasks do not linger in the
	// backing array.
	tail := kept
	for i := len(kept); i < len(c.pending); i++ {
		c.pending[i] = nil
	}
	c.pending = tail
	c.mu.Unlock()

	if reaped > 0 {
		Logger().Debug("frame sweep reaped tasks",
			"reaped", reaped,
			"syncPoint", uint64(c.syncPoint))
	}
}

// OnFrameEnd delimits the end of the frame. It performs no pending-task
// bookkeeping; it exists to forward the frame boundary to a dedicated
// channel. Must be called once per frame, after OnFrameBegin, from the
// frame goroutine.
func (c *TasksContext) OnFrameEnd() {
	c.guard.Check("gputasks: TasksContext.OnFrameEnd")
	if c.closed {
		panic("gputasks: OnFrameEnd called on closed context")
	}

	if c.ownsChannel {
		c.channel.FrameEnd()
	}
}

// Close cancels every task still pending completion, emitting a warning per
// task, and releases the dedicated channel if the context owns one. After
// Close no task reference outlives the context and no task is left assuming
// it will ever be synced again.
//
// Must be called from the frame goroutine; this is a hard precondition.
// Close is idempotent.
func (c *TasksContext) Close() {
	c.guard.Check("gputasks: TasksContext.Close")
	if c.closed {
		return
	}
	c.closed = true

	c.mu.Lock()
	tasks := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, task := range tasks {
		Logger().Warn("task canceled before sync", "task", task.String())
		task.CancelSync()
	}

	if c.ownsChannel {
		if err := c.channel.Close(); err != nil {
			Logger().Warn("dedicated channel close failed", "err", err)
		}
	}
}
