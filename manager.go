package gputasks

import (
	"fmt"
	"sync"

	"github.com/gogpu/gputasks/internal/ring"
)

// Manager layers a thread-safe submission queue over a TasksContext.
//
// Task owners on any goroutine call Enqueue; the frame driver calls
// OnFrameBegin/OnFrameEnd once per frame from its single goroutine. At frame
// begin the manager drains a bounded batch of queued tasks into the context
// and then runs the context's reconciliation sweep.
type Manager struct {
	ctx *TasksContext

	mu     sync.Mutex
	queue  *ring.Buffer[Task]
	closed bool

	maxDispatchPerFrame int
}

// NewManager creates a manager with its own TasksContext on the given
// device. The calling goroutine becomes the frame driver for both.
func NewManager(device Device, opts ...ManagerOption) (*Manager, error) {
	o := defaultManagerOptions()
	for _, opt := range opts {
		opt(&o)
	}
	ctx, err := NewContext(device, o.contextOpts...)
	if err != nil {
		return nil, err
	}
	return &Manager{
		ctx:                 ctx,
		queue:               ring.New[Task](o.queueCapacity),
		maxDispatchPerFrame: o.maxDispatchPerFrame,
	}, nil
}

// Context returns the underlying tasks context.
func (m *Manager) Context() *TasksContext {
	return m.ctx
}

// Enqueue parks a task for dispatch on an upcoming frame. Safe to call from
// any goroutine. Returns ErrContextClosed after Close.
//
// The task transitions to Queued; a task canceled while waiting is skipped
// at dispatch time.
func (m *Manager) Enqueue(task Task) error {
	if task == nil {
		panic("gputasks: Enqueue called with nil task")
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrContextClosed
	}
	m.queue.PushBack(task)
	m.mu.Unlock()

	if q, ok := task.(queueable); ok {
		q.markQueued()
	}
	return nil
}

// QueuedCount returns the number of tasks waiting for dispatch.
func (m *Manager) QueuedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queue.Len()
}

// OnFrameBegin advances the context's frame, sweeping tasks dispatched on
// earlier frames, then dispatches up to the per-frame batch of queued tasks.
// Dispatching after the sweep gives every task its full frame of latency
// before a sweep may force it. Must be called once per frame from the frame
// goroutine.
func (m *Manager) OnFrameBegin() {
	m.ctx.OnFrameBegin()

	for i := 0; i < m.maxDispatchPerFrame; i++ {
		m.mu.Lock()
		task, ok := m.queue.PopFront()
		m.mu.Unlock()
		if !ok {
			break
		}
		if task.State().Terminal() {
			// Canceled while queued; never reached the context.
			continue
		}
		m.ctx.Run(task)
	}
}

// OnFrameEnd forwards the frame end to the context. Must be called once per
// frame, after OnFrameBegin, from the frame goroutine.
func (m *Manager) OnFrameEnd() {
	m.ctx.OnFrameEnd()
}

// Close cancels all queued and pending tasks and closes the context. Must be
// called from the frame goroutine. Idempotent.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	var queued []Task
	for {
		task, ok := m.queue.PopFront()
		if !ok {
			break
		}
		queued = append(queued, task)
	}
	m.mu.Unlock()

	for _, task := range queued {
		Logger().Warn("task canceled before sync", "task", task.String())
		task.CancelSync()
	}
	m.ctx.Close()
}

// Stats is a point-in-time snapshot of manager and context counters.
// Diagnostics only.
type Stats struct {
	// Queued is the number of tasks waiting for dispatch.
	Queued int

	// Pending is the number of dispatched tasks not yet reaped.
	Pending int

	// TotalCompleted is the number of tasks reaped as Finished.
	TotalCompleted uint64

	// TotalFailed is the number of tasks reaped as Failed.
	TotalFailed uint64

	// SyncPoint is the context's current logical frame index.
	SyncPoint SyncPoint
}

// String returns a human-readable summary of the stats.
func (s Stats) String() string {
	return fmt.Sprintf("Tasks[%d queued, %d pending, %d done, %d failed, sync point %d]",
		s.Queued, s.Pending, s.TotalCompleted, s.TotalFailed, uint64(s.SyncPoint))
}

// Stats returns a snapshot of the manager's counters.
func (m *Manager) Stats() Stats {
	return Stats{
		Queued:         m.QueuedCount(),
		Pending:        m.ctx.PendingCount(),
		TotalCompleted: m.ctx.TotalCompleted(),
		TotalFailed:    m.ctx.TotalFailed(),
		SyncPoint:      m.ctx.CurrentSyncPoint(),
	}
}
