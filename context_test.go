package gputasks

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gogpu/gputypes"
)

// stubBuffer and stubTexture are inert resource handles for tests.
type stubBuffer struct{ size uint64 }

func (b *stubBuffer) Size() uint64 { return b.size }
func (b *stubBuffer) Destroy()     {}

type stubTexture struct {
	w, h, mips uint32
	format     gputypes.TextureFormat
}

func (t *stubTexture) Width() uint32                  { return t.w }
func (t *stubTexture) Height() uint32                 { return t.h }
func (t *stubTexture) MipLevelCount() uint32          { return t.mips }
func (t *stubTexture) Format() gputypes.TextureFormat { return t.format }
func (t *stubTexture) Destroy()                       {}

// stubChannel is a CommandChannel that records what was asked of it. Every
// flushed point is immediately signaled, so Wait never blocks.
type stubChannel struct {
	mu       sync.Mutex
	latency  uint64
	next     uint64
	signaled uint64

	writes    int
	texWrites int
	copies    int
	reads     int
	mipGens   int
	flushes   int
	waits     []uint64

	frameBegins int
	frameEnds   int
	closed      bool

	writeErr error
	readErr  error
	waitErr  error
	mipsErr  error
}

func newStubChannel(latency uint64) *stubChannel {
	return &stubChannel{latency: latency, next: 1}
}

func (c *stubChannel) CreateBuffer(desc *BufferDescriptor) (Buffer, error) {
	return &stubBuffer{size: desc.Size}, nil
}

func (c *stubChannel) CreateTexture(desc *TextureDescriptor) (Texture, error) {
	mips := desc.MipLevelCount
	if mips == 0 {
		mips = 1
	}
	return &stubTexture{w: desc.Width, h: desc.Height, mips: mips, format: desc.Format}, nil
}

func (c *stubChannel) WriteBuffer(dst Buffer, offset uint64, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.writes++
	return nil
}

func (c *stubChannel) ReadBuffer(src Buffer, offset uint64, dst []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr != nil {
		return c.readErr
	}
	c.reads++
	for i := range dst {
		dst[i] = 0x5A
	}
	return nil
}

func (c *stubChannel) CopyBuffer(src, dst Buffer, srcOffset, dstOffset, size uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.copies++
	return nil
}

func (c *stubChannel) WriteTexture(dst Texture, mipLevel uint32, data []byte, layout DataLayout) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.texWrites++
	return nil
}

func (c *stubChannel) GenerateMips(dst Texture) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mipsErr != nil {
		return c.mipsErr
	}
	c.mipGens++
	return nil
}

func (c *stubChannel) FrameLatency() uint64 { return c.latency }

func (c *stubChannel) PendingPoint() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.next
}

func (c *stubChannel) Flush() (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flushLocked(), nil
}

func (c *stubChannel) flushLocked() uint64 {
	c.flushes++
	point := c.next
	c.next++
	c.signaled = point
	return point
}

func (c *stubChannel) Wait(point uint64, timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waits = append(c.waits, point)
	if c.waitErr != nil {
		return c.waitErr
	}
	for c.signaled < point {
		c.flushLocked()
	}
	return nil
}

func (c *stubChannel) FrameBegin() {
	c.mu.Lock()
	c.frameBegins++
	c.mu.Unlock()
}

func (c *stubChannel) FrameEnd() {
	c.mu.Lock()
	c.frameEnds++
	c.mu.Unlock()
}

func (c *stubChannel) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *stubChannel) waitCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waits)
}

// stubDevice hands out stub channels.
type stubDevice struct {
	main    *stubChannel
	created []*stubChannel
}

func newStubDevice(latency uint64) *stubDevice {
	return &stubDevice{main: newStubChannel(latency)}
}

func (d *stubDevice) MainChannel() CommandChannel { return d.main }

func (d *stubDevice) CreateChannel() (CommandChannel, error) {
	ch := newStubChannel(d.main.latency)
	d.created = append(d.created, ch)
	return ch, nil
}

// testTask is a minimal task for scheduler tests. Its optional body runs
// during Execute; onSync fires when the sweep forces completion.
type testTask struct {
	TaskBase
	body   func(ctx *TasksContext) error
	onSync func()
}

func newTestTask(label string) *testTask {
	return &testTask{TaskBase: newTaskBase(label)}
}

func (t *testTask) Execute(ctx *TasksContext) {
	if !t.begin() {
		return
	}
	if t.body != nil {
		if err := t.body(ctx); err != nil {
			t.fail(err)
			return
		}
	}
	t.deferCompletion(ctx)
}

func (t *testTask) Sync() {
	if t.onSync != nil {
		t.onSync()
	}
	t.TaskBase.Sync()
}

func mustContext(t *testing.T, dev Device, opts ...ContextOption) *TasksContext {
	t.Helper()
	ctx, err := NewContext(dev, opts...)
	if err != nil {
		t.Fatalf("NewContext() error = %v", err)
	}
	return ctx
}

func TestNewContext_BorrowsMainChannel(t *testing.T) {
	dev := newStubDevice(1)
	ctx := mustContext(t, dev)
	defer ctx.Close()

	if ctx.Channel() != dev.main {
		t.Error("context should borrow the device's main channel by default")
	}
	if got := ctx.CurrentSyncPoint(); got != initialSyncPoint {
		t.Errorf("CurrentSyncPoint() = %d, want %d", got, initialSyncPoint)
	}
	if len(dev.created) != 0 {
		t.Errorf("device created %d channels, want 0", len(dev.created))
	}
}

func TestNewContext_DedicatedChannel(t *testing.T) {
	dev := newStubDevice(1)
	ctx := mustContext(t, dev, WithDedicatedChannel())

	if len(dev.created) != 1 {
		t.Fatalf("device created %d channels, want 1", len(dev.created))
	}
	ch := dev.created[0]
	if ctx.Channel() != ch {
		t.Error("dedicated context should use its private channel")
	}

	ctx.OnFrameBegin()
	ctx.OnFrameEnd()
	if ch.frameBegins != 1 || ch.frameEnds != 1 {
		t.Errorf("frame boundaries forwarded %d/%d times, want 1/1", ch.frameBegins, ch.frameEnds)
	}
	if dev.main.frameBegins != 0 {
		t.Error("main channel should not see frame boundaries of a dedicated context")
	}

	ctx.Close()
	if !ch.closed {
		t.Error("Close() should close the owned dedicated channel")
	}
	if dev.main.closed {
		t.Error("Close() must not close the device's main channel")
	}
}

func TestWithInitialSyncPoint(t *testing.T) {
	dev := newStubDevice(1)

	ctx := mustContext(t, dev, WithInitialSyncPoint(100))
	if got := ctx.CurrentSyncPoint(); got != 100 {
		t.Errorf("CurrentSyncPoint() = %d, want 100", got)
	}
	ctx.Close()

	// Zero is the unassigned sentinel and must be ignored.
	ctx = mustContext(t, dev, WithInitialSyncPoint(0))
	if got := ctx.CurrentSyncPoint(); got != initialSyncPoint {
		t.Errorf("CurrentSyncPoint() = %d, want default %d", got, initialSyncPoint)
	}
	ctx.Close()
}

func TestRun_TracksPending(t *testing.T) {
	dev := newStubDevice(2)
	ctx := mustContext(t, dev)
	defer ctx.Close()

	task := newTestTask("Test")
	if got := task.SyncPoint(); got != 0 {
		t.Fatalf("fresh task SyncPoint() = %d, want 0", got)
	}

	ctx.Run(task)
	if got := ctx.PendingCount(); got != 1 {
		t.Errorf("PendingCount() = %d, want 1", got)
	}
	if got := task.State(); got != TaskExecuting {
		t.Errorf("State() = %v, want %v", got, TaskExecuting)
	}
	want := ctx.CurrentSyncPoint() + 2
	if got := task.SyncPoint(); got != want {
		t.Errorf("SyncPoint() = %d, want current+latency = %d", got, want)
	}
}

func TestRun_Panics(t *testing.T) {
	expectPanic := func(t *testing.T, name string, fn func()) {
		t.Helper()
		defer func() {
			if recover() == nil {
				t.Errorf("%s did not panic", name)
			}
		}()
		fn()
	}

	t.Run("nil task", func(t *testing.T) {
		ctx := mustContext(t, newStubDevice(1))
		defer ctx.Close()
		expectPanic(t, "Run(nil)", func() { ctx.Run(nil) })
	})

	t.Run("duplicate task", func(t *testing.T) {
		dev := newStubDevice(10)
		ctx := mustContext(t, dev)
		defer ctx.Close()
		task := newTestTask("Dup")
		ctx.Run(task)
		expectPanic(t, "Run(same task twice)", func() { ctx.Run(task) })
	})

	t.Run("closed context", func(t *testing.T) {
		ctx := mustContext(t, newStubDevice(1))
		ctx.Close()
		expectPanic(t, "Run on closed context", func() { ctx.Run(newTestTask("Late")) })
	})
}

func TestRun_OtherGoroutinePanics(t *testing.T) {
	ctx := mustContext(t, newStubDevice(1))
	defer ctx.Close()

	panicked := make(chan bool, 1)
	go func() {
		defer func() { panicked <- recover() != nil }()
		ctx.Run(newTestTask("Foreign"))
	}()
	if !<-panicked {
		t.Error("Run from another goroutine should panic")
	}
}

func TestOnFrameBegin_AdvancesSyncPoint(t *testing.T) {
	ctx := mustContext(t, newStubDevice(1))
	defer ctx.Close()

	prev := ctx.CurrentSyncPoint()
	for i := 0; i < 3; i++ {
		ctx.OnFrameBegin()
		ctx.OnFrameEnd()
		got := ctx.CurrentSyncPoint()
		if got != prev+1 {
			t.Fatalf("frame %d: CurrentSyncPoint() = %d, want %d", i, got, prev+1)
		}
		prev = got
	}
}

func TestOnFrameBegin_SweepsDueTasks(t *testing.T) {
	dev := newStubDevice(1)
	ctx := mustContext(t, dev)
	defer ctx.Close()

	task := newTestTask("Upload")
	ctx.Run(task)

	// Latency 1: the task is due on the very next frame.
	ctx.OnFrameBegin()
	if got := task.State(); got != TaskFinished {
		t.Errorf("State() after due frame = %v, want %v", got, TaskFinished)
	}
	if got := ctx.PendingCount(); got != 0 {
		t.Errorf("PendingCount() = %d, want 0", got)
	}
	if got := ctx.TotalCompleted(); got != 1 {
		t.Errorf("TotalCompleted() = %d, want 1", got)
	}
}

func TestOnFrameBegin_KeepsFutureTasks(t *testing.T) {
	dev := newStubDevice(3)
	ctx := mustContext(t, dev)
	defer ctx.Close()

	task := newTestTask("Slow")
	ctx.Run(task)

	// Latency 3: the first two frames must leave the task untouched.
	for frame := 1; frame <= 2; frame++ {
		ctx.OnFrameBegin()
		ctx.OnFrameEnd()
		if got := task.State(); got != TaskExecuting {
			t.Fatalf("frame %d: State() = %v, want %v", frame, got, TaskExecuting)
		}
		if got := ctx.PendingCount(); got != 1 {
			t.Fatalf("frame %d: PendingCount() = %d, want 1", frame, got)
		}
	}

	ctx.OnFrameBegin()
	if got := task.State(); got != TaskFinished {
		t.Errorf("State() after due frame = %v, want %v", got, TaskFinished)
	}
	if got := ctx.PendingCount(); got != 0 {
		t.Errorf("PendingCount() = %d, want 0", got)
	}
}

func TestSweep_SubmissionOrder(t *testing.T) {
	dev := newStubDevice(1)
	ctx := mustContext(t, dev)
	defer ctx.Close()

	var order []string
	for _, label := range []string{"A", "B", "C"} {
		task := newTestTask(label)
		name := label
		task.onSync = func() { order = append(order, name) }
		ctx.Run(task)
	}

	ctx.OnFrameBegin()
	if len(order) != 3 || order[0] != "A" || order[1] != "B" || order[2] != "C" {
		t.Errorf("sweep order = %v, want [A B C]", order)
	}
	if got := ctx.TotalCompleted(); got != 3 {
		t.Errorf("TotalCompleted() = %d, want 3", got)
	}
}

func TestSweep_FailedTask(t *testing.T) {
	dev := newStubDevice(1)
	dev.main.waitErr = errors.New("device lost")
	ctx := mustContext(t, dev)
	defer ctx.Close()

	task := newTestTask("Doomed")
	ctx.Run(task)
	ctx.OnFrameBegin()

	if got := task.State(); got != TaskFailed {
		t.Errorf("State() = %v, want %v", got, TaskFailed)
	}
	if task.Err() == nil {
		t.Error("Err() = nil, want recorded wait error")
	}
	if got := ctx.PendingCount(); got != 0 {
		t.Errorf("PendingCount() = %d, want 0: failed tasks must be reaped", got)
	}
	if got := ctx.TotalFailed(); got != 1 {
		t.Errorf("TotalFailed() = %d, want 1", got)
	}
	if got := ctx.TotalCompleted(); got != 0 {
		t.Errorf("TotalCompleted() = %d, want 0", got)
	}
}

func TestSync_Idempotent(t *testing.T) {
	dev := newStubDevice(1)
	ctx := mustContext(t, dev)
	defer ctx.Close()

	task := newTestTask("Once")
	ctx.Run(task)
	task.Sync()
	if got := task.State(); got != TaskFinished {
		t.Fatalf("State() = %v, want %v", got, TaskFinished)
	}
	waits := dev.main.waitCount()

	task.Sync()
	task.Sync()
	if got := dev.main.waitCount(); got != waits {
		t.Errorf("repeated Sync() hit the channel %d extra times", got-waits)
	}
	if got := task.State(); got != TaskFinished {
		t.Errorf("State() after repeated Sync = %v, want %v", got, TaskFinished)
	}
}

func TestOnCancelSync(t *testing.T) {
	ctx := mustContext(t, newStubDevice(10))
	defer ctx.Close()

	task := newTestTask("Dropped")
	ctx.Run(task)

	other := newTestTask("Never")
	ctx.OnCancelSync(other) // absent task is a no-op
	if got := ctx.PendingCount(); got != 1 {
		t.Fatalf("PendingCount() after absent cancel = %d, want 1", got)
	}

	// Removal is the one context call allowed from any goroutine.
	done := make(chan struct{})
	go func() {
		defer close(done)
		task.CancelSync()
		ctx.OnCancelSync(task)
	}()
	<-done

	if got := ctx.PendingCount(); got != 0 {
		t.Errorf("PendingCount() after cancel = %d, want 0", got)
	}
}

func TestCancelThenSweep(t *testing.T) {
	dev := newStubDevice(1)
	ctx := mustContext(t, dev)
	defer ctx.Close()

	task := newTestTask("Canceled")
	ctx.Run(task)
	task.CancelSync()

	// Without an OnCancelSync notification the sweep still drops the
	// terminal task, without counting it as completed.
	ctx.OnFrameBegin()
	if got := ctx.PendingCount(); got != 0 {
		t.Errorf("PendingCount() = %d, want 0", got)
	}
	if got := ctx.TotalCompleted(); got != 0 {
		t.Errorf("TotalCompleted() = %d, want 0", got)
	}
	if got := dev.main.waitCount(); got != 0 {
		t.Errorf("canceled task caused %d channel waits, want 0", got)
	}
}

func TestClose_CancelsPending(t *testing.T) {
	dev := newStubDevice(10)
	ctx := mustContext(t, dev)

	tasks := []*testTask{newTestTask("A"), newTestTask("B"), newTestTask("C")}
	for _, task := range tasks {
		ctx.Run(task)
	}

	ctx.Close()
	for _, task := range tasks {
		if got := task.State(); got != TaskCanceled {
			t.Errorf("%s: State() = %v, want %v", task, got, TaskCanceled)
		}
	}
	if got := ctx.PendingCount(); got != 0 {
		t.Errorf("PendingCount() = %d, want 0", got)
	}

	ctx.Close() // idempotent
}
