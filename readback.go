package gputasks

// ReadbackBufferTask reads a buffer's contents back to CPU memory. The read
// is performed when the task syncs, after the channel has confirmed all work
// covering the buffer, so the result reflects a settled frame.
//
// Result is valid once the task is Finished.
type ReadbackBufferTask struct {
	TaskBase
	src    Buffer
	offset uint64
	out    []byte
	onDone func(data []byte, err error)
}

// NewReadbackBufferTask creates a task that reads size bytes from src at
// offset. The optional onDone callback fires on the syncing goroutine after
// the task reaches a terminal state, with the read bytes or the recorded
// error (ErrTaskCanceled when the task was abandoned).
func NewReadbackBufferTask(src Buffer, offset uint64, size uint64, onDone func(data []byte, err error)) *ReadbackBufferTask {
	t := &ReadbackBufferTask{
		TaskBase: newTaskBase("ReadbackBuffer"),
		src:      src,
		offset:   offset,
		out:      make([]byte, size),
		onDone:   onDone,
	}
	t.finish = t.doRead
	t.release = func() {
		t.out = nil
		if t.onDone != nil {
			t.onDone(nil, ErrTaskCanceled)
		}
	}
	return t
}

// Execute defers the read to sync time; nothing is issued up front.
func (t *ReadbackBufferTask) Execute(ctx *TasksContext) {
	if !t.begin() {
		return
	}
	t.deferCompletion(ctx)
}

// doRead pulls the bytes out of the channel once the wait point is signaled.
func (t *ReadbackBufferTask) doRead(ch CommandChannel) error {
	if ch == nil {
		return ErrTaskNotExecuted
	}
	if err := ch.ReadBuffer(t.src, t.offset, t.out); err != nil {
		if t.onDone != nil {
			t.onDone(nil, err)
		}
		return err
	}
	if t.onDone != nil {
		t.onDone(t.out, nil)
	}
	return nil
}

// Result returns the read bytes. It returns ErrTaskNotExecuted until the
// task is Finished, and the recorded error if the task failed or was
// canceled.
func (t *ReadbackBufferTask) Result() ([]byte, error) {
	switch t.State() {
	case TaskFinished:
		return t.out, nil
	case TaskFailed, TaskCanceled:
		return nil, t.Err()
	default:
		return nil, ErrTaskNotExecuted
	}
}
