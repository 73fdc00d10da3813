package gputasks

// CopyBufferTask copies a byte range between two channel buffers on the
// device, without a CPU round-trip.
type CopyBufferTask struct {
	TaskBase
	src, dst             Buffer
	srcOffset, dstOffset uint64
	size                 uint64
}

// NewCopyBufferTask creates a task that copies size bytes from src to dst.
func NewCopyBufferTask(src, dst Buffer, srcOffset, dstOffset, size uint64) *CopyBufferTask {
	return &CopyBufferTask{
		TaskBase:  newTaskBase("CopyBuffer"),
		src:       src,
		dst:       dst,
		srcOffset: srcOffset,
		dstOffset: dstOffset,
		size:      size,
	}
}

// Execute issues the device copy against the context's channel.
func (t *CopyBufferTask) Execute(ctx *TasksContext) {
	if !t.begin() {
		return
	}
	ch := ctx.Channel()
	if err := ch.CopyBuffer(t.src, t.dst, t.srcOffset, t.dstOffset, t.size); err != nil {
		t.fail(err)
		return
	}
	t.deferCompletion(ctx)
}
