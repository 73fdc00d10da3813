package gputasks

// UploadBufferTask copies CPU bytes into a channel buffer. The source slice
// is read during Execute; callers may reuse it once the task is Finished.
type UploadBufferTask struct {
	TaskBase
	dst    Buffer
	offset uint64
	data   []byte
}

// NewUploadBufferTask creates a task that writes data into dst at offset.
func NewUploadBufferTask(dst Buffer, offset uint64, data []byte) *UploadBufferTask {
	t := &UploadBufferTask{
		TaskBase: newTaskBase("UploadBuffer"),
		dst:      dst,
		offset:   offset,
		data:     data,
	}
	t.release = func() { t.data = nil }
	return t
}

// Execute issues the buffer write against the context's channel.
func (t *UploadBufferTask) Execute(ctx *TasksContext) {
	if !t.begin() {
		return
	}
	ch := ctx.Channel()
	if err := ch.WriteBuffer(t.dst, t.offset, t.data); err != nil {
		t.fail(err)
		return
	}
	t.deferCompletion(ctx)
}

// UploadTextureTask writes pixel data into one mip level of a texture.
type UploadTextureTask struct {
	TaskBase
	dst      Texture
	mipLevel uint32
	data     []byte
	layout   DataLayout
}

// NewUploadTextureTask creates a task that writes data into the given mip
// level of dst using the supplied layout.
func NewUploadTextureTask(dst Texture, mipLevel uint32, data []byte, layout DataLayout) *UploadTextureTask {
	t := &UploadTextureTask{
		TaskBase: newTaskBase("UploadTexture"),
		dst:      dst,
		mipLevel: mipLevel,
		data:     data,
		layout:   layout,
	}
	t.release = func() { t.data = nil }
	return t
}

// Execute issues the texture write against the context's channel.
func (t *UploadTextureTask) Execute(ctx *TasksContext) {
	if !t.begin() {
		return
	}
	ch := ctx.Channel()
	if err := ch.WriteTexture(t.dst, t.mipLevel, t.data, t.layout); err != nil {
		t.fail(err)
		return
	}
	t.deferCompletion(ctx)
}
