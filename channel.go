package gputasks

import (
	"time"

	"github.com/gogpu/gputypes"
)

// BufferDescriptor describes parameters for creating a buffer on a channel.
type BufferDescriptor struct {
	// Label is an optional debug label for the buffer.
	Label string

	// Size is the buffer size in bytes.
	Size uint64

	// Usage specifies how the buffer will be used.
	Usage gputypes.BufferUsage
}

// TextureDescriptor describes parameters for creating a texture on a channel.
// This mirrors the WebGPU GPUTextureDescriptor specification.
type TextureDescriptor struct {
	// Label is an optional debug label for the texture.
	Label string

	// Width is the texture width in pixels.
	Width uint32

	// Height is the texture height in pixels.
	Height uint32

	// MipLevelCount is the number of mipmap levels. Use 1 for no mipmaps.
	MipLevelCount uint32

	// Format is the texture pixel format.
	Format gputypes.TextureFormat

	// Usage specifies how the texture will be used.
	Usage gputypes.TextureUsage
}

// DataLayout describes the memory layout of pixel data being written to or
// read from a texture.
type DataLayout struct {
	// Offset in bytes into the data.
	Offset uint64

	// BytesPerRow is the stride between rows.
	BytesPerRow uint32

	// RowsPerImage is the number of rows per image layer.
	RowsPerImage uint32
}

// Buffer represents a linear GPU memory resource owned by a channel.
type Buffer interface {
	// Size returns the buffer size in bytes.
	Size() uint64

	// Destroy releases the resource.
	Destroy()
}

// Texture represents a GPU texture resource owned by a channel.
type Texture interface {
	// Width returns the texture width in pixels.
	Width() uint32

	// Height returns the texture height in pixels.
	Height() uint32

	// MipLevelCount returns the number of mip levels.
	MipLevelCount() uint32

	// Format returns the texture pixel format.
	Format() gputypes.TextureFormat

	// Destroy releases the resource.
	Destroy()
}

// CommandChannel is the execution channel tasks run against: a device-level
// object capable of receiving submitted work and confirming or forcing its
// completion relative to a monotonically increasing channel point.
//
// Recording and flushing are confined to the goroutine that drives frames.
// Wait may, in addition, be called from a task owner's goroutine; channel
// implementations serialize it against flushing internally.
type CommandChannel interface {
	// CreateBuffer allocates a buffer on the channel's device.
	CreateBuffer(desc *BufferDescriptor) (Buffer, error)

	// CreateTexture allocates a texture on the channel's device.
	CreateTexture(desc *TextureDescriptor) (Texture, error)

	// WriteBuffer schedules a copy of data into dst at offset. The write is
	// confirmed once the point returned by PendingPoint is signaled.
	WriteBuffer(dst Buffer, offset uint64, data []byte) error

	// ReadBuffer copies the current contents of src at offset into dst.
	// Callers must Wait for the point covering the producing work first;
	// reading earlier returns whatever the buffer held before it.
	ReadBuffer(src Buffer, offset uint64, dst []byte) error

	// CopyBuffer schedules a copy of size bytes from src to dst.
	CopyBuffer(src, dst Buffer, srcOffset, dstOffset, size uint64) error

	// WriteTexture schedules a write of pixel data into one mip level of dst.
	WriteTexture(dst Texture, mipLevel uint32, data []byte, layout DataLayout) error

	// GenerateMips schedules generation of all mip levels of dst from level
	// zero on the device. Channels without device-side downsampling return
	// ErrMipsUnsupported; callers fall back to uploading CPU-built levels.
	GenerateMips(dst Texture) error

	// FrameLatency returns how many frames after submission the channel
	// guarantees visibility of issued work. Tasks derive their sync point
	// from it.
	FrameLatency() uint64

	// PendingPoint returns the channel point that the currently recorded
	// (not yet flushed) work will signal.
	PendingPoint() uint64

	// Flush submits all recorded work and returns the point it signals.
	Flush() (uint64, error)

	// Wait blocks until the channel has signaled point, flushing first if
	// the work covering it is still only recorded. Returns ErrSyncTimeout
	// if the device does not confirm within timeout.
	Wait(point uint64, timeout time.Duration) error

	// FrameBegin delimits the start of a frame on a dedicated channel.
	FrameBegin()

	// FrameEnd delimits the end of a frame on a dedicated channel,
	// flushing work recorded during the frame.
	FrameEnd()

	// Close flushes and releases the channel's resources.
	Close() error
}

// Device provides execution channels to a TasksContext. The context borrows
// the device's main channel by default, or asks the device to create a
// private one when running in dedicated mode.
//
// Key principle: the context RECEIVES the device from the host, it does NOT
// create one. The host application owns device lifetime.
type Device interface {
	// MainChannel returns the device's shared channel. The caller must not
	// close it; the device owns its lifetime.
	MainChannel() CommandChannel

	// CreateChannel creates a new private channel owned by the caller.
	CreateChannel() (CommandChannel, error)
}
