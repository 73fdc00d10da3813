package wgpu

import (
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/gputasks"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// channelFrameLatency is how many frames after submission work is guaranteed
// visible. Double-buffered swap chains let the GPU run one full frame behind
// the CPU, so results are safe to observe two frame boundaries later.
const channelFrameLatency = 2

// wgpuBuffer wraps a HAL buffer as a gputasks.Buffer.
type wgpuBuffer struct {
	buf    hal.Buffer
	size   uint64
	device hal.Device
}

func (b *wgpuBuffer) Size() uint64 { return b.size }

func (b *wgpuBuffer) Destroy() {
	if b.buf != nil {
		b.device.DestroyBuffer(b.buf)
		b.buf = nil
	}
}

// wgpuTexture wraps a HAL texture as a gputasks.Texture.
type wgpuTexture struct {
	tex           hal.Texture
	width, height uint32
	mipLevels     uint32
	format        gputypes.TextureFormat
	device        hal.Device
}

func (t *wgpuTexture) Width() uint32                  { return t.width }
func (t *wgpuTexture) Height() uint32                 { return t.height }
func (t *wgpuTexture) MipLevelCount() uint32          { return t.mipLevels }
func (t *wgpuTexture) Format() gputypes.TextureFormat { return t.format }

func (t *wgpuTexture) Destroy() {
	if t.tex != nil {
		t.device.DestroyTexture(t.tex)
		t.tex = nil
	}
}

// Channel is a gputasks.CommandChannel over a HAL device and queue.
//
// Copies are recorded into a per-frame command encoder; queue writes are
// ordered with the next submission by the HAL. Flush ends the encoder and
// submits, signaling the channel's fence with the next point value, so
// waiting for a point is a single bounded fence wait.
type Channel struct {
	mu sync.Mutex

	device hal.Device
	queue  hal.Queue
	fence  hal.Fence

	encoder   hal.CommandEncoder
	next      uint64 // point the recorded work will signal
	submitted uint64 // highest point handed to the queue

	mips *mipGenerator

	closed bool
}

// newChannel creates a channel with a fresh fence on the given device.
func newChannel(device hal.Device, queue hal.Queue) (*Channel, error) {
	fence, err := device.CreateFence()
	if err != nil {
		return nil, fmt.Errorf("wgpu: create fence: %w", err)
	}
	return &Channel{
		device: device,
		queue:  queue,
		fence:  fence,
		next:   1,
	}, nil
}

// CreateBuffer allocates a buffer on the device. Copy usages are added on
// top of the requested ones so scheduled task copies always validate.
func (c *Channel) CreateBuffer(desc *gputasks.BufferDescriptor) (gputasks.Buffer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, gputasks.ErrChannelClosed
	}
	buf, err := c.device.CreateBuffer(&hal.BufferDescriptor{
		Label: desc.Label,
		Size:  desc.Size,
		Usage: desc.Usage | gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create buffer: %w", err)
	}
	return &wgpuBuffer{buf: buf, size: desc.Size, device: c.device}, nil
}

// CreateTexture allocates a texture on the device.
func (c *Channel) CreateTexture(desc *gputasks.TextureDescriptor) (gputasks.Texture, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, gputasks.ErrChannelClosed
	}
	mips := desc.MipLevelCount
	if mips == 0 {
		mips = 1
	}
	tex, err := c.device.CreateTexture(&hal.TextureDescriptor{
		Label:         desc.Label,
		Size:          hal.Extent3D{Width: desc.Width, Height: desc.Height, DepthOrArrayLayers: 1},
		MipLevelCount: mips,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        desc.Format,
		Usage:         desc.Usage | gputypes.TextureUsageCopySrc | gputypes.TextureUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create texture: %w", err)
	}
	return &wgpuTexture{
		tex:       tex,
		width:     desc.Width,
		height:    desc.Height,
		mipLevels: mips,
		format:    desc.Format,
		device:    c.device,
	}, nil
}

// WriteBuffer schedules a write of data into dst at offset. The HAL orders
// queue writes with the next submission, so the write is confirmed by the
// pending point's fence value.
func (c *Channel) WriteBuffer(dst gputasks.Buffer, offset uint64, data []byte) error {
	b, err := asBuffer(dst)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return gputasks.ErrChannelClosed
	}
	c.queue.WriteBuffer(b.buf, offset, data)
	return nil
}

// ReadBuffer copies the buffer's contents back to CPU memory. Callers wait
// for the covering point first; the read itself is synchronous.
func (c *Channel) ReadBuffer(src gputasks.Buffer, offset uint64, dst []byte) error {
	b, err := asBuffer(src)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return gputasks.ErrChannelClosed
	}
	if err := c.queue.ReadBuffer(b.buf, offset, dst); err != nil {
		return fmt.Errorf("wgpu: readback: %w", err)
	}
	return nil
}

// CopyBuffer records a device-side copy into the frame encoder.
func (c *Channel) CopyBuffer(src, dst gputasks.Buffer, srcOffset, dstOffset, size uint64) error {
	sb, err := asBuffer(src)
	if err != nil {
		return err
	}
	db, err := asBuffer(dst)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	enc, err := c.ensureEncoderLocked()
	if err != nil {
		return err
	}
	enc.CopyBufferToBuffer(sb.buf, db.buf, []hal.BufferCopy{
		{SrcOffset: srcOffset, DstOffset: dstOffset, Size: size},
	})
	return nil
}

// WriteTexture schedules a write of pixel data into one mip level of dst.
func (c *Channel) WriteTexture(dst gputasks.Texture, mipLevel uint32, data []byte, layout gputasks.DataLayout) error {
	t, err := asTexture(dst)
	if err != nil {
		return err
	}
	if mipLevel >= t.mipLevels {
		return fmt.Errorf("wgpu: mip level %d out of range (texture has %d)", mipLevel, t.mipLevels)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return gputasks.ErrChannelClosed
	}
	w := max(t.width>>mipLevel, 1)
	h := max(t.height>>mipLevel, 1)
	c.queue.WriteTexture(
		&hal.ImageCopyTexture{Texture: t.tex, MipLevel: mipLevel},
		data,
		&hal.ImageDataLayout{
			Offset:       layout.Offset,
			BytesPerRow:  layout.BytesPerRow,
			RowsPerImage: layout.RowsPerImage,
		},
		&hal.Extent3D{Width: w, Height: h, DepthOrArrayLayers: 1},
	)
	return nil
}

// GenerateMips records device-side generation of the full mip chain of dst
// from level zero, using the channel's compute downsampler.
func (c *Channel) GenerateMips(dst gputasks.Texture) error {
	t, err := asTexture(dst)
	if err != nil {
		return err
	}
	if t.format != gputypes.TextureFormatRGBA8Unorm {
		return gputasks.ErrMipsUnsupported
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return gputasks.ErrChannelClosed
	}
	if c.mips == nil {
		gen, err := newMipGenerator(c.device)
		if err != nil {
			gputasks.Logger().Warn("wgpu: mip generator unavailable", "err", err)
			return gputasks.ErrMipsUnsupported
		}
		c.mips = gen
	}
	return c.mips.generate(c.queue, t)
}

// FrameLatency returns the channel's visibility latency in frames.
func (c *Channel) FrameLatency() uint64 { return channelFrameLatency }

// PendingPoint returns the point the recorded work will signal.
func (c *Channel) PendingPoint() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.next
}

// Flush submits all recorded work, signaling the pending point.
func (c *Channel) Flush() (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flushLocked()
}

func (c *Channel) flushLocked() (uint64, error) {
	if c.closed {
		return c.submitted, gputasks.ErrChannelClosed
	}
	point := c.next
	c.next++

	var cmdBufs []hal.CommandBuffer
	if c.encoder != nil {
		cmdBuf, err := c.encoder.EndEncoding()
		c.encoder = nil
		if err != nil {
			return point, fmt.Errorf("wgpu: end encoding: %w", err)
		}
		defer c.device.FreeCommandBuffer(cmdBuf)
		cmdBufs = append(cmdBufs, cmdBuf)
	}
	if err := c.queue.Submit(cmdBufs, c.fence, point); err != nil {
		return point, fmt.Errorf("wgpu: submit: %w", err)
	}
	c.submitted = point
	return point, nil
}

// Wait blocks until the fence reaches point, flushing first if the covering
// work has not been submitted yet. Waiting for the pending point is valid:
// the flush submits whatever is recorded (an empty submit still signals the
// fence) so queue writes confirmed by that point become observable.
func (c *Channel) Wait(point uint64, timeout time.Duration) error {
	c.mu.Lock()
	if point > c.next {
		// Nothing can ever signal a point beyond the pending one;
		// waiting on it would never return.
		c.mu.Unlock()
		return fmt.Errorf("wgpu: wait for unscheduled point %d", point)
	}
	if point > c.submitted {
		if _, err := c.flushLocked(); err != nil {
			c.mu.Unlock()
			return err
		}
	}
	fence := c.fence
	c.mu.Unlock()

	ok, err := c.device.Wait(fence, point, timeout)
	if err != nil {
		return fmt.Errorf("wgpu: fence wait: %w", err)
	}
	if !ok {
		return gputasks.ErrSyncTimeout
	}
	return nil
}

// FrameBegin delimits a frame on a dedicated channel.
func (c *Channel) FrameBegin() {}

// FrameEnd flushes the work recorded during the frame.
func (c *Channel) FrameEnd() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.flushLocked() //nolint:errcheck
}

// Close flushes outstanding work, waits for it, and releases the fence and
// the mip generator pipelines.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	point, err := c.flushLocked()
	c.closed = true
	fence := c.fence
	mips := c.mips
	c.mips = nil
	c.mu.Unlock()

	if err == nil && point > 0 {
		if _, werr := c.device.Wait(fence, point, 5*time.Second); werr != nil {
			err = fmt.Errorf("wgpu: close wait: %w", werr)
		}
	}
	if mips != nil {
		mips.destroy(c.device)
	}
	c.device.DestroyFence(fence)
	return err
}

func asBuffer(h gputasks.Buffer) (*wgpuBuffer, error) {
	b, ok := h.(*wgpuBuffer)
	if !ok {
		return nil, fmt.Errorf("wgpu: foreign buffer %T", h)
	}
	return b, nil
}

func asTexture(h gputasks.Texture) (*wgpuTexture, error) {
	t, ok := h.(*wgpuTexture)
	if !ok {
		return nil, fmt.Errorf("wgpu: foreign texture %T", h)
	}
	return t, nil
}

// ensureEncoderLocked returns the frame encoder, beginning one on demand.
func (c *Channel) ensureEncoderLocked() (hal.CommandEncoder, error) {
	if c.closed {
		return nil, gputasks.ErrChannelClosed
	}
	if c.encoder == nil {
		enc, err := c.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "gputasks_frame"})
		if err != nil {
			return nil, fmt.Errorf("wgpu: create command encoder: %w", err)
		}
		if err := enc.BeginEncoding("gputasks"); err != nil {
			return nil, fmt.Errorf("wgpu: begin encoding: %w", err)
		}
		c.encoder = enc
	}
	return c.encoder, nil
}
