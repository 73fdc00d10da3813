package mem

import (
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/gputasks"
	"github.com/gogpu/gputypes"
)

// buffer is a CPU-resident buffer.
type buffer struct {
	data  []byte
	label string
}

func (b *buffer) Size() uint64 { return uint64(len(b.data)) }
func (b *buffer) Destroy()     { b.data = nil }

// texture is a CPU-resident texture with per-level pixel storage.
type texture struct {
	width, height uint32
	mipLevels     uint32
	format        gputypes.TextureFormat
	levels        [][]byte
	label         string
}

func (t *texture) Width() uint32                  { return t.width }
func (t *texture) Height() uint32                 { return t.height }
func (t *texture) MipLevelCount() uint32          { return t.mipLevels }
func (t *texture) Format() gputypes.TextureFormat { return t.format }
func (t *texture) Destroy()                       { t.levels = nil }

// Channel is a CPU-backed gputasks.CommandChannel.
//
// Recorded operations are closures executed at flush time, so the contents
// of buffers and textures only become observable once the covering channel
// point is signaled, mirroring how a hardware queue behaves.
type Channel struct {
	mu sync.Mutex

	recorded []func() error
	// next is the point the recorded work will signal; signaled is the
	// highest point whose work has executed.
	next     uint64
	signaled uint64

	frameLatency uint64
	gpuMips      bool
	closed       bool

	frames uint64 // frame boundaries observed, diagnostics only
}

func newChannel(frameLatency uint64, gpuMips bool) *Channel {
	return &Channel{
		next:         1,
		frameLatency: frameLatency,
		gpuMips:      gpuMips,
	}
}

// CreateBuffer allocates a CPU buffer.
func (c *Channel) CreateBuffer(desc *gputasks.BufferDescriptor) (gputasks.Buffer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, gputasks.ErrChannelClosed
	}
	if desc.Size == 0 {
		return nil, fmt.Errorf("mem: invalid buffer size 0")
	}
	return &buffer{data: make([]byte, desc.Size), label: desc.Label}, nil
}

// CreateTexture allocates a CPU texture with storage for every mip level.
func (c *Channel) CreateTexture(desc *gputasks.TextureDescriptor) (gputasks.Texture, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, gputasks.ErrChannelClosed
	}
	if desc.Width == 0 || desc.Height == 0 {
		return nil, fmt.Errorf("mem: invalid texture size %dx%d", desc.Width, desc.Height)
	}
	mips := desc.MipLevelCount
	if mips == 0 {
		mips = 1
	}
	t := &texture{
		width:     desc.Width,
		height:    desc.Height,
		mipLevels: mips,
		format:    desc.Format,
		label:     desc.Label,
	}
	t.levels = make([][]byte, mips)
	for i := uint32(0); i < mips; i++ {
		w := max(desc.Width>>i, 1)
		h := max(desc.Height>>i, 1)
		t.levels[i] = make([]byte, int(w)*int(h)*4)
	}
	return t, nil
}

// WriteBuffer records a copy of data into dst, effective at flush.
func (c *Channel) WriteBuffer(dst gputasks.Buffer, offset uint64, data []byte) error {
	b, err := c.asBuffer(dst)
	if err != nil {
		return err
	}
	if offset+uint64(len(data)) > uint64(len(b.data)) {
		return fmt.Errorf("mem: write of %d bytes at %d exceeds buffer size %d",
			len(data), offset, len(b.data))
	}
	staged := append([]byte(nil), data...)
	return c.record(func() error {
		copy(b.data[offset:], staged)
		return nil
	})
}

// ReadBuffer copies the current (flushed) contents of src into dst.
func (c *Channel) ReadBuffer(src gputasks.Buffer, offset uint64, dst []byte) error {
	b, err := c.asBuffer(src)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return gputasks.ErrChannelClosed
	}
	if offset+uint64(len(dst)) > uint64(len(b.data)) {
		return fmt.Errorf("mem: read of %d bytes at %d exceeds buffer size %d",
			len(dst), offset, len(b.data))
	}
	copy(dst, b.data[offset:])
	return nil
}

// CopyBuffer records a device-side copy, effective at flush.
func (c *Channel) CopyBuffer(src, dst gputasks.Buffer, srcOffset, dstOffset, size uint64) error {
	sb, err := c.asBuffer(src)
	if err != nil {
		return err
	}
	db, err := c.asBuffer(dst)
	if err != nil {
		return err
	}
	if srcOffset+size > uint64(len(sb.data)) || dstOffset+size > uint64(len(db.data)) {
		return fmt.Errorf("mem: copy of %d bytes out of range", size)
	}
	return c.record(func() error {
		copy(db.data[dstOffset:dstOffset+size], sb.data[srcOffset:srcOffset+size])
		return nil
	})
}

// WriteTexture records a write into one mip level, effective at flush.
func (c *Channel) WriteTexture(dst gputasks.Texture, mipLevel uint32, data []byte, layout gputasks.DataLayout) error {
	t, ok := dst.(*texture)
	if !ok {
		return fmt.Errorf("mem: foreign texture %T", dst)
	}
	if mipLevel >= t.mipLevels {
		return fmt.Errorf("mem: mip level %d out of range (texture has %d)", mipLevel, t.mipLevels)
	}
	level := t.levels[mipLevel]
	w := max(t.width>>mipLevel, 1)
	h := max(t.height>>mipLevel, 1)
	rowBytes := int(w) * 4
	staged := append([]byte(nil), data...)
	return c.record(func() error {
		// Copy row by row so padded strides land tightly packed.
		for y := 0; y < int(h); y++ {
			src := int(layout.Offset) + y*int(layout.BytesPerRow)
			if src+rowBytes > len(staged) {
				return fmt.Errorf("mem: texture write underruns source data at row %d", y)
			}
			copy(level[y*rowBytes:(y+1)*rowBytes], staged[src:src+rowBytes])
		}
		return nil
	})
}

// GenerateMips builds the mip chain with a box filter, effective at flush.
// Channels created without WithGPUMips report ErrMipsUnsupported so callers
// exercise their CPU fallback instead.
func (c *Channel) GenerateMips(dst gputasks.Texture) error {
	if !c.gpuMips {
		return gputasks.ErrMipsUnsupported
	}
	t, ok := dst.(*texture)
	if !ok {
		return fmt.Errorf("mem: foreign texture %T", dst)
	}
	return c.record(func() error {
		for level := uint32(1); level < t.mipLevels; level++ {
			downsampleBox(t, level)
		}
		return nil
	})
}

// downsampleBox fills level from level-1 with a 2x2 average.
func downsampleBox(t *texture, level uint32) {
	sw := int(max(t.width>>(level-1), 1))
	sh := int(max(t.height>>(level-1), 1))
	dw := int(max(t.width>>level, 1))
	dh := int(max(t.height>>level, 1))
	src, dst := t.levels[level-1], t.levels[level]
	for y := 0; y < dh; y++ {
		for x := 0; x < dw; x++ {
			for ch := 0; ch < 4; ch++ {
				sum, n := 0, 0
				for dy := 0; dy < 2; dy++ {
					for dx := 0; dx < 2; dx++ {
						sx, sy := x*2+dx, y*2+dy
						if sx < sw && sy < sh {
							sum += int(src[(sy*sw+sx)*4+ch])
							n++
						}
					}
				}
				dst[(y*dw+x)*4+ch] = uint8(sum / n)
			}
		}
	}
}

// FrameLatency returns the configured visibility latency in frames.
func (c *Channel) FrameLatency() uint64 { return c.frameLatency }

// PendingPoint returns the point the recorded work will signal.
func (c *Channel) PendingPoint() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.next
}

// Flush executes all recorded work and signals its point.
func (c *Channel) Flush() (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flushLocked()
}

func (c *Channel) flushLocked() (uint64, error) {
	if c.closed {
		return c.signaled, gputasks.ErrChannelClosed
	}
	ops := c.recorded
	c.recorded = nil
	point := c.next
	c.next++
	for _, op := range ops {
		if err := op(); err != nil {
			c.signaled = point
			return point, err
		}
	}
	c.signaled = point
	return point, nil
}

// Wait blocks until point is signaled, flushing recorded work if necessary.
// A CPU channel completes at flush, so Wait never sleeps.
func (c *Channel) Wait(point uint64, timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.signaled < point {
		if c.closed {
			return gputasks.ErrChannelClosed
		}
		if _, err := c.flushLocked(); err != nil {
			return err
		}
	}
	return nil
}

// FrameBegin delimits a frame on a dedicated channel.
func (c *Channel) FrameBegin() {
	c.mu.Lock()
	c.frames++
	c.mu.Unlock()
}

// FrameEnd flushes the work recorded during the frame.
func (c *Channel) FrameEnd() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	// Frame boundaries have no error path; a failing op surfaces to its
	// task through Wait instead.
	c.flushLocked() //nolint:errcheck
}

// Close flushes and shuts the channel. Further submissions fail with
// ErrChannelClosed.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	_, err := c.flushLocked()
	c.closed = true
	return err
}

// Frames returns the number of frame boundaries observed. Diagnostics only.
func (c *Channel) Frames() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames
}

// record appends an operation to the current point's batch.
func (c *Channel) record(op func() error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return gputasks.ErrChannelClosed
	}
	c.recorded = append(c.recorded, op)
	return nil
}

// asBuffer checks that the handle belongs to this backend.
func (c *Channel) asBuffer(h gputasks.Buffer) (*buffer, error) {
	b, ok := h.(*buffer)
	if !ok {
		return nil, fmt.Errorf("mem: foreign buffer %T", h)
	}
	return b, nil
}
