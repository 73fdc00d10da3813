package mem

import (
	"sync"

	"github.com/gogpu/gputasks"
)

// DeviceOption configures a Device during creation.
type DeviceOption func(*deviceOptions)

type deviceOptions struct {
	frameLatency uint64
	gpuMips      bool
}

// WithFrameLatency sets how many frames after submission the device reports
// work as guaranteed visible. Tasks derive their sync points from it, so a
// latency of n makes a task survive n frame sweeps before being forced to
// complete. Default 1.
func WithFrameLatency(n uint64) DeviceOption {
	return func(o *deviceOptions) {
		o.frameLatency = n
	}
}

// WithGPUMips makes the device's channels generate mipmaps themselves
// instead of reporting ErrMipsUnsupported. Default off, so tasks exercise
// their CPU fallback path.
func WithGPUMips() DeviceOption {
	return func(o *deviceOptions) {
		o.gpuMips = true
	}
}

// Device is a CPU-backed gputasks.Device.
type Device struct {
	opts deviceOptions

	mu   sync.Mutex
	main *Channel
}

// NewDevice creates a CPU device.
func NewDevice(opts ...DeviceOption) *Device {
	o := deviceOptions{frameLatency: 1}
	for _, opt := range opts {
		opt(&o)
	}
	return &Device{opts: o}
}

// MainChannel returns the device's shared channel, creating it on first use.
func (d *Device) MainChannel() gputasks.CommandChannel {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.main == nil {
		d.main = newChannel(d.opts.frameLatency, d.opts.gpuMips)
	}
	return d.main
}

// CreateChannel returns a new private channel owned by the caller.
func (d *Device) CreateChannel() (gputasks.CommandChannel, error) {
	return newChannel(d.opts.frameLatency, d.opts.gpuMips), nil
}

// Close releases the device's main channel.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.main != nil {
		return d.main.Close()
	}
	return nil
}

var _ gputasks.Device = (*Device)(nil)
