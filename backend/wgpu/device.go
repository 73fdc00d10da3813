package wgpu

import (
	"fmt"
	"sync"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputasks"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// Device is a gputasks.Device backed by a wgpu HAL device and queue.
//
// Use New for a standalone device or NewFromProvider to share the host
// application's device. Close releases only what the Device created itself;
// externally provided HAL handles stay with their owner.
type Device struct {
	mu sync.Mutex

	instance hal.Instance // nil when the device is external
	device   hal.Device
	queue    hal.Queue
	external bool

	adapterName string

	main   *Channel
	closed bool
}

// New creates a standalone device on the Vulkan backend. Prefer
// NewFromProvider when running inside a host application that already owns
// a GPU device.
func New() (*Device, error) {
	backend, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return nil, fmt.Errorf("wgpu: vulkan backend not available")
	}
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create instance: %w", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, fmt.Errorf("wgpu: no GPU adapters found")
	}
	var selected *hal.ExposedAdapter
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	if selected == nil {
		selected = &adapters[0]
	}
	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("wgpu: open device: %w", err)
	}
	d := &Device{
		instance:    instance,
		device:      openDev.Device,
		queue:       openDev.Queue,
		adapterName: selected.Info.Name,
	}
	gputasks.Logger().Info("wgpu device created", "adapter", d.adapterName)
	return d, nil
}

// NewFromProvider wraps a shared GPU device from an external provider
// (e.g., a gogpu window). The provider must additionally expose HAL handles
// through HalDevice() any and HalQueue() any, the gpucontext HalProvider
// contract, so submissions can signal fences directly.
func NewFromProvider(provider gpucontext.DeviceProvider) (*Device, error) {
	if provider == nil {
		return nil, fmt.Errorf("wgpu: nil DeviceProvider")
	}
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, fmt.Errorf("wgpu: provider does not expose HAL types")
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, fmt.Errorf("wgpu: provider HalDevice is not hal.Device")
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, fmt.Errorf("wgpu: provider HalQueue is not hal.Queue")
	}
	return &Device{device: device, queue: queue, external: true}, nil
}

// AdapterName returns the selected adapter's name, if known.
func (d *Device) AdapterName() string { return d.adapterName }

// MainChannel returns the device's shared channel, creating it on first use.
func (d *Device) MainChannel() gputasks.CommandChannel {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.main == nil {
		ch, err := newChannel(d.device, d.queue)
		if err != nil {
			// The main channel is the context's precondition; surface the
			// failure on first use instead of hiding it.
			panic(fmt.Sprintf("wgpu: create main channel: %v", err))
		}
		d.main = ch
	}
	return d.main
}

// CreateChannel returns a new private channel owned by the caller.
func (d *Device) CreateChannel() (gputasks.CommandChannel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, gputasks.ErrChannelClosed
	}
	return newChannel(d.device, d.queue)
}

// Close releases the device's channels and, for standalone devices, the
// HAL device and instance. Externally provided handles are left alone.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	var err error
	if d.main != nil {
		err = d.main.Close()
		d.main = nil
	}
	if !d.external {
		if d.device != nil {
			d.device.Destroy()
		}
		if d.instance != nil {
			d.instance.Destroy()
		}
	}
	return err
}

var _ gputasks.Device = (*Device)(nil)
