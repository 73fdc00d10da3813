// Package wgpu provides a hardware execution channel for gputasks built on
// the gogpu/wgpu HAL (Vulkan, Metal, DX12).
//
// The device is either acquired from an external provider (a
// gpucontext.DeviceProvider exposing HAL handles, e.g. a gogpu window) so
// GPU resources are shared with the host application, or created standalone
// for headless use.
//
// Completion tracking maps channel points onto a single long-lived fence:
// every flush submits the recorded command buffers signaling the next fence
// value, and waiting for a point is a fence wait. Task sync points therefore
// translate directly to bounded device waits.
package wgpu
