// Package gputasks provides asynchronous GPU-work scheduling with
// frame-granular synchronization for the GoGPU ecosystem.
//
// # Overview
//
// GPU-bound work (resource uploads, readbacks, copies) should not block the
// thread that submits it. gputasks accepts units of work as [Task] values,
// issues them against an execution channel immediately, and defers the
// confirmation of their completion to a future point in the rendering frame
// timeline. Forcing a hardware wait right after submission would serialize
// the pipeline; deferring the wait lets the GPU run ahead while the CPU
// keeps preparing frames.
//
// # Quick Start
//
//	import (
//	    "github.com/gogpu/gputasks"
//	    "github.com/gogpu/gputasks/backend/mem"
//	)
//
//	dev := mem.NewDevice()
//	ctx, _ := gputasks.NewContext(dev)
//	defer ctx.Close()
//
//	task := gputasks.NewUploadBufferTask(buf, 0, data)
//	ctx.Run(task)
//
//	// Once per rendered frame, from the frame goroutine:
//	ctx.OnFrameBegin()
//	// ... issue frame work ...
//	ctx.OnFrameEnd()
//
// # Sync points
//
// The context owns a monotonic sync-point counter that advances by exactly
// one on every OnFrameBegin call. Each task records the sync point at or
// after which its result is guaranteed available. The per-frame sweep forces
// completion only for tasks whose point has arrived, so cheap work resolves
// on an early frame while expensive work keeps running in the background.
//
// # Threading
//
// Run, OnFrameBegin, OnFrameEnd and Close are confined to the single frame
// goroutine; this is enforced as a hard precondition. OnCancelSync may be
// called from any goroutine.
//
// # Architecture
//
// The library is organized into:
//   - Public API: Task, TaskBase, TasksContext, Manager, CommandChannel, Device
//   - Concrete tasks: buffer/texture upload, mip upload, readback, copy
//   - Backends: mem (CPU, for tests and headless use), wgpu (gogpu/wgpu HAL)
package gputasks
