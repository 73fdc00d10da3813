// Package mem provides a CPU-backed execution channel for gputasks.
//
// Buffers and textures live in process memory and submitted work completes
// as soon as it is flushed. The channel still models the deferred-completion
// contract faithfully: writes and copies are recorded against a channel
// point and only take effect when that point is flushed, and a configurable
// frame latency controls how many frames tasks wait before their sweep
// forces a sync. That makes the package the natural backend for tests and
// for headless use without a GPU.
package mem
