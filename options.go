package gputasks

// ContextOption configures a TasksContext during creation.
// Use functional options to customize context behavior.
//
// Example:
//
//	// Borrow the device's main channel (default)
//	ctx, err := gputasks.NewContext(dev)
//
//	// Own a private channel with its own frame boundaries
//	ctx, err := gputasks.NewContext(dev, gputasks.WithDedicatedChannel())
type ContextOption func(*contextOptions)

// contextOptions holds optional configuration for TasksContext creation.
type contextOptions struct {
	dedicatedChannel bool
	initialSyncPoint SyncPoint
}

// defaultContextOptions returns the default context options.
func defaultContextOptions() contextOptions {
	return contextOptions{
		initialSyncPoint: initialSyncPoint,
	}
}

// WithDedicatedChannel makes the context create and own a private execution
// channel instead of borrowing the device's main one. The context then
// forwards frame boundaries to the channel and closes it on Close.
//
// Use a dedicated channel when task work should be serialized independently
// of the main rendering submissions.
func WithDedicatedChannel() ContextOption {
	return func(o *contextOptions) {
		o.dedicatedChannel = true
	}
}

// WithInitialSyncPoint overrides the baseline value of the sync-point
// counter. The value must be greater than zero, which fresh tasks use as
// their "no sync point assigned" sentinel; values at or below the sentinel
// are ignored.
//
// Intended for tests that want predictable counter values.
func WithInitialSyncPoint(p SyncPoint) ContextOption {
	return func(o *contextOptions) {
		if p > 0 {
			o.initialSyncPoint = p
		}
	}
}

// ManagerOption configures a Manager during creation.
type ManagerOption func(*managerOptions)

// managerOptions holds optional configuration for Manager creation.
type managerOptions struct {
	maxDispatchPerFrame int
	queueCapacity       int
	contextOpts         []ContextOption
}

// defaultManagerOptions returns the default manager options.
func defaultManagerOptions() managerOptions {
	return managerOptions{
		maxDispatchPerFrame: 64,
		queueCapacity:       64,
	}
}

// WithMaxDispatchPerFrame caps how many queued tasks the manager hands to
// the context per frame. Keeping the cap bounded spreads upload spikes over
// several frames instead of stalling one. Values below 1 are ignored.
func WithMaxDispatchPerFrame(n int) ManagerOption {
	return func(o *managerOptions) {
		if n >= 1 {
			o.maxDispatchPerFrame = n
		}
	}
}

// WithQueueCapacity sets the initial capacity of the manager's task queue.
// The queue grows beyond it on demand. Values below 1 are ignored.
func WithQueueCapacity(n int) ManagerOption {
	return func(o *managerOptions) {
		if n >= 1 {
			o.queueCapacity = n
		}
	}
}

// WithContextOptions forwards options to the TasksContext the manager
// creates internally.
func WithContextOptions(opts ...ContextOption) ManagerOption {
	return func(o *managerOptions) {
		o.contextOpts = append(o.contextOpts, opts...)
	}
}
