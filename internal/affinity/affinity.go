// Package affinity enforces goroutine confinement for APIs that must only
// be mutated from a single designated goroutine.
//
// Go offers no public goroutine identity, so ID parses the header line of
// runtime.Stack. The cost is a small stack capture per check; callers use it
// on per-frame entry points, not hot inner loops.
package affinity

import (
	"bytes"
	"fmt"
	"runtime"
	"strconv"
	"sync/atomic"
)

// ID returns the current goroutine's id as reported by the runtime.
func ID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	// Header line: "goroutine 123 [running]:"
	fields := bytes.Fields(buf[:n])
	if len(fields) < 2 {
		return 0
	}
	id, err := strconv.ParseUint(string(fields[1]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// Guard pins an owner goroutine and checks later calls against it.
// The zero value is unbound; Bind pins it to the calling goroutine.
type Guard struct {
	owner atomic.Uint64
}

// Bind pins the guard to the calling goroutine. Rebinding is allowed and
// moves ownership; callers that transfer a value between goroutines before
// first use rebind explicitly.
func (g *Guard) Bind() {
	g.owner.Store(ID())
}

// Check panics if the calling goroutine is not the owner. The op string
// names the violated entry point in the panic message.
func (g *Guard) Check(op string) {
	owner := g.owner.Load()
	if owner == 0 {
		return
	}
	if id := ID(); id != owner {
		panic(fmt.Sprintf("%s called from goroutine %d, owned by goroutine %d", op, id, owner))
	}
}
