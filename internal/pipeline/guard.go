package pipeline

import "sync/atomic"

// Guard admits one pipeline per session at a time.
type Guard struct {
	busy atomic.Bool
}

// TryAcquire takes the guard if it is free. It never blocks.
func (g *Guard) TryAcquire() bool {
	return g.busy.CompareAndSwap(false, true)
}

func (g *Guard) Release() {
	g.busy.Store(false)
}

// Held reports whether a pipeline is running.
func (g *Guard) Held() bool {
	return g.busy.Load()
}
