package margin

import (
	"fmt"
	"sync"
)

// reentrancyGuard rejects nested entry into state-mutating operations.
// The custody service is an external call site that could re-enter the
// engine before the triggering operation's mutation is finalized; the
// guard turns that into an immediate error on every mutating entry
// point. Released unconditionally on every exit path.
type reentrancyGuard struct {
	mu   sync.Mutex
	busy bool
}

func (g *reentrancyGuard) enter() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.busy {
		return fmt.Errorf("%w: reentrant call", ErrState)
	}
	g.busy = true
	return nil
}

func (g *reentrancyGuard) exit() {
	g.mu.Lock()
	g.busy = false
	g.mu.Unlock()
}
