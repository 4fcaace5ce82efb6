// Package risk holds the panic lockout shared by the control plane and the
// execution engine. Once tripped, every order is rejected until an operator
// clears it.
package risk

import (
	"log"
	"sync"
	"time"
)

// Guard is the global trading lockout. Safe for concurrent use.
type Guard struct {
	mu        sync.Mutex
	locked    bool
	reason    string
	trippedAt time.Time
}

// NewGuard returns an unlocked guard.
func NewGuard() *Guard {
	return &Guard{}
}

// Trip activates the lockout. Tripping an already-locked guard keeps the
// original reason.
func (g *Guard) Trip(reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.locked {
		return
	}
	g.locked = true
	g.reason = reason
	g.trippedAt = time.Now()
	log.Printf("[risk] PANIC lockout engaged: %s", reason)
}

// Clear releases the lockout.
func (g *Guard) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.locked {
		return
	}
	g.locked = false
	g.reason = ""
	log.Println("[risk] lockout cleared")
}

// Locked reports whether trading is blocked.
func (g *Guard) Locked() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.locked
}

// Status returns the lockout state and reason for health reporting.
func (g *Guard) Status() (locked bool, reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.locked, g.reason
}
