package destination

import (
	"errors"
	"sync"

	"golang.org/x/time/rate"

	"github.com/forgelight/vigil/internal/settings"
)

// ErrGuarded marks publishes rejected by the process-wide publish guard.
var ErrGuarded = errors.New("publish rejected by rate guard")

// Guard is an optional process-wide bound on outbound publishes. It is off
// by default; the runtime settings enable it and set the rate. A guarded
// rejection surfaces as an action-level error, never as an alert error.
type Guard struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	active  settings.GuardSettings
}

// NewGuard creates an inactive guard.
func NewGuard() *Guard {
	return &Guard{}
}

// Allow consumes one publish token under the given settings. The limiter is
// rebuilt when the settings change between snapshots; a disabled guard
// always allows.
func (g *Guard) Allow(gs settings.GuardSettings) error {
	if !gs.Enabled {
		return nil
	}

	g.mu.Lock()
	if g.limiter == nil || g.active != gs {
		g.limiter = rate.NewLimiter(rate.Limit(gs.PerSecond), gs.Burst)
		g.active = gs
	}
	limiter := g.limiter
	g.mu.Unlock()

	if !limiter.Allow() {
		return ErrGuarded
	}
	return nil
}
