package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Gate is a global pause shared by the intake loop and in-flight events.
// A rate-limit signal closes it until the mandated instant; later pauses can
// only extend that instant.
type Gate struct {
	mu       sync.Mutex
	clock    clockwork.Clock
	resumeAt time.Time
}

// NewGate creates an open gate.
func NewGate(clock clockwork.Clock) *Gate {
	return &Gate{clock: clock}
}

// Pause closes the gate for d from now.
func (g *Gate) Pause(d time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()

	until := g.clock.Now().Add(d)
	if until.After(g.resumeAt) {
		g.resumeAt = until
	}
}

// Paused reports whether the gate is currently closed.
func (g *Gate) Paused() bool {
	return g.remaining() > 0
}

// Wait blocks until the gate is open or ctx is done.
func (g *Gate) Wait(ctx context.Context) error {
	for {
		wait := g.remaining()
		if wait <= 0 {
			return nil
		}

		timer := g.clock.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.Chan():
		}
	}
}

func (g *Gate) remaining() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.resumeAt.Sub(g.clock.Now())
}
