package activity

import (
	"context"
	"sync/atomic"
	"time"
)

// SimPedometer is a Pedometer driven by software.
type SimPedometer struct {
	count atomic.Uint32
}

// Step records n steps.
func (p *SimPedometer) Step(n uint32) {
	p.count.Add(n)
}

// Steps implements Pedometer.
func (p *SimPedometer) Steps() uint32 {
	return p.count.Load()
}

// Reset implements Pedometer.
func (p *SimPedometer) Reset() {
	p.count.Store(0)
}

// Walker alternates walking and resting bouts on a SimPedometer.
type Walker struct {
	Pedometer *SimPedometer
	Cadence   time.Duration
	Walk      time.Duration
	Rest      time.Duration
}

// Run steps until ctx is done.
func (w *Walker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.Cadence)
	defer ticker.Stop()
	boutStart := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			elapsed := now.Sub(boutStart)
			switch {
			case elapsed < w.Walk:
				w.Pedometer.Step(1)
			case elapsed >= w.Walk+w.Rest:
				boutStart = now
			}
		}
	}
}
