// Package framework provides the cooperative main loop of the device and
// helpers to run background goroutines.
//
// Everything that must not run in the sampling tick is a Controller called
// from the loop goroutine in priority order. Lower levels run first, so
// producers drain their queues before the stores are read for delivery.
package framework

import (
	"context"
	"time"
)

// Named is an abstraction for things with a name.
type Named interface {
	Name() string
}

// Runnable defines a generic interface for background runners.
type Runnable interface {
	Run(context.Context) error
}

// RunFunc is the func form of Runnable.
type RunFunc func(context.Context) error

// Run implements Runnable.
func (f RunFunc) Run(ctx context.Context) error {
	return f(ctx)
}

// Controller defines the abstract controlling logic.
type Controller interface {
	Control(ControlContext) error
}

// ControlFunc defines the func form of Controller.
type ControlFunc func(ControlContext) error

// Control implements Controller.
func (f ControlFunc) Control(ctx ControlContext) error {
	return f(ctx)
}

// ControlContext provides the context of current loop cycle.
type ControlContext interface {
	// Context retrieves context.Context.
	Context() context.Context
	// Time is when the cycle started.
	Time() time.Time
	// Cycle is the sequence number of the cycle, starting from 1.
	Cycle() uint64
	// PriorityLevel gets the current priority level.
	PriorityLevel() int
	// PostRun injects one-shot hooks run after the controllers of the
	// current priority level.
	PostRun(hooks ...Controller)

	LoopControl
}

// LoopControl exposes access to the loop.
type LoopControl interface {
	// PreRunAt injects one-shot hooks before the controllers of a level.
	PreRunAt(priorityLevel int, hooks ...Controller)
	// PostRunAt injects one-shot hooks after the controllers of a level.
	PostRunAt(priorityLevel int, hooks ...Controller)
	// TriggerNext starts the next cycle without waiting for the interval.
	TriggerNext()
}

// PriorityLevels is the total levels of priorities.
const PriorityLevels int = 16

// Predefined priority levels.
const (
	PrLvTop    int = 0
	PrLvHigh   int = 4
	PrLvNormal int = 8
	PrLvLow    int = 12
	PrLvIdle   int = PriorityLevels - 1

	// PrLvSense drains sensor queues.
	PrLvSense = PrLvHigh
	// PrLvStore appends to the logs.
	PrLvStore = PrLvHigh + 1
	// PrLvDeliver talks to the companion.
	PrLvDeliver = PrLvNormal
	// PrLvDiag reports diagnostics.
	PrLvDiag = PrLvIdle
)
