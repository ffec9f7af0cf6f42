package framework

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
)

// DefaultInterval is the default cycle interval of Loop.
const DefaultInterval = 10 * time.Millisecond

// Loop runs controllers cooperatively from a single goroutine.
type Loop struct {
	Interval time.Duration
	// OnError is called with errors returned by controllers, they're
	// logged when it's nil.
	OnError func(ControlContext, error)

	controllers [PriorityLevels]controllerList
	runners     []Runnable

	cycles   atomic.Uint64
	errors   atomic.Uint64
	wakeUpCh chan struct{}
}

// LoopAdder adds a component to a loop.
type LoopAdder interface {
	AddToLoop(*Loop)
}

type controllerList struct {
	preHooks    []Controller
	controllers []Controller
	postHooks   []Controller
	lock        sync.Mutex
}

type cycle struct {
	*Loop
	ctx           context.Context
	time          time.Time
	seq           uint64
	priorityLevel int
}

// NewLoop creates a Loop.
func NewLoop() *Loop {
	return &Loop{
		Interval: DefaultInterval,
		wakeUpCh: make(chan struct{}, 1),
	}
}

// Add adds LoopAdders.
func (l *Loop) Add(adders ...LoopAdder) *Loop {
	for _, adder := range adders {
		adder.AddToLoop(l)
	}
	return l
}

// AddController registers controllers at a priority level. Controllers
// which are also Runnable are started with the loop.
func (l *Loop) AddController(priorityLevel int, ctls ...Controller) *Loop {
	lst := &l.controllers[priorityLevel]
	lst.controllers = append(lst.controllers, ctls...)
	for _, ctl := range ctls {
		if runner, ok := ctl.(Runnable); ok {
			l.runners = append(l.runners, runner)
		}
	}
	return l
}

// AddRunnable adds background goroutines started with the loop.
func (l *Loop) AddRunnable(runnables ...Runnable) *Loop {
	l.runners = append(l.runners, runnables...)
	return l
}

// Cycles returns the number of completed cycles.
func (l *Loop) Cycles() uint64 {
	return l.cycles.Load()
}

// Errors returns the number of errors returned by controllers.
func (l *Loop) Errors() uint64 {
	return l.errors.Load()
}

// Run implements Runnable.
func (l *Loop) Run(ctx context.Context) error {
	runner := NewRunnerWith(ctx)
	runner.Go(l.runners...)
	defer runner.Wait()

	interval := l.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-l.wakeUpCh:
		}
		l.RunCycle(ctx)
	}
}

// RunCycle runs all controllers once.
func (l *Loop) RunCycle(ctx context.Context) {
	c := &cycle{Loop: l, ctx: ctx, time: time.Now(), seq: l.cycles.Load() + 1}
	for i := 0; i < PriorityLevels; i++ {
		c.priorityLevel = i
		l.controllers[i].run(c)
	}
	l.cycles.Add(1)
}

// PreRunAt implements LoopControl.
func (l *Loop) PreRunAt(priorityLevel int, hooks ...Controller) {
	lst := &l.controllers[priorityLevel]
	lst.lock.Lock()
	lst.preHooks = append(lst.preHooks, hooks...)
	lst.lock.Unlock()
}

// PostRunAt implements LoopControl.
func (l *Loop) PostRunAt(priorityLevel int, hooks ...Controller) {
	lst := &l.controllers[priorityLevel]
	lst.lock.Lock()
	lst.postHooks = append(lst.postHooks, hooks...)
	lst.lock.Unlock()
}

// TriggerNext implements LoopControl.
func (l *Loop) TriggerNext() {
	select {
	case l.wakeUpCh <- struct{}{}:
	default:
	}
}

func (c *cycle) Context() context.Context { return c.ctx }
func (c *cycle) Time() time.Time          { return c.time }
func (c *cycle) Cycle() uint64            { return c.seq }
func (c *cycle) PriorityLevel() int       { return c.priorityLevel }

func (c *cycle) PostRun(hooks ...Controller) {
	c.PostRunAt(c.priorityLevel, hooks...)
}

func (lst *controllerList) run(c *cycle) {
	lst.lock.Lock()
	hooks := lst.preHooks
	lst.preHooks = nil
	lst.lock.Unlock()
	c.runControllers(hooks)
	c.runControllers(lst.controllers)
	lst.lock.Lock()
	hooks, lst.postHooks = lst.postHooks, nil
	lst.lock.Unlock()
	c.runControllers(hooks)
}

func (c *cycle) runControllers(ctls []Controller) {
	for _, ctl := range ctls {
		err := ctl.Control(c)
		if err == nil {
			continue
		}
		c.errors.Add(1)
		if c.OnError != nil {
			c.OnError(c, err)
		} else {
			glog.Errorf("controller error at level %d: %v", c.priorityLevel, err)
		}
	}
}
