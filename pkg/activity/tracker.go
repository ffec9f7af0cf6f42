// Package activity turns the raw step counter into walking excursions.
package activity

import (
	"math"

	"github.com/golang/glog"

	"github.com/robotalks/cardiotag/pkg/clock"
	"github.com/robotalks/cardiotag/pkg/telemetry"
)

// Timing constants in seconds.
const (
	// MaxGap closes an excursion when no step is seen for longer.
	MaxGap = 60
	// ActiveThreshold ends an active period when no step is seen for longer.
	ActiveThreshold = 15
)

// Pedometer is the inertial step counter. Steps is monotonic since the last
// Reset.
type Pedometer interface {
	Steps() uint32
	Reset()
}

// Appender receives completed excursions, logstore.Store satisfies it.
type Appender interface {
	Append(telemetry.Excursion) error
}

// Tracker is the excursion state machine, polled from the main loop.
type Tracker struct {
	Pedometer  Pedometer
	Clock      clock.Clock
	Store      Appender
	ActiveTime bool

	inExcursion bool
	start       uint32
	lastStep    uint32
	steps       uint32

	active      bool
	activeSince uint32
	activeSecs  uint32

	reported      uint16
	reportedValid bool
}

// NewTracker creates a Tracker.
func NewTracker(ped Pedometer, clk clock.Clock, store Appender, activeTime bool) *Tracker {
	return &Tracker{Pedometer: ped, Clock: clk, Store: store, ActiveTime: activeTime}
}

// InExcursion tells whether an excursion is open.
func (t *Tracker) InExcursion() bool {
	return t.inExcursion
}

// Update polls the pedometer and advances the state machine. It returns the
// excursion closed during this call, if any. The excursion is returned even
// if appending it to the store fails.
func (t *Tracker) Update() (rec telemetry.Excursion, closed bool, err error) {
	now, ok := t.Clock.Now()
	if !ok {
		return
	}
	steps := t.Pedometer.Steps()
	if !t.inExcursion {
		if steps > 0 {
			t.begin(now, steps)
		}
		return
	}

	if now < t.lastStep {
		now = t.lastStep
	}
	if steps > t.steps {
		t.steps = steps
		t.lastStep = now
		if t.ActiveTime && !t.active {
			t.active, t.activeSince = true, now
		}
	}
	idle := now - t.lastStep
	if t.active && idle > ActiveThreshold && now >= t.activeSince {
		t.activeSecs += now - t.activeSince
		t.active = false
	}
	if idle > MaxGap {
		rec, closed = t.close(), true
		err = t.Store.Append(rec)
	}
	return
}

// LiveSteps reports the step count of the current excursion when it changed
// since the last call.
func (t *Tracker) LiveSteps() (uint16, bool) {
	var steps uint16
	if t.inExcursion {
		steps = clamp(t.steps)
	}
	if t.reportedValid && steps == t.reported {
		return steps, false
	}
	t.reported, t.reportedValid = steps, true
	return steps, true
}

func (t *Tracker) begin(now, steps uint32) {
	t.inExcursion = true
	t.start, t.lastStep, t.steps = now, now, steps
	t.activeSecs = 0
	t.active = t.ActiveTime
	t.activeSince = now
	glog.V(2).Infof("excursion started at %d", now)
}

func (t *Tracker) close() telemetry.Excursion {
	rec := telemetry.Excursion{
		Start:  t.start,
		Offset: clamp(t.lastStep - t.start),
		Steps:  clamp(t.steps),
	}
	if t.ActiveTime {
		rec.ActiveSeconds = clamp(t.activeSecs)
	}
	t.inExcursion, t.active = false, false
	t.steps = 0
	t.Pedometer.Reset()
	glog.V(2).Infof("excursion closed: start=%d offset=%d steps=%d active=%d",
		rec.Start, rec.Offset, rec.Steps, rec.ActiveSeconds)
	return rec
}

func clamp(v uint32) uint16 {
	if v > math.MaxUint16 {
		return math.MaxUint16
	}
	return uint16(v)
}
