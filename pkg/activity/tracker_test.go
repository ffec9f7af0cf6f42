package activity

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/cardiotag/pkg/clock"
	"github.com/robotalks/cardiotag/pkg/telemetry"
)

type recorder struct {
	records []telemetry.Excursion
	err     error
}

func (r *recorder) Append(rec telemetry.Excursion) error {
	r.records = append(r.records, rec)
	return r.err
}

type settableClock struct {
	now uint32
	ok  bool
}

func (c *settableClock) Now() (uint32, bool) { return c.now, c.ok }

// run polls the tracker once per second from t=0 to end, stepping at the
// given seconds.
func run(tr *Tracker, clk *settableClock, ped *SimPedometer, steps []uint32, end uint32) map[uint32]telemetry.Excursion {
	closed := make(map[uint32]telemetry.Excursion)
	for t := uint32(0); t <= end; t++ {
		clk.now = 1000 + t
		for _, s := range steps {
			if s == t {
				ped.Step(1)
			}
		}
		if rec, ok, _ := tr.Update(); ok {
			closed[t] = rec
		}
	}
	return closed
}

func TestExcursionGap(t *testing.T) {
	clk := &settableClock{ok: true}
	ped := &SimPedometer{}
	store := &recorder{}
	tr := NewTracker(ped, clk, store, false)

	closed := run(tr, clk, ped, []uint32{0, 10, 20, 90}, 100)
	require.Len(t, closed, 1)
	rec, ok := closed[81]
	require.True(t, ok)
	require.Equal(t, telemetry.Excursion{Start: 1000, Offset: 20, Steps: 3}, rec)
	require.Equal(t, []telemetry.Excursion{rec}, store.records)

	// the step at 90 opened a new excursion
	require.True(t, tr.InExcursion())
	require.Equal(t, uint32(1), ped.Steps())
}

func TestActiveTime(t *testing.T) {
	clk := &settableClock{ok: true}
	ped := &SimPedometer{}
	store := &recorder{}
	tr := NewTracker(ped, clk, store, true)

	closed := run(tr, clk, ped, []uint32{0, 10, 20, 50, 55}, 120)
	require.Len(t, closed, 1)
	rec := closed[116]
	// active 0..36 then 50..71
	require.Equal(t, telemetry.Excursion{Start: 1000, Offset: 55, Steps: 5, ActiveSeconds: 36 + 21}, rec)
}

func TestClockUnset(t *testing.T) {
	clk := &settableClock{}
	ped := &SimPedometer{}
	tr := NewTracker(ped, clk, &recorder{}, false)
	ped.Step(3)
	_, closed, err := tr.Update()
	require.NoError(t, err)
	require.False(t, closed)
	require.False(t, tr.InExcursion())

	clk.ok, clk.now = true, 500
	_, _, err = tr.Update()
	require.NoError(t, err)
	require.True(t, tr.InExcursion())
}

func TestNonMonotonicCount(t *testing.T) {
	clk := &settableClock{ok: true, now: 100}
	ped := &SimPedometer{}
	tr := NewTracker(ped, clk, &recorder{}, false)

	_, _, err := tr.Update()
	require.NoError(t, err)
	require.False(t, tr.InExcursion())

	ped.Step(5)
	tr.Update()
	clk.now = 110
	ped.Reset()
	ped.Step(2)
	tr.Update()
	require.Equal(t, uint32(5), tr.steps)
	require.Equal(t, uint32(100), tr.lastStep)
}

func TestAppendError(t *testing.T) {
	clk := &settableClock{ok: true, now: 100}
	ped := &SimPedometer{}
	store := &recorder{err: errors.New("flash")}
	tr := NewTracker(ped, clk, store, false)
	ped.Step(1)
	tr.Update()
	clk.now = 161
	rec, closed, err := tr.Update()
	require.Error(t, err)
	require.True(t, closed)
	require.Equal(t, uint16(1), rec.Steps)
	require.False(t, tr.InExcursion())
}

func TestLiveSteps(t *testing.T) {
	clk := &settableClock{ok: true, now: 100}
	ped := &SimPedometer{}
	tr := NewTracker(ped, clk, &recorder{}, false)

	steps, changed := tr.LiveSteps()
	require.True(t, changed)
	require.Zero(t, steps)
	_, changed = tr.LiveSteps()
	require.False(t, changed)

	ped.Step(4)
	tr.Update()
	steps, changed = tr.LiveSteps()
	require.True(t, changed)
	require.Equal(t, uint16(4), steps)
	_, changed = tr.LiveSteps()
	require.False(t, changed)
}

func TestClampedSteps(t *testing.T) {
	clk := &settableClock{ok: true, now: 100}
	ped := &SimPedometer{}
	store := &recorder{}
	tr := NewTracker(ped, clk, store, false)
	ped.Step(70000)
	tr.Update()
	clk.now = 200
	rec, closed, err := tr.Update()
	require.NoError(t, err)
	require.True(t, closed)
	require.Equal(t, uint16(65535), rec.Steps)
}

var _ clock.Clock = (*settableClock)(nil)

func TestClockGoesBack(t *testing.T) {
	for _, c := range []struct {
		name       string
		activeTime bool
	}{
		{"steps only", false},
		{"active time", true},
	} {
		t.Run(c.name, func(t *testing.T) {
			clk := &settableClock{now: 1000, ok: true}
			ped := &SimPedometer{}
			store := &recorder{}
			tr := NewTracker(ped, clk, store, c.activeTime)

			ped.Step(1)
			_, closed, _ := tr.Update()
			require.False(t, closed)
			clk.now = 1005
			ped.Step(1)
			_, closed, _ = tr.Update()
			require.False(t, closed)

			clk.now = 990
			_, closed, _ = tr.Update()
			require.False(t, closed)
			require.True(t, tr.InExcursion())

			clk.now = 1005 + MaxGap + 1
			rec, closed, err := tr.Update()
			require.NoError(t, err)
			require.True(t, closed)
			want := telemetry.Excursion{Start: 1000, Offset: 5, Steps: 2}
			if c.activeTime {
				want.ActiveSeconds = 5 + MaxGap + 1
			}
			require.Equal(t, want, rec)
		})
	}
}

func TestWallResync(t *testing.T) {
	var src clock.Manual
	wall := clock.NewWall(&src)
	wall.Set(1000)
	ped := &SimPedometer{}
	tr := NewTracker(ped, wall, &recorder{}, true)

	ped.Step(1)
	_, closed, _ := tr.Update()
	require.False(t, closed)
	src.Advance(5 * time.Second)
	ped.Step(1)
	_, closed, _ = tr.Update()
	require.False(t, closed)

	now, _ := wall.Now()
	wall.Set(now - 1)
	_, closed, _ = tr.Update()
	require.False(t, closed)
	require.True(t, tr.InExcursion())
}
