package device

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/robotalks/cardiotag/pkg/ecg"
	"github.com/robotalks/cardiotag/pkg/spsc"
	"github.com/robotalks/cardiotag/pkg/telemetry"
)

// Frontend is the analog front end of the ECG lead.
type Frontend interface {
	// Read returns the current sample, leadsOff is set when the electrodes
	// are not attached.
	Read() (sample float64, leadsOff bool)
}

// FrontendFunc is the func form of Frontend.
type FrontendFunc func() (float64, bool)

// Read implements Frontend.
func (f FrontendFunc) Read() (float64, bool) {
	return f()
}

// SamplerStats counts tick activities.
type SamplerStats struct {
	Ticks    uint64
	LeadsOff uint64
	Beats    uint64
}

// Sampler runs in the tick context. It reads the front end, feeds the
// detector and hands results over to the main loop through queues.
type Sampler struct {
	Frontend Frontend
	Detector *ecg.Detector
	Period   time.Duration

	live         *spsc.Queue[telemetry.HeartRate]
	graph        *spsc.Queue[byte]
	graphVariant bool
	graphOn      atomic.Bool

	ticks    atomic.Uint64
	leadsOff atomic.Uint64
	beats    atomic.Uint64
}

// NewSampler creates a Sampler. graphQueue is 0 for the standard variant.
func NewSampler(fe Frontend, det *ecg.Detector, period time.Duration, liveQueue, graphQueue int) *Sampler {
	s := &Sampler{
		Frontend: fe,
		Detector: det,
		Period:   period,
		live:     spsc.New[telemetry.HeartRate](liveQueue),
	}
	if graphQueue > 0 {
		s.graph = spsc.New[byte](graphQueue)
		s.graphVariant = true
	}
	return s
}

// Tick processes one sample.
func (s *Sampler) Tick() {
	n := s.ticks.Add(1)
	sample, off := s.Frontend.Read()
	if off {
		s.leadsOff.Add(1)
		return
	}
	micros := uint64(time.Duration(n)*s.Period) / uint64(time.Microsecond)
	if ev, ok := s.Detector.Process(sample, micros); ok {
		s.beats.Add(1)
		s.live.Push(ev)
	}
	if s.graphOn.Load() {
		s.graph.Push(GraphSample(sample))
	}
}

// Run drives Tick from a ticker until ctx is done.
func (s *Sampler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.Period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Tick()
		}
	}
}

// TakeReading pops a heart-rate reading produced by the tick.
func (s *Sampler) TakeReading() (telemetry.HeartRate, bool) {
	return s.live.Pop()
}

// EnableGraph implements protocol.GraphSource. It's a no-op on the
// standard variant.
func (s *Sampler) EnableGraph(on bool) {
	s.graphOn.Store(on && s.graphVariant)
	if !on && s.graph != nil {
		for {
			if _, ok := s.graph.Pop(); !ok {
				break
			}
		}
	}
}

// GraphEnabled tells whether raw samples are queued.
func (s *Sampler) GraphEnabled() bool {
	return s.graphOn.Load()
}

// GraphBlock implements protocol.GraphSource.
func (s *Sampler) GraphBlock(dst []byte) bool {
	if s.graph == nil || s.graph.Len() < telemetry.ECGBlockSize || len(dst) < telemetry.ECGBlockSize {
		return false
	}
	for i := 0; i < telemetry.ECGBlockSize; i++ {
		dst[i], _ = s.graph.Pop()
	}
	return true
}

// Stats returns the tick counters.
func (s *Sampler) Stats() SamplerStats {
	return SamplerStats{
		Ticks:    s.ticks.Load(),
		LeadsOff: s.leadsOff.Load(),
		Beats:    s.beats.Load(),
	}
}

// LiveDropped is the number of readings lost to a full queue.
func (s *Sampler) LiveDropped() uint32 {
	return s.live.Dropped()
}

// GraphSample scales a sample into one unsigned byte centered at 128.
func GraphSample(x float64) byte {
	v := 128 + x*64
	switch {
	case v < 0:
		return 0
	case v > 255:
		return 255
	}
	return byte(v)
}

// SimFrontend is a Frontend over a synthetic waveform.
type SimFrontend struct {
	Sim *ecg.Sim

	leadsOff atomic.Bool
}

// NewSimFrontend creates a SimFrontend at the given rate and heart rate.
func NewSimFrontend(rate, bpm float64) *SimFrontend {
	return &SimFrontend{Sim: ecg.NewSim(rate, bpm, 0.02)}
}

// SetLeadsOff simulates detached electrodes.
func (f *SimFrontend) SetLeadsOff(off bool) {
	f.leadsOff.Store(off)
}

// Read implements Frontend.
func (f *SimFrontend) Read() (float64, bool) {
	x := f.Sim.Next()
	return x, f.leadsOff.Load()
}
