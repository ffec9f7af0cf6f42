// Package ecg implements real-time QRS detection on a single-lead ECG.
package ecg

import (
	"github.com/robotalks/cardiotag/pkg/clock"
	"github.com/robotalks/cardiotag/pkg/telemetry"
)

// Detector parameters.
const (
	// HighPassWindow is M, the window of the high-pass stage.
	HighPassWindow = 5
	// LowPassWindow is N, the window of the squared low-pass stage.
	LowPassWindow = 30
	// ThresholdWindow is the number of samples between threshold updates.
	ThresholdWindow = 200
	// RefractorySamples is the minimum number of samples between beats.
	RefractorySamples = 100
	// AverageBeats is the number of beats averaged into the reported BPM.
	AverageBeats = 5

	thresholdGamma = 0.175
	alphaMin       = 0.01
	alphaMax       = 0.1
)

// Rand supplies the threshold jitter, math/rand.Rand satisfies it.
type Rand interface {
	Float64() float64
}

// Detector turns raw samples into heart-rate readings. It holds all
// history in fixed arrays so Process never allocates.
type Detector struct {
	Clock clock.Clock
	Rand  Rand

	samples int // saturates at ThresholdWindow

	// high-pass stage
	input    [HighPassWindow + 1]float64
	inputIdx int
	hpSum    float64

	// low-pass stage
	hp      [LowPassWindow + 1]float64
	hpIdx   int
	lpValue float64

	// adaptive threshold
	threshold  float64
	windowMax  float64
	windowIdx  int
	refractory int

	// averaging
	lastBeat uint64
	haveBeat bool
	bpms     [AverageBeats]float64
	bpmIdx   int
	bpmCount int
	bpmSum   float64
}

// NewDetector creates a Detector.
func NewDetector(clk clock.Clock, rnd Rand) *Detector {
	return &Detector{Clock: clk, Rand: rnd}
}

// Process consumes one sample taken at micros (monotonic microseconds) and
// reports a reading when a beat is accepted.
func (d *Detector) Process(sample float64, micros uint64) (ev telemetry.HeartRate, ok bool) {
	value := d.filter(sample)
	if !d.detect(value) {
		return
	}
	bpm, valid := d.beat(micros)
	if !valid || d.samples < LowPassWindow {
		return
	}
	epoch, set := d.Clock.Now()
	if !set {
		return
	}
	return telemetry.HeartRate{BPM: bpm, Time: epoch}, true
}

// Threshold returns the current adaptive threshold.
func (d *Detector) Threshold() float64 {
	return d.threshold
}

func (d *Detector) filter(x float64) float64 {
	const m, n = HighPassWindow, LowPassWindow
	d.input[d.inputIdx] = x
	d.hpSum += x
	if d.samples >= m {
		d.hpSum -= d.input[(d.inputIdx+1)%(m+1)]
	}
	var hp float64
	if d.samples >= m-1 {
		mid := d.input[(d.inputIdx+m+1-(m+1)/2)%(m+1)]
		hp = mid - d.hpSum/m
	}
	d.inputIdx = (d.inputIdx + 1) % (m + 1)

	d.hp[d.hpIdx] = hp
	d.lpValue += hp * hp
	if d.samples >= n {
		old := d.hp[(d.hpIdx+1)%(n+1)]
		d.lpValue -= old * old
	}
	d.hpIdx = (d.hpIdx + 1) % (n + 1)

	if d.samples < ThresholdWindow {
		d.samples++
	}
	if d.samples < n {
		return 0
	}
	if d.lpValue < 0 {
		// rounding residue from the running sum
		d.lpValue = 0
	}
	return d.lpValue
}

func (d *Detector) detect(value float64) (beat bool) {
	if d.samples < ThresholdWindow && value > d.threshold {
		d.threshold = value
	}
	if d.refractory > 0 {
		d.refractory--
	} else if value > d.threshold {
		d.refractory = RefractorySamples
		beat = true
	}
	if value > d.windowMax {
		d.windowMax = value
	}
	if d.windowIdx++; d.windowIdx >= ThresholdWindow {
		alpha := alphaMin + d.Rand.Float64()*(alphaMax-alphaMin)
		d.threshold = alpha*thresholdGamma*d.windowMax + (1-alpha)*d.threshold
		d.windowIdx, d.windowMax = 0, 0
	}
	return
}

func (d *Detector) beat(micros uint64) (uint8, bool) {
	last, had := d.lastBeat, d.haveBeat
	d.lastBeat, d.haveBeat = micros, true
	if !had || micros <= last {
		return 0, false
	}
	bpm := 60e6 / float64(micros-last)
	d.bpmSum += bpm - d.bpms[d.bpmIdx]
	d.bpms[d.bpmIdx] = bpm
	d.bpmIdx = (d.bpmIdx + 1) % AverageBeats
	if d.bpmCount < AverageBeats {
		d.bpmCount++
	}
	avg := d.bpmSum / float64(d.bpmCount)
	if avg > 255 {
		avg = 255
	}
	return uint8(avg + 0.5), true
}
