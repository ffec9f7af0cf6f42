package ecg

import "math"

// Sim generates an ECG-like (not clinical) waveform: a slow baseline
// wander plus gaussian P, QRS and T waves and cheap deterministic noise.
type Sim struct {
	Rate  float64 // sampling rate in Hz
	BPM   float64
	Noise float64 // noise amplitude, 0.0 - 0.05 is reasonable

	phase float64
}

// NewSim creates a Sim.
func NewSim(rate, bpm, noise float64) *Sim {
	return &Sim{Rate: rate, BPM: bpm, Noise: noise}
}

// Next returns the next sample and advances time.
func (s *Sim) Next() float64 {
	s.phase += s.BPM / 60 / s.Rate
	if s.phase >= 1 {
		s.phase -= 1
	}
	t := s.phase

	baseline := 0.05 * math.Sin(2*math.Pi*0.33*t)
	p := 0.08 * gauss(t, 0.18, 0.03)
	q := -0.12 * gauss(t, 0.30, 0.01)
	r := 1.00 * gauss(t, 0.32, 0.008)
	sw := -0.25 * gauss(t, 0.35, 0.012)
	tw := 0.25 * gauss(t, 0.60, 0.06)
	n := s.Noise * (2*fract(math.Sin(12345.678*t)*9876.543) - 1)

	return baseline + p + q + r + sw + tw + n
}

func gauss(x, mu, sigma float64) float64 {
	z := (x - mu) / sigma
	return math.Exp(-0.5 * z * z)
}

func fract(x float64) float64 { return x - math.Floor(x) }
