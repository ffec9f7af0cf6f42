// Package clock provides the device wall clock.
//
// The wall clock is unset at boot and gets its reference from the companion
// when a connection is established. Until then Now reports false and all
// producers discard their output.
package clock

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
)

// Clock reads absolute time in epoch seconds.
type Clock interface {
	Now() (epoch uint32, ok bool)
}

// Source is a monotonic time source, e.g. time since boot.
type Source interface {
	Elapsed() time.Duration
}

// SourceFunc is the func form of Source.
type SourceFunc func() time.Duration

// Elapsed implements Source.
func (f SourceFunc) Elapsed() time.Duration {
	return f()
}

// Since returns a Source measuring time elapsed from start.
func Since(start time.Time) Source {
	return SourceFunc(func() time.Duration { return time.Since(start) })
}

// Wall is a settable wall clock over a monotonic Source.
// It is safe to read from the sampling tick while the main loop sets it.
type Wall struct {
	src Source
	// base is epoch seconds minus elapsed seconds at the time it's set,
	// negative means unset.
	base atomic.Int64
}

// NewWall creates an unset Wall.
func NewWall(src Source) *Wall {
	w := &Wall{src: src}
	w.base.Store(-1)
	return w
}

// Set sets current time. Once set the clock never goes back: an epoch
// behind the current reading is logged and ignored.
func (w *Wall) Set(epoch uint32) {
	base := int64(epoch) - int64(w.src.Elapsed()/time.Second)
	for {
		old := w.base.Load()
		if old >= 0 && base < old {
			glog.Warningf("wall clock: ignored sync %d, %ds behind", epoch, old-base)
			return
		}
		if w.base.CompareAndSwap(old, base) {
			return
		}
	}
}

// Reset marks the clock unset.
func (w *Wall) Reset() {
	w.base.Store(-1)
}

// IsSet indicates the clock has been initialized.
func (w *Wall) IsSet() bool {
	return w.base.Load() >= 0
}

// Now implements Clock.
func (w *Wall) Now() (uint32, bool) {
	base := w.base.Load()
	if base < 0 {
		return 0, false
	}
	return uint32(base + int64(w.src.Elapsed()/time.Second)), true
}

// Manual is a Source advanced explicitly, for tests and simulations.
type Manual struct {
	elapsed time.Duration
	lock    sync.Mutex
}

// Elapsed implements Source.
func (m *Manual) Elapsed() time.Duration {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.elapsed
}

// Advance moves the time forward.
func (m *Manual) Advance(d time.Duration) {
	m.lock.Lock()
	m.elapsed += d
	m.lock.Unlock()
}

// Fixed is a Clock always reporting the same time, zero value is unset.
type Fixed struct {
	Epoch uint32
	Valid bool
}

// Now implements Clock.
func (f Fixed) Now() (uint32, bool) {
	return f.Epoch, f.Valid
}
