package sh

import (
	"errors"

	"github.com/robotalks/cardiotag/pkg/device"
	"github.com/robotalks/cardiotag/pkg/flash"
	"github.com/robotalks/cardiotag/pkg/logstore"
	"github.com/robotalks/cardiotag/pkg/telemetry"
)

const erasedWord = 0xffffffff

// ErrUnknownLog indicates the log name is neither hr nor activity.
var ErrUnknownLog = errors.New("unknown log, expect hr or activity")

// Image is a flash directory written by the device.
type Image struct {
	Dir        string
	HeartRates *logstore.Store[telemetry.HeartRate]
	Activity   *logstore.Store[telemetry.Excursion]
}

// SegmentInfo summarizes one segment file.
type SegmentInfo struct {
	Name  string
	Slots uint64
	Used  uint64
}

// Slot is a used slot of a log.
type Slot struct {
	Index  uint64
	Record interface{}
}

// OpenImage opens the logs under dir with the geometry in conf. Missing
// segments are created erased.
func OpenImage(dir string, conf *device.Config) (*Image, error) {
	fs, err := flash.NewDirFS(dir)
	if err != nil {
		return nil, err
	}
	img := &Image{Dir: dir}
	if img.HeartRates, err = logstore.New[telemetry.HeartRate](fs, conf.HeartRateStore(), telemetry.HeartRateCodec{}); err != nil {
		return nil, err
	}
	codec := telemetry.ExcursionCodec{ActiveTime: conf.ActiveTime}
	if img.Activity, err = logstore.New[telemetry.Excursion](fs, conf.ActivityStore(), codec); err != nil {
		img.HeartRates.Close()
		return nil, err
	}
	return img, nil
}

// Close closes the logs.
func (img *Image) Close() error {
	err := img.HeartRates.Close()
	if e := img.Activity.Close(); err == nil {
		err = e
	}
	return err
}

// Segments scans both logs.
func (img *Image) Segments() ([]SegmentInfo, error) {
	hr, err := segments(img.HeartRates, func(r telemetry.HeartRate) bool { return r.Time == erasedWord })
	if err != nil {
		return nil, err
	}
	act, err := segments(img.Activity, func(r telemetry.Excursion) bool { return r.Start == erasedWord })
	if err != nil {
		return nil, err
	}
	return append(hr, act...), nil
}

// Dump returns up to n used slots of the named log in slot order, n <= 0
// means all.
func (img *Image) Dump(name string, n int) ([]Slot, error) {
	switch name {
	case img.HeartRates.Name():
		return dump(img.HeartRates, n, func(r telemetry.HeartRate) bool { return r.Time == erasedWord })
	case img.Activity.Name():
		return dump(img.Activity, n, func(r telemetry.Excursion) bool { return r.Start == erasedWord })
	}
	return nil, ErrUnknownLog
}

func segments[R any](s *logstore.Store[R], erased func(R) bool) ([]SegmentInfo, error) {
	sps := s.SlotsPerSegment()
	infos := make([]SegmentInfo, s.Capacity()/sps)
	for i := range infos {
		infos[i] = SegmentInfo{Name: logstore.SegmentName(s.Name(), i), Slots: sps}
	}
	for pos := uint64(0); pos < s.Capacity(); pos++ {
		r, err := s.Peek(pos)
		if err != nil {
			return nil, err
		}
		if !erased(r) {
			infos[pos/sps].Used++
		}
	}
	return infos, nil
}

func dump[R any](s *logstore.Store[R], n int, erased func(R) bool) ([]Slot, error) {
	var slots []Slot
	for pos := uint64(0); pos < s.Capacity() && (n <= 0 || len(slots) < n); pos++ {
		r, err := s.Peek(pos)
		if err != nil {
			return nil, err
		}
		if !erased(r) {
			slots = append(slots, Slot{Index: pos, Record: r})
		}
	}
	return slots, nil
}
