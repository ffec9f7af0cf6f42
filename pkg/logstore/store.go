// Package logstore implements a durable queue over a fixed set of equally
// sized erasable flash segments.
//
// Records are addressed by absolute, monotonically increasing indices; the
// slot of an index is the index modulo the total capacity. Three pointers
// follow the records:
//
//	write: next free slot
//	read:  next record to hand to the transport
//	ack:   oldest record not confirmed by the peer
//
// with ack <= read <= write and write-ack <= capacity. Slots between ack and
// write are never overwritten. When appending needs to reuse the segment
// still holding ack, the whole segment is evicted: ack (and read, if behind)
// moves to the start of the next segment. Nothing is lost while the peer keeps
// up; the oldest unacknowledged records are sacrificed under sustained overflow.
package logstore

import (
	"errors"
	"fmt"

	"github.com/robotalks/cardiotag/pkg/flash"
	"github.com/robotalks/cardiotag/pkg/telemetry"
)

// DefaultLiveThreshold is the pending count below which the store is caught up.
const DefaultLiveThreshold = telemetry.BatchRecords

// ErrInvalidConfig indicates the store geometry is unusable.
var ErrInvalidConfig = errors.New("invalid store config")

// Config defines the geometry of a store.
type Config struct {
	Name         string
	SegmentSize  int64
	SegmentCount int
	// LiveThreshold defaults to DefaultLiveThreshold.
	LiveThreshold int
}

// Pointers is a snapshot of the store pointers.
type Pointers struct {
	Write uint64
	Read  uint64
	Ack   uint64
}

// Stats counts store activities since boot.
type Stats struct {
	Appended uint64
	Taken    uint64
	// Evicted counts unacknowledged records dropped by overflow.
	Evicted uint64
	// Reverted counts records reopened for resend.
	Reverted uint64
}

// Store is a circular log of records R. It's owned by the main loop and is
// not safe for concurrent use.
type Store[R any] struct {
	name  string
	codec telemetry.Codec[R]
	segs  []flash.File

	slotSize      int64
	slotsPerSeg   uint64
	capacity      uint64
	liveThreshold uint64

	write, read, ack uint64
	stats            Stats

	slot []byte
}

// New opens the segment files of a store. Call Format before use.
func New[R any](fs flash.FS, cfg Config, codec telemetry.Codec[R]) (*Store[R], error) {
	slotSize := int64(codec.Size())
	if cfg.SegmentCount < 2 || slotSize <= 0 || cfg.SegmentSize < slotSize {
		return nil, fmt.Errorf("%s: %d segments of %d bytes with %d byte slots: %w",
			cfg.Name, cfg.SegmentCount, cfg.SegmentSize, slotSize, ErrInvalidConfig)
	}
	s := &Store[R]{
		name:          cfg.Name,
		codec:         codec,
		slotSize:      slotSize,
		slotsPerSeg:   uint64(cfg.SegmentSize / slotSize),
		liveThreshold: uint64(cfg.LiveThreshold),
		slot:          make([]byte, slotSize),
	}
	if s.liveThreshold == 0 {
		s.liveThreshold = DefaultLiveThreshold
	}
	s.capacity = s.slotsPerSeg * uint64(cfg.SegmentCount)
	for i := 0; i < cfg.SegmentCount; i++ {
		f, err := fs.Open(SegmentName(cfg.Name, i), cfg.SegmentSize)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("%s: open segment %d: %w", cfg.Name, i, err)
		}
		s.segs = append(s.segs, f)
	}
	return s, nil
}

// SegmentName returns the file name of a segment.
func SegmentName(name string, index int) string {
	return fmt.Sprintf("%s-%02d", name, index)
}

// Format erases all segments and resets the pointers.
func (s *Store[R]) Format() error {
	s.write, s.read, s.ack = 0, 0, 0
	for i, seg := range s.segs {
		if err := seg.Erase(); err != nil {
			return fmt.Errorf("%s: erase segment %d: %w", s.name, i, err)
		}
	}
	return nil
}

// Close closes all segment files.
func (s *Store[R]) Close() error {
	var err error
	for _, seg := range s.segs {
		if e := seg.Close(); e != nil && err == nil {
			err = e
		}
	}
	s.segs = nil
	return err
}

// Name returns the store name.
func (s *Store[R]) Name() string { return s.name }

// Capacity returns the number of slots.
func (s *Store[R]) Capacity() uint64 { return s.capacity }

// SlotsPerSegment returns the number of slots in one segment.
func (s *Store[R]) SlotsPerSegment() uint64 { return s.slotsPerSeg }

// Pointers returns a snapshot of the pointers.
func (s *Store[R]) Pointers() Pointers {
	return Pointers{Write: s.write, Read: s.read, Ack: s.ack}
}

// Stats returns the counters.
func (s *Store[R]) Stats() Stats { return s.stats }

// Pending is the number of records not yet taken.
func (s *Store[R]) Pending() uint64 { return s.write - s.read }

// Unacked is the number of records not yet acknowledged.
func (s *Store[R]) Unacked() uint64 { return s.write - s.ack }

// IsCaughtUp tells whether few enough records are pending to deliver them
// one at a time instead of batching.
func (s *Store[R]) IsCaughtUp() bool {
	return s.write-s.read < s.liveThreshold
}

// Append writes r at the write pointer.
func (s *Store[R]) Append(r R) error {
	if s.write > 0 && s.write%s.slotsPerSeg == 0 {
		if err := s.rollover(); err != nil {
			return err
		}
	}
	s.codec.Encode(s.slot, r)
	if err := s.access(s.write, func(f flash.File) (int, error) { return f.Write(s.slot) }); err != nil {
		return err
	}
	s.write++
	s.stats.Appended++
	return nil
}

// TryTake returns the record at the read pointer and advances it, ok is
// false when nothing new is available.
func (s *Store[R]) TryTake() (r R, ok bool, err error) {
	if s.read == s.write {
		return
	}
	if err = s.access(s.read, func(f flash.File) (int, error) { return f.Read(s.slot) }); err != nil {
		return
	}
	r, ok = s.codec.Decode(s.slot), true
	s.read++
	s.stats.Taken++
	return
}

// AdvanceAck commits everything taken so far.
func (s *Store[R]) AdvanceAck() {
	s.ack = s.read
}

// RevertReadToAck reopens everything taken but not acknowledged.
func (s *Store[R]) RevertReadToAck() {
	s.stats.Reverted += s.read - s.ack
	s.read = s.ack
}

// Peek decodes the raw content of a slot by ring position, regardless of
// the pointers. Erased slots decode as all-ones records.
func (s *Store[R]) Peek(pos uint64) (r R, err error) {
	if pos >= s.capacity {
		return r, fmt.Errorf("%s: slot %d: %w", s.name, pos, flash.ErrOutOfRange)
	}
	if err = s.access(pos, func(f flash.File) (int, error) { return f.Read(s.slot) }); err != nil {
		return
	}
	return s.codec.Decode(s.slot), nil
}

func (s *Store[R]) rollover() error {
	if s.write >= s.capacity {
		// indices below this still live in the segment being reused.
		reuseEnd := s.write - s.capacity + s.slotsPerSeg
		if s.ack < reuseEnd {
			s.stats.Evicted += reuseEnd - s.ack
			s.ack = reuseEnd
			if s.read < s.ack {
				s.read = s.ack
			}
		}
	}
	seg := (s.write % s.capacity) / s.slotsPerSeg
	if err := s.segs[seg].Erase(); err != nil {
		return fmt.Errorf("%s: erase segment %d: %w", s.name, seg, err)
	}
	return nil
}

func (s *Store[R]) access(index uint64, op func(flash.File) (int, error)) error {
	pos := index % s.capacity
	seg := pos / s.slotsPerSeg
	f := s.segs[seg]
	if err := f.Seek(int64(pos%s.slotsPerSeg) * s.slotSize); err != nil {
		return fmt.Errorf("%s: segment %d: %w", s.name, seg, err)
	}
	if _, err := op(f); err != nil {
		return fmt.Errorf("%s: segment %d: %w", s.name, seg, err)
	}
	return nil
}
