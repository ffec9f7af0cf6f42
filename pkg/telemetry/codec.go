package telemetry

import "encoding/binary"

// Codec encodes records of type R into fixed size flash slots.
type Codec[R any] interface {
	// Size is the slot size in bytes.
	Size() int
	// Encode writes r into dst which is at least Size() bytes.
	Encode(dst []byte, r R)
	// Decode reads a record from src which is at least Size() bytes.
	Decode(src []byte) R
}

// Slot sizes.
const (
	HeartRateSlotSize       = 8
	ExcursionSlotSize       = 8
	ExcursionActiveSlotSize = 10
)

// HeartRateCodec stores a HeartRate in an 8-byte slot.
type HeartRateCodec struct{}

// Size implements Codec.
func (HeartRateCodec) Size() int { return HeartRateSlotSize }

// Encode implements Codec.
func (HeartRateCodec) Encode(dst []byte, r HeartRate) {
	binary.LittleEndian.PutUint32(dst[0:], r.Time)
	dst[4] = r.BPM
	dst[5], dst[6], dst[7] = 0, 0, 0
}

// Decode implements Codec.
func (HeartRateCodec) Decode(src []byte) HeartRate {
	return HeartRate{
		Time: binary.LittleEndian.Uint32(src[0:]),
		BPM:  src[4],
	}
}

// ExcursionCodec stores an Excursion in an 8-byte slot, or a 10-byte
// slot when ActiveTime is set.
type ExcursionCodec struct {
	ActiveTime bool
}

// Size implements Codec.
func (c ExcursionCodec) Size() int {
	if c.ActiveTime {
		return ExcursionActiveSlotSize
	}
	return ExcursionSlotSize
}

// Encode implements Codec.
func (c ExcursionCodec) Encode(dst []byte, r Excursion) {
	binary.LittleEndian.PutUint32(dst[0:], r.Start)
	binary.LittleEndian.PutUint16(dst[4:], r.Offset)
	binary.LittleEndian.PutUint16(dst[6:], r.Steps)
	if c.ActiveTime {
		binary.LittleEndian.PutUint16(dst[8:], r.ActiveSeconds)
	}
}

// Decode implements Codec.
func (c ExcursionCodec) Decode(src []byte) Excursion {
	r := Excursion{
		Start:  binary.LittleEndian.Uint32(src[0:]),
		Offset: binary.LittleEndian.Uint16(src[4:]),
		Steps:  binary.LittleEndian.Uint16(src[6:]),
	}
	if c.ActiveTime {
		r.ActiveSeconds = binary.LittleEndian.Uint16(src[8:])
	}
	return r
}
