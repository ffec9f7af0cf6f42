package telemetry

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrPayloadSize indicates a payload doesn't match the channel size.
var ErrPayloadSize = errors.New("invalid payload size")

// Slot layouts are little-endian while everything on the wire is big-endian.

// AppendHeartRate appends the 5-byte wire form of r.
func AppendHeartRate(b []byte, r HeartRate) []byte {
	b = binary.BigEndian.AppendUint32(b, r.Time)
	return append(b, r.BPM)
}

// ParseHeartRates decodes a single record or a batch.
func ParseHeartRates(p []byte) ([]HeartRate, error) {
	if len(p) == 0 || len(p)%HeartRateWireSize != 0 {
		return nil, fmt.Errorf("heart rate payload of %d bytes: %w", len(p), ErrPayloadSize)
	}
	recs := make([]HeartRate, 0, len(p)/HeartRateWireSize)
	for ; len(p) > 0; p = p[HeartRateWireSize:] {
		recs = append(recs, HeartRate{
			Time: binary.BigEndian.Uint32(p),
			BPM:  p[4],
		})
	}
	return recs, nil
}

// AppendExcursion appends the 8-byte (or 10-byte with activeTime) wire form of r.
func AppendExcursion(b []byte, r Excursion, activeTime bool) []byte {
	b = binary.BigEndian.AppendUint32(b, r.Start)
	b = binary.BigEndian.AppendUint16(b, r.Offset)
	b = binary.BigEndian.AppendUint16(b, r.Steps)
	if activeTime {
		b = binary.BigEndian.AppendUint16(b, r.ActiveSeconds)
	}
	return b
}

// ParseExcursion decodes an activity payload, the size tells whether
// active time is present.
func ParseExcursion(p []byte) (Excursion, error) {
	if len(p) != ExcursionSlotSize && len(p) != ExcursionActiveSlotSize {
		return Excursion{}, fmt.Errorf("activity payload of %d bytes: %w", len(p), ErrPayloadSize)
	}
	r := Excursion{
		Start:  binary.BigEndian.Uint32(p),
		Offset: binary.BigEndian.Uint16(p[4:]),
		Steps:  binary.BigEndian.Uint16(p[6:]),
	}
	if len(p) == ExcursionActiveSlotSize {
		r.ActiveSeconds = binary.BigEndian.Uint16(p[8:])
	}
	return r, nil
}

// AppendSteps appends the live step count.
func AppendSteps(b []byte, steps uint16) []byte {
	return binary.BigEndian.AppendUint16(b, steps)
}

// ParseSteps decodes the live step count.
func ParseSteps(p []byte) (uint16, error) {
	if len(p) != StepsWireSize {
		return 0, fmt.Errorf("steps payload of %d bytes: %w", len(p), ErrPayloadSize)
	}
	return binary.BigEndian.Uint16(p), nil
}

// AppendEpoch appends epoch seconds, used by time sync and checkin.
func AppendEpoch(b []byte, epoch uint32) []byte {
	return binary.BigEndian.AppendUint32(b, epoch)
}

// ParseEpoch decodes a 4-byte time reference.
func ParseEpoch(p []byte) (uint32, error) {
	if len(p) != CheckinSize {
		return 0, fmt.Errorf("time payload of %d bytes: %w", len(p), ErrPayloadSize)
	}
	return binary.BigEndian.Uint32(p), nil
}

// CheckinReply is the peer's answer to a checkin.
type CheckinReply struct {
	// Epoch echoes the checked-in heart-rate time.
	Epoch  uint32
	Status byte
	// Excursion is the start of the newest excursion received, valid when
	// HasExcursion is set. Replies without it cover heart rates only.
	Excursion    uint32
	HasExcursion bool
}

// AppendCheckinReply appends the reply, with the excursion field when set.
func AppendCheckinReply(b []byte, r CheckinReply) []byte {
	b = binary.BigEndian.AppendUint32(b, r.Epoch)
	b = append(b, r.Status)
	if r.HasExcursion {
		b = binary.BigEndian.AppendUint32(b, r.Excursion)
	}
	return b
}

// ParseCheckinReply decodes the peer's checkin acknowledgment.
func ParseCheckinReply(p []byte) (r CheckinReply, err error) {
	switch len(p) {
	case CheckinReplyExtSize:
		r.Excursion, r.HasExcursion = binary.BigEndian.Uint32(p[CheckinReplySize:]), true
	case CheckinReplySize:
	default:
		return r, fmt.Errorf("checkin reply of %d bytes: %w", len(p), ErrPayloadSize)
	}
	r.Epoch, r.Status = binary.BigEndian.Uint32(p), p[CheckinSize]
	return r, nil
}
