package link

import (
	"fmt"
	"io"
	"time"

	"github.com/robotalks/cardiotag/pkg/telemetry"
)

// MaxPayload is the largest payload a frame carries.
const MaxPayload = 0x7f

const (
	lenInline  = 7
	codeMask   = 0x0f
	lenMask    = 0x70
	lenShift   = 4
	seqLimit   = 0xf0
	frameExtra = 3
)

// Seq is the frame sequence number, valid values are 1 to 0xef.
type Seq byte

// NewSeq picks a starting sequence.
func NewSeq() Seq {
	return Seq(byte(time.Now().UnixNano())).Next()
}

// Next returns the sequence after s.
func (s Seq) Next() Seq {
	n := byte(s) + 1
	if n == 0 || n >= seqLimit {
		n = 1
	}
	return Seq(n)
}

// IsValid tells whether s is a usable sequence.
func (s Seq) IsValid() bool {
	return s > 0 && s < seqLimit
}

// Frame is one unit on the link.
type Frame struct {
	Seq     Seq
	Channel telemetry.Channel
	Data    []byte
}

// String implements fmt.Stringer.
func (f *Frame) String() string {
	return fmt.Sprintf("#%02x %s %x", byte(f.Seq), f.Channel, f.Data)
}

func (f *Frame) header(b []byte) []byte {
	l := byte(len(f.Data))
	code := byte(f.Channel) & codeMask
	if l < lenInline {
		return append(b, byte(f.Seq), code|l<<lenShift)
	}
	return append(b, byte(f.Seq), code|lenMask, l)
}

// Bytes encodes the frame.
func (f *Frame) Bytes() []byte {
	b := f.header(make([]byte, 0, len(f.Data)+frameExtra))
	return append(b, f.Data...)
}

// WriteTo writes the encoded frame in a single Write.
func (f *Frame) WriteTo(w io.Writer) (int64, error) {
	if len(f.Data) > MaxPayload {
		return 0, fmt.Errorf("%d bytes: %w", len(f.Data), ErrPayloadTooLarge)
	}
	n, err := w.Write(f.Bytes())
	return int64(n), err
}
