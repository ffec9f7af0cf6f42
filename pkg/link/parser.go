package link

import "github.com/robotalks/cardiotag/pkg/telemetry"

const (
	syncREQ byte = 0xff
	syncACK byte = 0xfe
)

// State is the handshake state of a link.
type State int

// States are bit flags, Ready and Receiving can be combined.
const (
	StateSyncing   State = 0
	StateReady     State = 0x01
	StateReceiving State = 0x02
)

// IsReady tells whether frames can be exchanged.
func (s State) IsReady() bool {
	return s&StateReady != 0
}

// IsReceiving tells whether a handshake or a frame is partially received.
func (s State) IsReceiving() bool {
	return s&StateReceiving != 0
}

// String implements fmt.Stringer.
func (s State) String() string {
	switch {
	case s == StateReady:
		return "ready"
	case s.IsReady():
		return "ready+receiving"
	case s.IsReceiving():
		return "syncing+receiving"
	default:
		return "syncing"
	}
}

// Result is the outcome of feeding the parser.
type Result struct {
	// Sync is a handshake byte to send back, followed by our sequence.
	Sync  byte
	State State
	Frame *Frame
	// Rearm tells whether the handshake timer should restart.
	Rearm bool
}

type step int

const (
	awaitSync   step = iota // request sent, waiting for the peer
	awaitReqSeq             // got a request, waiting for its sequence
	awaitAckSeq             // got an ack, waiting for its sequence
	awaitFrame              // idle, waiting for a frame sequence
	awaitDupAck             // got a late ack while idle
	awaitCode               // waiting for the frame code
	awaitLen                // waiting for the extended length
	awaitData               // waiting for payload bytes
)

// Parser decodes the byte stream from the peer. It's not safe for
// concurrent use.
type Parser struct {
	peer  Seq
	step  step
	frame *Frame
	got   int
}

// State reports the current handshake state.
func (p *Parser) State() State {
	switch {
	case p.step == awaitSync:
		return StateSyncing
	case p.step == awaitFrame:
		return StateReady
	case p.step > awaitFrame:
		return StateReady | StateReceiving
	default:
		return StateSyncing | StateReceiving
	}
}

// Reset restarts the handshake.
func (p *Parser) Reset() Result {
	p.frame = nil
	return p.result(p.resync(), nil)
}

// Feed consumes one byte.
func (p *Parser) Feed(b byte) Result {
	sync, f := p.feed(b)
	return p.result(sync, f)
}

// Timeout tells the parser the handshake timer expired. An idle ready link
// is left alone, anything partial restarts the handshake.
func (p *Parser) Timeout() Result {
	var sync byte
	if p.step != awaitFrame {
		sync = p.resync()
	}
	return p.result(sync, nil)
}

func (p *Parser) result(sync byte, f *Frame) Result {
	r := Result{Sync: sync, State: p.State(), Frame: f}
	r.Rearm = sync == syncREQ || r.State.IsReceiving()
	return r
}

func (p *Parser) feed(b byte) (byte, *Frame) {
	switch p.step {
	case awaitSync:
		switch b {
		case syncREQ:
			p.step = awaitReqSeq
		case syncACK:
			p.step = awaitAckSeq
		}
	case awaitReqSeq, awaitAckSeq:
		seq := Seq(b)
		if !seq.IsValid() {
			return p.resync(), nil
		}
		reply := p.step == awaitReqSeq
		p.peer, p.step = seq, awaitFrame
		if reply {
			return syncACK, nil
		}
	case awaitFrame:
		switch {
		case b == syncREQ:
			p.step = awaitReqSeq
		case b == syncACK:
			p.step = awaitDupAck
		case Seq(b) != p.peer:
			return p.resync(), nil
		default:
			p.frame = &Frame{Seq: p.peer}
			p.peer = p.peer.Next()
			p.step = awaitCode
		}
	case awaitDupAck:
		if Seq(b) != p.peer {
			return p.resync(), nil
		}
		p.step = awaitFrame
	case awaitCode:
		p.frame.Channel = telemetry.Channel(b & codeMask)
		switch l := int(b&lenMask) >> lenShift; l {
		case 0:
			return 0, p.complete()
		case lenInline:
			p.step = awaitLen
		default:
			p.payload(l)
		}
	case awaitLen:
		if b > MaxPayload {
			return p.resync(), nil
		}
		if b == 0 {
			return 0, p.complete()
		}
		p.payload(int(b))
	case awaitData:
		p.frame.Data[p.got] = b
		if p.got++; p.got == len(p.frame.Data) {
			return 0, p.complete()
		}
	}
	return 0, nil
}

func (p *Parser) payload(n int) {
	p.frame.Data, p.got = make([]byte, n), 0
	p.step = awaitData
}

func (p *Parser) resync() byte {
	p.step = awaitSync
	return syncREQ
}

func (p *Parser) complete() *Frame {
	f := p.frame
	p.frame, p.step = nil, awaitFrame
	return f
}
