package link

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/cardiotag/pkg/telemetry"
)

// Endpoint is one side of the link. It outlives the streams attached to it
// so the owner can hold on to it across reconnects.
type Endpoint struct {
	SyncTimeout time.Duration

	replies chan []byte
	frames  chan *Frame
	dropped atomic.Uint64
	ready   atomic.Bool

	lock sync.Mutex
	link *Link
	conn io.Closer
}

// NewEndpoint creates an Endpoint. Frames on channels other than checkin are
// queued up to frameQueue, or discarded when it's zero.
func NewEndpoint(frameQueue int) *Endpoint {
	e := &Endpoint{
		SyncTimeout: DefaultSyncTimeout,
		replies:     make(chan []byte, 4),
	}
	if frameQueue > 0 {
		e.frames = make(chan *Frame, frameQueue)
	}
	return e
}

// Serve runs the link over conn until the stream fails, Disconnect is
// called or ctx is done. conn is always closed on return. A new stream
// replaces the current one.
func (e *Endpoint) Serve(ctx context.Context, conn io.ReadWriteCloser) error {
	l := New(conn)
	l.SyncTimeout = e.SyncTimeout
	l.Handler = e
	l.Notifier = StateChangedFunc(func(_ context.Context, state State) {
		e.lock.Lock()
		if e.link == l {
			e.ready.Store(state.IsReady())
		}
		e.lock.Unlock()
	})

	e.lock.Lock()
	if e.conn != nil {
		e.conn.Close()
	}
	e.link, e.conn = l, conn
	e.ready.Store(false)
	e.lock.Unlock()

	err := l.Run(ctx)

	e.lock.Lock()
	if e.link == l {
		e.link, e.conn = nil, nil
		e.ready.Store(false)
	}
	e.lock.Unlock()
	conn.Close()
	return err
}

// Connected tells whether the handshake on the current stream completed.
func (e *Endpoint) Connected() bool {
	return e.ready.Load()
}

// Send sends a frame on ch.
func (e *Endpoint) Send(ch telemetry.Channel, payload []byte) error {
	e.lock.Lock()
	l := e.link
	e.lock.Unlock()
	if l == nil {
		return ErrNotConnected
	}
	return l.Send(ch, payload)
}

// Disconnect drops the current stream.
func (e *Endpoint) Disconnect() {
	e.lock.Lock()
	defer e.lock.Unlock()
	e.ready.Store(false)
	if e.conn != nil {
		if err := e.conn.Close(); err != nil {
			glog.Warningf("disconnect: %v", err)
		}
	}
}

// Replies delivers payloads received on the checkin channel.
func (e *Endpoint) Replies() <-chan []byte {
	return e.replies
}

// Frames delivers frames received on other channels, nil when the endpoint
// discards them.
func (e *Endpoint) Frames() <-chan *Frame {
	return e.frames
}

// Dropped counts frames discarded because the consumer fell behind.
func (e *Endpoint) Dropped() uint64 {
	return e.dropped.Load()
}

// HandleFrame implements FrameHandler.
func (e *Endpoint) HandleFrame(ctx context.Context, f *Frame) {
	if f.Channel == telemetry.ChannelCheckin {
		select {
		case e.replies <- f.Data:
		default:
			e.dropped.Add(1)
			glog.Warningf("checkin payload %x dropped", f.Data)
		}
		return
	}
	if e.frames == nil {
		e.dropped.Add(1)
		return
	}
	select {
	case e.frames <- f:
	case <-ctx.Done():
	}
}
