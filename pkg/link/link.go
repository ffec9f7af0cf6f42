package link

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/cardiotag/pkg/telemetry"
)

// DefaultSyncTimeout is how long a handshake or a partial frame may stall
// before the handshake restarts.
const DefaultSyncTimeout = 100 * time.Millisecond

// FrameHandler is called from the receiving goroutine for every frame.
type FrameHandler interface {
	HandleFrame(context.Context, *Frame)
}

// HandleFrameFunc is the func form of FrameHandler.
type HandleFrameFunc func(context.Context, *Frame)

// HandleFrame implements FrameHandler.
func (f HandleFrameFunc) HandleFrame(ctx context.Context, frame *Frame) {
	f(ctx, frame)
}

// StateNotifier is called when the link state changes.
type StateNotifier interface {
	StateChanged(context.Context, State)
}

// StateChangedFunc is the func form of StateNotifier.
type StateChangedFunc func(context.Context, State)

// StateChanged implements StateNotifier.
func (f StateChangedFunc) StateChanged(ctx context.Context, state State) {
	f(ctx, state)
}

// Link runs the handshake and exchanges frames over a byte stream.
type Link struct {
	ReadWriter  io.ReadWriter
	Handler     FrameHandler
	Notifier    StateNotifier
	SyncTimeout time.Duration

	seq   Seq
	state State
	lock  sync.RWMutex

	timer  <-chan time.Time
	parser Parser
}

// New creates a Link over rw.
func New(rw io.ReadWriter) *Link {
	return &Link{
		ReadWriter:  rw,
		SyncTimeout: DefaultSyncTimeout,
		seq:         NewSeq(),
	}
}

// State returns the current state.
func (l *Link) State() State {
	l.lock.RLock()
	defer l.lock.RUnlock()
	return l.state
}

// Send sends payload on the channel.
func (l *Link) Send(ch telemetry.Channel, payload []byte) error {
	l.lock.Lock()
	defer l.lock.Unlock()
	if !l.state.IsReady() {
		return ErrNotReady
	}
	f := Frame{Seq: l.seq, Channel: ch, Data: payload}
	if _, err := f.WriteTo(l.ReadWriter); err != nil {
		return err
	}
	l.seq = l.seq.Next()
	return nil
}

// Run receives from the stream until it fails or ctx is done.
func (l *Link) Run(ctx context.Context) error {
	byteCh, errCh := make(chan []byte), make(chan error, 1)
	readCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go l.receive(readCtx, byteCh, errCh)

	if err := l.apply(ctx, l.parser.Reset()); err != nil {
		return err
	}
	for {
		var r Result
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			return err
		case <-l.timer:
			r = l.parser.Timeout()
		case chunk := <-byteCh:
			for _, b := range chunk {
				if err := l.apply(ctx, l.parser.Feed(b)); err != nil {
					return err
				}
			}
			continue
		}
		if err := l.apply(ctx, r); err != nil {
			return err
		}
	}
}

func (l *Link) receive(ctx context.Context, byteCh chan<- []byte, errCh chan<- error) {
	buf := make([]byte, 256)
	for {
		n, err := l.ReadWriter.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case byteCh <- chunk:
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			errCh <- err
			return
		}
	}
}

func (l *Link) apply(ctx context.Context, r Result) (err error) {
	var notifier StateNotifier
	l.lock.Lock()
	if l.state != r.State {
		glog.V(3).Infof("link %s -> %s", l.state, r.State)
		l.state = r.State
		notifier = l.Notifier
	}
	if r.Sync != 0 {
		_, err = l.ReadWriter.Write([]byte{r.Sync, byte(l.seq)})
	}
	l.lock.Unlock()
	if err != nil {
		return
	}

	switch {
	case r.Rearm:
		l.timer = time.After(l.SyncTimeout)
	case r.State.IsReady():
		l.timer = nil
	}

	if notifier != nil {
		notifier.StateChanged(ctx, r.State)
	}
	if r.Frame != nil && l.Handler != nil {
		l.Handler.HandleFrame(ctx, r.Frame)
	}
	return
}
