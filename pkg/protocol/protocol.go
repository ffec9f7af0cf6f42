// Package protocol delivers stored telemetry to the companion.
//
// On every connection the companion first supplies the wall clock. Heart
// rates then flow one record at a time while the store is caught up, or in
// batches while it's behind; excursions trickle one per cycle. A periodic
// checkin tells the device up to where the companion has received, which
// either commits (ack) or reopens (revert) the delivered window.
package protocol

import (
	"context"
	"fmt"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/cardiotag/pkg/telemetry"
)

// State of the delivery protocol.
type State int

// States.
const (
	Disconnected State = iota
	Syncing
	Live
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Syncing:
		return "syncing"
	case Live:
		return "live"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Transport is the wireless link to the companion.
type Transport interface {
	Connected() bool
	Send(ch telemetry.Channel, payload []byte) error
	Disconnect()
	// Replies delivers payloads received on the checkin channel.
	Replies() <-chan []byte
}

// Log is the consuming side of a store.
type Log[R any] interface {
	TryTake() (R, bool, error)
	AdvanceAck()
	RevertReadToAck()
	IsCaughtUp() bool
}

// ClockSetter receives the time reference.
type ClockSetter interface {
	Set(epoch uint32)
}

// StepSource reports live step counts.
type StepSource interface {
	LiveSteps() (uint16, bool)
}

// GraphSource supplies raw ECG blocks when streaming is enabled.
type GraphSource interface {
	EnableGraph(bool)
	// GraphBlock fills dst with ECGBlockSize samples when available.
	GraphBlock(dst []byte) bool
}

// Config defines the protocol timing.
type Config struct {
	SyncTimeout     time.Duration
	SyncAttempts    int
	MinBackoff      time.Duration
	MaxBackoff      time.Duration
	CheckinInterval time.Duration
	CheckinTimeout  time.Duration
	// ActiveTime selects the 10-byte activity record.
	ActiveTime bool
}

// DefaultConfig returns the default timing.
func DefaultConfig() Config {
	return Config{
		SyncTimeout:     2 * time.Second,
		SyncAttempts:    5,
		MinBackoff:      time.Second,
		MaxBackoff:      30 * time.Second,
		CheckinInterval: 10 * time.Second,
		CheckinTimeout:  time.Second,
	}
}

// Stats counts protocol activities.
type Stats struct {
	Connects     uint64
	Disconnects  uint64
	Records      uint64
	Batches      uint64
	Excursions   uint64
	Checkins     uint64
	Acks         uint64
	Reverts      uint64
	SyncTimeouts uint64
	Silences     uint64
	// ExcursionReverts counts checkins reopening the activity log on its own.
	ExcursionReverts uint64
}

// Protocol is the delivery state machine. Step is called once per main loop
// cycle and is the only entry point, so it needs no locking.
type Protocol struct {
	Config
	Transport  Transport
	HeartRates Log[telemetry.HeartRate]
	Excursions Log[telemetry.Excursion]
	Clock      ClockSetter
	Steps      StepSource
	Graph      GraphSource

	state State
	stats Stats

	syncFailures int
	backoff      time.Duration
	nextSync     time.Time

	lastCheckin   time.Time
	sentSince     bool
	lastDelivered uint32
	// lastExcursion is the start of the newest excursion taken since the
	// activity log was last committed or reverted.
	lastExcursion  uint32
	excursionsOpen bool

	buf   []byte
	block [telemetry.ECGBlockSize]byte

	now   func() time.Time
	after func(time.Duration) <-chan time.Time
}

// New creates a Protocol. Steps and Graph are optional.
func New(cfg Config, tr Transport, hr Log[telemetry.HeartRate], ex Log[telemetry.Excursion], clk ClockSetter) *Protocol {
	return &Protocol{
		Config:     cfg,
		Transport:  tr,
		HeartRates: hr,
		Excursions: ex,
		Clock:      clk,
		buf:        make([]byte, 0, telemetry.BatchWireSize),
		now:        time.Now,
		after:      time.After,
	}
}

// State returns the current state.
func (p *Protocol) State() State { return p.state }

// Stats returns the counters.
func (p *Protocol) Stats() Stats { return p.stats }

// LastDelivered is the timestamp of the last heart rate sent.
func (p *Protocol) LastDelivered() uint32 { return p.lastDelivered }

// Step advances the state machine. It blocks only while waiting for the
// time reference or a checkin reply, both bounded by the config.
func (p *Protocol) Step(ctx context.Context) error {
	if p.state != Disconnected && !p.Transport.Connected() {
		glog.Warningf("connection lost while %s", p.state)
		p.lost()
		return nil
	}
	switch p.state {
	case Disconnected:
		if !p.Transport.Connected() {
			return nil
		}
		glog.Info("connected, requesting time")
		p.stats.Connects++
		p.state = Syncing
		p.syncFailures, p.backoff = 0, p.MinBackoff
		p.nextSync = p.now()
		return p.sync(ctx)
	case Syncing:
		if p.now().Before(p.nextSync) {
			return nil
		}
		return p.sync(ctx)
	case Live:
		return p.live(ctx)
	}
	return nil
}

func (p *Protocol) sync(ctx context.Context) error {
	p.drainReplies()
	if err := p.Transport.Send(telemetry.ChannelCheckin, nil); err != nil {
		p.lost()
		return fmt.Errorf("time request: %w", err)
	}
	timeout := p.after(p.SyncTimeout)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeout:
			p.stats.SyncTimeouts++
			if p.syncFailures++; p.syncFailures >= p.SyncAttempts {
				glog.Warningf("no time reference after %d attempts, disconnecting", p.syncFailures)
				p.Transport.Disconnect()
				p.lost()
				return nil
			}
			p.nextSync = p.now().Add(p.backoff)
			glog.Warningf("time request timed out, retry in %s", p.backoff)
			if p.backoff *= 2; p.backoff > p.MaxBackoff {
				p.backoff = p.MaxBackoff
			}
			return nil
		case reply := <-p.Transport.Replies():
			epoch, err := telemetry.ParseEpoch(reply)
			if err != nil {
				glog.V(1).Infof("ignored checkin payload %x while syncing", reply)
				continue
			}
			p.Clock.Set(epoch)
			glog.Infof("clock set to %d, going live", epoch)
			p.state = Live
			p.lastCheckin, p.sentSince = p.now(), false
			if p.Graph != nil {
				p.Graph.EnableGraph(true)
			}
			return nil
		}
	}
}

func (p *Protocol) live(ctx context.Context) error {
	if err := p.deliverHeartRates(); err != nil {
		return err
	}
	if err := p.deliverExcursion(); err != nil {
		return err
	}
	if err := p.deliverLive(); err != nil {
		return err
	}
	if p.sentSince && p.now().Sub(p.lastCheckin) >= p.CheckinInterval {
		return p.checkin(ctx)
	}
	return nil
}

func (p *Protocol) deliverHeartRates() error {
	n, ch := telemetry.BatchRecords, telemetry.ChannelHeartRateBatch
	if p.HeartRates.IsCaughtUp() {
		n, ch = 1, telemetry.ChannelHeartRate
	}
	p.buf = p.buf[:0]
	var last uint32
	for i := 0; i < n; i++ {
		r, ok, err := p.HeartRates.TryTake()
		if err != nil {
			return fmt.Errorf("heart rate log: %w", err)
		}
		if !ok {
			break
		}
		p.buf = telemetry.AppendHeartRate(p.buf, r)
		last = r.Time
	}
	if len(p.buf) == 0 {
		return nil
	}
	if err := p.send(ch, p.buf); err != nil {
		return err
	}
	p.lastDelivered = last
	if ch == telemetry.ChannelHeartRateBatch {
		p.stats.Batches++
	}
	p.stats.Records += uint64(len(p.buf) / telemetry.HeartRateWireSize)
	return nil
}

func (p *Protocol) deliverExcursion() error {
	r, ok, err := p.Excursions.TryTake()
	if err != nil {
		return fmt.Errorf("activity log: %w", err)
	}
	if !ok {
		return nil
	}
	if err := p.send(telemetry.ChannelActivity, telemetry.AppendExcursion(p.buf[:0], r, p.ActiveTime)); err != nil {
		return err
	}
	p.lastExcursion, p.excursionsOpen = r.Start, true
	p.stats.Excursions++
	return nil
}

func (p *Protocol) deliverLive() error {
	if p.Steps != nil {
		if steps, changed := p.Steps.LiveSteps(); changed {
			if err := p.send(telemetry.ChannelSteps, telemetry.AppendSteps(p.buf[:0], steps)); err != nil {
				return err
			}
		}
	}
	if p.Graph != nil && p.Graph.GraphBlock(p.block[:]) {
		return p.send(telemetry.ChannelECGBlock, p.block[:])
	}
	return nil
}

func (p *Protocol) send(ch telemetry.Channel, payload []byte) error {
	if err := p.Transport.Send(ch, payload); err != nil {
		glog.Warningf("send %s: %v", ch, err)
		p.lost()
		return fmt.Errorf("send %s: %w", ch, err)
	}
	p.sentSince = true
	return nil
}

func (p *Protocol) checkin(ctx context.Context) error {
	p.drainReplies()
	ts := p.lastDelivered
	p.stats.Checkins++
	if err := p.send(telemetry.ChannelCheckin, telemetry.AppendEpoch(p.buf[:0], ts)); err != nil {
		return err
	}
	p.lastCheckin, p.sentSince = p.now(), false
	timeout := p.after(p.CheckinTimeout)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeout:
			glog.Warningf("no checkin reply for %d, disconnecting", ts)
			p.stats.Silences++
			p.Transport.Disconnect()
			p.lost()
			return nil
		case reply := <-p.Transport.Replies():
			r, err := telemetry.ParseCheckinReply(reply)
			if err != nil {
				glog.V(1).Infof("ignored checkin payload %x", reply)
				continue
			}
			p.commit(ts, r)
			return nil
		}
	}
}

// commit acks or reverts both logs. The activity log follows the heart-rate
// verdict unless the reply confirms excursions on its own.
func (p *Protocol) commit(ts uint32, r telemetry.CheckinReply) {
	hrOK := r.Status == telemetry.CheckinCaughtUp && r.Epoch >= ts
	exOK := hrOK
	if r.HasExcursion {
		exOK = !p.excursionsOpen || r.Excursion >= p.lastExcursion
	}
	if hrOK {
		glog.V(1).Infof("checkin %d acknowledged", ts)
		p.stats.Acks++
		p.HeartRates.AdvanceAck()
	} else {
		glog.Warningf("checkin %d: peer reports gap at %d, resending", ts, r.Epoch)
		p.stats.Reverts++
		p.HeartRates.RevertReadToAck()
	}
	if exOK {
		p.Excursions.AdvanceAck()
	} else {
		glog.Warningf("checkin: peer has excursions up to %d, resending from %d", r.Excursion, p.lastExcursion)
		p.stats.ExcursionReverts++
		p.Excursions.RevertReadToAck()
	}
	p.excursionsOpen = false
}

func (p *Protocol) lost() {
	if p.state != Disconnected {
		p.stats.Disconnects++
	}
	p.state = Disconnected
	p.revert()
	if p.Graph != nil {
		p.Graph.EnableGraph(false)
	}
}

func (p *Protocol) revert() {
	p.stats.Reverts++
	p.HeartRates.RevertReadToAck()
	p.Excursions.RevertReadToAck()
	p.excursionsOpen = false
}

func (p *Protocol) drainReplies() {
	for {
		select {
		case <-p.Transport.Replies():
		default:
			return
		}
	}
}
