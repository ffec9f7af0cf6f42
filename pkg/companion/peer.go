// Package companion is the collecting side of the link. It answers time
// requests and checkins from the device and publishes the received
// records.
package companion

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/golang/protobuf/proto"

	"github.com/robotalks/cardiotag/pkg/link"
	pb "github.com/robotalks/cardiotag/pkg/proto/cardio/v1"
	"github.com/robotalks/cardiotag/pkg/telemetry"
)

// Stats counts peer activities.
type Stats struct {
	TimeRequests  uint64
	Checkins      uint64
	Gaps          uint64
	Silenced      uint64
	HeartRates    uint64
	Resends       uint64
	Excursions    uint64
	Steps         uint64
	Blocks        uint64
	Malformed     uint64
	PublishErrors uint64
}

// Peer serves one device over an Endpoint.
type Peer struct {
	Endpoint  *link.Endpoint
	DeviceID  string
	Publisher Publisher
	// SilentCheckins drops checkins without reply, so the device gives up
	// on the link and reverts.
	SilentCheckins bool

	now func() time.Time

	lock          sync.Mutex
	stats         Stats
	highest       uint32
	lastExcursion uint32
}

// NewPeer creates a Peer.
func NewPeer(ep *link.Endpoint, deviceID string, pub Publisher) *Peer {
	return &Peer{
		Endpoint:  ep,
		DeviceID:  deviceID,
		Publisher: pub,
		now:       time.Now,
	}
}

// Stats returns the counters.
func (p *Peer) Stats() Stats {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.stats
}

// SetSilentCheckins switches SilentCheckins while running.
func (p *Peer) SetSilentCheckins(silent bool) {
	p.lock.Lock()
	p.SilentCheckins = silent
	p.lock.Unlock()
}

// HighWaterMark is the newest heart-rate time received.
func (p *Peer) HighWaterMark() uint32 {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.highest
}

// Run implements Runnable.
func (p *Peer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload := <-p.Endpoint.Replies():
			// frames ahead of the checkin are already queued
			p.drainFrames()
			p.handleCheckin(payload)
		case f := <-p.Endpoint.Frames():
			p.handleFrame(f)
		}
	}
}

func (p *Peer) drainFrames() {
	for {
		select {
		case f := <-p.Endpoint.Frames():
			p.handleFrame(f)
		default:
			return
		}
	}
}

func (p *Peer) handleCheckin(payload []byte) {
	switch len(payload) {
	case 0:
		p.lock.Lock()
		p.stats.TimeRequests++
		p.lock.Unlock()
		epoch := uint32(p.now().Unix())
		glog.V(1).Infof("%s: time request, reply %d", p.DeviceID, epoch)
		p.reply(telemetry.AppendEpoch(nil, epoch))
	case telemetry.CheckinSize:
		ts, _ := telemetry.ParseEpoch(payload)
		p.lock.Lock()
		p.stats.Checkins++
		if p.SilentCheckins {
			p.stats.Silenced++
			p.lock.Unlock()
			glog.V(1).Infof("%s: checkin %d ignored", p.DeviceID, ts)
			return
		}
		status := telemetry.CheckinCaughtUp
		if p.highest < ts {
			status = telemetry.CheckinGap
			p.stats.Gaps++
		}
		r := telemetry.CheckinReply{
			Epoch:        ts,
			Status:       status,
			Excursion:    p.lastExcursion,
			HasExcursion: true,
		}
		highest := p.highest
		p.lock.Unlock()
		glog.V(1).Infof("%s: checkin %d, highest %d, status %d, excursion %d", p.DeviceID, ts, highest, status, r.Excursion)
		p.reply(telemetry.AppendCheckinReply(nil, r))
	default:
		p.malformed(telemetry.ChannelCheckin, payload)
	}
}

func (p *Peer) reply(payload []byte) {
	if err := p.Endpoint.Send(telemetry.ChannelCheckin, payload); err != nil {
		glog.Warningf("%s: reply: %v", p.DeviceID, err)
	}
}

func (p *Peer) handleFrame(f *link.Frame) {
	received := p.now().UnixMilli()
	switch f.Channel {
	case telemetry.ChannelHeartRate, telemetry.ChannelHeartRateBatch:
		recs, err := telemetry.ParseHeartRates(f.Data)
		if err != nil {
			p.malformed(f.Channel, f.Data)
			return
		}
		for _, r := range recs {
			p.lock.Lock()
			resend := r.Time < p.highest
			if resend {
				p.stats.Resends++
			} else {
				p.highest = r.Time
				p.stats.HeartRates++
			}
			p.lock.Unlock()
			if !resend {
				p.publish(pb.TopicHeartRate, &pb.HeartRate{
					DeviceID:   p.DeviceID,
					Bpm:        uint32(r.BPM),
					Time:       r.Time,
					ReceivedAt: received,
				})
			}
		}
	case telemetry.ChannelActivity:
		r, err := telemetry.ParseExcursion(f.Data)
		if err != nil {
			p.malformed(f.Channel, f.Data)
			return
		}
		p.lock.Lock()
		resend := r.Start <= p.lastExcursion
		if resend {
			p.stats.Resends++
		} else {
			p.lastExcursion = r.Start
			p.stats.Excursions++
		}
		p.lock.Unlock()
		if !resend {
			p.publish(pb.TopicActivity, &pb.Excursion{
				DeviceID:      p.DeviceID,
				Start:         r.Start,
				Offset:        uint32(r.Offset),
				Steps:         uint32(r.Steps),
				ActiveSeconds: uint32(r.ActiveSeconds),
				ReceivedAt:    received,
			})
		}
	case telemetry.ChannelSteps:
		steps, err := telemetry.ParseSteps(f.Data)
		if err != nil {
			p.malformed(f.Channel, f.Data)
			return
		}
		p.count(func(s *Stats) { s.Steps++ })
		p.publish(pb.TopicSteps, &pb.Steps{DeviceID: p.DeviceID, Count: uint32(steps), ReceivedAt: received})
	case telemetry.ChannelECGBlock:
		if len(f.Data) != telemetry.ECGBlockSize {
			p.malformed(f.Channel, f.Data)
			return
		}
		p.count(func(s *Stats) { s.Blocks++ })
		p.publish(pb.TopicECG, &pb.ECGBlock{DeviceID: p.DeviceID, Samples: f.Data, ReceivedAt: received})
	default:
		p.malformed(f.Channel, f.Data)
	}
}

func (p *Peer) publish(suffix string, msg proto.Message) {
	if p.Publisher == nil {
		return
	}
	payload, err := proto.Marshal(msg)
	if err == nil {
		err = p.Publisher.Publish(pb.Topic(p.DeviceID, suffix), payload)
	}
	if err != nil {
		p.count(func(s *Stats) { s.PublishErrors++ })
		glog.Warningf("%s: publish %s: %v", p.DeviceID, suffix, err)
	}
}

func (p *Peer) malformed(ch telemetry.Channel, data []byte) {
	p.count(func(s *Stats) { s.Malformed++ })
	glog.Warningf("%s: malformed %s payload %x", p.DeviceID, ch, data)
}

func (p *Peer) count(fn func(*Stats)) {
	p.lock.Lock()
	fn(&p.stats)
	p.lock.Unlock()
}
