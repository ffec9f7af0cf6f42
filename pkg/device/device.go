// Package device assembles the monitor: the tick-driven sampler, the flash
// logs, the excursion tracker and the delivery protocol, wired as
// controllers of the main loop.
package device

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/cardiotag/pkg/activity"
	"github.com/robotalks/cardiotag/pkg/clock"
	"github.com/robotalks/cardiotag/pkg/ecg"
	"github.com/robotalks/cardiotag/pkg/flash"
	"github.com/robotalks/cardiotag/pkg/framework"
	"github.com/robotalks/cardiotag/pkg/logstore"
	"github.com/robotalks/cardiotag/pkg/protocol"
	"github.com/robotalks/cardiotag/pkg/telemetry"
)

// Hardware are the collaborators the device runs on.
type Hardware struct {
	Frontend  Frontend
	Pedometer activity.Pedometer
	Transport protocol.Transport
	// FS overrides Config.FlashDir when set.
	FS flash.FS
	// Source is the monotonic time base, started at boot when nil.
	Source clock.Source
}

// Device is an assembled monitor.
type Device struct {
	Config     *Config
	Clock      *clock.Wall
	Sampler    *Sampler
	HeartRates *logstore.Store[telemetry.HeartRate]
	Activity   *logstore.Store[telemetry.Excursion]
	Tracker    *activity.Tracker
	Protocol   *protocol.Protocol

	// Degraded is set when flash was unavailable and RAM is used.
	Degraded bool

	lastDiag time.Time
}

// New boots a device: flash logs are opened and formatted, a flash
// failure falls back to RAM.
func New(conf *Config, hw Hardware) (*Device, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	src := hw.Source
	if src == nil {
		src = clock.Since(time.Now())
	}
	d := &Device{Config: conf, Clock: clock.NewWall(src)}

	seed := conf.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	det := ecg.NewDetector(d.Clock, rand.New(rand.NewSource(seed)))
	graphQueue := 0
	if conf.Graph() {
		graphQueue = conf.GraphQueue
	}
	d.Sampler = NewSampler(hw.Frontend, det, conf.SamplePeriod, conf.LiveQueue, graphQueue)

	fs := hw.FS
	if fs == nil {
		fs = openFlash(conf.FlashDir)
		d.Degraded = conf.FlashDir != "" && isMem(fs)
	}
	if err := d.openStores(fs); err != nil {
		if isMem(fs) {
			return nil, err
		}
		glog.Errorf("flash unavailable, falling back to RAM: %v", err)
		d.Degraded = true
		if err = d.openStores(flash.NewMemFS()); err != nil {
			return nil, err
		}
	}

	d.Tracker = activity.NewTracker(hw.Pedometer, d.Clock, d.Activity, conf.ActiveTime)
	d.Protocol = protocol.New(conf.Protocol(), hw.Transport, d.HeartRates, d.Activity, d.Clock)
	d.Protocol.Steps = d.Tracker
	if conf.Graph() {
		d.Protocol.Graph = d.Sampler
	}
	return d, nil
}

func openFlash(dir string) flash.FS {
	if dir == "" {
		return flash.NewMemFS()
	}
	fs, err := flash.NewDirFS(dir)
	if err != nil {
		glog.Errorf("flash dir %s unavailable, falling back to RAM: %v", dir, err)
		return flash.NewMemFS()
	}
	return fs
}

func isMem(fs flash.FS) bool {
	_, ok := fs.(*flash.MemFS)
	return ok
}

func (d *Device) openStores(fs flash.FS) (err error) {
	d.closeStores()
	if d.HeartRates, err = logstore.New[telemetry.HeartRate](fs, d.Config.HeartRateStore(), telemetry.HeartRateCodec{}); err != nil {
		return err
	}
	codec := telemetry.ExcursionCodec{ActiveTime: d.Config.ActiveTime}
	if d.Activity, err = logstore.New[telemetry.Excursion](fs, d.Config.ActivityStore(), codec); err != nil {
		d.closeStores()
		return err
	}
	if err = d.HeartRates.Format(); err == nil {
		err = d.Activity.Format()
	}
	if err != nil {
		d.closeStores()
	}
	return err
}

func (d *Device) closeStores() {
	if d.HeartRates != nil {
		d.HeartRates.Close()
		d.HeartRates = nil
	}
	if d.Activity != nil {
		d.Activity.Close()
		d.Activity = nil
	}
}

// Close releases the flash logs.
func (d *Device) Close() error {
	var errs framework.AggregatedError
	if d.HeartRates != nil {
		errs.Add(d.HeartRates.Close())
	}
	if d.Activity != nil {
		errs.Add(d.Activity.Close())
	}
	return errs.Aggregate()
}

// AddToLoop implements framework.LoopAdder.
func (d *Device) AddToLoop(l *framework.Loop) {
	l.AddRunnable(d.Sampler)
	l.AddController(framework.PrLvSense, framework.ControlFunc(d.drainReadings))
	l.AddController(framework.PrLvStore, framework.ControlFunc(d.updateActivity))
	l.AddController(framework.PrLvDeliver, framework.ControlFunc(d.deliver))
	if d.Config.Diagnostics() {
		l.AddController(framework.PrLvDiag, framework.ControlFunc(d.diagnose))
	}
}

func (d *Device) drainReadings(framework.ControlContext) error {
	for {
		ev, ok := d.Sampler.TakeReading()
		if !ok {
			return nil
		}
		if err := d.HeartRates.Append(ev); err != nil {
			return fmt.Errorf("append heart rate: %w", err)
		}
	}
}

func (d *Device) updateActivity(framework.ControlContext) error {
	if _, _, err := d.Tracker.Update(); err != nil {
		return fmt.Errorf("append excursion: %w", err)
	}
	return nil
}

func (d *Device) deliver(cc framework.ControlContext) error {
	return d.Protocol.Step(cc.Context())
}

func (d *Device) diagnose(cc framework.ControlContext) error {
	if !d.lastDiag.IsZero() && cc.Time().Sub(d.lastDiag) < d.Config.DiagInterval {
		return nil
	}
	d.lastDiag = cc.Time()
	ss := d.Sampler.Stats()
	ps := d.Protocol.Stats()
	glog.Infof("diag: state=%s ticks=%d leads-off=%d beats=%d dropped=%d hr=%+v activity=%+v sent=%d/%d acks=%d reverts=%d",
		d.Protocol.State(), ss.Ticks, ss.LeadsOff, ss.Beats, d.Sampler.LiveDropped(),
		d.HeartRates.Pointers(), d.Activity.Pointers(), ps.Records, ps.Batches, ps.Acks, ps.Reverts)
	return nil
}
