package main

//go-build: CGO_ENABLED=0

import (
	"flag"
	"os"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/cardiotag/pkg/activity"
	"github.com/robotalks/cardiotag/pkg/device"
	"github.com/robotalks/cardiotag/pkg/framework"
	"github.com/robotalks/cardiotag/pkg/link"
)

var (
	companionURL = "tcp://localhost:7700"
	configFile   string
	bpm          = 72.0
	cadence      = 500 * time.Millisecond
	walk         = 2 * time.Minute
	rest         = 3 * time.Minute
)

func init() {
	if val := os.Getenv("CARDIOTAG_COMPANION_URL"); val != "" {
		companionURL = val
	}
	device.SetupFlags()
	flag.StringVar(&companionURL, "companion", companionURL, "Companion URL, tcp://HOST:PORT or ws://HOST:PORT/link.")
	flag.StringVar(&configFile, "config", configFile, "YAML config file, overrides flags.")
	flag.Float64Var(&bpm, "bpm", bpm, "Simulated heart rate.")
	flag.DurationVar(&cadence, "cadence", cadence, "Simulated step interval.")
	flag.DurationVar(&walk, "walk", walk, "Simulated walking bout.")
	flag.DurationVar(&rest, "rest", rest, "Simulated rest between bouts.")
}

func main() {
	flag.Parse()
	defer glog.Flush()

	conf := device.Default()
	if configFile != "" {
		var err error
		if conf, err = device.LoadConfig(configFile); err != nil {
			glog.Exit(err)
		}
	}

	rate := float64(time.Second) / float64(conf.SamplePeriod)
	frontend := device.NewSimFrontend(rate, bpm)
	pedometer := &activity.SimPedometer{}
	endpoint := link.NewEndpoint(0)

	dev, err := device.New(conf, device.Hardware{
		Frontend:  frontend,
		Pedometer: pedometer,
		Transport: endpoint,
	})
	if err != nil {
		glog.Exit(err)
	}
	defer dev.Close()
	if dev.Degraded {
		glog.Warning("running on RAM segments, records are lost on exit")
	}

	loop := framework.NewLoop().Add(dev)
	loop.Interval = conf.LoopInterval
	walker := &activity.Walker{Pedometer: pedometer, Cadence: cadence, Walk: walk, Rest: rest}

	glog.Infof("cardiotag %s/%s, companion %s", conf.Variant, conf.PowerSource, companionURL)
	err = framework.NewRunner().HandleSignals().Go(
		framework.NamedRun("loop", loop),
		framework.NamedRun("link", link.NewSession(companionURL, endpoint)),
		framework.NamedRun("walker", walker),
	).Wait()
	if err != nil {
		glog.Error(err)
	}
}
