package main

//go-build: CGO_ENABLED=0

import (
	"context"
	"flag"
	"io"
	"net"
	"net/http"
	"os"

	"github.com/golang/glog"

	"github.com/robotalks/cardiotag/pkg/companion"
	"github.com/robotalks/cardiotag/pkg/companion/mqtt"
	"github.com/robotalks/cardiotag/pkg/companion/nats"
	"github.com/robotalks/cardiotag/pkg/framework"
	"github.com/robotalks/cardiotag/pkg/link"
)

var (
	listenAddr string
	httpAddr   string
	mqttURL    string
	natsURL    string
	natsPrefix = "cardio"
	deviceID   string
	silent     bool
)

func init() {
	listenAddr = ":7700"
	if val := os.Getenv("CARDIOTAG_MQTT_URL"); val != "" {
		mqttURL = val
	}
	if val := os.Getenv("CARDIOTAG_NATS_URL"); val != "" {
		natsURL = val
	}
	flag.StringVar(&listenAddr, "listen", listenAddr, "TCP address for device links, empty to disable.")
	flag.StringVar(&httpAddr, "http", httpAddr, "HTTP address serving websocket links on /link.")
	flag.StringVar(&mqttURL, "mqtt", mqttURL, "MQTT broker URL, e.g. mqtt://localhost:1883/cardio.")
	flag.StringVar(&natsURL, "nats", natsURL, "NATS URL, e.g. nats://127.0.0.1:4222.")
	flag.StringVar(&natsPrefix, "nats-prefix", natsPrefix, "NATS subject prefix.")
	flag.StringVar(&deviceID, "device", deviceID, "Device ID used in topics, derived from the host if empty.")
	flag.BoolVar(&silent, "silent", silent, "Never answer checkins.")
}

func main() {
	flag.Parse()
	defer glog.Flush()

	if deviceID == "" {
		deviceID = companion.DefaultDeviceID()
	}

	pubs := companion.Publishers{companion.LogPublisher{}}
	defer func() {
		if err := pubs.Close(); err != nil {
			glog.Warning(err)
		}
	}()

	endpoint := link.NewEndpoint(64)
	peer := companion.NewPeer(endpoint, deviceID, nil)
	peer.SilentCheckins = silent

	if mqttURL != "" {
		q, err := mqtt.NewQueueFromURL(mqttURL)
		if err != nil {
			glog.Exit(err)
		}
		if err := q.Connect(); err != nil {
			glog.Exitf("mqtt %s: %v", mqttURL, err)
		}
		if err := q.Sub(deviceID+"/control", controlHandler(peer)); err != nil {
			glog.Warningf("subscribe control: %v", err)
		}
		pubs = append(pubs, q)
	}
	if natsURL != "" {
		p, err := nats.Connect(natsURL, natsPrefix)
		if err != nil {
			glog.Exitf("nats %s: %v", natsURL, err)
		}
		pubs = append(pubs, p)
	}
	peer.Publisher = pubs

	serve := func(ctx context.Context, conn io.ReadWriteCloser) {
		if err := endpoint.Serve(ctx, conn); err != nil && ctx.Err() == nil {
			glog.Warningf("link: %v", err)
		}
	}

	runner := framework.NewRunner().HandleSignals()
	runner.Go(framework.NamedRun("peer", peer))
	if listenAddr != "" {
		ln, err := net.Listen("tcp", listenAddr)
		if err != nil {
			glog.Exit(err)
		}
		glog.Infof("listening on %s", ln.Addr())
		runner.Go(framework.NamedRun("tcp", framework.RunFunc(func(ctx context.Context) error {
			return link.Accept(ctx, ln, serve)
		})))
	}
	if httpAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/link", link.WebsocketHandler(runner.Context, serve))
		srv := &http.Server{Addr: httpAddr, Handler: mux}
		runner.Go(framework.NamedRun("http", framework.RunFunc(func(ctx context.Context) error {
			return framework.RunWithContextCancel(ctx, func() { srv.Close() }, srv.ListenAndServe)
		})))
	}
	if err := runner.Wait(); err != nil {
		glog.Error(err)
	}
	stats := peer.Stats()
	glog.Infof("%s: %d heart rates, %d excursions, %d resends, %d checkins (%d gaps)",
		deviceID, stats.HeartRates, stats.Excursions, stats.Resends, stats.Checkins, stats.Gaps)
}

func controlHandler(peer *companion.Peer) mqtt.Handler {
	return func(topic string, payload []byte) {
		switch string(payload) {
		case "silent":
			peer.SetSilentCheckins(true)
		case "normal":
			peer.SetSilentCheckins(false)
		default:
			glog.Warningf("%s: unknown control %q", topic, payload)
			return
		}
		glog.Infof("%s: %s", topic, payload)
	}
}
