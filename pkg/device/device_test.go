package device

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/cardiotag/pkg/activity"
	"github.com/robotalks/cardiotag/pkg/clock"
	"github.com/robotalks/cardiotag/pkg/flash"
	"github.com/robotalks/cardiotag/pkg/framework"
	"github.com/robotalks/cardiotag/pkg/logstore"
	"github.com/robotalks/cardiotag/pkg/protocol"
	"github.com/robotalks/cardiotag/pkg/telemetry"
)

type offline struct{}

func (offline) Connected() bool                      { return false }
func (offline) Send(telemetry.Channel, []byte) error { return errors.New("offline") }
func (offline) Disconnect()                          {}
func (offline) Replies() <-chan []byte               { return nil }

type brokenFS struct{}

func (brokenFS) Open(string, int64) (flash.File, error) { return nil, errors.New("no flash") }

func testConfig() *Config {
	conf := NewConfig()
	conf.PowerSource = PowerBattery
	conf.Variant = VariantStandard
	conf.FlashDir = ""
	conf.HeartRates = StoreConfig{SegmentSize: 800, SegmentCount: 2}
	conf.Activity = StoreConfig{SegmentSize: 800, SegmentCount: 2}
	conf.Seed = 1
	return conf
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name   string
		modify func(*Config)
	}{
		{"power", func(c *Config) { c.PowerSource = "solar" }},
		{"variant", func(c *Config) { c.Variant = "color" }},
		{"hr-segments", func(c *Config) { c.HeartRates.SegmentCount = 1 }},
		{"activity-slot", func(c *Config) { c.Activity.SegmentSize = 4 }},
		{"sample-period", func(c *Config) { c.SamplePeriod = 0 }},
		{"sync-attempts", func(c *Config) { c.SyncAttempts = 0 }},
		{"graph-queue", func(c *Config) { c.GraphQueue = 8 }},
	}
	require.NoError(t, testConfig().Validate())
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			conf := testConfig()
			c.modify(conf)
			require.ErrorIs(t, conf.Validate(), ErrInvalidConfig)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "cardiotag.yaml")
	require.NoError(t, os.WriteFile(fn, []byte(`
power_source: usb
variant: graph
active_time: true
heart_rates:
  segment_size: 1600
  segment_count: 4
checkin_interval: 5s
`), 0644))
	conf, err := LoadConfig(fn)
	require.NoError(t, err)
	require.True(t, conf.Diagnostics())
	require.True(t, conf.Graph())
	require.True(t, conf.ActiveTime)
	require.Equal(t, StoreConfig{SegmentSize: 1600, SegmentCount: 4}, conf.HeartRates)
	require.Equal(t, defaultConfig.Activity, conf.Activity)
	require.Equal(t, 5*time.Second, conf.CheckinInterval)
	require.Equal(t, 5*time.Second, conf.Protocol().CheckinInterval)
	require.True(t, conf.Protocol().ActiveTime)

	require.NoError(t, os.WriteFile(fn, []byte("variant: color\n"), 0644))
	_, err = LoadConfig(fn)
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestGraphSample(t *testing.T) {
	cases := []struct {
		in  float64
		out byte
	}{
		{0, 128},
		{1, 192},
		{-1, 64},
		{-3, 0},
		{3, 255},
	}
	for _, c := range cases {
		require.Equal(t, c.out, GraphSample(c.in), "sample %v", c.in)
	}
}

func TestSamplerLeadsOff(t *testing.T) {
	fe := NewSimFrontend(200, 72)
	d, err := New(testConfig(), Hardware{Frontend: fe, Pedometer: &activity.SimPedometer{}, Transport: offline{}, Source: &clock.Manual{}})
	require.NoError(t, err)
	d.Clock.Set(1000)

	fe.SetLeadsOff(true)
	for i := 0; i < 30*200; i++ {
		d.Sampler.Tick()
	}
	stats := d.Sampler.Stats()
	require.Equal(t, uint64(30*200), stats.Ticks)
	require.Equal(t, stats.Ticks, stats.LeadsOff)
	require.Zero(t, stats.Beats)
	_, ok := d.Sampler.TakeReading()
	require.False(t, ok)
}

func TestSamplerGraph(t *testing.T) {
	sample := 0.5
	fe := FrontendFunc(func() (float64, bool) { return sample, false })

	conf := testConfig()
	d, err := New(conf, Hardware{Frontend: fe, Pedometer: &activity.SimPedometer{}, Transport: offline{}})
	require.NoError(t, err)
	d.Sampler.EnableGraph(true)
	require.False(t, d.Sampler.GraphEnabled())
	require.Nil(t, d.Protocol.Graph)

	conf = testConfig()
	conf.Variant = VariantGraph
	d, err = New(conf, Hardware{Frontend: fe, Pedometer: &activity.SimPedometer{}, Transport: offline{}})
	require.NoError(t, err)
	require.NotNil(t, d.Protocol.Graph)

	var block [telemetry.ECGBlockSize]byte
	for i := 0; i < telemetry.ECGBlockSize; i++ {
		d.Sampler.Tick()
	}
	require.False(t, d.Sampler.GraphBlock(block[:]))

	d.Sampler.EnableGraph(true)
	for i := 0; i < telemetry.ECGBlockSize-1; i++ {
		d.Sampler.Tick()
	}
	require.False(t, d.Sampler.GraphBlock(block[:]))
	d.Sampler.Tick()
	require.True(t, d.Sampler.GraphBlock(block[:]))
	for _, b := range block {
		require.Equal(t, byte(160), b)
	}

	d.Sampler.Tick()
	d.Sampler.EnableGraph(false)
	d.Sampler.EnableGraph(true)
	for i := 0; i < telemetry.ECGBlockSize-1; i++ {
		d.Sampler.Tick()
	}
	require.False(t, d.Sampler.GraphBlock(block[:]))
}

func TestDeviceLoop(t *testing.T) {
	ped := &activity.SimPedometer{}
	d, err := New(testConfig(), Hardware{
		Frontend:  NewSimFrontend(200, 72),
		Pedometer: ped,
		Transport: offline{},
		Source:    &clock.Manual{},
	})
	require.NoError(t, err)
	require.False(t, d.Degraded)

	l := framework.NewLoop()
	l.Add(d)
	ctx := context.Background()

	// nothing is produced before time sync
	for i := 0; i < 5*200; i++ {
		d.Sampler.Tick()
	}
	l.RunCycle(ctx)
	require.Equal(t, logstore.Pointers{}, d.HeartRates.Pointers())

	d.Clock.Set(1000)
	for sec := 0; sec < 20; sec++ {
		for i := 0; i < 200; i++ {
			d.Sampler.Tick()
		}
		l.RunCycle(ctx)
	}
	beats := d.Sampler.Stats().Beats
	require.Greater(t, beats, uint64(10))
	require.Equal(t, beats, d.HeartRates.Pointers().Write)
	require.Zero(t, d.Sampler.LiveDropped())

	ped.Step(3)
	l.RunCycle(ctx)
	require.True(t, d.Tracker.InExcursion())

	require.Equal(t, protocol.Disconnected, d.Protocol.State())
	require.NoError(t, d.Close())
}

func TestDeviceFlashFallback(t *testing.T) {
	d, err := New(testConfig(), Hardware{
		Frontend:  NewSimFrontend(200, 72),
		Pedometer: &activity.SimPedometer{},
		Transport: offline{},
		FS:        brokenFS{},
	})
	require.NoError(t, err)
	require.True(t, d.Degraded)
	require.NoError(t, d.HeartRates.Append(telemetry.HeartRate{BPM: 70, Time: 1}))
	require.Equal(t, uint64(1), d.HeartRates.Pointers().Write)
}

func TestDeviceFlashDir(t *testing.T) {
	conf := testConfig()
	conf.FlashDir = t.TempDir()
	d, err := New(conf, Hardware{
		Frontend:  NewSimFrontend(200, 72),
		Pedometer: &activity.SimPedometer{},
		Transport: offline{},
	})
	require.NoError(t, err)
	require.False(t, d.Degraded)
	require.FileExists(t, filepath.Join(conf.FlashDir, logstore.SegmentName("hr", 0)))
	require.FileExists(t, filepath.Join(conf.FlashDir, logstore.SegmentName("activity", 1)))
	require.NoError(t, d.Close())
}
