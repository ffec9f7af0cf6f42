package device

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/robotalks/cardiotag/pkg/logstore"
	"github.com/robotalks/cardiotag/pkg/protocol"
	"github.com/robotalks/cardiotag/pkg/telemetry"
)

// PowerSource selects how chatty the device is.
type PowerSource string

// Power sources.
const (
	PowerBattery PowerSource = "battery"
	PowerUSB     PowerSource = "usb"
)

// Variant selects the companion protocol variant.
type Variant string

// Variants.
const (
	VariantStandard Variant = "standard"
	VariantGraph    Variant = "graph"
)

// ErrInvalidConfig indicates a config value out of range.
var ErrInvalidConfig = errors.New("invalid config")

// StoreConfig is the flash geometry of a log.
type StoreConfig struct {
	SegmentSize  int64 `yaml:"segment_size"`
	SegmentCount int   `yaml:"segment_count"`
}

// Config defines the configuration of the device.
type Config struct {
	PowerSource PowerSource `yaml:"power_source"`
	Variant     Variant     `yaml:"variant"`
	ActiveTime  bool        `yaml:"active_time"`

	// FlashDir holds the segment files, RAM is used when empty.
	FlashDir   string      `yaml:"flash_dir"`
	HeartRates StoreConfig `yaml:"heart_rates"`
	Activity   StoreConfig `yaml:"activity"`

	SamplePeriod    time.Duration `yaml:"sample_period"`
	LoopInterval    time.Duration `yaml:"loop_interval"`
	SyncTimeout     time.Duration `yaml:"sync_timeout"`
	SyncAttempts    int           `yaml:"sync_attempts"`
	CheckinInterval time.Duration `yaml:"checkin_interval"`
	CheckinTimeout  time.Duration `yaml:"checkin_timeout"`
	// DiagInterval is how often diagnostics are logged on USB power.
	DiagInterval time.Duration `yaml:"diag_interval"`

	// LiveQueue and GraphQueue size the queues crossing the sampling tick.
	LiveQueue  int `yaml:"live_queue"`
	GraphQueue int `yaml:"graph_queue"`
	// Seed of the detector jitter, 0 picks one from the time.
	Seed int64 `yaml:"seed"`
}

var defaultConfig = Config{
	PowerSource:     PowerBattery,
	Variant:         VariantStandard,
	HeartRates:      StoreConfig{SegmentSize: 128000, SegmentCount: 11},
	Activity:        StoreConfig{SegmentSize: 128000, SegmentCount: 3},
	SamplePeriod:    5 * time.Millisecond,
	LoopInterval:    10 * time.Millisecond,
	SyncTimeout:     2 * time.Second,
	SyncAttempts:    5,
	CheckinInterval: 10 * time.Second,
	CheckinTimeout:  time.Second,
	DiagInterval:    5 * time.Second,
	LiveQueue:       16,
	GraphQueue:      256,
}

func init() {
	if val := os.Getenv("CARDIOTAG_POWER"); val != "" {
		defaultConfig.PowerSource = PowerSource(val)
	}
	if val := os.Getenv("CARDIOTAG_VARIANT"); val != "" {
		defaultConfig.Variant = Variant(val)
	}
	if val := os.Getenv("CARDIOTAG_ACTIVE_TIME"); val != "" {
		defaultConfig.ActiveTime, _ = strconv.ParseBool(val)
	}
	if val := os.Getenv("CARDIOTAG_FLASH_DIR"); val != "" {
		defaultConfig.FlashDir = val
	}
}

// SetupFlags sets command line flags.
func SetupFlags() {
	flag.Var(&powerFlag{&defaultConfig.PowerSource}, "power", "Power source: battery or usb (usb enables diagnostics).")
	flag.Var(&variantFlag{&defaultConfig.Variant}, "variant", "Companion variant: standard or graph.")
	flag.BoolVar(&defaultConfig.ActiveTime, "active-time", defaultConfig.ActiveTime, "Record active seconds in excursions.")
	flag.StringVar(&defaultConfig.FlashDir, "flash", defaultConfig.FlashDir, "Directory for flash segments, RAM if empty.")
	flag.DurationVar(&defaultConfig.CheckinInterval, "checkin", defaultConfig.CheckinInterval, "Checkin interval.")
	flag.Int64Var(&defaultConfig.Seed, "seed", defaultConfig.Seed, "Detector jitter seed, 0 for random.")
}

// Default gets default config.
func Default() *Config {
	return &defaultConfig
}

// NewConfig creates a config with defaults.
func NewConfig() *Config {
	conf := defaultConfig
	return &conf
}

// LoadConfig reads a YAML file over the defaults.
func LoadConfig(fn string) (*Config, error) {
	data, err := os.ReadFile(fn)
	if err != nil {
		return nil, err
	}
	conf := NewConfig()
	if err := yaml.Unmarshal(data, conf); err != nil {
		return nil, fmt.Errorf("%s: %w", fn, err)
	}
	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", fn, err)
	}
	return conf, nil
}

// Validate checks the config without changing it.
func (c *Config) Validate() error {
	switch c.PowerSource {
	case PowerBattery, PowerUSB:
	default:
		return fmt.Errorf("power source %q: %w", c.PowerSource, ErrInvalidConfig)
	}
	switch c.Variant {
	case VariantStandard, VariantGraph:
	default:
		return fmt.Errorf("variant %q: %w", c.Variant, ErrInvalidConfig)
	}
	if c.HeartRates.SegmentCount < 2 || c.HeartRates.SegmentSize < telemetry.HeartRateSlotSize {
		return fmt.Errorf("heart rate log %+v: %w", c.HeartRates, ErrInvalidConfig)
	}
	if c.Activity.SegmentCount < 2 || c.Activity.SegmentSize < telemetry.ExcursionActiveSlotSize {
		return fmt.Errorf("activity log %+v: %w", c.Activity, ErrInvalidConfig)
	}
	if c.SamplePeriod <= 0 || c.LoopInterval <= 0 {
		return fmt.Errorf("sample period %s, loop interval %s: %w", c.SamplePeriod, c.LoopInterval, ErrInvalidConfig)
	}
	if c.SyncAttempts < 1 || c.SyncTimeout <= 0 || c.CheckinTimeout <= 0 || c.CheckinInterval <= 0 {
		return fmt.Errorf("protocol timing: %w", ErrInvalidConfig)
	}
	if c.LiveQueue < 1 || c.GraphQueue < telemetry.ECGBlockSize {
		return fmt.Errorf("queues %d/%d: %w", c.LiveQueue, c.GraphQueue, ErrInvalidConfig)
	}
	return nil
}

// Diagnostics tells whether diagnostic output is enabled.
func (c *Config) Diagnostics() bool {
	return c.PowerSource == PowerUSB
}

// Graph tells whether raw ECG is streamed.
func (c *Config) Graph() bool {
	return c.Variant == VariantGraph
}

// HeartRateStore returns the heart-rate log geometry.
func (c *Config) HeartRateStore() logstore.Config {
	return logstore.Config{
		Name:         "hr",
		SegmentSize:  c.HeartRates.SegmentSize,
		SegmentCount: c.HeartRates.SegmentCount,
	}
}

// ActivityStore returns the activity log geometry.
func (c *Config) ActivityStore() logstore.Config {
	return logstore.Config{
		Name:         "activity",
		SegmentSize:  c.Activity.SegmentSize,
		SegmentCount: c.Activity.SegmentCount,
	}
}

// Protocol returns the delivery timing.
func (c *Config) Protocol() protocol.Config {
	cfg := protocol.DefaultConfig()
	cfg.SyncTimeout = c.SyncTimeout
	cfg.SyncAttempts = c.SyncAttempts
	cfg.CheckinInterval = c.CheckinInterval
	cfg.CheckinTimeout = c.CheckinTimeout
	cfg.ActiveTime = c.ActiveTime
	return cfg
}

type powerFlag struct{ v *PowerSource }

func (f *powerFlag) String() string {
	if f.v == nil {
		return ""
	}
	return string(*f.v)
}

func (f *powerFlag) Set(s string) error {
	*f.v = PowerSource(s)
	return nil
}

type variantFlag struct{ v *Variant }

func (f *variantFlag) String() string {
	if f.v == nil {
		return ""
	}
	return string(*f.v)
}

func (f *variantFlag) Set(s string) error {
	*f.v = Variant(s)
	return nil
}
