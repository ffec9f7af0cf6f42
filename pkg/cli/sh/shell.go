// Package sh is an interactive shell inspecting flash images written by
// the device.
package sh

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"

	"github.com/abiosoft/ishell"
	"github.com/golang/glog"

	"github.com/robotalks/cardiotag/pkg/device"
	"github.com/robotalks/cardiotag/pkg/telemetry"
)

// Shell provides ishell backed interactive shell.
type Shell struct {
	Interactive bool
	OutputJSON  bool

	Shell  *ishell.Shell
	Config *device.Config
	Image  *Image
}

const (
	shellKey      = "$shell"
	noImagePrompt = "[none] > "
)

// ErrNoImage indicates a command needs an opened image.
var ErrNoImage = errors.New("no image opened")

var (
	evalOnly   bool
	outputJSON bool

	commands = []*ishell.Cmd{
		&OpenCmd,
		&CloseCmd,
		&SegmentsCmd,
		&DumpCmd,
	}
)

func init() {
	flag.BoolVar(&evalOnly, "e", evalOnly, "Evaluation only, no interactive shell.")
	flag.BoolVar(&outputJSON, "json", outputJSON, "Print output in JSON.")
}

// New creates a new shell.
func New(conf *device.Config) *Shell {
	s := &Shell{
		Interactive: !evalOnly,
		OutputJSON:  outputJSON,
		Shell:       ishell.New(),
		Config:      conf,
	}
	s.Shell.Set(shellKey, s)
	s.Shell.SetPrompt(noImagePrompt)
	for _, cmd := range commands {
		s.Shell.AddCmd(cmd)
	}
	return s
}

// ShellFrom gets Shell from ishell context.
func ShellFrom(c *ishell.Context) *Shell {
	return c.Get(shellKey).(*Shell)
}

// MustBeOpened wraps command func requires an image.
func MustBeOpened(fn func(c *ishell.Context)) func(c *ishell.Context) {
	return func(c *ishell.Context) {
		if ShellFrom(c).Image == nil {
			c.Err(ErrNoImage)
			return
		}
		fn(c)
	}
}

// Open opens the image under dir, replacing the current one.
func (s *Shell) Open(dir string) error {
	img, err := OpenImage(dir, s.Config)
	if err != nil {
		return err
	}
	s.Close()
	s.Image = img
	s.setPrompt(fmt.Sprintf("[%s] > ", dir))
	return nil
}

// Close closes the current image.
func (s *Shell) Close() {
	if s.Image != nil {
		if err := s.Image.Close(); err != nil {
			glog.Warningf("close %s: %v", s.Image.Dir, err)
		}
		s.Image = nil
		s.setPrompt(noImagePrompt)
	}
}

func (s *Shell) setPrompt(prompt string) {
	if s.Shell != nil {
		s.Shell.SetPrompt(prompt)
	}
}

// PrintSegments writes the segment table.
func (s *Shell) PrintSegments(w io.Writer) error {
	infos, err := s.Image.Segments()
	if err != nil {
		return err
	}
	if s.OutputJSON {
		return json.NewEncoder(w).Encode(infos)
	}
	for _, info := range infos {
		fmt.Fprintf(w, "%s %d/%d\n", info.Name, info.Used, info.Slots)
	}
	return nil
}

// PrintDump writes up to n records of the named log.
func (s *Shell) PrintDump(w io.Writer, name string, n int) error {
	slots, err := s.Image.Dump(name, n)
	if err != nil {
		return err
	}
	if s.OutputJSON {
		if slots == nil {
			slots = []Slot{}
		}
		return json.NewEncoder(w).Encode(slots)
	}
	for _, slot := range slots {
		switch r := slot.Record.(type) {
		case telemetry.HeartRate:
			fmt.Fprintf(w, "%6d %d %d bpm\n", slot.Index, r.Time, r.BPM)
		case telemetry.Excursion:
			fmt.Fprintf(w, "%6d %d +%ds %d steps %ds active\n", slot.Index, r.Start, r.Offset, r.Steps, r.ActiveSeconds)
		}
	}
	return nil
}

// Run runs the shell.
func (s *Shell) Run(args ...string) error {
	defer s.Close()
	if len(args) > 0 {
		return s.Shell.Process(args...)
	}
	if s.Interactive {
		s.Shell.Run()
		return nil
	}
	return errors.New("command expected")
}

var (
	// OpenCmd opens a flash directory.
	OpenCmd = ishell.Cmd{
		Name:    "open",
		Aliases: []string{"o"},
		Help:    "DIR",
		Func: func(c *ishell.Context) {
			if len(c.Args) != 1 {
				c.Err(fmt.Errorf("expect DIR"))
				return
			}
			if err := ShellFrom(c).Open(c.Args[0]); err != nil {
				c.Err(err)
			}
		},
	}

	// CloseCmd closes the image.
	CloseCmd = ishell.Cmd{
		Name: "close",
		Func: func(c *ishell.Context) {
			ShellFrom(c).Close()
		},
	}

	// SegmentsCmd lists segments with used slots.
	SegmentsCmd = ishell.Cmd{
		Name:    "segments",
		Aliases: []string{"seg"},
		Func: MustBeOpened(func(c *ishell.Context) {
			var out bytes.Buffer
			if err := ShellFrom(c).PrintSegments(&out); err != nil {
				c.Err(err)
				return
			}
			c.Print(out.String())
		}),
	}

	// DumpCmd prints records.
	DumpCmd = ishell.Cmd{
		Name: "dump",
		Help: "hr|activity [N]",
		Func: MustBeOpened(func(c *ishell.Context) {
			if len(c.Args) < 1 {
				c.Err(fmt.Errorf("expect hr or activity"))
				return
			}
			n := 0
			if len(c.Args) > 1 {
				var err error
				if n, err = strconv.Atoi(c.Args[1]); err != nil {
					c.Err(err)
					return
				}
			}
			var out bytes.Buffer
			if err := ShellFrom(c).PrintDump(&out, c.Args[0], n); err != nil {
				c.Err(err)
				return
			}
			c.Print(out.String())
		}),
	}
)

// Main is a helper to provide a single call in main.
func Main() {
	flag.Parse()
	s := New(device.Default())
	if dir := device.Default().FlashDir; dir != "" {
		if err := s.Open(dir); err != nil {
			glog.Exitf("open %s: %v", dir, err)
		}
	}
	if err := s.Run(flag.Args()...); err != nil {
		glog.Exit(err)
	}
}
