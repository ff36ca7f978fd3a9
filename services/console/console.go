// Package console is a line-oriented diagnostics shell read from a serial
// stream (UART on the board, stdin on host builds).
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/shlex"

	"foxco2-go/errcode"
	"foxco2-go/services/ota"
	"foxco2-go/types"
	"foxco2-go/x/conv"
)

// Sensor is the part of the SCD30 driver the console may poke.
type Sensor interface {
	StartPeriodic(pressureMbar uint16)
	StopPeriodic()
	SetSelfCalibration(on bool)
	DataReady() (bool, error)
	FirmwareVersion() (major, minor uint8, err error)
}

// Poller triggers an immediate measurement (sensor.Service).
type Poller interface {
	ReadNow() types.Measurement
}

// Network is the connectivity monitor.
type Network interface {
	TurnOn() error
	TurnOff() error
	Status() types.NetStatus
}

// Slots reports the firmware slot record.
type Slots interface {
	Info() ota.SlotInfo
}

// Console executes commands. Any dependency may be nil; its commands then
// report "unsupported".
type Console struct {
	Version string
	Sensor  Sensor
	Poller  Poller
	Net     Network
	Slots   Slots
	Restart func()

	out   io.Writer
	log   *slog.Logger
	start time.Time
}

func New(out io.Writer, log *slog.Logger) *Console {
	if log == nil {
		log = slog.Default()
	}
	return &Console{out: out, log: log, start: time.Now()}
}

type command struct {
	usage string
	run   func(c *Console, args []string) error
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"help":   {"help", (*Console).help},
		"status": {"status", (*Console).status},
		"read":   {"read", (*Console).read},
		"start":  {"start [mbar]", (*Console).startPeriodic},
		"stop":   {"stop", (*Console).stopPeriodic},
		"asc":    {"asc on|off", (*Console).asc},
		"net":    {"net on|off", (*Console).net},
		"slot":   {"slot", (*Console).slot},
		"reboot": {"reboot", (*Console).reboot},
	}
}

// Run reads lines from r until EOF or ctx ends.
func (c *Console) Run(ctx context.Context, r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 128), 256)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		if err := c.Exec(sc.Text()); err != nil {
			fmt.Fprintf(c.out, "error: %v\n", err)
		}
	}
}

// Exec runs one command line.
func (c *Console) Exec(line string) error {
	args, err := shlex.Split(line)
	if err != nil {
		return errcode.Wrap(errcode.Error, "console.parse", err)
	}
	if len(args) == 0 {
		return nil
	}
	cmd, ok := commands[strings.ToLower(args[0])]
	if !ok {
		return errcode.New(errcode.Unsupported, "console", "unknown command "+strconv.Quote(args[0])+", try help")
	}
	c.log.Debug("console:exec", slog.String("cmd", args[0]))
	return cmd.run(c, args[1:])
}

func (c *Console) help(_ []string) error {
	for _, name := range []string{"status", "read", "start", "stop", "asc", "net", "slot", "reboot", "help"} {
		fmt.Fprintln(c.out, "  "+commands[name].usage)
	}
	return nil
}

func (c *Console) status(_ []string) error {
	fmt.Fprintf(c.out, "version %s uptime %s\n", c.Version, time.Since(c.start).Truncate(time.Second))
	if c.Net != nil {
		st := c.Net.Status()
		fmt.Fprintf(c.out, "net %s ready=%t addr=%s\n", st.State, st.Ready, st.Addr)
	}
	if c.Sensor != nil {
		if maj, mnr, err := c.Sensor.FirmwareVersion(); err == nil {
			var b [4]byte
			fmt.Fprintf(c.out, "scd30 firmware %d.%d (0x%s)\n", maj, mnr, conv.U16Hex(b[:], uint16(maj)<<8|uint16(mnr)))
		} else {
			fmt.Fprintf(c.out, "scd30 unreachable: %v\n", err)
		}
	}
	return nil
}

func (c *Console) read(_ []string) error {
	if c.Poller == nil {
		return errcode.Unsupported
	}
	if c.Sensor != nil {
		if ok, err := c.Sensor.DataReady(); err == nil && !ok {
			fmt.Fprintln(c.out, "note: sensor reports no new data")
		}
	}
	m := c.Poller.ReadNow()
	if !m.Valid {
		fmt.Fprintln(c.out, "read failed")
		return nil
	}
	fmt.Fprintf(c.out, "co2 %.0f ppm temp %.2f C hum %.1f %%\n", m.CO2, m.Temp, m.Hum)
	var b [8]byte
	fmt.Fprintf(c.out, "raw co2=%s", conv.U32Hex(b[:], m.CO2Raw))
	fmt.Fprintf(c.out, " temp=%s", conv.U32Hex(b[:], m.TempRaw))
	fmt.Fprintf(c.out, " hum=%s\n", conv.U32Hex(b[:], m.HumRaw))
	return nil
}

func (c *Console) startPeriodic(args []string) error {
	if c.Sensor == nil {
		return errcode.Unsupported
	}
	var mbar uint64
	if len(args) > 0 {
		v, err := strconv.ParseUint(args[0], 10, 16)
		if err != nil || (v != 0 && (v < 700 || v > 1400)) {
			return errcode.New(errcode.Error, "console.start", "pressure must be 0 or 700..1400 mbar")
		}
		mbar = v
	}
	c.Sensor.StartPeriodic(uint16(mbar))
	fmt.Fprintln(c.out, "ok")
	return nil
}

func (c *Console) stopPeriodic(_ []string) error {
	if c.Sensor == nil {
		return errcode.Unsupported
	}
	c.Sensor.StopPeriodic()
	fmt.Fprintln(c.out, "ok")
	return nil
}

func (c *Console) asc(args []string) error {
	if c.Sensor == nil {
		return errcode.Unsupported
	}
	on, err := onOff(args)
	if err != nil {
		return err
	}
	c.Sensor.SetSelfCalibration(on)
	fmt.Fprintln(c.out, "ok")
	return nil
}

func (c *Console) net(args []string) error {
	if c.Net == nil {
		return errcode.Unsupported
	}
	on, err := onOff(args)
	if err != nil {
		return err
	}
	if on {
		err = c.Net.TurnOn()
	} else {
		err = c.Net.TurnOff()
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(c.out, "ok")
	return nil
}

func (c *Console) slot(_ []string) error {
	if c.Slots == nil {
		return errcode.Unsupported
	}
	in := c.Slots.Info()
	fmt.Fprintf(c.out, "active %s %s tries=%d len A=%d B=%d\n", in.Active, in.State, in.Tries, in.Length[0], in.Length[1])
	return nil
}

func (c *Console) reboot(_ []string) error {
	if c.Restart == nil {
		return errcode.Unsupported
	}
	fmt.Fprintln(c.out, "rebooting")
	c.Restart()
	return nil
}

func onOff(args []string) (bool, error) {
	if len(args) == 1 {
		switch strings.ToLower(args[0]) {
		case "on", "1", "true":
			return true, nil
		case "off", "0", "false":
			return false, nil
		}
	}
	return false, errcode.New(errcode.Error, "console", "expected on|off")
}
