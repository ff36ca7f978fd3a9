// Package scd30 provides a driver for the Sensirion SCD30 CO2, temperature
// and humidity sensor.
//
// Command frames are a 2-byte big-endian opcode, optionally followed by a
// 2-byte big-endian argument. A measurement is fetched with:
//
//	m := d.Read() // write 0x0300, settle >= 20 ms, read 18 bytes
//
// The response carries six groups of (2 data bytes, 1 CRC-8 byte). Any CRC
// mismatch discards the whole frame.
//
// Bus failures never escape Read: they degrade to the invalid sentinel
// measurement, and retry cadence belongs to the caller. Configuration
// writes are best-effort (logged, not returned) because the sensor
// tolerates missed configuration.
package scd30

import (
	"log/slog"
	"math"
	"strconv"
	"sync"
	"time"

	"tinygo.org/x/drivers"

	"foxco2-go/errcode"
	"foxco2-go/types"
)

// I2C address.
const Address = 0x61

// Command opcodes.
const (
	cmdStartPeriodic   = 0x0010
	cmdStopPeriodic    = 0x0104
	cmdSetInterval     = 0x4600
	cmdDataReady       = 0x0202
	cmdReadMeasurement = 0x0300
	cmdSelfCalibration = 0x5306
	cmdFirmwareVersion = 0xD100
	cmdSoftReset       = 0xD304
)

const (
	// FrameLen is the size of a measurement response.
	FrameLen = 18
	// MinSettle is the datasheet minimum between command and read.
	MinSettle = 20 * time.Millisecond
	// DefaultSettle leaves some margin above MinSettle.
	DefaultSettle = 22 * time.Millisecond

	crcPoly = 0x131
	crcInit = 0xFF
)

// Config controls non-hardware behaviour. All fields are optional.
type Config struct {
	// Address defaults to 0x61 if zero.
	Address uint16
	// Settle is the wait between a read command and the read. Values below
	// MinSettle are raised to DefaultSettle.
	Settle time.Duration
	Logger *slog.Logger
}

// Device wraps an I2C connection to an SCD30.
type Device struct {
	bus     drivers.I2C
	Address uint16

	settle time.Duration
	log    *slog.Logger
	sleep  func(time.Duration)
	now    func() time.Time

	mu sync.Mutex // guards the buffers and serialises bus use
	w  [4]byte
	r  [FrameLen]byte
}

// New creates a new SCD30 connection. The I2C bus must already be configured.
// This function only creates the Device object; it does not touch the device.
func New(bus drivers.I2C) *Device {
	return &Device{
		bus:     bus,
		Address: Address,
		settle:  DefaultSettle,
		log:     slog.Default(),
		sleep:   time.Sleep,
		now:     time.Now,
	}
}

// Configure applies optional config. It does not talk to the sensor.
func (d *Device) Configure(cfg Config) {
	if cfg.Address != 0 {
		d.Address = cfg.Address
	}
	d.settle = DefaultSettle
	if cfg.Settle >= MinSettle {
		d.settle = cfg.Settle
	}
	if cfg.Logger != nil {
		d.log = cfg.Logger
	}
}

// Initialize sets the measurement interval, enables automatic self
// calibration and starts periodic measurement without pressure
// compensation. Each step is attempted even if an earlier one failed.
func (d *Device) Initialize(intervalSeconds uint16) {
	d.SetInterval(intervalSeconds)
	// ASC is harmless when its conditions (an hour of fresh air a day) are
	// never met; it just does nothing.
	d.SetSelfCalibration(true)
	d.StartPeriodic(0)
}

// SetInterval configures the internal measurement interval (2..1800 s).
func (d *Device) SetInterval(seconds uint16) {
	if err := d.command(cmdSetInterval, seconds, true); err != nil {
		d.log.Warn("scd30:set-interval-failed", slog.Int("seconds", int(seconds)), slog.String("err", err.Error()))
	}
}

// SetSelfCalibration toggles automatic self calibration.
func (d *Device) SetSelfCalibration(on bool) {
	var arg uint16
	if on {
		arg = 1
	}
	if err := d.command(cmdSelfCalibration, arg, true); err != nil {
		d.log.Warn("scd30:asc-failed", slog.Bool("on", on), slog.String("err", err.Error()))
	}
}

// StartPeriodic starts continuous measurement. pressureMbar 0 disables
// ambient pressure compensation.
func (d *Device) StartPeriodic(pressureMbar uint16) {
	if err := d.command(cmdStartPeriodic, pressureMbar, true); err != nil {
		d.log.Warn("scd30:start-failed", slog.Int("mbar", int(pressureMbar)), slog.String("err", err.Error()))
	}
}

// StopPeriodic stops continuous measurement. Calling it repeatedly is harmless.
func (d *Device) StopPeriodic() {
	if err := d.command(cmdStopPeriodic, 0, false); err != nil {
		d.log.Debug("scd30:stop-failed", slog.String("err", err.Error()))
	}
}

// SoftReset restarts the sensor firmware. Configuration survives in its
// non-volatile memory.
func (d *Device) SoftReset() {
	if err := d.command(cmdSoftReset, 0, false); err != nil {
		d.log.Warn("scd30:reset-failed", slog.String("err", err.Error()))
	}
}

// DataReady reports whether a new measurement can be read.
func (d *Device) DataReady() (bool, error) {
	v, err := d.readWord(cmdDataReady)
	return v == 1, err
}

// FirmwareVersion returns the sensor firmware major and minor version.
func (d *Device) FirmwareVersion() (major, minor uint8, err error) {
	v, err := d.readWord(cmdFirmwareVersion)
	return uint8(v >> 8), uint8(v), err
}

// Read fetches the current measurement. It returns the invalid sentinel on
// any transport or integrity failure and never blocks longer than the
// settle delay plus the bus timeout.
func (d *Device) Read() types.Measurement {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.bus.Tx(d.Address, EncodeCommand(d.w[:0], cmdReadMeasurement), nil); err != nil {
		d.log.Info("scd30:read-command-failed", slog.String("err", err.Error()))
		return types.InvalidMeasurement(d.now())
	}
	d.sleep(d.settle)
	if err := d.bus.Tx(d.Address, nil, d.r[:]); err != nil {
		d.log.Info("scd30:read-failed", slog.String("err", err.Error()))
		return types.InvalidMeasurement(d.now())
	}
	m, err := Decode(d.r[:], d.now())
	if err != nil {
		d.log.Info("scd30:frame-rejected", slog.String("err", err.Error()))
	}
	return m
}

// Decode validates an 18-byte response and reassembles the three float
// words. On any failure the invalid sentinel stamped with ts is returned
// together with the error.
func Decode(buf []byte, ts time.Time) (types.Measurement, error) {
	if len(buf) != FrameLen {
		return types.InvalidMeasurement(ts), errcode.New(errcode.Integrity, "scd30.decode", "short frame")
	}
	if err := CheckFrame(buf); err != nil {
		return types.InvalidMeasurement(ts), err
	}
	co2 := word(buf[0:6])
	temp := word(buf[6:12])
	hum := word(buf[12:18])
	return types.Measurement{
		Valid:   true,
		CO2Raw:  co2,
		CO2:     math.Float32frombits(co2),
		TempRaw: temp,
		Temp:    math.Float32frombits(temp),
		HumRaw:  hum,
		Hum:     math.Float32frombits(hum),
		Time:    ts,
	}, nil
}

// CheckFrame verifies the CRC of every 3-byte group in buf.
func CheckFrame(buf []byte) error {
	for g := 0; g+2 < len(buf); g += 3 {
		if CRC8(buf[g], buf[g+1]) != buf[g+2] {
			return &groupError{group: g/3 + 1}
		}
	}
	return nil
}

type groupError struct{ group int }

func (e *groupError) Error() string {
	return "scd30: crc mismatch in group " + strconv.Itoa(e.group)
}
func (e *groupError) Code() errcode.Code { return errcode.Integrity }

// word reassembles two (hi, lo, crc) groups into a big-endian 32-bit word.
func word(g []byte) uint32 {
	return uint32(g[0])<<24 | uint32(g[1])<<16 | uint32(g[3])<<8 | uint32(g[4])
}

// CRC8 is the Sensirion checksum (polynomial 0x31 with the implicit x^8
// term, init 0xFF, no final xor) over one 2-byte data pair.
func CRC8(b1, b2 byte) byte {
	crc := byte(crcInit)
	for _, b := range [2]byte{b1, b2} {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = crc<<1 ^ byte(crcPoly&0xFF)
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// EncodeCommand appends a bare 2-byte opcode frame to dst.
func EncodeCommand(dst []byte, cmd uint16) []byte {
	return append(dst, byte(cmd>>8), byte(cmd))
}

// EncodeCommandArg appends a 4-byte opcode + argument frame to dst.
func EncodeCommandArg(dst []byte, cmd, arg uint16) []byte {
	return append(dst, byte(cmd>>8), byte(cmd), byte(arg>>8), byte(arg))
}

// EncodeGroup appends one (hi, lo, crc) group for v to dst. It is the
// inverse of the check done by CheckFrame and is used by simulators.
func EncodeGroup(dst []byte, v uint16) []byte {
	hi, lo := byte(v>>8), byte(v)
	return append(dst, hi, lo, CRC8(hi, lo))
}

// EncodeFrame builds a valid 18-byte response for three float readings.
func EncodeFrame(co2, temp, hum float32) []byte {
	out := make([]byte, 0, FrameLen)
	for _, f := range [3]float32{co2, temp, hum} {
		bits := math.Float32bits(f)
		out = EncodeGroup(out, uint16(bits>>16))
		out = EncodeGroup(out, uint16(bits))
	}
	return out
}

func (d *Device) command(cmd, arg uint16, withArg bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	frame := EncodeCommand(d.w[:0], cmd)
	if withArg {
		frame = EncodeCommandArg(d.w[:0], cmd, arg)
	}
	if err := d.bus.Tx(d.Address, frame, nil); err != nil {
		return errcode.Wrap(errcode.Transport, "scd30.command", err)
	}
	return nil
}

// readWord issues cmd and reads back one checked (hi, lo, crc) group.
func (d *Device) readWord(cmd uint16) (uint16, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.bus.Tx(d.Address, EncodeCommand(d.w[:0], cmd), nil); err != nil {
		return 0, errcode.Wrap(errcode.Transport, "scd30.read_word", err)
	}
	d.sleep(d.settle)
	g := d.r[:3]
	if err := d.bus.Tx(d.Address, nil, g); err != nil {
		return 0, errcode.Wrap(errcode.Transport, "scd30.read_word", err)
	}
	if err := CheckFrame(g); err != nil {
		return 0, err
	}
	return uint16(g[0])<<8 | uint16(g[1]), nil
}
