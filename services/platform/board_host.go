//go:build !rp2040 && !rp2350

package platform

import (
	"net"
	"os"
	"path/filepath"

	"foxco2-go/errcode"
	"foxco2-go/services/config"
)

// DefaultDevice names the embedded config used when none is given.
const DefaultDevice = "sim"

const (
	hostEraseBlock = 4096
	hostWriteBlock = 256
	hostSlotSize   = 1 << 20
)

// Open builds a host board. i2c_bus "sim" selects the emulated sensor;
// anything else is opened as a real bus where the OS supports it.
func Open(d config.Device) (*Board, error) {
	b := &Board{
		Radio:   NewSimRadio(),
		Console: os.Stdin,
		LogOut:  os.Stderr,
		// A supervisor (systemd Restart=always) brings the process back.
		Restart: func() { os.Exit(0) },
		Listen: func(addr string) (net.Listener, error) {
			return net.Listen("tcp", addr)
		},
	}

	if d.I2CBus == "" || d.I2CBus == "sim" {
		b.I2C = NewSimSCD30()
	} else {
		bus, closeBus, err := openI2C(d.I2CBus)
		if err != nil {
			return nil, err
		}
		w := NewI2CWorker(bus, i2cTimeout)
		b.I2C = w
		b.closers = append(b.closers, closeBus, w.Stop)
	}

	dev, err := OpenFileDevice(filepath.Join(d.SlotDir, "slots.bin"), hostEraseBlock+2*hostSlotSize, hostEraseBlock, hostWriteBlock)
	if err != nil {
		b.Close()
		return nil, errcode.Wrap(errcode.Unrecoverable, "platform.open", err)
	}
	b.Flash = dev
	b.closers = append(b.closers, func() { _ = dev.Close() })
	return b, nil
}
