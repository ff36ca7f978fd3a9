//go:build linux && !rp2040 && !rp2350

package platform

import (
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
	"tinygo.org/x/drivers"

	"foxco2-go/errcode"
)

// openI2C opens a Linux I2C adapter such as "/dev/i2c-1" or "1". periph's
// bus already has the Tx(addr, w, r) shape the driver wants.
func openI2C(name string) (drivers.I2C, func(), error) {
	const op = "platform.i2c"
	if _, err := host.Init(); err != nil {
		return nil, nil, errcode.Wrap(errcode.Unrecoverable, op, err)
	}
	bus, err := i2creg.Open(name)
	if err != nil {
		return nil, nil, errcode.Wrap(errcode.Unrecoverable, op, err)
	}
	// 100 kHz is the SCD30's rated maximum. Not every adapter lets
	// userspace change the speed; the kernel default is then used.
	_ = bus.SetSpeed(100 * physic.KiloHertz)
	return bus, func() { _ = bus.Close() }, nil
}
