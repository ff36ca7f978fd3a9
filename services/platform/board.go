// Package platform builds the hardware a board offers: the sensor bus, the
// radio, the slot storage, the console stream and the restart hook. Each
// build target supplies its own Open.
package platform

import (
	"io"
	"net"
	"time"

	"tinygo.org/x/drivers"

	"foxco2-go/services/netmon"
	"foxco2-go/services/ota"
)

// Board is the set of resources the application runs on.
type Board struct {
	I2C     drivers.I2C
	Radio   netmon.Radio
	Flash   ota.BlockDevice
	Console io.Reader
	LogOut  io.Writer
	Restart func()
	Listen  func(addr string) (net.Listener, error)

	closers []func()
}

// Close releases board resources.
func (b *Board) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
}

// I2C transactions on real buses are bounded by this.
const i2cTimeout = 250 * time.Millisecond
