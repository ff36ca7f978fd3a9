//go:build rp2040 || rp2350

package platform

import (
	"context"
	"machine"
	"net"

	"github.com/jangala-dev/tinygo-uartx/uartx"

	"foxco2-go/errcode"
	"foxco2-go/services/config"
)

// DefaultDevice names the embedded config used when none is given.
const DefaultDevice = "picow"

// Open configures the Pico W peripherals: I2C0 on GP4/GP5 at 100 kHz for
// the sensor, UART0 for logs and the console, the on-chip flash data area
// for the firmware slots and the CYW43439 radio through netlink.
func Open(d config.Device) (*Board, error) {
	var hw *machine.I2C
	switch d.I2CBus {
	case "", "i2c0":
		hw = machine.I2C0
	case "i2c1":
		hw = machine.I2C1
	default:
		return nil, errcode.New(errcode.Unrecoverable, "platform.open", "unknown i2c bus "+d.I2CBus)
	}
	sda, scl := machine.GP4, machine.GP5
	if hw == machine.I2C1 {
		sda, scl = machine.GP6, machine.GP7
	}
	sda.Configure(machine.PinConfig{Mode: machine.PinI2C})
	scl.Configure(machine.PinConfig{Mode: machine.PinI2C})
	if err := hw.Configure(machine.I2CConfig{SCL: scl, SDA: sda, Frequency: 100 * machine.KHz}); err != nil {
		return nil, errcode.Wrap(errcode.Unrecoverable, "platform.open", err)
	}
	w := NewI2CWorker(hw, i2cTimeout)

	u := uartx.UART0
	_ = u.Configure(uartx.UARTConfig{
		BaudRate: 115200,
		TX:       machine.UART0_TX_PIN,
		RX:       machine.UART0_RX_PIN,
	})

	return &Board{
		I2C:     w,
		Radio:   newNetlinkRadio(d.WiFiSSID, d.WiFiPassword),
		Flash:   machine.Flash,
		Console: uartReader{u},
		LogOut:  u,
		Restart: machine.CPUReset,
		Listen: func(addr string) (net.Listener, error) {
			return net.Listen("tcp", addr)
		},
		closers: []func(){w.Stop},
	}, nil
}

// uartReader adapts uartx's context-aware receive to io.Reader.
type uartReader struct{ u *uartx.UART }

func (r uartReader) Read(p []byte) (int, error) {
	return r.u.RecvSomeContext(context.Background(), p)
}
