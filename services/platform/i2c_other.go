//go:build !linux && !rp2040 && !rp2350

package platform

import (
	"tinygo.org/x/drivers"

	"foxco2-go/errcode"
)

func openI2C(name string) (drivers.I2C, func(), error) {
	return nil, nil, errcode.New(errcode.Unsupported, "platform.i2c", "no I2C support for bus "+name+" on this OS")
}
