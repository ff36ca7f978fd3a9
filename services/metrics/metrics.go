// Package metrics defines the counters the firmware services report. Host
// builds back it with Prometheus; MCU builds use Nop.
package metrics

import (
	"foxco2-go/errcode"
	"foxco2-go/types"
)

// Recorder receives operational events. Implementations must be safe for
// concurrent use and must not block.
type Recorder interface {
	SensorRead(valid bool)
	NetState(s types.NetState)
	Reconnect()
	Update(result errcode.Code)
	HTTPConns(open int)
	HTTPEvicted()
}

// Nop discards everything.
type Nop struct{}

func (Nop) SensorRead(bool)         {}
func (Nop) NetState(types.NetState) {}
func (Nop) Reconnect()              {}
func (Nop) Update(errcode.Code)     {}
func (Nop) HTTPConns(int)           {}
func (Nop) HTTPEvicted()            {}

// OrNop returns r, or Nop when r is nil.
func OrNop(r Recorder) Recorder {
	if r == nil {
		return Nop{}
	}
	return r
}
