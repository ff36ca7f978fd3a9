package platform

import (
	"errors"
	"math"
	"net/netip"
	"sync"
	"time"

	"foxco2-go/drivers/scd30"
	"foxco2-go/services/netmon"
)

// ErrNoAck is what the simulated bus returns when nothing answers.
var ErrNoAck = errors.New("i2c: no ack")

// SimSCD30 is an I2C bus with an emulated SCD30 at its default address.
// Values drift slowly so the page and the feed have something to show.
type SimSCD30 struct {
	mu       sync.Mutex
	Detached bool // no device on the bus
	Corrupt  bool // flip a CRC in every frame

	Addr     uint16
	Interval uint16
	ASC      bool
	Running  bool
	Pressure uint16

	last  uint16 // last command opcode
	start time.Time
	now   func() time.Time
}

func NewSimSCD30() *SimSCD30 {
	return &SimSCD30{Addr: scd30.Address, Interval: 2, start: time.Now(), now: time.Now}
}

func (s *SimSCD30) Tx(addr uint16, w, r []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Detached || addr != s.Addr {
		return ErrNoAck
	}
	if len(w) >= 2 {
		s.command(uint16(w[0])<<8|uint16(w[1]), w[2:])
	}
	if len(r) > 0 {
		s.respond(r)
	}
	return nil
}

func (s *SimSCD30) command(op uint16, arg []byte) {
	s.last = op
	var v uint16
	if len(arg) >= 2 {
		v = uint16(arg[0])<<8 | uint16(arg[1])
	}
	switch op {
	case 0x0010:
		s.Running, s.Pressure = true, v
	case 0x0104:
		s.Running = false
	case 0x4600:
		s.Interval = v
	case 0x5306:
		s.ASC = v != 0
	case 0xD304:
		s.Running = false
	}
}

func (s *SimSCD30) respond(r []byte) {
	var out []byte
	switch s.last {
	case 0x0300:
		co2, temp, hum := s.values()
		out = scd30.EncodeFrame(co2, temp, hum)
	case 0x0202:
		ready := uint16(0)
		if s.Running {
			ready = 1
		}
		out = scd30.EncodeGroup(nil, ready)
	case 0xD100:
		out = scd30.EncodeGroup(nil, 0x0342)
	default:
		out = []byte{0xFF, 0xFF, 0xFF}
	}
	if s.Corrupt && len(out) > 2 {
		out[2] ^= 0xFF
	}
	n := copy(r, out)
	for i := n; i < len(r); i++ {
		r[i] = 0xFF
	}
}

func (s *SimSCD30) values() (co2, temp, hum float32) {
	if !s.Running {
		return 0, 0, 0
	}
	phase := s.now().Sub(s.start).Minutes() / 30 * 2 * math.Pi
	co2 = float32(650 + 150*math.Sin(phase))
	temp = float32(21.5 + 1.5*math.Sin(phase/2))
	hum = float32(45 + 5*math.Cos(phase))
	return
}

// SimRadio stands in for a link the host OS already manages: Connect
// reports association and an address shortly afterwards.
type SimRadio struct {
	Addr  netip.Addr
	Delay time.Duration

	mu   sync.Mutex
	sink func(netmon.Event)
	on   bool
}

func NewSimRadio() *SimRadio {
	return &SimRadio{Addr: netip.MustParseAddr("127.0.0.1"), Delay: 50 * time.Millisecond}
}

func (r *SimRadio) Init(sink func(netmon.Event)) error {
	r.mu.Lock()
	r.sink = sink
	r.mu.Unlock()
	return nil
}

func (r *SimRadio) Start() error {
	r.mu.Lock()
	r.on = true
	r.mu.Unlock()
	return nil
}

func (r *SimRadio) Connect() error {
	r.mu.Lock()
	sink, on := r.sink, r.on
	r.mu.Unlock()
	if !on || sink == nil {
		return errors.New("radio not started")
	}
	time.AfterFunc(r.Delay, func() {
		sink(netmon.Event{Kind: netmon.EventAssociated, Channel: 1})
		sink(netmon.Event{
			Kind:    netmon.EventGotAddress,
			Addr:    r.Addr,
			Netmask: netip.MustParseAddr("255.0.0.0"),
			Gateway: r.Addr,
		})
	})
	return nil
}

// Drop simulates losing the access point.
func (r *SimRadio) Drop(reason netmon.Reason) {
	r.mu.Lock()
	sink := r.sink
	r.mu.Unlock()
	if sink != nil {
		sink(netmon.Event{Kind: netmon.EventDisassociated, Reason: reason})
	}
}

func (r *SimRadio) Stop() error {
	r.mu.Lock()
	r.on = false
	sink := r.sink
	r.mu.Unlock()
	if sink != nil {
		sink(netmon.Event{Kind: netmon.EventDisassociated, Reason: netmon.ReasonAssocLeave})
	}
	return nil
}
