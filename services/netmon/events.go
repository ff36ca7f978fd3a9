package netmon

import "net/netip"

// Reason is an IEEE 802.11 disassociation reason code.
type Reason uint16

const (
	ReasonUnspecified   Reason = 1
	ReasonAuthExpire    Reason = 2
	ReasonAuthLeave     Reason = 3
	ReasonAssocExpire   Reason = 4
	ReasonAssocLeave    Reason = 8 // local station left on purpose
	ReasonBeaconTimeout Reason = 200
	ReasonNoAPFound     Reason = 201
	ReasonAuthFail      Reason = 202
)

// EventKind classifies link-layer events.
type EventKind uint8

const (
	EventAssociated EventKind = iota + 1
	EventDisassociated
	EventGotAddress
)

func (k EventKind) String() string {
	switch k {
	case EventAssociated:
		return "associated"
	case EventDisassociated:
		return "disassociated"
	case EventGotAddress:
		return "got_address"
	default:
		return "unknown"
	}
}

// Event is one link-layer notification. Only the fields relevant to Kind
// are set.
type Event struct {
	Kind EventKind

	// EventAssociated
	Channel uint8
	BSSID   [6]byte

	// EventDisassociated
	Reason Reason

	// EventGotAddress
	Addr    netip.Addr
	Netmask netip.Addr
	Gateway netip.Addr
}

// Radio is the wireless subsystem the monitor drives. Implementations
// report link changes through the sink passed to Init; the sink never
// blocks and may be called from any goroutine.
type Radio interface {
	Init(sink func(Event)) error
	Start() error
	Connect() error
	Stop() error
}
