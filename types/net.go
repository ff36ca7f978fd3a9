package types

// NetState is the wireless association lifecycle.
type NetState uint8

const (
	NetDisconnected NetState = iota
	NetConnecting
	NetConnected
	NetReconnectCooldown
)

func (s NetState) String() string {
	switch s {
	case NetDisconnected:
		return "disconnected"
	case NetConnecting:
		return "connecting"
	case NetConnected:
		return "connected"
	case NetReconnectCooldown:
		return "reconnect_cooldown"
	default:
		return "unknown"
	}
}

// NetStatus is the retained network document published on the bus.
type NetStatus struct {
	State NetState
	Ready bool
	Addr  string
}
