package types

// Slot is one of the two alternating firmware regions.
type Slot uint8

const (
	SlotA Slot = 0
	SlotB Slot = 1
)

// Other returns the alternate slot.
func (s Slot) Other() Slot { return s ^ 1 }

func (s Slot) String() string {
	if s == SlotA {
		return "A"
	}
	return "B"
}

// SlotState is the boot validation flag of the running slot.
type SlotState uint8

const (
	SlotValid SlotState = iota
	SlotPendingVerify
	SlotInvalid
)

func (s SlotState) String() string {
	switch s {
	case SlotValid:
		return "valid"
	case SlotPendingVerify:
		return "pending_verify"
	case SlotInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}
