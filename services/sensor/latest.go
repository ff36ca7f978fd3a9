package sensor

import (
	"sync/atomic"
	"time"

	"foxco2-go/types"
)

// Latest holds the most recent valid measurement. One writer (the polling
// loop) replaces the record as a whole; any number of readers may Load it
// concurrently and always see either the old or the new record.
type Latest struct {
	p atomic.Pointer[types.Measurement]
}

// NewLatest starts with the invalid sentinel and a zero timestamp.
func NewLatest() *Latest {
	l := &Latest{}
	m := types.InvalidMeasurement(time.Time{})
	l.p.Store(&m)
	return l
}

// Load returns a copy of the current record.
func (l *Latest) Load() types.Measurement { return *l.p.Load() }

// Store swaps in m.
func (l *Latest) Store(m types.Measurement) { l.p.Store(&m) }
