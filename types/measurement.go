package types

import "time"

// Sentinels carried by an invalid Measurement. None of them is a physically
// plausible reading.
const (
	InvalidRaw  uint32  = 0xFFFFFFFF
	InvalidCO2  float32 = -999.99
	InvalidTemp float32 = -999.9
	InvalidHum  float32 = -999.99
)

// Measurement is one decoded SCD30 sample. It is replaced as a whole, never
// mutated field by field.
type Measurement struct {
	Valid   bool
	CO2Raw  uint32
	CO2     float32 // ppm
	TempRaw uint32
	Temp    float32 // °C
	HumRaw  uint32
	Hum     float32 // %RH
	Time    time.Time
}

// InvalidMeasurement returns the sentinel record stamped with ts.
func InvalidMeasurement(ts time.Time) Measurement {
	return Measurement{
		CO2Raw:  InvalidRaw,
		CO2:     InvalidCO2,
		TempRaw: InvalidRaw,
		Temp:    InvalidTemp,
		HumRaw:  InvalidRaw,
		Hum:     InvalidHum,
		Time:    ts,
	}
}

// Fresh reports whether m is valid and no older than maxAge at now.
// A timestamp in the future (clock stepped backwards) counts as fresh.
func (m Measurement) Fresh(now time.Time, maxAge time.Duration) bool {
	if !m.Valid || m.Time.IsZero() {
		return false
	}
	return now.Sub(m.Time) <= maxAge
}
