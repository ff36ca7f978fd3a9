package web

import (
	"strconv"
	"time"

	"foxco2-go/types"
)

// Placeholders shown instead of stale or invalid values.
const (
	PlaceholderCO2  = "----"
	PlaceholderTemp = "--.--"
	PlaceholderHum  = "--.-"
)

// View is the rendered form of a measurement, shared by /, /json and /ws.
type View struct {
	TS   int64  `json:"ts"`
	CO2  string `json:"co2"`
	Temp string `json:"temp"`
	Hum  string `json:"hum"`
}

// Render formats m as of now. Values older than staleAfter, or from an
// invalid read, become placeholders; the timestamp is always the last
// stored one.
func Render(m types.Measurement, now time.Time, staleAfter time.Duration) View {
	v := View{CO2: PlaceholderCO2, Temp: PlaceholderTemp, Hum: PlaceholderHum}
	if !m.Time.IsZero() {
		v.TS = m.Time.Unix()
	}
	if !m.Fresh(now, staleAfter) {
		return v
	}
	v.CO2 = strconv.FormatFloat(float64(m.CO2), 'f', 0, 32)
	v.Temp = strconv.FormatFloat(float64(m.Temp), 'f', 2, 32)
	v.Hum = strconv.FormatFloat(float64(m.Hum), 'f', 1, 32)
	return v
}
