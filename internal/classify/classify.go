// Package classify maps raw sensor values to qualitative states.
//
// All functions are pure and evaluated on every reading. Thresholds are fixed.
package classify

import "strings"

// States reported for a sensor.
const (
	Low     = "Low"
	Normal  = "Normal"
	High    = "High"
	Offline = "Offline" // no data was ever received
)

type Sensor string

const (
	PH        Sensor = "ph"
	TDS       Sensor = "tds"
	Turbidity Sensor = "turbidity"
)

const (
	phLow  = 6.5
	phHigh = 8.5

	tdsLow  = 50.0
	tdsHigh = 500.0

	turbidityHigh = 500.0 // NTU
)

// PHState: below 6.5 is Low, above 8.5 is High.
func PHState(ph float64) string {
	switch {
	case ph < phLow:
		return Low
	case ph > phHigh:
		return High
	default:
		return Normal
	}
}

// TurbidityState never reports Low.
func TurbidityState(ntu float64) string {
	if ntu > turbidityHigh {
		return High
	}
	return Normal
}

// TDSState: above 500 ppm is High, below 50 ppm is Low.
func TDSState(ppm float64) string {
	switch {
	case ppm > tdsHigh:
		return High
	case ppm < tdsLow:
		return Low
	default:
		return Normal
	}
}

// State classifies v for the given sensor. Unknown sensors are Normal.
func State(s Sensor, v float64) string {
	switch s {
	case PH:
		return PHState(v)
	case TDS:
		return TDSState(v)
	case Turbidity:
		return TurbidityState(v)
	default:
		return Normal
	}
}

// ParseSensor resolves a sensor name case-insensitively.
func ParseSensor(name string) (Sensor, bool) {
	s := Sensor(strings.ToLower(strings.TrimSpace(name)))
	_, ok := gauges[s]
	return s, ok
}
