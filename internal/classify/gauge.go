package classify

// Range is a closed interval.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Gauge describes how a sensor is presented: its scale and normal band.
type Gauge struct {
	Sensor Sensor `json:"sensor"`
	Label  string `json:"label"`
	Unit   string `json:"unit"`
	Scale  Range  `json:"scale"`
	Normal Range  `json:"normal"`
}

var gauges = map[Sensor]Gauge{
	PH:        {Sensor: PH, Label: "pH", Unit: "", Scale: Range{0, 14}, Normal: Range{phLow, phHigh}},
	TDS:       {Sensor: TDS, Label: "TDS", Unit: "ppm", Scale: Range{0, 3000}, Normal: Range{tdsLow, tdsHigh}},
	Turbidity: {Sensor: Turbidity, Label: "Turbidity", Unit: "NTU", Scale: Range{0, 1000}, Normal: Range{0, turbidityHigh}},
}

// Lookup returns the gauge of a sensor by name (case-insensitive).
func Lookup(name string) (Gauge, bool) {
	s, ok := ParseSensor(name)
	if !ok {
		return Gauge{}, false
	}
	return gauges[s], true
}

// Unit of a known sensor, "" otherwise.
func Unit(s Sensor) string {
	return gauges[s].Unit
}
