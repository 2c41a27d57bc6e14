package models

// TelemetrySnapshot is one telemetry child of the sensor data node.
// Key is the store ordering key the child was read from.
type TelemetrySnapshot struct {
	Key       string  `json:"key"`
	Flow      float64 `json:"flow"`
	PH        float64 `json:"ph"`
	TDS       float64 `json:"tds"`
	Turbidity float64 `json:"turbidity"`
	Volume    float64 `json:"volume"`
	Timestamp string  `json:"timestamp"` // "2006-01-02 15:04:05"
}

// SensorReading is the display value of one sensor for the overview.
type SensorReading struct {
	Label string `json:"label"`
	Value string `json:"value"`
	Unit  string `json:"unit,omitempty"` // empty for pH
	Icon  string `json:"icon,omitempty"`
}

// SensorStatus is the classified state of one sensor.
type SensorStatus struct {
	Name      string  `json:"name"`
	Value     float64 `json:"value"`
	Unit      string  `json:"unit"`
	IsWorking bool    `json:"is_working"`
	State     string  `json:"state"` // Low | Normal | High | Offline
}

// TimedSensorReading is one point of a sensor trend.
type TimedSensorReading struct {
	Value float64 `json:"value"`
	Time  string  `json:"time"` // HH:mm
}

// SystemPart is static descriptive metadata shown next to live data.
type SystemPart struct {
	Name string `json:"name"`
	Icon string `json:"icon"`
}

// TelemetryUpdate is what the telemetry listener derives from one snapshot.
type TelemetryUpdate struct {
	Latest   *TelemetrySnapshot `json:"latest,omitempty"`
	Readings []SensorReading    `json:"readings"`
	Statuses []SensorStatus     `json:"statuses"`
}
