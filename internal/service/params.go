package service

import (
	"fmt"
	"time"

	"water_monitor/internal/remote"
)

// LogFilter selects command journal entries.
type LogFilter struct {
	From time.Time // inclusive; zero means no lower bound
	To   time.Time // inclusive; zero means no upper bound
	Type string    // "", "PUMP", "ALL_PUMPS", "SYSTEM", "SERVO", "SCHEDULE"
}

// Paths names the store nodes shared with the device.
type Paths struct {
	SensorData string // one child per telemetry sample
	Control    string // pump1, pump2, system, servo, status, command
}

func DefaultPaths() Paths {
	return Paths{SensorData: "sensor_data", Control: "control"}
}

func (p Paths) Pump(index int) string {
	return remote.Join(p.Control, fmt.Sprintf("pump%d", index+1))
}

func (p Paths) System() string  { return remote.Join(p.Control, "system") }
func (p Paths) Servo() string   { return remote.Join(p.Control, "servo") }
func (p Paths) Status() string  { return remote.Join(p.Control, "status") }
func (p Paths) Command() string { return remote.Join(p.Control, "command") }

// Options tunes the subscription managers. Zero fields take defaults.
type Options struct {
	Paths          Paths
	HistoryLimit   int // raw children the history listener asks for
	HistoryWindow  int // trailing points kept on the live history path
	FallbackWindow int // trailing points kept on the cached history path
	FeedBuffer     int // per-consumer channel capacity
}

const (
	defaultHistoryLimit   = 50
	defaultHistoryWindow  = 10
	defaultFallbackWindow = 5
)

func (o Options) withDefaults() Options {
	if o.Paths.SensorData == "" {
		o.Paths.SensorData = DefaultPaths().SensorData
	}
	if o.Paths.Control == "" {
		o.Paths.Control = DefaultPaths().Control
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = defaultHistoryLimit
	}
	if o.HistoryWindow <= 0 {
		o.HistoryWindow = defaultHistoryWindow
	}
	if o.FallbackWindow <= 0 {
		o.FallbackWindow = defaultFallbackWindow
	}
	return o
}
