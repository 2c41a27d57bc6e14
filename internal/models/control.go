package models

type ScheduleStatus string

const (
	ScheduleRunning ScheduleStatus = "running"
	SchedulePaused  ScheduleStatus = "paused"
	ScheduleStopped ScheduleStatus = "stopped"
	ScheduleUnknown ScheduleStatus = "unknown" // nothing received yet
)

// ControlState is the last known state of the device switches.
// Fields are updated independently and may be transiently inconsistent.
type ControlState struct {
	Pumps          [2]bool        `json:"pumps"`
	Servo          bool           `json:"servo"`
	System         bool           `json:"system"`
	ScheduleStatus ScheduleStatus `json:"schedule_status"`
}
