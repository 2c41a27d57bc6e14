package cache

import (
	"water_monitor/internal/classify"
	"water_monitor/internal/models"
)

// offline is the single table of values served before anything was received.
var offline = struct {
	readings []models.SensorReading
	statuses []models.SensorStatus
	history  []models.TimedSensorReading
	control  models.ControlState
}{
	readings: []models.SensorReading{},
	statuses: []models.SensorStatus{
		{Name: "pH", Unit: classify.Unit(classify.PH), State: classify.Offline},
		{Name: "Turbidity", Unit: classify.Unit(classify.Turbidity), State: classify.Offline},
		{Name: "TDS", Unit: classify.Unit(classify.TDS), State: classify.Offline},
	},
	history: []models.TimedSensorReading{},
	control: models.ControlState{ScheduleStatus: models.ScheduleUnknown},
}

func OfflineReadings() []models.SensorReading {
	return append([]models.SensorReading{}, offline.readings...)
}

// OfflineStatuses reports every sensor as {0, not working, Offline}.
func OfflineStatuses() []models.SensorStatus {
	return append([]models.SensorStatus{}, offline.statuses...)
}

func OfflineHistory() []models.TimedSensorReading {
	return append([]models.TimedSensorReading{}, offline.history...)
}

// OfflineControl is all switches off with an unknown schedule.
func OfflineControl() models.ControlState {
	return offline.control
}
