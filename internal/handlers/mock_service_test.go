package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"water_monitor/internal/feed"
	"water_monitor/internal/models"
	"water_monitor/internal/service"

	"github.com/gin-gonic/gin"
)

// ---- Service Mocks ----

var errNotMocked = errors.New("not mocked")

type mockAuth struct {
	signUpID      int
	signUpErr     error
	genTokenToken string
	genTokenErr   error
	parseID       int
	parseErr      error

	lastSignUpUsername string
	lastSignUpPassword string
	lastGenUsername    string
	lastGenPassword    string
	lastParseToken     string
}

func (m *mockAuth) SignUp(username, password string) (int, error) {
	m.lastSignUpUsername = username
	m.lastSignUpPassword = password
	return m.signUpID, m.signUpErr
}
func (m *mockAuth) GenerateToken(username, password string) (string, error) {
	m.lastGenUsername = username
	m.lastGenPassword = password
	return m.genTokenToken, m.genTokenErr
}
func (m *mockAuth) ParseToken(token string) (int, error) {
	m.lastParseToken = token
	return m.parseID, m.parseErr
}

// mockTelemetry serves the synchronous reads; streams are tested against the
// real services.
type mockTelemetry struct {
	readings   []models.SensorReading
	statuses   []models.SensorStatus
	history    []models.TimedSensorReading
	historyErr error
	parts      []models.SystemPart

	lastHistorySensor string
}

func (m *mockTelemetry) SubscribeReadings() (*feed.Subscription[[]models.SensorReading], error) {
	return nil, errNotMocked
}
func (m *mockTelemetry) SubscribeStatuses() (*feed.Subscription[[]models.SensorStatus], error) {
	return nil, errNotMocked
}
func (m *mockTelemetry) SubscribeHistory(string) (*feed.Subscription[[]models.TimedSensorReading], error) {
	return nil, errNotMocked
}
func (m *mockTelemetry) Readings() []models.SensorReading { return m.readings }
func (m *mockTelemetry) Statuses() []models.SensorStatus  { return m.statuses }
func (m *mockTelemetry) History(sensor string) ([]models.TimedSensorReading, error) {
	m.lastHistorySensor = sensor
	return m.history, m.historyErr
}
func (m *mockTelemetry) SystemParts() []models.SystemPart { return m.parts }

type mockControlState struct {
	state models.ControlState
}

func (m *mockControlState) SubscribePumps() (*feed.Subscription[[2]bool], error) {
	return nil, errNotMocked
}
func (m *mockControlState) SubscribeSystem() (*feed.Subscription[bool], error) {
	return nil, errNotMocked
}
func (m *mockControlState) SubscribeServo() (*feed.Subscription[bool], error) {
	return nil, errNotMocked
}
func (m *mockControlState) SubscribeSchedule() (*feed.Subscription[models.ScheduleStatus], error) {
	return nil, errNotMocked
}
func (m *mockControlState) State() models.ControlState { return m.state }

type mockCommands struct {
	err error

	calls       []string
	lastIndex   int
	lastOn      bool
	lastCommand string
}

func (m *mockCommands) SetPumpState(ctx context.Context, index int, on bool) error {
	m.calls = append(m.calls, "pump")
	m.lastIndex, m.lastOn = index, on
	return m.err
}
func (m *mockCommands) SetAllPumps(ctx context.Context, on bool) error {
	m.calls = append(m.calls, "all_pumps")
	m.lastOn = on
	return m.err
}
func (m *mockCommands) SetSystemState(ctx context.Context, on bool) error {
	m.calls = append(m.calls, "system")
	m.lastOn = on
	return m.err
}
func (m *mockCommands) SetServomotorState(ctx context.Context, on bool) error {
	m.calls = append(m.calls, "servo")
	m.lastOn = on
	return m.err
}
func (m *mockCommands) SetControlCommand(ctx context.Context, command string) error {
	m.calls = append(m.calls, "schedule")
	m.lastCommand = command
	return m.err
}

type mockEventLog struct {
	resp     []models.CommandEvent
	err      error
	lastFrom time.Time
	lastTo   time.Time
	lastType string
}

func (m *mockEventLog) List(ctx context.Context, f service.LogFilter) ([]models.CommandEvent, error) {
	m.lastFrom = f.From
	m.lastTo = f.To
	m.lastType = f.Type
	return m.resp, m.err
}

// ---- Shared Test Helpers ----

func newTestRouter(s *service.Service) *gin.Engine {
	h := NewHandler(s, nil)
	gin.SetMode(gin.TestMode)
	return h.InitRoutes()
}

func authHeader(token string) http.Header {
	h := http.Header{}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return h
}
