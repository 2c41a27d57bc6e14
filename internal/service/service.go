package service

import (
	"context"
	"time"

	"water_monitor/internal/cache"
	"water_monitor/internal/feed"
	"water_monitor/internal/logger"
	"water_monitor/internal/models"
	"water_monitor/internal/remote"
	"water_monitor/internal/repository"
)

type Authorization interface {
	SignUp(username, password string) (int, error)
	GenerateToken(username, password string) (string, error)
	ParseToken(accessToken string) (int, error)
}

// Telemetry exposes the live telemetry feeds and their synchronous,
// cache-backed counterparts.
type Telemetry interface {
	SubscribeReadings() (*feed.Subscription[[]models.SensorReading], error)
	SubscribeStatuses() (*feed.Subscription[[]models.SensorStatus], error)
	SubscribeHistory(sensor string) (*feed.Subscription[[]models.TimedSensorReading], error)
	Readings() []models.SensorReading
	Statuses() []models.SensorStatus
	History(sensor string) ([]models.TimedSensorReading, error)
	SystemParts() []models.SystemPart
}

// ControlState exposes the four control feeds and the cached composite.
type ControlState interface {
	SubscribePumps() (*feed.Subscription[[2]bool], error)
	SubscribeSystem() (*feed.Subscription[bool], error)
	SubscribeServo() (*feed.Subscription[bool], error)
	SubscribeSchedule() (*feed.Subscription[models.ScheduleStatus], error)
	State() models.ControlState
}

// Commands forwards operator intents to the device.
type Commands interface {
	SetPumpState(ctx context.Context, index int, on bool) error
	SetAllPumps(ctx context.Context, on bool) error
	SetSystemState(ctx context.Context, on bool) error
	SetServomotorState(ctx context.Context, on bool) error
	SetControlCommand(ctx context.Context, command string) error
}

// EventLog exposes the command journal with filtering access.
type EventLog interface {
	List(ctx context.Context, f LogFilter) ([]models.CommandEvent, error)
}

// Simulator plays the device. Stop via context cancellation in main().
type Simulator interface {
	Run(ctx context.Context, tick time.Duration)
}

// Config carries the service-level settings.
type Config struct {
	Options            Options
	Auth               AuthConfig
	KeeperMaxBackoff   time.Duration
	SimulatorRetention int
	SimulatorSeed      uint64
}

//
// Root Service aggregates all sub-services.
//

type Service struct {
	Telemetry
	ControlState
	Commands
	EventLog
	Simulator
	Authorization

	Keeper *CacheKeeper
	Cache  *cache.State
}

// NewService wires the store and the repositories into concrete services.
// All subscription managers share one cache.
func NewService(store remote.Store, repos *repository.Repository, cfg Config, log *logger.Logger) *Service {
	st := cache.New()
	opts := cfg.Options.withDefaults()

	telemetry := NewTelemetryService(store, st, opts, log)
	control := NewControlStateService(store, st, opts, log)

	return &Service{
		Telemetry:     telemetry,
		ControlState:  control,
		Commands:      NewCommandService(store, repos.EventRepo, opts.Paths, log),
		EventLog:      NewEventLogService(repos.EventRepo),
		Simulator:     NewSimulatorService(store, opts.Paths, cfg.SimulatorRetention, cfg.SimulatorSeed, log),
		Authorization: NewAuthService(repos.Auth, cfg.Auth),
		Keeper:        NewCacheKeeper(telemetry, control, cfg.KeeperMaxBackoff, log),
		Cache:         st,
	}
}
