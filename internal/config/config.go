// Package config loads configs/config.yml with WATER_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "WATER"

// Store backends.
const (
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

type Config struct {
	Port      string
	Log       LogConfig
	DB        DBConfig
	Store     StoreConfig
	Paths     PathsConfig
	Feed      FeedConfig
	Telemetry TelemetryConfig
	Simulator SimulatorConfig
	MQTT      MQTTConfig
	Auth      AuthConfig
	Keeper    KeeperConfig
}

type LogConfig struct {
	Level  string
	Format string
}

type DBConfig struct {
	Path string
}

type StoreConfig struct {
	Backend      string
	PollInterval time.Duration
}

type PathsConfig struct {
	SensorData string
	Control    string
}

type FeedConfig struct {
	Buffer int
}

type TelemetryConfig struct {
	HistoryLimit   int
	HistoryWindow  int
	FallbackWindow int
}

type SimulatorConfig struct {
	Enabled   bool
	Tick      time.Duration
	Retention int
	Seed      uint64
}

type MQTTConfig struct {
	Enabled        bool
	Broker         string
	ClientID       string
	Username       string
	Password       string
	TelemetryTopic string
	ControlTopic   string
	QoS            int
}

type AuthConfig struct {
	SigningKey string
	TokenTTL   time.Duration
}

type KeeperConfig struct {
	MaxBackoff time.Duration
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("db.path", "app.db")
	v.SetDefault("store.backend", BackendSQLite)
	v.SetDefault("store.poll_interval", "500ms")
	v.SetDefault("paths.sensor_data", "sensor_data")
	v.SetDefault("paths.control", "control")
	v.SetDefault("feed.buffer", 16)
	v.SetDefault("telemetry.history_limit", 50)
	v.SetDefault("telemetry.history_window", 10)
	v.SetDefault("telemetry.fallback_window", 5)
	v.SetDefault("simulator.enabled", true)
	v.SetDefault("simulator.tick", "1s")
	v.SetDefault("simulator.retention", 500)
	v.SetDefault("simulator.seed", 1)
	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "water-monitor")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.telemetry_topic", "water/telemetry")
	v.SetDefault("mqtt.control_topic", "water/control")
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("auth.signing_key", "")
	v.SetDefault("auth.token_ttl", "1h")
	v.SetDefault("keeper.max_backoff", "30s")
}

// Load reads config.yml from the first of dirs that has one (configs/ when
// none is given). A missing file is not an error; defaults and environment
// still apply.
func Load(dirs ...string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if len(dirs) == 0 {
		dirs = []string{"configs"}
	}
	for _, d := range dirs {
		v.AddConfigPath(d)
	}
	v.SetConfigName("config")
	v.SetConfigType("yml")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{
		Port: v.GetString("port"),
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		DB: DBConfig{Path: v.GetString("db.path")},
		Store: StoreConfig{
			Backend:      strings.ToLower(v.GetString("store.backend")),
			PollInterval: v.GetDuration("store.poll_interval"),
		},
		Paths: PathsConfig{
			SensorData: v.GetString("paths.sensor_data"),
			Control:    v.GetString("paths.control"),
		},
		Feed: FeedConfig{Buffer: v.GetInt("feed.buffer")},
		Telemetry: TelemetryConfig{
			HistoryLimit:   v.GetInt("telemetry.history_limit"),
			HistoryWindow:  v.GetInt("telemetry.history_window"),
			FallbackWindow: v.GetInt("telemetry.fallback_window"),
		},
		Simulator: SimulatorConfig{
			Enabled:   v.GetBool("simulator.enabled"),
			Tick:      v.GetDuration("simulator.tick"),
			Retention: v.GetInt("simulator.retention"),
			Seed:      v.GetUint64("simulator.seed"),
		},
		MQTT: MQTTConfig{
			Enabled:        v.GetBool("mqtt.enabled"),
			Broker:         v.GetString("mqtt.broker"),
			ClientID:       v.GetString("mqtt.client_id"),
			Username:       v.GetString("mqtt.username"),
			Password:       v.GetString("mqtt.password"),
			TelemetryTopic: v.GetString("mqtt.telemetry_topic"),
			ControlTopic:   v.GetString("mqtt.control_topic"),
			QoS:            v.GetInt("mqtt.qos"),
		},
		Auth: AuthConfig{
			SigningKey: v.GetString("auth.signing_key"),
			TokenTTL:   v.GetDuration("auth.token_ttl"),
		},
		Keeper: KeeperConfig{MaxBackoff: v.GetDuration("keeper.max_backoff")},
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Store.Backend {
	case BackendSQLite, BackendMemory:
	default:
		return fmt.Errorf("store.backend %q: want %s or %s", c.Store.Backend, BackendSQLite, BackendMemory)
	}
	if c.Store.PollInterval <= 0 {
		return fmt.Errorf("store.poll_interval must be positive")
	}
	if c.Simulator.Enabled && c.Simulator.Tick <= 0 {
		return fmt.Errorf("simulator.tick must be positive")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos %d: want 0, 1 or 2", c.MQTT.QoS)
	}
	return nil
}
