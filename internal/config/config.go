package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Control     ControlConfig     `mapstructure:"control"`
	Sensor      SensorConfig      `mapstructure:"sensor"`
	Dosing      DosingConfig      `mapstructure:"dosing"`
	Safety      SafetyConfig      `mapstructure:"safety"`
	Hardware    HardwareConfig    `mapstructure:"hardware"`
	Calibration CalibrationConfig `mapstructure:"calibration"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	MQTT        MQTTConfig        `mapstructure:"mqtt"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
	Discovery   DiscoveryConfig   `mapstructure:"discovery"`
	Console     ConsoleConfig     `mapstructure:"console"`
}

type ServerConfig struct {
	HTTPPort        int           `mapstructure:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type ControlConfig struct {
	CycleInterval time.Duration `mapstructure:"cycle_interval"`
	AutoPH        bool          `mapstructure:"auto_ph"`
	TargetPH      float32       `mapstructure:"target_ph"`
	Kp            float32       `mapstructure:"kp"`
	Ki            float32       `mapstructure:"ki"`
	Kd            float32       `mapstructure:"kd"`
}

type SensorConfig struct {
	Interval           time.Duration `mapstructure:"interval"`
	Warmup             time.Duration `mapstructure:"warmup"`
	Samples            int           `mapstructure:"samples"`
	AlphaPH            float32       `mapstructure:"alpha_ph"`
	AlphaEC            float32       `mapstructure:"alpha_ec"`
	AlphaVolume        float32       `mapstructure:"alpha_volume"`
	ADCMaxCounts       float32       `mapstructure:"adc_max_counts"`
	ADCReferenceMV     float32       `mapstructure:"adc_reference_mv"`
	PHTempCoefficient  float32       `mapstructure:"ph_temp_coefficient"`
	ECTempCoefficient  float32       `mapstructure:"ec_temp_coefficient"`
	MaxInvalidReadings int           `mapstructure:"max_invalid_readings"`
}

type DosingConfig struct {
	FlowRate        float32       `mapstructure:"flow_rate"`
	PrimingDuty     float32       `mapstructure:"priming_duty"`
	PrimingWindow   time.Duration `mapstructure:"priming_window"`
	MinDoseInterval time.Duration `mapstructure:"min_dose_interval"`
	MaxDosesPerHour int           `mapstructure:"max_doses_per_hour"`
	MaxActuation    time.Duration `mapstructure:"max_actuation"`
}

type SafetyConfig struct {
	PrimingTimeout       time.Duration `mapstructure:"priming_timeout"`
	Cooldown             time.Duration `mapstructure:"cooldown"`
	ChannelErrorRecovery time.Duration `mapstructure:"channel_error_recovery"`
	SensorWarmupTimeout  time.Duration `mapstructure:"sensor_warmup_timeout"`
	SensorErrorRecovery  time.Duration `mapstructure:"sensor_error_recovery"`
}

type HardwareConfig struct {
	Backend string       `mapstructure:"backend"`
	Modbus  ModbusConfig `mapstructure:"modbus"`
	S7      S7Config     `mapstructure:"s7"`
}

type ModbusConfig struct {
	Address string        `mapstructure:"address"`
	UnitID  int           `mapstructure:"unit_id"` // overrides the profile when non-zero
	Timeout time.Duration `mapstructure:"timeout"`
	Profile string        `mapstructure:"profile"`
}

type S7Config struct {
	Host    string        `mapstructure:"host"`
	Rack    int           `mapstructure:"rack"`
	Slot    int           `mapstructure:"slot"`
	DB      int           `mapstructure:"db"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type CalibrationConfig struct {
	Path string `mapstructure:"path"`
}

type DatabaseConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
}

type RedisConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	Password    string `mapstructure:"password"`
	DB          int    `mapstructure:"db"`
	Prefix      string `mapstructure:"prefix"`
	HistorySize int64  `mapstructure:"history_size"`
}

type MQTTConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Broker      string `mapstructure:"broker"`
	ClientID    string `mapstructure:"client_id"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	QoS         byte   `mapstructure:"qos"`
}

// TelemetryConfig throttles snapshot publishing to Redis and MQTT. Dose
// events are always published immediately.
type TelemetryConfig struct {
	PublishInterval time.Duration `mapstructure:"publish_interval"`
}

type DiscoveryConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Instance string `mapstructure:"instance"`
}

type ConsoleConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)

	v.SetDefault("control.cycle_interval", "100ms")
	v.SetDefault("control.auto_ph", false)
	v.SetDefault("control.target_ph", 6.0)
	v.SetDefault("control.kp", 8.0)
	v.SetDefault("control.ki", 0.5)
	v.SetDefault("control.kd", 2.0)

	v.SetDefault("sensor.interval", "5s")
	v.SetDefault("sensor.warmup", "200ms")
	v.SetDefault("sensor.samples", 5)
	v.SetDefault("sensor.alpha_ph", 0.2)
	v.SetDefault("sensor.alpha_ec", 0.2)
	v.SetDefault("sensor.alpha_volume", 0.3)
	v.SetDefault("sensor.adc_max_counts", 4095)
	v.SetDefault("sensor.adc_reference_mv", 3300)
	v.SetDefault("sensor.ph_temp_coefficient", 0.03)
	v.SetDefault("sensor.ec_temp_coefficient", 0.02)
	v.SetDefault("sensor.max_invalid_readings", 3)

	v.SetDefault("dosing.flow_rate", 30.0)
	v.SetDefault("dosing.priming_duty", 25.0)
	v.SetDefault("dosing.priming_window", "2500ms")
	v.SetDefault("dosing.min_dose_interval", "5m")
	v.SetDefault("dosing.max_doses_per_hour", 3)
	v.SetDefault("dosing.max_actuation", "10m")

	v.SetDefault("safety.priming_timeout", "5s")
	v.SetDefault("safety.cooldown", "5m")
	v.SetDefault("safety.channel_error_recovery", "30s")
	v.SetDefault("safety.sensor_warmup_timeout", "5s")
	v.SetDefault("safety.sensor_error_recovery", "10s")

	v.SetDefault("hardware.backend", "sim")
	v.SetDefault("hardware.modbus.address", "127.0.0.1:502")
	v.SetDefault("hardware.modbus.unit_id", 0)
	v.SetDefault("hardware.modbus.timeout", "1s")
	v.SetDefault("hardware.modbus.profile", "")
	v.SetDefault("hardware.s7.host", "192.168.0.1")
	v.SetDefault("hardware.s7.rack", 0)
	v.SetDefault("hardware.s7.slot", 1)
	v.SetDefault("hardware.s7.db", 1)
	v.SetDefault("hardware.s7.timeout", "1s")

	v.SetDefault("calibration.path", "data/calibration.db")

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "hydroponik")
	v.SetDefault("database.user", "hydroponik")
	v.SetDefault("database.password", "")
	v.SetDefault("database.max_connections", 5)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "hydroponik:")
	v.SetDefault("redis.history_size", 100)

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "hydroponik")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.topic_prefix", "hydroponik")
	v.SetDefault("mqtt.qos", 0)

	v.SetDefault("telemetry.publish_interval", "1s")

	v.SetDefault("discovery.enabled", false)
	v.SetDefault("discovery.instance", "hydroponik")

	v.SetDefault("console.enabled", false)
}

// Load reads a YAML file on top of the defaults. HYDRO_* environment
// variables override both, e.g. HYDRO_SERVER_HTTP_PORT.
func Load(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	return unmarshal(v)
}

// Default returns the built-in configuration without reading a file.
func Default() *Config {
	cfg, err := unmarshal(newViper())
	if err != nil {
		panic(fmt.Sprintf("invalid built-in defaults: %v", err))
	}
	return cfg
}

var envKeyReplacer = strings.NewReplacer(".", "_")

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("HYDRO")
	v.SetEnvKeyReplacer(envKeyReplacer)
	v.AutomaticEnv()

	return v
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate rejects settings the control loop cannot run with.
func (c *Config) Validate() error {
	if c.Control.CycleInterval <= 0 {
		return fmt.Errorf("control.cycle_interval must be positive")
	}
	if c.Sensor.Samples < 1 {
		return fmt.Errorf("sensor.samples must be at least 1")
	}
	if c.Dosing.FlowRate <= 0 {
		return fmt.Errorf("dosing.flow_rate must be positive")
	}
	// Phase windows must fit inside their safety timeouts.
	if c.Dosing.PrimingWindow >= c.Safety.PrimingTimeout {
		return fmt.Errorf("dosing.priming_window (%s) must be shorter than safety.priming_timeout (%s)",
			c.Dosing.PrimingWindow, c.Safety.PrimingTimeout)
	}
	if c.Sensor.Warmup >= c.Safety.SensorWarmupTimeout {
		return fmt.Errorf("sensor.warmup (%s) must be shorter than safety.sensor_warmup_timeout (%s)",
			c.Sensor.Warmup, c.Safety.SensorWarmupTimeout)
	}
	switch c.Hardware.Backend {
	case "sim", "modbus", "s7":
	default:
		return fmt.Errorf("unknown hardware backend %q", c.Hardware.Backend)
	}
	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Millis converts a duration to control-clock milliseconds.
func Millis(d time.Duration) uint32 {
	return uint32(d / time.Millisecond)
}
