// Package config loads daemon configuration from YAML and environment
// variables, with defaults tuned for mango storage.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/sweeney/cargo-climate/internal/actuator"
	"github.com/sweeney/cargo-climate/internal/climate"
)

// Config is the full daemon configuration.
type Config struct {
	Sensor    SensorConfig    `mapstructure:"sensor"`
	Targets   TargetsConfig   `mapstructure:"targets"`
	GPIO      GPIOConfig      `mapstructure:"gpio"`
	Actuators ActuatorsConfig `mapstructure:"actuators"`
	Control   ControlConfig   `mapstructure:"control"`
	MQTT      MQTTConfig      `mapstructure:"mqtt"`
	Store     StoreConfig     `mapstructure:"store"`
	Web       WebConfig       `mapstructure:"web"`
	Safety    SafetyConfig    `mapstructure:"safety"`

	Presets map[string]Preset `mapstructure:"presets"`
}

// SensorConfig describes the SHT3x transport and validation.
type SensorConfig struct {
	I2CDevice      string  `mapstructure:"i2c_device"`
	I2CAddress     int     `mapstructure:"i2c_address"`
	ReadInterval   float64 `mapstructure:"read_interval"`
	TempOffset     float64 `mapstructure:"temp_offset"`
	HumidityOffset float64 `mapstructure:"humidity_offset"`
}

// TargetsConfig holds the climate bands and trend thresholds.
type TargetsConfig struct {
	TempMin             float64 `mapstructure:"temp_min"`
	TempTarget          float64 `mapstructure:"temp_target"`
	TempMax             float64 `mapstructure:"temp_max"`
	HumidityMin         float64 `mapstructure:"humidity_min"`
	HumidityTarget      float64 `mapstructure:"humidity_target"`
	HumidityMax         float64 `mapstructure:"humidity_max"`
	TempRateWarning     float64 `mapstructure:"temp_rate_warning"`
	HumidityRateWarning float64 `mapstructure:"humidity_rate_warning"`
}

// GPIOConfig maps actuators to BCM line offsets.
type GPIOConfig struct {
	WaterPump    int `mapstructure:"water_pump"`
	Chiller      int `mapstructure:"chiller"`
	Dehumidifier int `mapstructure:"dehumidifier"`
	WaterLevel   int `mapstructure:"water_level_sensor"`
}

// ActuatorsConfig holds the safety-layer timing limits in seconds.
type ActuatorsConfig struct {
	MinCycleTime      int `mapstructure:"min_cycle_time"`
	MaxPumpRuntime    int `mapstructure:"max_pump_runtime"`
	MaxChillerRuntime int `mapstructure:"max_chiller_runtime"`
	MaxDehumidRuntime int `mapstructure:"max_dehumidifier_runtime"`
}

// ControlConfig holds engine tuning.
type ControlConfig struct {
	TempHysteresis      float64 `mapstructure:"temp_hysteresis"`
	HumidityHysteresis  float64 `mapstructure:"humidity_hysteresis"`
	PredictionWindow    int     `mapstructure:"prediction_window"` // minutes
	HistorySamples      int     `mapstructure:"history_samples"`
	PriorityTemperature float64 `mapstructure:"priority_temperature"`
	PriorityHumidity    float64 `mapstructure:"priority_humidity"`
	PriorityEnergy      float64 `mapstructure:"priority_energy"`
}

// MQTTConfig holds broker settings.
type MQTTConfig struct {
	Broker      string `mapstructure:"broker"`
	ClientID    string `mapstructure:"client_id"`
	HeartbeatMs int64  `mapstructure:"heartbeat_ms"`
}

// StoreConfig holds the cycle-log sinks.
type StoreConfig struct {
	Path         string   `mapstructure:"path"`
	MaxBytes     int64    `mapstructure:"max_bytes"`
	MaxRotated   int      `mapstructure:"max_rotated"`
	KafkaEnabled bool     `mapstructure:"kafka_enabled"`
	KafkaBrokers []string `mapstructure:"kafka_brokers"`
	KafkaTopic   string   `mapstructure:"kafka_topic"`
}

// WebConfig holds the HTTP server settings.
type WebConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// SafetyConfig holds the emergency and override settings.
type SafetyConfig struct {
	EmergencyShutdownTemp float64 `mapstructure:"emergency_shutdown_temp"`
	SensorTimeout         int     `mapstructure:"sensor_timeout"` // seconds
	EnableManualOverride  bool    `mapstructure:"enable_manual_override"`
	EnableWaterLevelCheck bool    `mapstructure:"enable_water_level_check"`
}

// Preset is a produce profile: the optimal targets for one cargo type.
type Preset struct {
	TempTarget     float64 `mapstructure:"temp_target"`
	HumidityTarget float64 `mapstructure:"humidity_target"`
	Description    string  `mapstructure:"description"`
}

// builtinPresets ship with the daemon; config files may add more or
// override these.
var builtinPresets = map[string]Preset{
	"mango":        {TempTarget: 11.0, HumidityTarget: 87.5, Description: "Mango optimal storage: 50-54°F (10-12.2°C), 85-90% RH"},
	"leafy_greens": {TempTarget: 4.0, HumidityTarget: 95.0, Description: "Leafy greens storage"},
	"berries":      {TempTarget: 2.0, HumidityTarget: 90.0, Description: "Berries storage"},
	"tomatoes":     {TempTarget: 13.0, HumidityTarget: 85.0, Description: "Tomatoes storage"},
	"citrus":       {TempTarget: 8.0, HumidityTarget: 85.0, Description: "Citrus storage"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("sensor.i2c_device", "/dev/i2c-1")
	v.SetDefault("sensor.i2c_address", 0x44)
	v.SetDefault("sensor.read_interval", 2.0)
	v.SetDefault("sensor.temp_offset", 0.0)
	v.SetDefault("sensor.humidity_offset", 0.0)

	v.SetDefault("targets.temp_min", 10.0)
	v.SetDefault("targets.temp_target", 11.0)
	v.SetDefault("targets.temp_max", 12.2)
	v.SetDefault("targets.humidity_min", 85.0)
	v.SetDefault("targets.humidity_target", 87.5)
	v.SetDefault("targets.humidity_max", 90.0)
	v.SetDefault("targets.temp_rate_warning", 0.5)
	v.SetDefault("targets.humidity_rate_warning", 2.0)

	v.SetDefault("gpio.water_pump", 17)
	v.SetDefault("gpio.chiller", 27)
	v.SetDefault("gpio.dehumidifier", 22)
	v.SetDefault("gpio.water_level_sensor", 23)

	v.SetDefault("actuators.min_cycle_time", 10)
	v.SetDefault("actuators.max_pump_runtime", 600)
	v.SetDefault("actuators.max_chiller_runtime", 1800)
	v.SetDefault("actuators.max_dehumidifier_runtime", 1200)

	v.SetDefault("control.temp_hysteresis", 0.5)
	v.SetDefault("control.humidity_hysteresis", 2.0)
	v.SetDefault("control.prediction_window", 5)
	v.SetDefault("control.history_samples", 20)
	v.SetDefault("control.priority_temperature", 10.0)
	v.SetDefault("control.priority_humidity", 7.0)
	v.SetDefault("control.priority_energy", 3.0)

	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "cargo-climated")
	v.SetDefault("mqtt.heartbeat_ms", 30000)

	v.SetDefault("store.path", "climate_cycles.jsonl")
	v.SetDefault("store.max_bytes", 10<<20)
	v.SetDefault("store.max_rotated", 7)
	v.SetDefault("store.kafka_enabled", false)
	v.SetDefault("store.kafka_brokers", []string{"localhost:9092"})
	v.SetDefault("store.kafka_topic", "cargo.climate.cycles")

	v.SetDefault("web.enabled", true)
	v.SetDefault("web.addr", ":8080")

	v.SetDefault("safety.emergency_shutdown_temp", 15.0)
	v.SetDefault("safety.sensor_timeout", 30)
	v.SetDefault("safety.enable_manual_override", true)
	v.SetDefault("safety.enable_water_level_check", true)
}

// Load reads configuration from the given file (optional), environment
// variables prefixed CARGO_CLIMATE_, and the built-in defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CARGO_CLIMATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/cargo-climate")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
			// Defaults only.
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.Presets == nil {
		cfg.Presets = make(map[string]Preset, len(builtinPresets))
	}
	for name, p := range builtinPresets {
		if _, ok := cfg.Presets[name]; !ok {
			cfg.Presets[name] = p
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	t := c.Targets
	if !(t.TempMin < t.TempTarget && t.TempTarget < t.TempMax) {
		return fmt.Errorf("targets: temperature band %v/%v/%v is not ordered", t.TempMin, t.TempTarget, t.TempMax)
	}
	if !(t.HumidityMin < t.HumidityTarget && t.HumidityTarget < t.HumidityMax) {
		return fmt.Errorf("targets: humidity band %v/%v/%v is not ordered", t.HumidityMin, t.HumidityTarget, t.HumidityMax)
	}
	if c.Safety.EmergencyShutdownTemp <= t.TempMax {
		return fmt.Errorf("safety: emergency shutdown temp %v must exceed temp_max %v", c.Safety.EmergencyShutdownTemp, t.TempMax)
	}
	if c.Sensor.ReadInterval <= 0 {
		return fmt.Errorf("sensor: read_interval must be positive")
	}
	return nil
}

// Profile builds the engine target profile from the current targets.
func (c *Config) Profile() climate.TargetProfile {
	return climate.TargetProfile{
		TempMin:             c.Targets.TempMin,
		TempTarget:          c.Targets.TempTarget,
		TempMax:             c.Targets.TempMax,
		HumidityMin:         c.Targets.HumidityMin,
		HumidityTarget:      c.Targets.HumidityTarget,
		HumidityMax:         c.Targets.HumidityMax,
		TempHysteresis:      c.Control.TempHysteresis,
		HumidityHysteresis:  c.Control.HumidityHysteresis,
		TempRateWarning:     c.Targets.TempRateWarning,
		HumidityRateWarning: c.Targets.HumidityRateWarning,
		PredictionHorizon:   time.Duration(c.Control.PredictionWindow) * time.Minute,
	}
}

// Weights returns the multi-objective priorities.
func (c *Config) Weights() climate.Weights {
	return climate.Weights{
		Temperature: c.Control.PriorityTemperature,
		Humidity:    c.Control.PriorityHumidity,
		Energy:      c.Control.PriorityEnergy,
	}
}

// Timing returns the actuator safety limits.
func (c *Config) Timing() actuator.Timing {
	return actuator.Timing{
		MinCycleTime:           time.Duration(c.Actuators.MinCycleTime) * time.Second,
		PumpMaxRuntime:         time.Duration(c.Actuators.MaxPumpRuntime) * time.Second,
		ChillerMaxRuntime:      time.Duration(c.Actuators.MaxChillerRuntime) * time.Second,
		DehumidifierMaxRuntime: time.Duration(c.Actuators.MaxDehumidRuntime) * time.Second,
	}
}

// Pins returns the GPIO assignment.
func (c *Config) Pins() actuator.Pins {
	return actuator.Pins{
		Pump:         c.GPIO.WaterPump,
		Chiller:      c.GPIO.Chiller,
		Dehumidifier: c.GPIO.Dehumidifier,
		WaterLevel:   c.GPIO.WaterLevel,
	}
}

// ReadInterval returns the control cycle interval.
func (c *Config) ReadInterval() time.Duration {
	return time.Duration(c.Sensor.ReadInterval * float64(time.Second))
}

// SensorTimeout returns how long the sensor may stay silent before the
// loop escalates to Hold with SensorValid=false.
func (c *Config) SensorTimeout() time.Duration {
	return time.Duration(c.Safety.SensorTimeout) * time.Second
}

// ApplyPreset shifts the target bands to a produce preset, keeping the
// configured band widths around the new optima.
func (c *Config) ApplyPreset(name string) error {
	p, ok := c.Presets[name]
	if !ok {
		return fmt.Errorf("unknown preset %q", name)
	}

	tempShift := p.TempTarget - c.Targets.TempTarget
	humShift := p.HumidityTarget - c.Targets.HumidityTarget

	c.Targets.TempMin += tempShift
	c.Targets.TempTarget = p.TempTarget
	c.Targets.TempMax += tempShift
	c.Targets.HumidityMin += humShift
	c.Targets.HumidityTarget = p.HumidityTarget
	c.Targets.HumidityMax += humShift

	if c.Targets.HumidityMax > 100 {
		c.Targets.HumidityMax = 100
	}
	return nil
}
