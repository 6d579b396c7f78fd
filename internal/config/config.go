package config

import (
	"errors"
	"io/fs"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/ztkent/color-meter/tcs34725"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Sensor    SensorConfig    `yaml:"sensor"`
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Recording RecordingConfig `yaml:"recording"`
	Log       LogConfig       `yaml:"log"`
}

// SensorConfig contains the bus, pins and start-up register settings
type SensorConfig struct {
	I2CDevice     string   `yaml:"i2c_device"`
	Address       int      `yaml:"address"`
	InterruptPin  string   `yaml:"interrupt_pin"` // empty disables the interrupt bridge
	LEDPin        string   `yaml:"led_pin"`       // empty disables LED control
	Gain          int      `yaml:"gain"`
	IntegrationMs float64  `yaml:"integration_ms"`
	WaitMs        float64  `yaml:"wait_ms"` // 0 disables the wait state
	Persistence   int      `yaml:"persistence"`
	LockTimeout   Duration `yaml:"lock_timeout"`
}

// Options converts the sensor section to driver start-up options.
func (s SensorConfig) Options() tcs34725.Options {
	return tcs34725.Options{
		Gain:              s.Gain,
		IntegrationTimeMs: s.IntegrationMs,
		WaitTimeMs:        s.WaitMs,
		Persistence:       s.Persistence,
		LockTimeout:       s.LockTimeout.Duration(),
	}
}

// ServerConfig contains HTTP listener settings
type ServerConfig struct {
	Port          int      `yaml:"port"`
	SSL           bool     `yaml:"ssl"`
	CertFile      string   `yaml:"cert"`
	KeyFile       string   `yaml:"key"`
	WebDAVEnabled bool     `yaml:"webdav_enabled"`
	WebDAVRoot    string   `yaml:"webdav_root"`
	AllowedCIDRs  []string `yaml:"allowed_cidrs"` // in-network ranges for restricted routes
	Timezone      string   `yaml:"timezone"`      // used to parse export date ranges
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// RecordingConfig contains settings for background recording jobs
type RecordingConfig struct {
	Interval    Duration `yaml:"interval"`
	MaxDuration Duration `yaml:"max_duration"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads and parses the configuration file. A missing file is not an
// error; the defaults and environment overrides apply.
func Load(path string) (*Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		// Expand environment variables
		expanded := expandEnvVars(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return &cfg, nil
}

// applyEnv lets the deployment environment override the file.
func (cfg *Config) applyEnv() {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("I2C_DEV"); v != "" {
		cfg.Sensor.I2CDevice = v
	}
	if v, err := strconv.ParseBool(os.Getenv("SSL")); err == nil {
		cfg.Server.SSL = v
	}
	if v, err := strconv.Atoi(os.Getenv("PORT")); err == nil {
		cfg.Server.Port = v
	}
}

func (cfg *Config) applyDefaults() {
	// Sensor defaults
	if cfg.Sensor.I2CDevice == "" {
		cfg.Sensor.I2CDevice = "/dev/i2c-1"
	}
	if cfg.Sensor.Address == 0 {
		cfg.Sensor.Address = int(tcs34725.TCS34725_ADDR)
	}
	if cfg.Sensor.LockTimeout == 0 {
		cfg.Sensor.LockTimeout = Duration(tcs34725.DefaultLockTimeout)
	}
	// Gain, integration and persistence default inside the driver

	// Server defaults
	if cfg.Server.Port == 0 {
		if cfg.Server.SSL {
			cfg.Server.Port = 443
		} else {
			cfg.Server.Port = 80
		}
	}
	if cfg.Server.CertFile == "" {
		cfg.Server.CertFile = "cert.pem"
	}
	if cfg.Server.KeyFile == "" {
		cfg.Server.KeyFile = "key.pem"
	}
	if cfg.Server.WebDAVRoot == "" {
		cfg.Server.WebDAVRoot = "./files"
	}
	if len(cfg.Server.AllowedCIDRs) == 0 {
		cfg.Server.AllowedCIDRs = []string{"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16"}
	}
	if cfg.Server.Timezone == "" {
		cfg.Server.Timezone = "UTC"
	}

	if cfg.Database.Path == "" {
		cfg.Database.Path = "colormeter.db"
	}

	// Recording defaults
	if cfg.Recording.Interval == 0 {
		cfg.Recording.Interval = Duration(30 * time.Second)
	}
	if cfg.Recording.MaxDuration == 0 {
		cfg.Recording.MaxDuration = Duration(8 * time.Hour)
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.File == "" {
		cfg.Log.File = "colormeter.log"
	}
}

var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		parts := envVarPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		if val := os.Getenv(parts[1]); val != "" {
			return val
		}
		if len(parts) >= 3 {
			return parts[2]
		}
		return ""
	})
}
