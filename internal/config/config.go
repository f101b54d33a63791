// Package config provides configuration loading for cagesim.
// It supports loading from YAML files and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config contains all cagesim configuration settings.
type Config struct {
	// Simulation holds the constants the core engine runs with.
	Simulation Simulation `json:"simulation" yaml:"simulation"`

	// Engine controls the frame loop that drives the simulation.
	Engine Engine `json:"engine" yaml:"engine"`

	// Storage configures the SQLite run archive.
	Storage Storage `json:"storage" yaml:"storage"`

	// API configures the HTTP observation server.
	API API `json:"api" yaml:"api"`

	// Logging contains settings for operational logging.
	Logging Logging `json:"logging" yaml:"logging"`
}

// Simulation holds every tunable the world, regions and migration
// controller consult. One value is passed in at construction so that
// independent simulations never share state.
type Simulation struct {
	// Seed for the random source. 0 draws a fresh seed per run.
	Seed int64 `json:"seed" yaml:"seed"`

	// Speed is the initial clock multiplier. 0 starts paused.
	Speed float64 `json:"speed" yaml:"speed"`

	// MaxSpeed caps SetSpeed.
	MaxSpeed float64 `json:"max_speed" yaml:"max_speed"`

	// InfectionProbability is the chance one contact transmits. Range: 0.0 to 1.0
	InfectionProbability float64 `json:"infection_probability" yaml:"infection_probability"`

	// DeathProbability is the chance an infection resolves to death. Range: 0.0 to 1.0
	DeathProbability float64 `json:"death_probability" yaml:"death_probability"`

	// RecoveryMin and RecoveryMax bound the per-infection recovery duration (sim seconds).
	RecoveryMin float64 `json:"recovery_min" yaml:"recovery_min"`
	RecoveryMax float64 `json:"recovery_max" yaml:"recovery_max"`

	// RestMin and RestMax bound how long a migrating agent rests at each end.
	RestMin float64 `json:"rest_min" yaml:"rest_min"`
	RestMax float64 `json:"rest_max" yaml:"rest_max"`

	// AgentRadius is the collision radius every agent is created with.
	AgentRadius float64 `json:"agent_radius" yaml:"agent_radius"`

	// ViewportWidth and ViewportHeight bound where regions may be placed.
	ViewportWidth  float64 `json:"viewport_width" yaml:"viewport_width"`
	ViewportHeight float64 `json:"viewport_height" yaml:"viewport_height"`

	// MaxCapacity is the largest population a single region may request.
	MaxCapacity int `json:"max_capacity" yaml:"max_capacity"`
}

// Engine configures the frame loop.
type Engine struct {
	// FrameInterval is the wall-clock time between ticks.
	FrameInterval time.Duration `json:"frame_interval" yaml:"frame_interval"`

	// SaveInterval is how often samples are flushed to storage. 0 disables
	// periodic saves (a final save still happens on shutdown).
	SaveInterval time.Duration `json:"save_interval" yaml:"save_interval"`
}

// Storage configures the run archive.
type Storage struct {
	// Path to the SQLite database. Empty disables persistence.
	Path string `json:"path" yaml:"path"`
}

// API configures the HTTP server.
type API struct {
	// Port to listen on. 0 disables the server.
	Port int `json:"port" yaml:"port"`

	// AdminKey is the bearer token for POST endpoints. Empty disables them.
	AdminKey string `json:"admin_key,omitempty" yaml:"admin_key,omitempty"`
}

// Logging configures operational logging.
type Logging struct {
	// Level sets the log verbosity: "info" (default), "debug", or "trace".
	Level string `json:"level" yaml:"level"`
}

// String implements fmt.Stringer to prevent accidental admin key logging.
func (a API) String() string {
	key := ""
	if a.AdminKey != "" {
		key = "(set)"
	}
	return fmt.Sprintf("API{Port:%d, AdminKey:%s}", a.Port, key)
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Simulation: DefaultSimulation(),
		Engine: Engine{
			FrameInterval: 16 * time.Millisecond,
			SaveInterval:  30 * time.Second,
		},
		Storage: Storage{
			Path: "",
		},
		API: API{
			Port: 0,
		},
		Logging: Logging{
			Level: "info",
		},
	}
}

// DefaultSimulation returns the simulation constants used when no file
// overrides them.
func DefaultSimulation() Simulation {
	return Simulation{
		Seed:                 0,
		Speed:                1,
		MaxSpeed:             100,
		InfectionProbability: 0.5,
		DeathProbability:     0.3,
		RecoveryMin:          80,
		RecoveryMax:          120,
		RestMin:              50,
		RestMax:              150,
		AgentRadius:          3,
		ViewportWidth:        1280,
		ViewportHeight:       720,
		MaxCapacity:          1000,
	}
}

// Load loads defaults, then the YAML file at path (if path is non-empty),
// then environment variable overrides.
func Load(path string) (*Config, error) {
	config := Default()

	if path != "" {
		fileConfig, err := LoadFromFile(path)
		if err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
		config = fileConfig
	}

	applyEnvOverrides(config)

	return config, nil
}

// LoadFromFile loads configuration from a specific YAML file. Fields the
// file omits keep their default values.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return config, nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if err := c.Simulation.Validate(); err != nil {
		return err
	}

	if c.Engine.FrameInterval <= 0 {
		return fmt.Errorf("frame_interval must be positive, got %v", c.Engine.FrameInterval)
	}
	if c.Engine.SaveInterval < 0 {
		return fmt.Errorf("save_interval must be non-negative, got %v", c.Engine.SaveInterval)
	}
	if c.API.Port < 0 || c.API.Port > 65535 {
		return fmt.Errorf("invalid api port: %d", c.API.Port)
	}

	validLevels := map[string]bool{"info": true, "debug": true, "trace": true}
	if c.Logging.Level != "" && !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: info, debug, trace, or empty for default)", c.Logging.Level)
	}

	return nil
}

// Validate checks the simulation constants.
func (s Simulation) Validate() error {
	if s.InfectionProbability < 0 || s.InfectionProbability > 1 {
		return fmt.Errorf("infection_probability must be between 0 and 1, got %f", s.InfectionProbability)
	}
	if s.DeathProbability < 0 || s.DeathProbability > 1 {
		return fmt.Errorf("death_probability must be between 0 and 1, got %f", s.DeathProbability)
	}
	if s.RecoveryMin < 0 || s.RecoveryMax < s.RecoveryMin {
		return fmt.Errorf("recovery range must satisfy 0 <= min <= max, got [%f, %f]", s.RecoveryMin, s.RecoveryMax)
	}
	if s.RestMin < 0 || s.RestMax < s.RestMin {
		return fmt.Errorf("rest range must satisfy 0 <= min <= max, got [%f, %f]", s.RestMin, s.RestMax)
	}
	if s.AgentRadius <= 0 {
		return fmt.Errorf("agent_radius must be positive, got %f", s.AgentRadius)
	}
	if s.ViewportWidth <= 0 || s.ViewportHeight <= 0 {
		return fmt.Errorf("viewport must be positive, got %fx%f", s.ViewportWidth, s.ViewportHeight)
	}
	if s.MaxCapacity < 0 {
		return fmt.Errorf("max_capacity must be non-negative, got %d", s.MaxCapacity)
	}
	if s.MaxSpeed < 0 {
		return fmt.Errorf("max_speed must be non-negative, got %f", s.MaxSpeed)
	}
	if s.Speed < 0 || s.Speed > s.MaxSpeed {
		return fmt.Errorf("speed must be between 0 and %f, got %f", s.MaxSpeed, s.Speed)
	}
	return nil
}

// Marshal renders the config as YAML (used to archive run settings).
func (c *Config) Marshal() (string, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal config: %w", err)
	}
	return string(data), nil
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("CAGESIM_SPEED"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Simulation.Speed = f
		}
	}

	if v := os.Getenv("CAGESIM_SEED"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			config.Simulation.Seed = n
		}
	}

	if v := os.Getenv("CAGESIM_DB"); v != "" {
		config.Storage.Path = v
	}

	if v := os.Getenv("CAGESIM_API_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.API.Port = n
		}
	}

	if v := os.Getenv("CAGESIM_ADMIN_KEY"); v != "" {
		config.API.AdminKey = v
	}

	if v := os.Getenv("CAGESIM_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
}
