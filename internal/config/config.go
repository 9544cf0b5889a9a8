package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FeaturesConfig holds the console feature flags gating the scheduler.
type FeaturesConfig struct {
	// Missions is the overall mission-feature flag.
	Missions *bool `yaml:"missions"`
	// SchedulerAPI gates HTTP control of the scheduler separately.
	SchedulerAPI *bool `yaml:"scheduler_api"`
}

// MissionsEnabled defaults to true when unset.
func (f FeaturesConfig) MissionsEnabled() bool {
	if f.Missions == nil {
		return true
	}
	return *f.Missions
}

// SchedulerAPIEnabled defaults to true when unset.
func (f FeaturesConfig) SchedulerAPIEnabled() bool {
	if f.SchedulerAPI == nil {
		return true
	}
	return *f.SchedulerAPI
}

// SchedulerConfig tunes the mission scheduler.
type SchedulerConfig struct {
	// Interval between scheduling passes, as a Go duration string.
	Interval string `yaml:"interval"`
	// MaxConcurrent caps in-flight runs. Unset means one per CPU;
	// explicit 0 means unbounded.
	MaxConcurrent *int `yaml:"max_concurrent"`
	// StateFile is where the tick-state snapshot lives.
	StateFile string `yaml:"state_file"`
}

// ParseInterval parses the tick interval, defaulting to 30s.
func (s SchedulerConfig) ParseInterval() (time.Duration, error) {
	if s.Interval == "" {
		return 30 * time.Second, nil
	}
	return time.ParseDuration(s.Interval)
}

// MaxConcurrentRuns resolves the concurrency cap: NumCPU when unset, 0 for
// explicitly unbounded.
func (s SchedulerConfig) MaxConcurrentRuns() int {
	if s.MaxConcurrent == nil {
		return runtime.NumCPU()
	}
	if *s.MaxConcurrent < 0 {
		return 0
	}
	return *s.MaxConcurrent
}

// Config is the top-level daemon configuration parsed from missiond.yaml.
type Config struct {
	Listen       string          `yaml:"listen"`
	DataDir      string          `yaml:"data_dir"`
	TemplatesDir string          `yaml:"templates_dir"`
	LogLevel     string          `yaml:"log_level"`
	LogFormat    string          `yaml:"log_format"`
	Features     FeaturesConfig  `yaml:"features"`
	Scheduler    SchedulerConfig `yaml:"scheduler"`
}

func applyDefaults(c *Config) {
	if c.Listen == "" {
		c.Listen = ":8080"
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	c.DataDir = expandPath(c.DataDir)
	if c.TemplatesDir == "" {
		c.TemplatesDir = defaultTemplatesDir()
	}
	c.TemplatesDir = expandPath(c.TemplatesDir)
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Scheduler.StateFile == "" {
		c.Scheduler.StateFile = filepath.Join(c.DataDir, "scheduler-state.json")
	} else {
		c.Scheduler.StateFile = expandPath(c.Scheduler.StateFile)
	}
}

func defaultTemplatesDir() string {
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return "./templates"
	}
	return filepath.Join(home, ".config", "missiond", "templates")
}

func expandPath(value string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		return value
	}

	v = os.ExpandEnv(v)

	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return v
	}

	if v == "~" {
		return home
	}
	if strings.HasPrefix(v, "~/") {
		return filepath.Join(home, v[2:])
	}
	if strings.HasPrefix(v, "~\\") {
		return filepath.Join(home, v[2:])
	}
	return v
}

// Default returns a Config with every field at its default value.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

// LoadConfig reads a YAML configuration file from path and returns
// a Config with defaults applied for any unset fields.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)
	return &cfg, nil
}
