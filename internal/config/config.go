// Package config loads YAML configuration for the agent, the server and fleetctl.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Qosay-AlShatel/IoT-Device-Metrics-Reporter/internal/logger"
)

const (
	DefaultServerPath = "/etc/fleetdash/server.yaml"
	DefaultAgentPath  = "/etc/fleetdash/agent.yaml"

	// MinAgentInterval is the shortest cadence an agent will report at.
	MinAgentInterval = 3 * time.Second
)

// Duration accepts Go duration syntax ("10s", "1m30s") or bare seconds (10, 2.5).
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}

	*d = Duration(parsed)

	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// ParseDuration parses Go duration syntax, falling back to a number of seconds.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}

	secs, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}

	return time.Duration(secs * float64(time.Second)), nil
}

type ServerConfig struct {
	Listen          string        `yaml:"listen"`
	ReportInterval  Duration      `yaml:"report_interval"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	ShutdownTimeout Duration      `yaml:"shutdown_timeout"`
	ViewerToken     string        `yaml:"viewer_token"`
	Logging         logger.Config `yaml:"logging"`
}

type AgentConfig struct {
	ServerURL       string        `yaml:"server_url"`
	Interval        Duration      `yaml:"interval"`
	DeviceID        string        `yaml:"device_id"`
	DeviceKind      string        `yaml:"device_kind"`
	Timeout         Duration      `yaml:"timeout"`
	DiskPath        string        `yaml:"disk_path"`
	CPUSampleWindow Duration      `yaml:"cpu_sample_window"`
	Logging         logger.Config `yaml:"logging"`
}

type CtlConfig struct {
	ServerURL string `yaml:"server_url"`
	Token     string `yaml:"token"`
	Output    string `yaml:"output"`
}

func defaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Listen:          ":8000",
		ReportInterval:  Duration(10 * time.Second),
		MaxBodyBytes:    1 << 20,
		ShutdownTimeout: Duration(5 * time.Second),
		Logging:         *logger.DefaultConfig(),
	}
}

func defaultAgentConfig() *AgentConfig {
	return &AgentConfig{
		ServerURL:       "http://localhost:8000",
		Interval:        Duration(10 * time.Second),
		Timeout:         Duration(5 * time.Second),
		DiskPath:        "/",
		CPUSampleWindow: Duration(500 * time.Millisecond),
		Logging:         *logger.DefaultConfig(),
	}
}

func defaultCtlConfig() *CtlConfig {
	return &CtlConfig{
		ServerURL: "http://localhost:8000",
		Output:    "table",
	}
}

// DefaultCtlPath is ~/.fleetdash/fleetctl.yaml.
func DefaultCtlPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".fleetdash", "fleetctl.yaml")
}

// LoadServer reads path (a missing file yields defaults), then applies environment overrides.
func LoadServer(path string) (*ServerConfig, error) {
	cfg := defaultServerConfig()
	if err := readYAML(path, cfg); err != nil {
		return nil, err
	}

	if v := os.Getenv("FLEETDASH_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if err := envDuration("FLEETDASH_REPORT_INTERVAL", &cfg.ReportInterval); err != nil {
		return nil, err
	}

	if err := cfg.normalize(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *ServerConfig) normalize() error {
	if c.Listen == "" {
		c.Listen = ":8000"
	}
	if c.ReportInterval <= 0 {
		return fmt.Errorf("report_interval must be positive, got %s", c.ReportInterval.Std())
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 1 << 20
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = Duration(5 * time.Second)
	}

	return nil
}

// LoadAgent reads path (a missing file yields defaults), then applies environment overrides.
func LoadAgent(path string) (*AgentConfig, error) {
	cfg := defaultAgentConfig()
	if err := readYAML(path, cfg); err != nil {
		return nil, err
	}

	if v := os.Getenv("FLEETDASH_SERVER"); v != "" {
		cfg.ServerURL = v
	}
	if v := os.Getenv("FLEETDASH_DEVICE_ID"); v != "" {
		cfg.DeviceID = v
	}
	if v := os.Getenv("FLEETDASH_DEVICE_KIND"); v != "" {
		cfg.DeviceKind = v
	}
	if err := envDuration("FLEETDASH_INTERVAL", &cfg.Interval); err != nil {
		return nil, err
	}
	if err := envDuration("FLEETDASH_TIMEOUT", &cfg.Timeout); err != nil {
		return nil, err
	}

	cfg.Normalize()

	return cfg, nil
}

// Normalize fills defaults and clamps the interval. Callers that override
// fields after loading run it again.
func (c *AgentConfig) Normalize() {
	c.ServerURL = strings.TrimRight(strings.TrimSpace(c.ServerURL), "/")
	if c.ServerURL == "" {
		c.ServerURL = "http://localhost:8000"
	}
	if c.Interval < Duration(MinAgentInterval) {
		c.Interval = Duration(MinAgentInterval)
	}
	if c.Timeout <= 0 {
		c.Timeout = Duration(5 * time.Second)
	}
	if c.DiskPath == "" {
		c.DiskPath = "/"
	}
	if c.CPUSampleWindow <= 0 {
		c.CPUSampleWindow = Duration(500 * time.Millisecond)
	}
}

// LoadCtl reads the fleetctl config and FLEETDASH_SERVER / FLEETDASH_TOKEN.
func LoadCtl(path string) (*CtlConfig, error) {
	cfg := defaultCtlConfig()
	if err := readYAML(path, cfg); err != nil {
		return nil, err
	}

	if v := os.Getenv("FLEETDASH_SERVER"); v != "" {
		cfg.ServerURL = v
	}
	if v := os.Getenv("FLEETDASH_TOKEN"); v != "" {
		cfg.Token = v
	}

	cfg.ServerURL = strings.TrimRight(cfg.ServerURL, "/")
	if cfg.Output == "" {
		cfg.Output = "table"
	}

	return cfg, nil
}

func readYAML(path string, out interface{}) error {
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config: %w", err)
	}

	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}

	return nil
}

func envDuration(key string, out *Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}

	d, err := ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}

	*out = Duration(d)

	return nil
}
