package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Log         LogConfig         `toml:"log"`
	Tracing     TracingConfig     `toml:"tracing"`
	Directory   DirectoryConfig   `toml:"directory"`
	Audit       AuditConfig       `toml:"audit"`
	Coordinator CoordinatorConfig `toml:"coordinator"`
	Agents      AgentsConfig      `toml:"agents"`
	Generator   GeneratorConfig   `toml:"generator"`
	Events      EventsConfig      `toml:"events"`
	Supervisor  SupervisorConfig  `toml:"supervisor"`
	Client      ClientConfig      `toml:"client"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type TracingConfig struct {
	Enabled  bool   `toml:"enabled"`
	Endpoint string `toml:"endpoint"`
}

type DirectoryConfig struct {
	Bind      string       `toml:"bind"`
	Port      int          `toml:"port"`
	Store     string       `toml:"store"`
	DSN       string       `toml:"dsn"`
	RedisAddr string       `toml:"redis_addr"`
	RedisKey  string       `toml:"redis_key"`
	Cards     []CardConfig `toml:"cards"`
}

// CardConfig seeds the directory with a card at startup.
type CardConfig struct {
	Capability  string `toml:"capability"`
	Name        string `toml:"name"`
	Description string `toml:"description"`
	URL         string `toml:"url"`
	Version     string `toml:"version"`
	Streaming   bool   `toml:"streaming"`
}

type AuditConfig struct {
	Enabled bool   `toml:"enabled"`
	DSN     string `toml:"dsn"`
}

type CoordinatorConfig struct {
	Bind            string      `toml:"bind"`
	Port            int         `toml:"port"`
	DirectoryURL    string      `toml:"directory_url"`
	Discovery       string      `toml:"discovery"`
	PipelineTimeout Duration    `toml:"pipeline_timeout"`
	StageTimeout    Duration    `toml:"stage_timeout"`
	Retry           RetryConfig `toml:"retry"`
}

type RetryConfig struct {
	MaxAttempts      int      `toml:"max_attempts"`
	InitialBackoff   Duration `toml:"initial_backoff"`
	MaxBackoff       Duration `toml:"max_backoff"`
	Multiplier       float64  `toml:"multiplier"`
	RetryStageErrors bool     `toml:"retry_stage_errors"`
}

type AgentsConfig struct {
	Outline AgentConfig `toml:"outline"`
	Draft   AgentConfig `toml:"draft"`
	Build   AgentConfig `toml:"build"`
}

type AgentConfig struct {
	Bind      string `toml:"bind"`
	Port      int    `toml:"port"`
	GRPCPort  int    `toml:"grpc_port"`
	Transport string `toml:"transport"`
	Register  bool   `toml:"register"`
	OutputDir string `toml:"output_dir"`
}

type GeneratorConfig struct {
	Driver    string `toml:"driver"`
	Model     string `toml:"model"`
	BaseURL   string `toml:"base_url"`
	APIKeyEnv string `toml:"api_key_env"`
}

type EventsConfig struct {
	Driver  string   `toml:"driver"`
	Brokers []string `toml:"brokers"`
	Topic   string   `toml:"topic"`
}

type SupervisorConfig struct {
	ReadyTimeout Duration `toml:"ready_timeout"`
	Grace        Duration `toml:"grace"`
}

type ClientConfig struct {
	CoordinatorURL string   `toml:"coordinator_url"`
	Timeout        Duration `toml:"timeout"`
}

// Duration is a time.Duration that decodes from TOML strings like "120s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		d.Duration = 0
		return nil
	}
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Directory: DirectoryConfig{
			Bind:     "loopback",
			Port:     10100,
			Store:    "memory",
			RedisKey: "deckhand:cards",
		},
		Audit: AuditConfig{
			DSN: filepath.Join(DataDir(), "audit.db"),
		},
		Coordinator: CoordinatorConfig{
			Bind:            "loopback",
			Port:            10200,
			DirectoryURL:    "http://127.0.0.1:10100",
			Discovery:       "http",
			PipelineTimeout: Duration{120 * time.Second},
			Retry: RetryConfig{
				MaxAttempts:    1,
				InitialBackoff: Duration{500 * time.Millisecond},
				MaxBackoff:     Duration{10 * time.Second},
				Multiplier:     2,
			},
		},
		Agents: AgentsConfig{
			Outline: AgentConfig{Bind: "loopback", Port: 10201, Transport: "http", Register: true},
			Draft:   AgentConfig{Bind: "loopback", Port: 10202, Transport: "http", Register: true},
			Build:   AgentConfig{Bind: "loopback", Port: 10203, Transport: "http", Register: true, OutputDir: "output"},
		},
		Generator: GeneratorConfig{
			Driver: "template",
		},
		Events: EventsConfig{
			Driver: "log",
			Topic:  "deckhand.pipeline",
		},
		Supervisor: SupervisorConfig{
			ReadyTimeout: Duration{15 * time.Second},
			Grace:        Duration{5 * time.Second},
		},
		Client: ClientConfig{
			CoordinatorURL: "http://127.0.0.1:10200",
			Timeout:        Duration{120 * time.Second},
		},
	}
}

var (
	current *Config
	mu      sync.RWMutex
)

func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			setCurrent(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	setCurrent(cfg)
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Directory.Store {
	case "memory", "sqlite", "redis":
	default:
		return fmt.Errorf("config: unknown directory store %q", c.Directory.Store)
	}
	switch c.Coordinator.Discovery {
	case "http", "mcp":
	default:
		return fmt.Errorf("config: unknown discovery mode %q", c.Coordinator.Discovery)
	}
	if c.Coordinator.Retry.MaxAttempts < 1 {
		return fmt.Errorf("config: retry.max_attempts must be at least 1")
	}
	for _, a := range []AgentConfig{c.Agents.Outline, c.Agents.Draft, c.Agents.Build} {
		if a.Transport == "grpc" && a.GRPCPort == 0 {
			return fmt.Errorf("config: grpc transport requires grpc_port")
		}
	}
	if c.Agents.Build.OutputDir == "" {
		c.Agents.Build.OutputDir = "output"
	}
	return nil
}

func setCurrent(cfg *Config) {
	mu.Lock()
	current = cfg
	mu.Unlock()
}

func Current() *Config {
	mu.RLock()
	defer mu.RUnlock()
	if current == nil {
		return Default()
	}
	return current
}

func DataDir() string {
	if dir := os.Getenv("DECKHAND_DATA_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".deckhand"
	}
	return filepath.Join(home, ".deckhand")
}

func DefaultConfigPath() string {
	return filepath.Join(DataDir(), "deckhand.toml")
}

func EnsureDataDir() error {
	return os.MkdirAll(DataDir(), 0700)
}
