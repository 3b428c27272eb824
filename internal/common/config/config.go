// Package config provides configuration management for Elisa.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for Elisa.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	NATS         NATSConfig         `mapstructure:"nats"`
	Planner      PlannerConfig      `mapstructure:"planner"`
	AgentRuntime AgentRuntimeConfig `mapstructure:"agentRuntime"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Workspace    WorkspaceConfig    `mapstructure:"workspace"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// DatabaseConfig holds the session archive database configuration.
// Driver "sqlite" uses Path; driver "postgres" uses DSN.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
	DSN    string `mapstructure:"dsn"`
}

// NATSConfig holds NATS messaging configuration.
// An empty URL selects the in-memory event bus.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// PlannerConfig holds the external planner endpoint configuration.
type PlannerConfig struct {
	URL     string `mapstructure:"url"`
	Timeout int    `mapstructure:"timeout"` // in seconds
}

// AgentRuntimeConfig holds the agent runtime REST endpoint configuration.
type AgentRuntimeConfig struct {
	URL string `mapstructure:"url"`
}

// OrchestratorConfig holds the session orchestrator knobs.
type OrchestratorConfig struct {
	MaxParallelTasks  int     `mapstructure:"maxParallelTasks"`  // tasks running concurrently within one session
	MaxRetries        int     `mapstructure:"maxRetries"`        // attempts before a human gate opens
	MaxTurns          int     `mapstructure:"maxTurns"`          // per-task agent turn cap
	TokenBudget       int     `mapstructure:"tokenBudget"`       // effective token ceiling per session
	ReservedPerTask   int     `mapstructure:"reservedPerTask"`   // tokens reserved per dispatched task
	GateTimeout       int     `mapstructure:"gateTimeout"`       // seconds a human gate waits
	GateTimeoutAborts bool    `mapstructure:"gateTimeoutAborts"` // abort the session instead of approving on gate timeout
	QuestionTimeout   int     `mapstructure:"questionTimeout"`   // seconds a mid-task question waits
	AgentTurnTimeout  int     `mapstructure:"agentTurnTimeout"`  // seconds per agent attempt
	CleanupGrace      int     `mapstructure:"cleanupGrace"`      // seconds a finished session stays in the store
	CostPerMTokUSD    float64 `mapstructure:"costPerMTokUsd"`    // fallback cost estimate when the runner reports none
}

// WorkspaceConfig holds workspace path policy overrides.
type WorkspaceConfig struct {
	// Root, when set, becomes the strict allow-root for user workspace paths.
	Root string `mapstructure:"root"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// Address returns the host:port listen address.
func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// TimeoutDuration returns the planner timeout as a time.Duration.
func (p *PlannerConfig) TimeoutDuration() time.Duration {
	return time.Duration(p.Timeout) * time.Second
}

// GateTimeoutDuration returns the gate timeout as a time.Duration.
func (o *OrchestratorConfig) GateTimeoutDuration() time.Duration {
	return time.Duration(o.GateTimeout) * time.Second
}

// QuestionTimeoutDuration returns the question timeout as a time.Duration.
func (o *OrchestratorConfig) QuestionTimeoutDuration() time.Duration {
	return time.Duration(o.QuestionTimeout) * time.Second
}

// AgentTurnTimeoutDuration returns the per-attempt agent timeout as a time.Duration.
func (o *OrchestratorConfig) AgentTurnTimeoutDuration() time.Duration {
	return time.Duration(o.AgentTurnTimeout) * time.Second
}

// CleanupGraceDuration returns the cleanup grace period as a time.Duration.
func (o *OrchestratorConfig) CleanupGraceDuration() time.Duration {
	return time.Duration(o.CleanupGrace) * time.Second
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("ELISA_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	// Database defaults - sqlite archive next to the binary
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./elisa.db")
	v.SetDefault("database.dsn", "")

	// NATS defaults - empty URL means use in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "elisa-orchestrator")
	v.SetDefault("nats.maxReconnects", 10)

	// Planner defaults
	v.SetDefault("planner.url", "http://localhost:9797/plan")
	v.SetDefault("planner.timeout", 120)

	// Agent runtime defaults
	v.SetDefault("agentRuntime.url", "http://localhost:9798")

	// Orchestrator defaults
	v.SetDefault("orchestrator.maxParallelTasks", 1)
	v.SetDefault("orchestrator.maxRetries", 3)
	v.SetDefault("orchestrator.maxTurns", 30)
	v.SetDefault("orchestrator.tokenBudget", 500000)
	v.SetDefault("orchestrator.reservedPerTask", 8000)
	v.SetDefault("orchestrator.gateTimeout", 24*60*60)
	v.SetDefault("orchestrator.gateTimeoutAborts", false)
	v.SetDefault("orchestrator.questionTimeout", 10*60)
	v.SetDefault("orchestrator.agentTurnTimeout", 10*60)
	v.SetDefault("orchestrator.cleanupGrace", 30*60)
	v.SetDefault("orchestrator.costPerMTokUsd", 3.0)

	// Workspace defaults
	v.SetDefault("workspace.root", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix ELISA_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory or /etc/elisa/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults first
	setDefaults(v)

	// Configure environment variables
	v.SetEnvPrefix("ELISA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for snake_case env vars (camelCase config keys)
	// AutomaticEnv does not handle camelCase to SNAKE_CASE conversion,
	// so we explicitly bind keys where env var naming differs from config key naming.
	_ = v.BindEnv("workspace.root", "ELISA_WORKSPACE_ROOT")
	_ = v.BindEnv("orchestrator.maxParallelTasks", "ELISA_ORCHESTRATOR_MAX_PARALLEL_TASKS")
	_ = v.BindEnv("orchestrator.tokenBudget", "ELISA_ORCHESTRATOR_TOKEN_BUDGET")
	_ = v.BindEnv("agentRuntime.url", "ELISA_AGENT_RUNTIME_URL")

	// Configure config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/elisa/")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	switch cfg.Database.Driver {
	case "sqlite":
		if cfg.Database.Path == "" {
			errs = append(errs, "database.path is required for the sqlite driver")
		}
	case "postgres":
		if cfg.Database.DSN == "" {
			errs = append(errs, "database.dsn is required for the postgres driver")
		}
	default:
		errs = append(errs, "database.driver must be one of: sqlite, postgres")
	}

	if cfg.Orchestrator.MaxParallelTasks <= 0 {
		errs = append(errs, "orchestrator.maxParallelTasks must be positive")
	}
	if cfg.Orchestrator.MaxRetries <= 0 {
		errs = append(errs, "orchestrator.maxRetries must be positive")
	}
	if cfg.Orchestrator.TokenBudget <= 0 {
		errs = append(errs, "orchestrator.tokenBudget must be positive")
	}
	if cfg.Orchestrator.ReservedPerTask < 0 {
		errs = append(errs, "orchestrator.reservedPerTask must not be negative")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}
