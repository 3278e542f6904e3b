// Package config loads service configuration from YAML with environment
// overrides for deployment-sensitive values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/corsairs-gg/quartermaster/pkg/logger"
)

// Config is the root configuration document.
type Config struct {
	Server       ServerConfig         `yaml:"server"`
	Database     DatabaseConfig       `yaml:"database"`
	Redis        RedisConfig          `yaml:"redis"`
	Logging      logger.LoggingConfig `yaml:"logging"`
	Auth         AuthConfig           `yaml:"auth"`
	Discord      DiscordConfig        `yaml:"discord"`
	Recruitment  RecruitmentConfig    `yaml:"recruitment"`
	Orchestrator OrchestratorConfig   `yaml:"orchestrator"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host            string   `yaml:"host"`
	Port            int      `yaml:"port"`
	ReadTimeoutSec  int      `yaml:"read_timeout_sec"`
	WriteTimeoutSec int      `yaml:"write_timeout_sec"`
	AllowedOrigins  []string `yaml:"allowed_origins"`
}

// DatabaseConfig controls the PostgreSQL connection pool.
type DatabaseConfig struct {
	Driver          string `yaml:"driver"`
	DSN             string `yaml:"dsn"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_sec"`
	MigrationsPath  string `yaml:"migrations_path"`
}

// RedisConfig controls the optional redis-backed rate limiter.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// AuthConfig controls actor authentication.
type AuthConfig struct {
	PublicKeyPath string   `yaml:"public_key_path"`
	SkipPaths     []string `yaml:"skip_paths"`
}

// DiscordConfig controls the chat-platform integration.
type DiscordConfig struct {
	Token          string `yaml:"token"`
	GuildID        string `yaml:"guild_id"`
	ReviewerRoleID string `yaml:"reviewer_role_id"`
	CategoryID     string `yaml:"interview_category_id"`
	CommandPrefix  string `yaml:"command_prefix"`
}

// RecruitmentConfig controls workflow policy knobs.
type RecruitmentConfig struct {
	CooldownDays int    `yaml:"cooldown_days"`
	IntakeRPS    int    `yaml:"intake_requests_per_second"`
	IntakeBurst  int    `yaml:"intake_burst"`
	AuditLogPath string `yaml:"audit_log_path"`
}

// OrchestratorConfig controls outbox dispatch behaviour.
type OrchestratorConfig struct {
	PollIntervalSec int    `yaml:"poll_interval_sec"`
	MaxAttempts     int    `yaml:"max_attempts"`
	BackoffBaseSec  int    `yaml:"backoff_base_sec"`
	SweepSchedule   string `yaml:"sweep_schedule"`
	AlertWebhookURL string `yaml:"alert_webhook_url"`
}

// Load reads the config file named by QM_CONFIG (default config.yaml),
// applies environment overrides, and validates required fields.
func Load() (*Config, error) {
	path := os.Getenv("QM_CONFIG")
	if path == "" {
		path = "config.yaml"
	}
	return LoadFromPath(path)
}

// LoadFromPath reads and validates a configuration file.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if cfg.Recruitment.CooldownDays <= 0 {
		return nil, fmt.Errorf("recruitment.cooldown_days must be positive")
	}
	if cfg.Orchestrator.MaxAttempts <= 0 {
		return nil, fmt.Errorf("orchestrator.max_attempts must be positive")
	}

	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeoutSec:  15,
			WriteTimeoutSec: 30,
			AllowedOrigins:  []string{"*"},
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 300,
		},
		Logging: logger.LoggingConfig{Level: "info", Format: "json"},
		Discord: DiscordConfig{CommandPrefix: "!"},
		Recruitment: RecruitmentConfig{
			CooldownDays: 30,
			IntakeRPS:    5,
			IntakeBurst:  10,
		},
		Orchestrator: OrchestratorConfig{
			PollIntervalSec: 5,
			MaxAttempts:     5,
			BackoffBaseSec:  10,
			SweepSchedule:   "@every 1m",
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("DISCORD_TOKEN"); v != "" {
		cfg.Discord.Token = v
	}
	if v := os.Getenv("DISCORD_GUILD_ID"); v != "" {
		cfg.Discord.GuildID = v
	}
	if v := os.Getenv("JWT_PUBLIC_KEY_PATH"); v != "" {
		cfg.Auth.PublicKeyPath = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("COOLDOWN_DAYS"); v != "" {
		if days, err := strconv.Atoi(v); err == nil && days > 0 {
			cfg.Recruitment.CooldownDays = days
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// PollInterval returns the orchestrator poll interval as a duration.
func (c OrchestratorConfig) PollInterval() time.Duration {
	if c.PollIntervalSec <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.PollIntervalSec) * time.Second
}

// BackoffBase returns the base delay for retry backoff.
func (c OrchestratorConfig) BackoffBase() time.Duration {
	if c.BackoffBaseSec <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.BackoffBaseSec) * time.Second
}
