// Package config provides YAML-based configuration loading for Junction.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/zulandar/junction/internal/role"
	"gopkg.in/yaml.v3"
)

// Config is the top-level Junction configuration, loaded from junction.yaml.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Analyzer  AnalyzerConfig  `yaml:"analyzer"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Tracker   TrackerConfig   `yaml:"tracker"`
	Integrate IntegrateConfig `yaml:"integrate"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Launcher  LauncherConfig  `yaml:"launcher"`
	Server    ServerConfig    `yaml:"server"`
	Notify    NotifyConfig    `yaml:"notify"`
	Log       LogConfig       `yaml:"log"`
}

// DatabaseConfig selects the backing store. SQLite is embedded; MySQL covers
// MySQL-compatible servers such as Dolt.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite (default) or mysql
	Path   string `yaml:"path"`   // sqlite file
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	User   string `yaml:"user"`
	Name   string `yaml:"name"`
}

// AnalyzerConfig tunes request complexity scoring.
type AnalyzerConfig struct {
	ComplexityThreshold int           `yaml:"complexity_threshold"`
	MaxParallel         int           `yaml:"max_parallel"`
	Weights             WeightsConfig `yaml:"weights"`
	DefaultRole         string        `yaml:"default_role"`
}

// WeightsConfig weights the three complexity signals.
type WeightsConfig struct {
	Words      float64 `yaml:"words"`
	Roles      float64 `yaml:"roles"`
	Connectors float64 `yaml:"connectors"`
}

// DispatchConfig bounds in-flight work across all sessions.
type DispatchConfig struct {
	MaxInFlight int    `yaml:"max_in_flight"`
	Overflow    string `yaml:"overflow"` // reject or queue
}

// TrackerConfig controls session deadlines.
type TrackerConfig struct {
	SessionTimeout time.Duration `yaml:"session_timeout"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`
}

// IntegrateConfig tunes consensus scoring, conflict detection and synthesis.
type IntegrateConfig struct {
	Consensus     ConsensusConfig `yaml:"consensus"`
	ConflictTerms [][]string      `yaml:"conflict_terms"`
	RolePriority  []string        `yaml:"role_priority"`
	FlaggedRoles  []string        `yaml:"flagged_roles"`
	SummaryClaims int             `yaml:"summary_claims"`
}

// ConsensusConfig holds the bucket thresholds for mean pairwise similarity.
type ConsensusConfig struct {
	High   float64 `yaml:"high"`
	Medium float64 `yaml:"medium"`
}

// ArchiveConfig schedules archival of integrated sessions.
type ArchiveConfig struct {
	Schedule  string        `yaml:"schedule"` // 5-field cron expression
	Retention time.Duration `yaml:"retention"`
}

// LauncherConfig configures the exec worker launcher.
type LauncherConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	Dir     string   `yaml:"dir"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// NotifyConfig lists optional report sinks.
type NotifyConfig struct {
	Slack   SlackConfig   `yaml:"slack"`
	Discord DiscordConfig `yaml:"discord"`
	GitHub  GitHubConfig  `yaml:"github"`
}

// SlackConfig posts reports to a Slack channel.
type SlackConfig struct {
	Token   string `yaml:"token"`
	Channel string `yaml:"channel"`
}

// DiscordConfig posts reports to a Discord channel.
type DiscordConfig struct {
	Token   string `yaml:"token"`
	Channel string `yaml:"channel"`
}

// GitHubConfig comments reports on a GitHub issue or pull request.
type GitHubConfig struct {
	Token string `yaml:"token"`
	Owner string `yaml:"owner"`
	Repo  string `yaml:"repo"`
	Issue int    `yaml:"issue"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// DefaultConflictTerms are contradictory term pairs used when none are configured.
var DefaultConflictTerms = [][]string{
	{"secure", "insecure"},
	{"safe", "unsafe"},
	{"valid", "invalid"},
	{"correct", "incorrect"},
	{"sufficient", "insufficient"},
	{"adequate", "inadequate"},
	{"efficient", "inefficient"},
	{"necessary", "unnecessary"},
	{"fast", "slow"},
	{"increase", "decrease"},
	{"enable", "disable"},
	{"approve", "reject"},
	{"recommended", "not recommended"},
	{"should", "should not"},
	{"scalable", "not scalable"},
}

// DefaultRolePriority orders synthesis sections when none is configured.
var DefaultRolePriority = []string{
	"security", "performance", "architecture", "database", "testing",
	"devops", "frontend", "documentation", "general",
}

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ConfigurationError lists every problem found while validating a Config.
// It is fatal at startup.
type ConfigurationError struct {
	Problems []string
}

func (e *ConfigurationError) Error() string {
	return "config: validation failed: " + strings.Join(e.Problems, "; ")
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a Config with every default applied.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		c.Database.Path = "junction.db"
	}
	if c.Database.Driver == "mysql" {
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 3306
		}
		if c.Database.User == "" {
			c.Database.User = "root"
		}
		if c.Database.Name == "" {
			c.Database.Name = "junction"
		}
	}

	if c.Analyzer.ComplexityThreshold == 0 {
		c.Analyzer.ComplexityThreshold = 3
	}
	if c.Analyzer.MaxParallel == 0 {
		c.Analyzer.MaxParallel = 6
	}
	if c.Analyzer.Weights == (WeightsConfig{}) {
		c.Analyzer.Weights = WeightsConfig{Words: 1, Roles: 1, Connectors: 1}
	}
	if c.Analyzer.DefaultRole == "" {
		c.Analyzer.DefaultRole = "general"
	}

	if c.Dispatch.MaxInFlight == 0 {
		c.Dispatch.MaxInFlight = 64
	}
	if c.Dispatch.Overflow == "" {
		c.Dispatch.Overflow = "reject"
	}

	if c.Tracker.SessionTimeout == 0 {
		c.Tracker.SessionTimeout = 120 * time.Second
	}
	if c.Tracker.SweepInterval == 0 {
		c.Tracker.SweepInterval = 5 * time.Second
	}

	if c.Integrate.Consensus == (ConsensusConfig{}) {
		c.Integrate.Consensus = ConsensusConfig{High: 0.8, Medium: 0.5}
	}
	if len(c.Integrate.ConflictTerms) == 0 {
		c.Integrate.ConflictTerms = DefaultConflictTerms
	}
	if len(c.Integrate.RolePriority) == 0 {
		c.Integrate.RolePriority = DefaultRolePriority
	}
	if c.Integrate.FlaggedRoles == nil {
		c.Integrate.FlaggedRoles = []string{"security"}
	}
	if c.Integrate.SummaryClaims == 0 {
		c.Integrate.SummaryClaims = 3
	}

	if c.Archive.Schedule == "" {
		c.Archive.Schedule = "0 * * * *"
	}
	if c.Archive.Retention == 0 {
		c.Archive.Retention = 24 * time.Hour
	}

	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate checks that all fields are present and consistent. Every problem
// is collected into a single ConfigurationError.
func (c *Config) Validate() error {
	var errs []string

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			errs = append(errs, "database.path is required for sqlite")
		}
	case "mysql":
		if c.Database.Name == "" {
			errs = append(errs, "database.name is required for mysql")
		}
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q must be sqlite or mysql", c.Database.Driver))
	}

	if c.Analyzer.ComplexityThreshold < 1 || c.Analyzer.ComplexityThreshold > 5 {
		errs = append(errs, fmt.Sprintf("analyzer.complexity_threshold %d must be between 1 and 5", c.Analyzer.ComplexityThreshold))
	}
	if c.Analyzer.MaxParallel < 1 {
		errs = append(errs, fmt.Sprintf("analyzer.max_parallel %d must be at least 1", c.Analyzer.MaxParallel))
	}
	w := c.Analyzer.Weights
	if w.Words < 0 || w.Roles < 0 || w.Connectors < 0 {
		errs = append(errs, "analyzer.weights must not be negative")
	}
	if _, err := role.Parse(c.Analyzer.DefaultRole); err != nil {
		errs = append(errs, fmt.Sprintf("analyzer.default_role: %v", err))
	}

	if c.Dispatch.MaxInFlight < 1 {
		errs = append(errs, fmt.Sprintf("dispatch.max_in_flight %d must be at least 1", c.Dispatch.MaxInFlight))
	}
	if c.Dispatch.Overflow != "reject" && c.Dispatch.Overflow != "queue" {
		errs = append(errs, fmt.Sprintf("dispatch.overflow %q must be reject or queue", c.Dispatch.Overflow))
	}

	if c.Tracker.SessionTimeout <= 0 {
		errs = append(errs, "tracker.session_timeout must be positive")
	}
	if c.Tracker.SweepInterval <= 0 {
		errs = append(errs, "tracker.sweep_interval must be positive")
	}

	cc := c.Integrate.Consensus
	if cc.Medium < 0 || cc.High > 1 || cc.Medium > cc.High {
		errs = append(errs, fmt.Sprintf("integrate.consensus thresholds must satisfy 0 <= medium (%.2f) <= high (%.2f) <= 1", cc.Medium, cc.High))
	}
	for i, pair := range c.Integrate.ConflictTerms {
		if len(pair) != 2 {
			errs = append(errs, fmt.Sprintf("integrate.conflict_terms[%d] must have exactly 2 terms", i))
			continue
		}
		a, b := strings.TrimSpace(pair[0]), strings.TrimSpace(pair[1])
		if a == "" || b == "" || strings.EqualFold(a, b) {
			errs = append(errs, fmt.Sprintf("integrate.conflict_terms[%d] must be two distinct non-empty terms", i))
		}
	}
	for i, name := range c.Integrate.RolePriority {
		if _, err := role.Parse(name); err != nil {
			errs = append(errs, fmt.Sprintf("integrate.role_priority[%d]: %v", i, err))
		}
	}
	for i, name := range c.Integrate.FlaggedRoles {
		if _, err := role.Parse(name); err != nil {
			errs = append(errs, fmt.Sprintf("integrate.flagged_roles[%d]: %v", i, err))
		}
	}
	if c.Integrate.SummaryClaims < 1 {
		errs = append(errs, "integrate.summary_claims must be at least 1")
	}

	if _, err := cronParser.Parse(c.Archive.Schedule); err != nil {
		errs = append(errs, fmt.Sprintf("archive.schedule %q: %v", c.Archive.Schedule, err))
	}
	if c.Archive.Retention < 0 {
		errs = append(errs, "archive.retention must not be negative")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("log.level %q must be debug, info, warn or error", c.Log.Level))
	}

	if len(errs) > 0 {
		return &ConfigurationError{Problems: errs}
	}
	return nil
}
