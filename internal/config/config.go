package config

import (
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete gansauditor configuration.
type Config struct {
	Audit      AuditConfig      `mapstructure:"audit"`
	Supervisor SupervisorConfig `mapstructure:"supervisor"`
	Reviewer   ReviewerConfig   `mapstructure:"reviewer"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Session    SessionConfig    `mapstructure:"session"`
	Stagnation StagnationConfig `mapstructure:"stagnation"`
	Completion CompletionConfig `mapstructure:"completion"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ReviewerConfig controls how the external reviewer process is invoked.
type ReviewerConfig struct {
	// Command is the executable that implements the reviewer protocol.
	Command string `mapstructure:"command"`
	// Args are fixed flags passed to Command on every invocation.
	Args []string `mapstructure:"args"`
	// ContextTokenLimit bounds the packed-context section of the prompt;
	// 0 disables clamping.
	ContextTokenLimit int `mapstructure:"context_token_limit"`
	// MaxSpawnRetries bounds how many additional attempts are made after a
	// process-spawn failure (not found / permission / bad cwd excluded —
	// those fail fast with no retry).
	MaxSpawnRetries uint64 `mapstructure:"max_spawn_retries"`
}

// AuditConfig controls the top-level audit engine behavior.
type AuditConfig struct {
	// EnableSynchronousAudit makes ProcessThought block until the reviewer
	// verdict is available instead of returning a provisional response.
	// Mirrors ENABLE_SYNCHRONOUS_AUDIT.
	EnableSynchronousAudit bool `mapstructure:"enable_synchronous_audit"`
	// EnableGanAuditing is the master switch for the code-audit loop; when
	// false the engine echoes thoughts back without invoking a reviewer.
	// Mirrors ENABLE_GAN_AUDITING.
	EnableGanAuditing bool `mapstructure:"enable_gan_auditing"`
	// DisableThoughtLogging mirrors DISABLE_THOUGHT_LOGGING. It is loaded
	// from the environment but nothing outside this package reads it, so
	// setting it does not change what the engine records.
	DisableThoughtLogging bool `mapstructure:"disable_thought_logging"`
	// TimeoutSeconds bounds a single reviewer invocation. Mirrors
	// AUDIT_TIMEOUT_SECONDS.
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	// MaxConcurrentAudits mirrors MAX_CONCURRENT_AUDITS and must be at least
	// 1. It is loaded and validated, but nothing outside this package reads
	// it: concurrent ProcessThought calls are not capped by it.
	MaxConcurrentAudits int `mapstructure:"max_concurrent_audits"`
	// MaxConcurrentSessions mirrors MAX_CONCURRENT_SESSIONS and must be at
	// least 1. It is loaded and validated, but nothing outside this package
	// reads it: the number of sessions held at once is not capped by it.
	MaxConcurrentSessions int `mapstructure:"max_concurrent_sessions"`
}

// Timeout returns the reviewer timeout as a time.Duration.
func (c *AuditConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SupervisorConfig controls the bounded child-process pool.
type SupervisorConfig struct {
	// MaxConcurrentProcesses is the counting-semaphore limit on live
	// reviewer children.
	MaxConcurrentProcesses int `mapstructure:"max_concurrent_processes"`
	// QueueTimeoutMs bounds how long a request waits for a free process
	// slot before it fails outright.
	QueueTimeoutMs int `mapstructure:"queue_timeout_ms"`
	// ProcessCleanupTimeoutMs is the grace period after a graceful
	// termination signal before a force-kill is sent.
	ProcessCleanupTimeoutMs int `mapstructure:"process_cleanup_timeout_ms"`
}

func (c *SupervisorConfig) QueueTimeout() time.Duration {
	return time.Duration(c.QueueTimeoutMs) * time.Millisecond
}

func (c *SupervisorConfig) ProcessCleanupTimeout() time.Duration {
	return time.Duration(c.ProcessCleanupTimeoutMs) * time.Millisecond
}

// CacheConfig controls the content-addressed audit cache.
type CacheConfig struct {
	// MaxEntries is the LRU capacity.
	MaxEntries int `mapstructure:"max_entries"`
	// MaxMemoryBytes bounds the cache's total estimated review size; LRU
	// entries are evicted past this even if MaxEntries hasn't been reached.
	MaxMemoryBytes int64 `mapstructure:"max_memory_bytes"`
	// TTLSeconds is how long a cached review remains valid.
	TTLSeconds int `mapstructure:"ttl_seconds"`
}

func (c *CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

func (c *CacheConfig) TTLMs() int64 {
	return int64(c.TTLSeconds) * 1000
}

// SessionConfig controls session persistence.
type SessionConfig struct {
	// StateDirectory is the root directory for per-session state files.
	// Mirrors SESSION_STATE_DIRECTORY.
	StateDirectory string `mapstructure:"state_directory"`
	// MaxSessionAgeSeconds is how long a session may sit idle (by
	// UpdatedAtMs) before the background sweeper deletes it. Mirrors
	// SESSION_MAX_AGE_SECONDS.
	MaxSessionAgeSeconds int `mapstructure:"max_session_age_seconds"`
}

// MaxSessionAge returns the session idle ceiling as a time.Duration.
func (c *SessionConfig) MaxSessionAge() time.Duration {
	return time.Duration(c.MaxSessionAgeSeconds) * time.Second
}

// StagnationConfig controls similarity-based stagnation detection.
type StagnationConfig struct {
	// StartLoop is the first loop at which stagnation analysis runs.
	// Mirrors STAGNATION_START_LOOP.
	StartLoop int `mapstructure:"start_loop"`
	// Threshold is the mean pairwise similarity above which the recent
	// iteration window is declared stagnant. Mirrors STAGNATION_THRESHOLD.
	Threshold float64 `mapstructure:"threshold"`
	// IdenticalThreshold is the per-pair similarity above which a single
	// pair alone is sufficient to declare stagnation.
	IdenticalThreshold float64 `mapstructure:"identical_threshold"`
	// WindowSize is the number of trailing iterations considered.
	WindowSize int `mapstructure:"window_size"`
}

// CompletionConfig controls tiered completion thresholds and the kill switch.
type CompletionConfig struct {
	// MaxLoops is the hard kill switch loop count.
	MaxLoops int `mapstructure:"max_loops"`
	// Tiers are evaluated in the order given; Validate rejects an empty list.
	Tiers []CompletionTier `mapstructure:"tiers"`
}

// CompletionTier is a (score, minLoop) acceptance threshold.
type CompletionTier struct {
	Reason  string `mapstructure:"reason"`
	Score   int    `mapstructure:"score"`
	MinLoop int    `mapstructure:"min_loop"`
}

// LoggingConfig controls the structured debug logger.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Audit: AuditConfig{
			EnableSynchronousAudit: false,
			EnableGanAuditing:      true,
			DisableThoughtLogging:  false,
			TimeoutSeconds:         90,
			MaxConcurrentAudits:    4,
			MaxConcurrentSessions:  50,
		},
		Supervisor: SupervisorConfig{
			MaxConcurrentProcesses:  4,
			QueueTimeoutMs:          30000,
			ProcessCleanupTimeoutMs: 5000,
		},
		Reviewer: ReviewerConfig{
			Command:           "gansauditor-reviewer",
			Args:              nil,
			ContextTokenLimit: 8000,
			MaxSpawnRetries:   2,
		},
		Cache: CacheConfig{
			MaxEntries:     500,
			MaxMemoryBytes: 64 * 1024 * 1024,
			TTLSeconds:     3600,
		},
		Session: SessionConfig{
			StateDirectory:       defaultStateDirectory(),
			MaxSessionAgeSeconds: 86400,
		},
		Stagnation: StagnationConfig{
			StartLoop:          10,
			Threshold:          0.95,
			IdenticalThreshold: 0.99,
			WindowSize:         3,
		},
		Completion: CompletionConfig{
			MaxLoops: 25,
			Tiers: []CompletionTier{
				{Reason: "score_95_at_10", Score: 95, MinLoop: 10},
				{Reason: "score_90_at_15", Score: 90, MinLoop: 15},
				{Reason: "score_85_at_20", Score: 85, MinLoop: 20},
			},
		},
		Logging: LoggingConfig{
			Level:      "INFO",
			MaxSizeMB:  10,
			MaxBackups: 3,
			Compress:   false,
		},
	}
}

func defaultStateDirectory() string {
	if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
		return filepath.Join(xdg, "gansauditor")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".gansauditor"
	}
	return filepath.Join(home, ".local", "state", "gansauditor")
}

// SetDefaults registers default values with viper and binds the
// environment variables recognized at startup.
func SetDefaults() {
	defaults := Default()

	viper.SetDefault("audit.enable_synchronous_audit", defaults.Audit.EnableSynchronousAudit)
	viper.SetDefault("audit.enable_gan_auditing", defaults.Audit.EnableGanAuditing)
	viper.SetDefault("audit.disable_thought_logging", defaults.Audit.DisableThoughtLogging)
	viper.SetDefault("audit.timeout_seconds", defaults.Audit.TimeoutSeconds)
	viper.SetDefault("audit.max_concurrent_audits", defaults.Audit.MaxConcurrentAudits)
	viper.SetDefault("audit.max_concurrent_sessions", defaults.Audit.MaxConcurrentSessions)

	viper.SetDefault("supervisor.max_concurrent_processes", defaults.Supervisor.MaxConcurrentProcesses)
	viper.SetDefault("supervisor.queue_timeout_ms", defaults.Supervisor.QueueTimeoutMs)
	viper.SetDefault("supervisor.process_cleanup_timeout_ms", defaults.Supervisor.ProcessCleanupTimeoutMs)

	viper.SetDefault("reviewer.command", defaults.Reviewer.Command)
	viper.SetDefault("reviewer.args", defaults.Reviewer.Args)
	viper.SetDefault("reviewer.context_token_limit", defaults.Reviewer.ContextTokenLimit)
	viper.SetDefault("reviewer.max_spawn_retries", defaults.Reviewer.MaxSpawnRetries)

	viper.SetDefault("cache.max_entries", defaults.Cache.MaxEntries)
	viper.SetDefault("cache.max_memory_bytes", defaults.Cache.MaxMemoryBytes)
	viper.SetDefault("cache.ttl_seconds", defaults.Cache.TTLSeconds)

	viper.SetDefault("session.state_directory", defaults.Session.StateDirectory)
	viper.SetDefault("session.max_session_age_seconds", defaults.Session.MaxSessionAgeSeconds)

	viper.SetDefault("stagnation.start_loop", defaults.Stagnation.StartLoop)
	viper.SetDefault("stagnation.threshold", defaults.Stagnation.Threshold)
	viper.SetDefault("stagnation.identical_threshold", defaults.Stagnation.IdenticalThreshold)
	viper.SetDefault("stagnation.window_size", defaults.Stagnation.WindowSize)

	viper.SetDefault("completion.max_loops", defaults.Completion.MaxLoops)
	viper.SetDefault("completion.tiers", defaults.Completion.Tiers)

	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	viper.SetDefault("logging.compress", defaults.Logging.Compress)

	bindEnv()
}

// bindEnv wires the environment variables named in the startup contract to
// their config keys, so ENABLE_SYNCHRONOUS_AUDIT=true etc. override viper
// defaults and any config file without requiring a GANSAUDITOR_ prefix.
func bindEnv() {
	_ = viper.BindEnv("audit.enable_synchronous_audit", "ENABLE_SYNCHRONOUS_AUDIT")
	_ = viper.BindEnv("audit.enable_gan_auditing", "ENABLE_GAN_AUDITING")
	_ = viper.BindEnv("audit.disable_thought_logging", "DISABLE_THOUGHT_LOGGING")
	_ = viper.BindEnv("audit.timeout_seconds", "AUDIT_TIMEOUT_SECONDS")
	_ = viper.BindEnv("audit.max_concurrent_audits", "MAX_CONCURRENT_AUDITS")
	_ = viper.BindEnv("audit.max_concurrent_sessions", "MAX_CONCURRENT_SESSIONS")
	_ = viper.BindEnv("session.state_directory", "SESSION_STATE_DIRECTORY")
	_ = viper.BindEnv("session.max_session_age_seconds", "SESSION_MAX_AGE_SECONDS")
	_ = viper.BindEnv("stagnation.threshold", "STAGNATION_THRESHOLD")
	_ = viper.BindEnv("stagnation.start_loop", "STAGNATION_START_LOOP")
}

// Load reads the configuration from viper into a Config struct.
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Get returns the current configuration, falling back to defaults if
// unmarshaling fails.
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "gansauditor")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".gansauditor"
	}
	return filepath.Join(home, ".config", "gansauditor")
}

// ConfigFile returns the path to the config file.
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// ValidLogLevels returns the list of valid logging levels.
func ValidLogLevels() []string {
	return []string{"DEBUG", "INFO", "WARN", "ERROR"}
}

// IsValidLogLevel checks if the given level is valid.
func IsValidLogLevel(level string) bool {
	return slices.Contains(ValidLogLevels(), level)
}

// ValidCompletionReasons returns the list of recognized completion reasons.
func ValidCompletionReasons() []string {
	return []string{
		"score_95_at_10", "score_90_at_15", "score_85_at_20",
		"stagnation_detected", "max_loops_reached", "in_progress",
	}
}
