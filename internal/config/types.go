package config

import "time"

// Config holds the full on-disk configuration: server/logging ambient
// settings plus the two upstream pools, the retry ladder, model-conversion
// rules, the error-strategy table and the adaptive-timeout knobs.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
	Auth   AuthConfig    `yaml:"auth"`

	MessagesPool  PoolConfig `yaml:"messages_pool"`
	ResponsesPool PoolConfig `yaml:"responses_pool"`

	RetryLadder []RetryRungConfig `yaml:"retry_ladder"`

	ModelConversions []ModelConversionConfig `yaml:"model_conversions"`
	ErrorStrategies  ErrorStrategyConfig     `yaml:"error_strategies"`

	AdaptiveTimeout AdaptiveTimeoutConfig `yaml:"adaptive_timeout"`
	UsageStore      UsageStoreConfig      `yaml:"usage_store"`
}

// ServerConfig holds HTTP listener configuration.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// TrustProxyHeaders, when true, resolves the logged client IP from
	// X-Forwarded-For/X-Real-IP when the connecting peer's address falls
	// within TrustedCIDRs, instead of always logging the TCP peer address.
	TrustProxyHeaders bool     `yaml:"trust_proxy_headers"`
	TrustedCIDRs      []string `yaml:"trusted_cidrs"`
}

// LoggingConfig drives internal/logger.Config construction.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Theme      string `yaml:"theme"`
	LogDir     string `yaml:"log_dir"`
	FileOutput bool   `yaml:"file_output"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int     `yaml:"max_age_days"`

	// DiagnosticsDir enables the two rolling request/response text logs
	// spec.md §6 describes (independent of the structured slog output
	// above). Empty disables them.
	DiagnosticsDir string `yaml:"diagnostics_dir"`
}

// AuthConfig is the static bearer-token → upstream-credential-resolver table
// described in spec.md §6. UserKey is what the client sends; the proxy looks
// it up, never forwarding it upstream directly.
type AuthConfig struct {
	Users []UserKeyConfig `yaml:"users"`
}

type UserKeyConfig struct {
	UserKey string `yaml:"user_key"`
	Name    string `yaml:"name"`
}

// PoolConfig configures one of the two upstream pools (messages, responses).
type PoolConfig struct {
	ErrorThreshold       int                `yaml:"error_threshold"`
	CooldownSeconds      int                `yaml:"cooldown_seconds"`
	PrimaryCheckInterval time.Duration      `yaml:"primary_check_interval"`
	Entries              []UpstreamEntryConfig `yaml:"entries"`
}

type UpstreamEntryConfig struct {
	Name       string `yaml:"name"`
	BaseURL    string `yaml:"base_url"`
	Credential string `yaml:"credential"`

	Tier    string `yaml:"tier"`    // primary | backup
	Dialect string `yaml:"dialect"` // messages | responses | openai_adapter

	Enabled bool `yaml:"enabled"`
	// DayMask lists day abbreviations (mon,tue,wed,thu,fri,sat,sun); empty
	// means every day.
	DayMask []string `yaml:"day_mask"`

	ActivationEnabled bool   `yaml:"activation_enabled"`
	ActivationTime    string `yaml:"activation_time"`
}

type RetryRungConfig struct {
	BaseURL     string `yaml:"base_url"`
	Credential  string `yaml:"credential"`
	DisplayName string `yaml:"display_name"`
}

type ModelConversionConfig struct {
	SourceModel string `yaml:"source_model"`
	TargetModel string `yaml:"target_model"`
	Kind        string `yaml:"kind"` // simple_rename | full_format
}

// ErrorStrategyConfig is the two maps from spec.md §3: HTTP status keys use
// their decimal string form, e.g. "429"; transport keys use the fixed
// exception-kind vocabulary (ReadError, ConnectError, ReadTimeout).
type ErrorStrategyConfig struct {
	ByStatus    map[string]string `yaml:"by_status"`
	ByTransport map[string]string `yaml:"by_transport"`
}

type AdaptiveTimeoutConfig struct {
	BaseSeconds        int `yaml:"base_seconds"`
	IncrementSeconds   int `yaml:"increment_seconds"`
	SuccessesToReset   int `yaml:"successes_to_reset"`
	ConnectTimeoutSecs int `yaml:"connect_timeout_seconds"`
}

type UsageStoreConfig struct {
	FilePath string `yaml:"file_path"`
}
