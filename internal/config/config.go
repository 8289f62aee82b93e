package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/thushan/llmrelay/internal/core/domain"
	"github.com/thushan/llmrelay/internal/util"
)

const (
	DefaultPort = 19841
	DefaultHost = "localhost"

	DefaultFileWriteDelay = 150 * time.Millisecond // Small delay to ensure file write is complete
)

var (
	lastReload  time.Time
	reloadMutex sync.Mutex
)

// DefaultConfig returns a configuration with sensible defaults. Both pools
// start with no entries and the retry ladder is empty; upstreams come from
// the config file. The error-strategy maps carry their own "default"
// entries (normal_retry in both), which take the place of the fallbacks
// domain.NewErrorStrategyTable seeds.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              DefaultHost,
			Port:              DefaultPort,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      10 * time.Minute,
			ShutdownTimeout:   10 * time.Second,
			TrustProxyHeaders: false,
			TrustedCIDRs:      []string{},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Theme:      "default",
			LogDir:     "./logs",
			FileOutput: true,
			MaxSizeMB:      3,
			MaxBackups:     5,
			MaxAgeDays:     30,
			DiagnosticsDir: "./logs/diagnostics",
		},
		Auth: AuthConfig{
			Users: []UserKeyConfig{},
		},
		MessagesPool: PoolConfig{
			ErrorThreshold:       5,
			CooldownSeconds:      60,
			PrimaryCheckInterval: 30 * time.Second,
			Entries:              []UpstreamEntryConfig{},
		},
		ResponsesPool: PoolConfig{
			ErrorThreshold:       5,
			CooldownSeconds:      60,
			PrimaryCheckInterval: 30 * time.Second,
			Entries:              []UpstreamEntryConfig{},
		},
		RetryLadder: []RetryRungConfig{},
		ModelConversions: []ModelConversionConfig{},
		ErrorStrategies: ErrorStrategyConfig{
			ByStatus: map[string]string{
				"default": "normal_retry",
				"401":     "switch_api",
				"403":     "switch_api",
				"429":     "strategy_retry",
				"500":     "normal_retry",
				"502":     "normal_retry",
				"503":     "switch_api",
			},
			ByTransport: map[string]string{
				"default":      "normal_retry",
				"ReadError":    "normal_retry",
				"ConnectError": "switch_api",
				"ReadTimeout":  "strategy_retry",
			},
		},
		AdaptiveTimeout: AdaptiveTimeoutConfig{
			BaseSeconds:        60,
			IncrementSeconds:   30,
			SuccessesToReset:   5,
			ConnectTimeoutSecs: 10,
		},
		UsageStore: UsageStoreConfig{
			FilePath: "./data/usage.json",
		},
	}
}

// Load loads configuration from file and environment variables, the same
// viper + fsnotify pattern regardless of domain: a debounced OnConfigChange
// callback lets the caller re-snapshot its upstream pools on edit.
func Load(onConfigChange func()) (*Config, error) {
	cfg := DefaultConfig()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetEnvPrefix("RELAY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if configFile := os.Getenv("RELAY_CONFIG_FILE"); configFile != "" {
			viper.SetConfigFile(configFile)
			if err := viper.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
			}
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	viper.WatchConfig()

	if onConfigChange != nil {
		viper.OnConfigChange(func(e fsnotify.Event) {
			reloadMutex.Lock()
			defer reloadMutex.Unlock()

			now := time.Now()
			if now.Sub(lastReload) < 500*time.Millisecond {
				return // Ignore multiple rapid changes
			}
			lastReload = now

			// looks like on windows this event is triggered
			// before the file is fully written, not sure why
			time.Sleep(DefaultFileWriteDelay)
			onConfigChange()
		})
	}
	return cfg, nil
}

var dayAbbreviations = map[string]domain.DayMask{
	"mon": domain.DayMonday,
	"tue": domain.DayTuesday,
	"wed": domain.DayWednesday,
	"thu": domain.DayThursday,
	"fri": domain.DayFriday,
	"sat": domain.DaySaturday,
	"sun": domain.DaySunday,
}

// ParseDayMask converts the config's day abbreviation list into a
// domain.DayMask. An empty list means "every day" (spec.md §3 DayMask).
func ParseDayMask(days []string) domain.DayMask {
	if len(days) == 0 {
		return domain.AllDays
	}
	var mask domain.DayMask
	for _, d := range days {
		if bit, ok := dayAbbreviations[strings.ToLower(strings.TrimSpace(d))]; ok {
			mask |= bit
		}
	}
	return mask
}

// BuildPool converts a PoolConfig into a live *domain.Pool. Runtime fields
// (ErrorCount, CooldownUntil, ActiveIndex) start zeroed; the first Selector
// call establishes ActiveIndex.
func BuildPool(name string, pc PoolConfig) *domain.Pool {
	cooldown := time.Duration(pc.CooldownSeconds) * time.Second
	entries := make([]*domain.UpstreamEntry, 0, len(pc.Entries))
	for _, ec := range pc.Entries {
		entries = append(entries, &domain.UpstreamEntry{
			Name:              ec.Name,
			BaseURL:           util.NormaliseBaseURL(ec.BaseURL),
			Credential:        ec.Credential,
			Tier:              domain.Tier(ec.Tier),
			Dialect:           domain.Dialect(ec.Dialect),
			Enabled:           ec.Enabled,
			DayMask:           ParseDayMask(ec.DayMask),
			ActivationEnabled: ec.ActivationEnabled,
			ActivationTime:    ec.ActivationTime,
			ErrorThreshold:    pc.ErrorThreshold,
			CooldownPeriod:    cooldown,
			Status:            domain.StatusNormal,
		})
	}
	return domain.NewPool(name, entries, pc.PrimaryCheckInterval)
}

// BuildRetryLadder converts the configured rungs into a domain.RetryLadder,
// preserving configuration order (spec.md §3 RetryLadder).
func BuildRetryLadder(rungs []RetryRungConfig) domain.RetryLadder {
	ladder := make(domain.RetryLadder, 0, len(rungs))
	for _, r := range rungs {
		ladder = append(ladder, domain.RetryLadderRung{
			BaseURL:     util.NormaliseBaseURL(r.BaseURL),
			Credential:  r.Credential,
			DisplayName: r.DisplayName,
		})
	}
	return ladder
}

// BuildModelConversions converts the configured rules into domain values.
func BuildModelConversions(rules []ModelConversionConfig) []domain.ModelConversion {
	out := make([]domain.ModelConversion, 0, len(rules))
	for _, r := range rules {
		out = append(out, domain.ModelConversion{
			SourceModel: r.SourceModel,
			TargetModel: r.TargetModel,
			Kind:        domain.ConversionKind(r.Kind),
		})
	}
	return out
}

// BuildErrorStrategyTable converts the two configured maps into a
// domain.ErrorStrategyTable, seeding the spec.md §4.2 hard-coded fallbacks
// ("default" -> strategy_retry for HTTP status, "default" -> switch_api for
// transport errors) whenever the config omits its own default entry.
func BuildErrorStrategyTable(esc ErrorStrategyConfig) *domain.ErrorStrategyTable {
	tbl := domain.NewErrorStrategyTable()
	for k, v := range esc.ByStatus {
		tbl.ByStatus[k] = domain.Strategy(v)
	}
	for k, v := range esc.ByTransport {
		tbl.ByTransport[domain.TransportErrorKind(k)] = domain.Strategy(v)
	}
	return tbl
}
