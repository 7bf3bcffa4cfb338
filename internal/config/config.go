// Package config locates the per-user inboxd directory and loads tunables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

const (
	// EnvDir overrides the config directory.
	EnvDir = "INBOXD_TOKEN_DIR"
	// EnvNoAnalytics disables usage log appends when set to 1.
	EnvNoAnalytics = "INBOXD_NO_ANALYTICS"

	dirMode = 0o700
)

// File names inside the config directory.
const (
	CredentialsFile = "credentials.json"
	AccountsFile    = "accounts.json"
	DeletionLogFile = "deletion-log.json"
	ArchiveLogFile  = "archive-log.json"
	SentLogFile     = "sent-log.json"
	RulesFile       = "rules.json"
	UsageLogFile    = "usage-log.jsonl"
	SettingsFile    = "config.yaml"
)

var (
	dirOnce sync.Once
	dirPath string
)

// Dir returns the config directory, captured once per process.
func Dir() string {
	dirOnce.Do(func() {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		dirPath = ResolveDir(os.Getenv, home)
	})
	return dirPath
}

// ResolveDir computes the config directory from an environment lookup and
// a home directory.
func ResolveDir(getenv func(string) string, home string) string {
	if override := strings.TrimSpace(getenv(EnvDir)); override != "" {
		return filepath.Clean(override)
	}
	return filepath.Join(home, ".config", "inboxd")
}

// EnsureDir creates dir with owner-only permissions.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return fmt.Errorf("create config dir %s: %w", dir, err)
	}
	return nil
}

// TokenFile is the per-account token path.
func TokenFile(dir, account string) string {
	return filepath.Join(dir, "token-"+account+".json")
}

// StateFile is the per-account seen-state path.
func StateFile(dir, account string) string {
	return filepath.Join(dir, "state-"+account+".json")
}

// AnalyticsDisabled reports whether INBOXD_NO_ANALYTICS=1.
func AnalyticsDisabled(getenv func(string) string) bool {
	return strings.TrimSpace(getenv(EnvNoAnalytics)) == "1"
}

// Settings holds tunables read from config.yaml and INBOXD_* variables.
type Settings struct {
	Request RequestSettings `mapstructure:"request"`
	Retry   RetrySettings   `mapstructure:"retry"`
	Rate    RateSettings    `mapstructure:"rate"`
	Notify  NotifySettings  `mapstructure:"notify"`
	Check   CheckSettings   `mapstructure:"check"`
	Suggest SuggestSettings `mapstructure:"suggest"`
}

// RequestSettings bounds each provider call.
type RequestSettings struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// RetrySettings caps retry attempts.
type RetrySettings struct {
	MaxAttempts int `mapstructure:"max_attempts"`
}

// RateSettings paces provider calls in Gmail quota units per second.
type RateSettings struct {
	UnitsPerSecond int `mapstructure:"units_per_second"`
}

// NotifySettings controls the desktop notifier.
type NotifySettings struct {
	Throttle time.Duration `mapstructure:"throttle"`
	Command  string        `mapstructure:"command"`
}

// CheckSettings controls the background check.
type CheckSettings struct {
	MaxResults int `mapstructure:"max_results"`
}

// SuggestSettings controls cleanup suggestions.
type SuggestSettings struct {
	MinDeletions int `mapstructure:"min_deletions"`
	WindowDays   int `mapstructure:"window_days"`
}

// DefaultSettings returns the built-in tunables.
func DefaultSettings() Settings {
	return Settings{
		Request: RequestSettings{Timeout: 30 * time.Second},
		Retry:   RetrySettings{MaxAttempts: 5},
		Rate:    RateSettings{UnitsPerSecond: 200},
		Notify:  NotifySettings{Throttle: 30 * time.Second},
		Check:   CheckSettings{MaxResults: 50},
		Suggest: SuggestSettings{MinDeletions: 5, WindowDays: 30},
	}
}

// LoadSettings reads config.yaml from dir. A missing file yields defaults.
func LoadSettings(dir string) (Settings, error) {
	def := DefaultSettings()
	v := viper.New()
	v.SetConfigFile(filepath.Join(dir, SettingsFile))
	v.SetConfigType("yaml")
	v.SetEnvPrefix("INBOXD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("request.timeout", def.Request.Timeout)
	v.SetDefault("retry.max_attempts", def.Retry.MaxAttempts)
	v.SetDefault("rate.units_per_second", def.Rate.UnitsPerSecond)
	v.SetDefault("notify.throttle", def.Notify.Throttle)
	v.SetDefault("notify.command", def.Notify.Command)
	v.SetDefault("check.max_results", def.Check.MaxResults)
	v.SetDefault("suggest.min_deletions", def.Suggest.MinDeletions)
	v.SetDefault("suggest.window_days", def.Suggest.WindowDays)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		var pathErr *os.PathError
		if !errors.As(err, &notFound) && !errors.As(err, &pathErr) {
			return Settings{}, fmt.Errorf("read settings %s: %w", v.ConfigFileUsed(), err)
		}
	}

	var out Settings
	if err := v.Unmarshal(&out); err != nil {
		return Settings{}, fmt.Errorf("parse settings: %w", err)
	}
	if out.Retry.MaxAttempts <= 0 {
		out.Retry.MaxAttempts = def.Retry.MaxAttempts
	}
	if out.Request.Timeout <= 0 {
		out.Request.Timeout = def.Request.Timeout
	}
	return out, nil
}
