// Package config loads callshim settings from command-line flags and
// CALLSHIM_* environment variables.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const EnvPrefix = "CALLSHIM"

const (
	KeyLogLevel    = "log-level"
	KeyLogPretty   = "log-pretty"
	KeyNotice      = "notice"
	KeyNoticeFD    = "notice-fd"
	KeyPreload     = "preload"
	KeyThreads     = "threads"
	KeyConcurrency = "concurrency"
)

type Config struct {
	LogLevel  string `mapstructure:"log-level"`
	LogPretty bool   `mapstructure:"log-pretty"`
	// Notice enables the hook's diagnostic line on every intercepted call.
	Notice   bool `mapstructure:"notice"`
	NoticeFD int  `mapstructure:"notice-fd"`
	// Preload is the interposer object placed in LD_PRELOAD by "run".
	Preload     string `mapstructure:"preload"`
	Threads     int    `mapstructure:"threads"`
	Concurrency int    `mapstructure:"concurrency"`
}

// Default returns the settings used when neither a flag nor a CALLSHIM_*
// variable provides a value.
func Default() Config {
	return Config{
		LogLevel:    "info",
		LogPretty:   true,
		Notice:      true,
		NoticeFD:    2,
		Threads:     1,
		Concurrency: 100,
	}
}

// EnvName returns the environment variable that feeds key.
func EnvName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
}

// New returns a viper instance with defaults and environment binding.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	def := Default()
	v.SetDefault(KeyLogLevel, def.LogLevel)
	v.SetDefault(KeyLogPretty, def.LogPretty)
	v.SetDefault(KeyNotice, def.Notice)
	v.SetDefault(KeyNoticeFD, def.NoticeFD)
	v.SetDefault(KeyPreload, def.Preload)
	v.SetDefault(KeyThreads, def.Threads)
	v.SetDefault(KeyConcurrency, def.Concurrency)
	return v
}

// Bind makes flags override environment values for the keys they define.
func Bind(v *viper.Viper, flags *pflag.FlagSet) error {
	if err := v.BindPFlags(flags); err != nil {
		return fmt.Errorf("config: bind flags: %w", err)
	}
	return nil
}

// Switch reports whether an on/off value enables a setting. Only "0",
// "false" and "off", in any case, disable it. The C hooks apply the same
// rule to CALLSHIM_NOTICE before any Go code runs.
func Switch(value string) bool {
	switch strings.ToLower(value) {
	case "0", "false", "off":
		return false
	default:
		return true
	}
}

// switchHook decodes strings into bool fields with Switch.
func switchHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to.Kind() != reflect.Bool {
		return data, nil
	}
	return Switch(data.(string)), nil
}

// Load decodes and validates the configuration held by v.
func Load(v *viper.Viper) (Config, error) {
	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		switchHook,
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FromEnv loads the configuration from defaults and the environment only.
func FromEnv() (Config, error) {
	return Load(New())
}

// Validate reports every out-of-range setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.NoticeFD < 0 {
		errs = append(errs, fmt.Errorf("%s must not be negative, got %d", KeyNoticeFD, c.NoticeFD))
	}
	if c.Threads <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive, got %d", KeyThreads, c.Threads))
	}
	if c.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive, got %d", KeyConcurrency, c.Concurrency))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}
