package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// MEDIACONV_MAX_PARALLEL.
const EnvPrefix = "MEDIACONV"

// Config holds all the settings for mediaconv.
type Config struct {
	FFmpegPath     string `mapstructure:"ffmpeg_path"`
	FFprobePath    string `mapstructure:"ffprobe_path"` // Empty: next to ffmpeg.
	MaxParallel    int    `mapstructure:"max_parallel"`
	EnableHWAccel  bool   `mapstructure:"enable_hw_accel"`
	TempDir        string `mapstructure:"temp_dir"` // Empty: OS temp dir.
	DefaultThreads int    `mapstructure:"default_threads"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"` // console or json

	ProbeTimeoutSec  int `mapstructure:"probe_timeout_seconds"`
	DetectTimeoutSec int `mapstructure:"detect_timeout_seconds"`
	CancelGraceSec   int `mapstructure:"cancel_grace_seconds"`

	ListenAddr   string `mapstructure:"listen_addr"`
	ReportURL    string `mapstructure:"report_url"` // Empty disables reporting.
	WorkerID     string `mapstructure:"worker_id"`
	HeartbeatSec int    `mapstructure:"heartbeat_seconds"`
}

var defaults = map[string]any{
	"ffmpeg_path":            "ffmpeg",
	"ffprobe_path":           "",
	"max_parallel":           2,
	"enable_hw_accel":        true,
	"temp_dir":               "",
	"default_threads":        0,
	"log_level":              "info",
	"log_format":             "console",
	"probe_timeout_seconds":  30,
	"detect_timeout_seconds": 5,
	"cancel_grace_seconds":   5,
	"listen_addr":            ":8085",
	"report_url":             "",
	"worker_id":              "",
	"heartbeat_seconds":      15,
}

// Load merges defaults, the optional YAML file at path, MEDIACONV_*
// environment variables and flags, in increasing precedence. A missing file
// is not an error. Flags are matched to keys with dashes read as
// underscores, so --max-parallel sets max_parallel.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	// 1. Defaults
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	// 2. File
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil && !isNotFound(err) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	// 3. Environment
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// 4. Flags
	if flags != nil {
		var bindErr error
		flags.VisitAll(func(f *pflag.Flag) {
			key := strings.ReplaceAll(f.Name, "-", "_")
			if _, known := defaults[key]; known && bindErr == nil {
				bindErr = v.BindPFlag(key, f)
			}
		})
		if bindErr != nil {
			return nil, fmt.Errorf("bind flags: %w", bindErr)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func isNotFound(err error) bool {
	var nf viper.ConfigFileNotFoundError
	return errors.As(err, &nf) || errors.Is(err, fs.ErrNotExist)
}

// Validate rejects settings the scheduler or executor cannot run with.
func (c *Config) Validate() error {
	if c.MaxParallel < 1 {
		return fmt.Errorf("max_parallel must be at least 1, got %d", c.MaxParallel)
	}
	if c.DefaultThreads < 0 {
		return errors.New("default_threads must not be negative")
	}
	for name, sec := range map[string]int{
		"probe_timeout_seconds":  c.ProbeTimeoutSec,
		"detect_timeout_seconds": c.DetectTimeoutSec,
		"cancel_grace_seconds":   c.CancelGraceSec,
		"heartbeat_seconds":      c.HeartbeatSec,
	} {
		if sec <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, sec)
		}
	}
	switch strings.ToLower(c.LogFormat) {
	case "console", "json":
	default:
		return fmt.Errorf("invalid log_format %q (use console or json)", c.LogFormat)
	}
	return nil
}

func (c *Config) ProbeTimeout() time.Duration {
	return time.Duration(c.ProbeTimeoutSec) * time.Second
}

func (c *Config) DetectTimeout() time.Duration {
	return time.Duration(c.DetectTimeoutSec) * time.Second
}

func (c *Config) CancelGrace() time.Duration {
	return time.Duration(c.CancelGraceSec) * time.Second
}

func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatSec) * time.Second
}
