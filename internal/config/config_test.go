package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, "ffmpeg", cfg.FFmpegPath)
	assert.Empty(t, cfg.FFprobePath)
	assert.Equal(t, 2, cfg.MaxParallel)
	assert.True(t, cfg.EnableHWAccel)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "console", cfg.LogFormat)
	assert.Equal(t, 30*time.Second, cfg.ProbeTimeout())
	assert.Equal(t, 5*time.Second, cfg.DetectTimeout())
	assert.Equal(t, 5*time.Second, cfg.CancelGrace())
	assert.Equal(t, 15*time.Second, cfg.HeartbeatInterval())
	assert.Equal(t, ":8085", cfg.ListenAddr)
	assert.Empty(t, cfg.ReportURL)
}

func TestMissingFileIsNotAnError(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yml"), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.MaxParallel)
}

func TestFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
ffmpeg_path: /opt/ffmpeg/bin/ffmpeg
max_parallel: 4
enable_hw_accel: false
log_format: json
report_url: http://collector:9000
`)
	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "/opt/ffmpeg/bin/ffmpeg", cfg.FFmpegPath)
	assert.Equal(t, 4, cfg.MaxParallel)
	assert.False(t, cfg.EnableHWAccel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "http://collector:9000", cfg.ReportURL)
}

func TestMalformedFile(t *testing.T) {
	_, err := Load(writeConfig(t, "max_parallel: [1, 2"), nil)
	assert.Error(t, err)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "max_parallel: 4\n")
	t.Setenv("MEDIACONV_MAX_PARALLEL", "6")
	t.Setenv("MEDIACONV_WORKER_ID", "node-7")

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.MaxParallel)
	assert.Equal(t, "node-7", cfg.WorkerID)
}

func TestFlagsOverrideEnv(t *testing.T) {
	t.Setenv("MEDIACONV_MAX_PARALLEL", "6")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("max-parallel", 1, "")
	flags.String("log-level", "info", "")
	flags.Bool("verbose", false, "") // not a config key
	require.NoError(t, flags.Parse([]string{"--max-parallel=3"}))

	cfg, err := Load("", flags)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.MaxParallel)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestUnchangedFlagDoesNotOverrideEnv(t *testing.T) {
	t.Setenv("MEDIACONV_MAX_PARALLEL", "6")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("max-parallel", 1, "")
	require.NoError(t, flags.Parse(nil))

	cfg, err := Load("", flags)
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.MaxParallel)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			MaxParallel:      1,
			LogFormat:        "console",
			ProbeTimeoutSec:  1,
			DetectTimeoutSec: 1,
			CancelGraceSec:   1,
			HeartbeatSec:     1,
		}
	}
	base := valid()
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero parallel", func(c *Config) { c.MaxParallel = 0 }, "max_parallel"},
		{"negative threads", func(c *Config) { c.DefaultThreads = -1 }, "default_threads"},
		{"zero probe timeout", func(c *Config) { c.ProbeTimeoutSec = 0 }, "probe_timeout_seconds"},
		{"zero grace", func(c *Config) { c.CancelGraceSec = 0 }, "cancel_grace_seconds"},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, "log_format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			assert.ErrorContains(t, c.Validate(), tt.want)
		})
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("MEDIACONV_MAX_PARALLEL", "0")
	_, err := Load("", nil)
	assert.ErrorContains(t, err, "max_parallel")
}
