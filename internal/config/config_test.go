package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roelfdiedericks/chatrelay/internal/logging"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chatrelay.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestDefaultsValidate(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
site = "qwen"

[detection]
poll_interval = "250ms"
slow_stable_reads = 4

[server]
listen = "0.0.0.0:9000"

[paths]
state_file = "/tmp/qwen.json"
turn_db = ""
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "qwen", cfg.Site)
	assert.Equal(t, 250*time.Millisecond, cfg.Detection.PollInterval)
	assert.Equal(t, 4, cfg.Detection.SlowStableReads)
	assert.Equal(t, 2, cfg.Detection.FastStableReads, "unset keys keep defaults")
	assert.Equal(t, 120*time.Second, cfg.Timeouts.Response)
	assert.Equal(t, "0.0.0.0:9000", cfg.Server.Listen)
	assert.Equal(t, "/tmp/qwen.json", cfg.Paths.StateFile)
	assert.Empty(t, cfg.Paths.TurnDB, "turn history can be switched off")
	assert.Equal(t, path, cfg.Source)
}

func TestLoadDerivesStateFileFromSite(t *testing.T) {
	cfg, err := Load(writeConfig(t, `site = "qwen"`))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(cfg.Paths.StateFile, filepath.Join(".chatrelay", "state", "qwen_state.json")), cfg.Paths.StateFile)
	assert.False(t, strings.HasPrefix(cfg.Paths.TurnDB, "~"), "tilde expanded")
}

func TestLoadOverridesBeforePaths(t *testing.T) {
	cfg, err := Load(writeConfig(t, `site = "qwen"`), func(c *Config) { c.Site = "baidu" })
	require.NoError(t, err)
	assert.Equal(t, "baidu", cfg.Site)
	assert.True(t, strings.HasSuffix(cfg.Paths.StateFile, "baidu_state.json"), cfg.Paths.StateFile)
}

func TestLoadRejectsBadFile(t *testing.T) {
	_, err := Load(writeConfig(t, `site = [`))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "[detection]\nfast_stable_reads = 3\nslow_stable_reads = 2\n"))
	assert.ErrorContains(t, err, "slow_stable_reads")
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"CHATRELAY_DEBUG":   "1",
		"CHATRELAY_SLOW_MO": "250",
		"CHATRELAY_LISTEN":  ":8080",
		"CHATRELAY_TOKEN":   "s3cret",
		"CHATRELAY_SITE":    "qwen",
	}
	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(func(k string) string { return env[k] }))

	assert.True(t, cfg.Debug)
	assert.False(t, cfg.Browser.Headless, "debug runs headed")
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 250*time.Millisecond, cfg.Browser.SlowMotion)
	assert.Equal(t, ":8080", cfg.Server.Listen)
	assert.Equal(t, "s3cret", cfg.Server.Token)
	assert.Equal(t, "qwen", cfg.Site)
}

func TestApplyEnvRejectsGarbage(t *testing.T) {
	for _, kv := range [][2]string{
		{"CHATRELAY_DEBUG", "maybe"},
		{"CHATRELAY_SLOW_MO", "fast"},
		{"CHATRELAY_SLOW_MO", "-5"},
	} {
		cfg := Default()
		err := cfg.ApplyEnv(func(k string) string {
			if k == kv[0] {
				return kv[1]
			}
			return ""
		})
		assert.Error(t, err, "%s=%s", kv[0], kv[1])
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"no site", func(c *Config) { c.Site = " " }, "site is required"},
		{"zero poll interval", func(c *Config) { c.Detection.PollInterval = 0 }, "poll_interval"},
		{"zero fast reads", func(c *Config) { c.Detection.FastStableReads = 0 }, "fast_stable_reads"},
		{"no attempts", func(c *Config) { c.Attach.MaxAttempts = 0 }, "max_attempts"},
		{"zero reset interval", func(c *Config) { c.Session.NewChatInterval = 0 }, "new_chat_interval"},
		{"rate without burst", func(c *Config) {
			c.Server.RequestsPerSecond = 2
			c.Server.Burst = 0
		}, "burst"},
		{"negative response", func(c *Config) { c.Timeouts.Response = -time.Second }, "timeouts.response"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}

func TestLoggingConfig(t *testing.T) {
	cfg := Default()
	cfg.Log.Level = "debug"
	cfg.Log.File = "/var/log/chatrelay.log"
	lc := cfg.LoggingConfig()
	assert.Equal(t, logging.LevelDebug, lc.Level)
	assert.True(t, lc.ShowCaller)
	assert.Equal(t, "/var/log/chatrelay.log", lc.File)
	assert.Equal(t, 20, lc.MaxSizeMB)
}

func TestBackupAndWriteRotates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	for _, v := range []string{"one", "two", "three", "four"} {
		require.NoError(t, BackupAndWrite(path, []byte(v), 0600, 3))
	}
	read := func(p string) string {
		b, err := os.ReadFile(p)
		require.NoError(t, err)
		return string(b)
	}
	assert.Equal(t, "four", read(path))
	assert.Equal(t, "three", read(path+".bak"))
	assert.Equal(t, "two", read(path+".bak.1"))
	assert.Equal(t, "one", read(path+".bak.2"))
	_, err := os.Stat(path + ".bak.3")
	assert.True(t, os.IsNotExist(err))
}

func TestAtomicWriteLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, AtomicWrite(filepath.Join(dir, "x"), []byte("data"), 0640))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "x", entries[0].Name())
}
