package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wavedrop/wavedrop/cmd/wavedrop/config"
)

func TestMap(t *testing.T) {
	m := config.GetDefault().Map()
	assert.Equal(t, "localhost:8000", m["relay"])
	assert.Equal(t, true, m["prompt_overwrite_files"])
	assert.Equal(t, config.StyleRich, m["tui_style"])
	assert.Equal(t, 5, m["max_reconnect_attempts"])
	assert.Equal(t, 3*time.Second, m["reconnect_delay"])
	assert.Equal(t, 0.95, m["completion_threshold"])
	assert.Len(t, m, 10)
}

func TestYaml(t *testing.T) {
	yaml := string(config.GetDefault().Yaml())
	assert.Contains(t, yaml, "relay: localhost:8000\n")
	assert.Contains(t, yaml, "settle_delay: 500ms\n")
	assert.Contains(t, yaml, "completion_threshold: 0.95\n")
	assert.Equal(t, yaml, string(config.GetDefault().Yaml()), "rendering is deterministic")
}

func TestInitAt(t *testing.T) {
	t.Cleanup(viper.Reset)

	t.Run("creates default config", func(t *testing.T) {
		viper.Reset()
		dir := filepath.Join(t.TempDir(), "wavedrop")
		require.NoError(t, config.InitAt(dir))

		assert.FileExists(t, filepath.Join(dir, "config.yml"))
		assert.Equal(t, filepath.Join(dir, "config.yml"), viper.ConfigFileUsed())
		assert.Equal(t, config.GetDefault(), config.Load())
		assert.True(t, config.IsDefault("relay"))
	})

	t.Run("reads existing config", func(t *testing.T) {
		viper.Reset()
		dir := t.TempDir()
		content := "relay: relay.example.com:80\nsettle_delay: 1s\nunpack: true\n"
		require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yml"), []byte(content), 0644))
		require.NoError(t, config.InitAt(dir))

		c := config.Load()
		assert.Equal(t, "relay.example.com:80", c.Relay)
		assert.Equal(t, time.Second, c.SettleDelay)
		assert.True(t, c.Unpack)
		assert.Equal(t, 5, c.MaxReconnectAttempts)
		assert.False(t, config.IsDefault("relay"))
	})
}

func TestEnvOverride(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	t.Setenv("WAVEDROP_RELAY", "env.example.com:9000")
	t.Setenv("WAVEDROP_MAX_RECONNECT_ATTEMPTS", "2")

	require.NoError(t, config.InitAt(t.TempDir()))
	c := config.Load()
	assert.Equal(t, "env.example.com:9000", c.Relay)
	assert.Equal(t, 2, c.MaxReconnectAttempts)
}
