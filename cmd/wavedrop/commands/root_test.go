package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wavedrop/wavedrop/cmd/wavedrop/config"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	homedir.DisableCache = true
	viper.Reset()
	t.Cleanup(func() {
		homedir.DisableCache = false
		viper.Reset()
	})

	var out bytes.Buffer
	cmd := Root("v1.2.3")
	cmd.SetOut(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "v1.2.3\n", out)
}

func TestConfigPath(t *testing.T) {
	out, err := execute(t, "config", "path")
	require.NoError(t, err)
	path := strings.TrimSpace(out)
	assert.True(t, strings.HasSuffix(path, filepath.Join(".config", "wavedrop", "config.yml")), path)
	assert.FileExists(t, path)
}

func TestConfigCommands(t *testing.T) {
	t.Run("view", func(t *testing.T) {
		out, err := execute(t, "config", "view")
		require.NoError(t, err)
		assert.NotEmpty(t, out)
	})

	t.Run("reset", func(t *testing.T) {
		out, err := execute(t, "config", "reset")
		require.NoError(t, err)
		path := strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(out), "reset "), " to the defaults")
		b, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, config.GetDefault().Yaml(), b)
	})

	t.Run("edit without editor", func(t *testing.T) {
		t.Setenv("EDITOR", "")
		_, err := execute(t, "config", "edit")
		assert.ErrorIs(t, err, errNoEditor)
	})

	t.Run("unknown subcommand", func(t *testing.T) {
		_, err := execute(t, "config", "frobnicate")
		assert.Error(t, err)
	})
}

func TestReceiveValidation(t *testing.T) {
	_, err := execute(t, "receive", "--relay", "not a host", "xyz")
	assert.ErrorIs(t, err, ErrInvalidAddress)

	_, err = execute(t, "receive", "--tui-style", "fancy", "xyz")
	assert.ErrorContains(t, err, "invalid tui style")

	_, err = execute(t, "receive", "--tui-style", "raw")
	assert.ErrorIs(t, err, ErrNoTransferID)
}
