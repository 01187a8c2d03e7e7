package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/bnema/waykms/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func executeCommand(root *cobra.Command, args ...string) (string, error) {
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func withConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "waykms.toml")
	if content != "" {
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	}
	viper.Reset()
	t.Cleanup(func() {
		viper.Reset()
		config.SetConfigPath("")
		config.Set(nil)
		cfgFile = ""
	})
	return path
}

func TestConfigShow(t *testing.T) {
	path := withConfigFile(t, `
[session]
backend = "direct"
vt = 2

[drm]
no_atomic = true

[[outputs]]
name = "HDMI-A-1"
mode = "1920x1080@60"

[[outputs]]
name = "DP-1"
enabled = false
`)

	out, err := executeCommand(rootCmd, "--config", path, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, path)
	assert.Contains(t, out, "backend: direct")
	assert.Contains(t, out, "vt: 2")
	assert.Contains(t, out, "no_atomic: true")
	assert.Contains(t, out, "swapchain_depth: 3")
	assert.Contains(t, out, "HDMI-A-1")
	assert.Contains(t, out, "1920x1080@60")
	assert.Contains(t, out, "false")
}

func TestConfigInvalidFile(t *testing.T) {
	path := withConfigFile(t, `
[drm]
swapchain_depth = 7
`)
	_, err := executeCommand(rootCmd, "--config", path, "config", "show")
	assert.ErrorContains(t, err, "swapchain_depth")
}

func TestConfigInitWritesDefaults(t *testing.T) {
	path := withConfigFile(t, "")

	_, err := executeCommand(rootCmd, "--config", path, "config", "init")
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "swapchain_depth")
	assert.Contains(t, string(data), "XRGB8888")
}

func TestConfigPath(t *testing.T) {
	path := withConfigFile(t, "")
	out, err := executeCommand(rootCmd, "--config", path, "config", "path")
	require.NoError(t, err)
	assert.Contains(t, out, path)
}
