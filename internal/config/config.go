// Package config handles configuration management using Viper
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Session SessionConfig  `mapstructure:"session"`
	DRM     DRMConfig      `mapstructure:"drm"`
	Outputs []OutputConfig `mapstructure:"outputs"`
	Logging LoggingConfig  `mapstructure:"logging"`
}

// SessionConfig selects how privileged device access is obtained
type SessionConfig struct {
	Backend string `mapstructure:"backend"` // auto, logind or direct
	Seat    string `mapstructure:"seat"`    // empty means $XDG_SEAT or seat0
	VT      int    `mapstructure:"vt"`      // direct backend only, 0 = current VT
}

// DRMConfig contains kernel mode-setting settings
type DRMConfig struct {
	Devices        []string `mapstructure:"devices"`         // explicit card paths, empty = enumerate
	NoAtomic       bool     `mapstructure:"no_atomic"`       // force the legacy commit path
	NoModifiers    bool     `mapstructure:"no_modifiers"`    // never pass explicit format modifiers
	SwapchainDepth int      `mapstructure:"swapchain_depth"` // 1..3
	PixelFormat    string   `mapstructure:"pixel_format"`
}

// OutputConfig describes how a connector should be driven
type OutputConfig struct {
	Name    string `mapstructure:"name"`    // connector name such as HDMI-A-1, or "*"
	Enabled *bool  `mapstructure:"enabled"` // nil means enabled
	Mode    string `mapstructure:"mode"`    // WIDTHxHEIGHT[@REFRESH], empty = preferred
}

// IsEnabled reports whether the output should be lit
func (o OutputConfig) IsEnabled() bool {
	return o.Enabled == nil || *o.Enabled
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	LogLevel string `mapstructure:"log_level"` // Override LOG_LEVEL env var
}

const (
	SessionAuto   = "auto"
	SessionLogind = "logind"
	SessionDirect = "direct"

	MaxSwapchainDepth = 3
)

var (
	// DefaultConfig provides sensible defaults
	DefaultConfig = Config{
		Session: SessionConfig{
			Backend: SessionAuto,
		},
		DRM: DRMConfig{
			Devices:        []string{},
			SwapchainDepth: MaxSwapchainDepth,
			PixelFormat:    "XRGB8888",
		},
		Outputs: []OutputConfig{},
	}

	// Global config instance
	cfg *Config

	// Override config path if set
	configPathOverride string
)

// SetConfigPath allows overriding the config path
func SetConfigPath(path string) {
	configPathOverride = path
}

// Init initializes the configuration system
func Init() error {
	viper.SetConfigName("waykms")
	viper.SetConfigType("toml")

	if configPathOverride != "" {
		viper.SetConfigFile(configPathOverride)
	} else {
		viper.AddConfigPath("/etc/waykms")
		if home := os.Getenv("HOME"); home != "" && home != "/root" {
			viper.AddConfigPath(filepath.Join(home, ".config", "waykms"))
		}
		viper.AddConfigPath(".")
	}

	viper.SetDefault("session.backend", DefaultConfig.Session.Backend)
	viper.SetDefault("session.seat", DefaultConfig.Session.Seat)
	viper.SetDefault("session.vt", DefaultConfig.Session.VT)

	viper.SetDefault("drm.devices", DefaultConfig.DRM.Devices)
	viper.SetDefault("drm.no_atomic", DefaultConfig.DRM.NoAtomic)
	viper.SetDefault("drm.no_modifiers", DefaultConfig.DRM.NoModifiers)
	viper.SetDefault("drm.swapchain_depth", DefaultConfig.DRM.SwapchainDepth)
	viper.SetDefault("drm.pixel_format", DefaultConfig.DRM.PixelFormat)

	viper.SetDefault("outputs", DefaultConfig.Outputs)
	viper.SetDefault("logging.log_level", DefaultConfig.Logging.LogLevel)

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	c := &Config{}
	if err := viper.Unmarshal(c); err != nil {
		return fmt.Errorf("unable to unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return err
	}
	cfg = c

	return nil
}

// Validate checks values viper cannot type-check on its own
func (c *Config) Validate() error {
	switch c.Session.Backend {
	case SessionAuto, SessionLogind, SessionDirect:
	default:
		return fmt.Errorf("invalid session.backend %q (want auto, logind or direct)", c.Session.Backend)
	}
	if c.DRM.SwapchainDepth < 1 || c.DRM.SwapchainDepth > MaxSwapchainDepth {
		return fmt.Errorf("invalid drm.swapchain_depth %d (want 1..%d)", c.DRM.SwapchainDepth, MaxSwapchainDepth)
	}
	for _, o := range c.Outputs {
		if o.Name == "" {
			return fmt.Errorf("output entry without a name")
		}
		if _, err := ParseMode(o.Mode); err != nil {
			return fmt.Errorf("output %s: %w", o.Name, err)
		}
	}
	return nil
}

// Get returns the current configuration
func Get() *Config {
	if cfg == nil {
		return &DefaultConfig
	}
	return cfg
}

// Set sets the current configuration (for testing)
func Set(c *Config) {
	cfg = c
}

// Save saves the current configuration to file
func Save() error {
	configPath := GetConfigPath()

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		if os.IsPermission(err) && strings.Contains(configPath, "/etc/") {
			return fmt.Errorf("failed to create config directory %s: permission denied. Try running with sudo", dir)
		}
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := viper.WriteConfigAs(configPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// GetConfigPath returns the path to the config file
func GetConfigPath() string {
	if configPathOverride != "" {
		return configPathOverride
	}

	if viper.ConfigFileUsed() != "" {
		return viper.ConfigFileUsed()
	}

	if os.Getuid() == 0 {
		return "/etc/waykms/waykms.toml"
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "/etc/waykms/waykms.toml"
	}

	return filepath.Join(home, ".config", "waykms", "waykms.toml")
}

// FindOutput returns the configuration matching a connector name. An exact
// name wins over the "*" wildcard. Connectors without any entry are enabled
// with their preferred mode.
func (c *Config) FindOutput(name string) OutputConfig {
	var wildcard *OutputConfig
	for i := range c.Outputs {
		o := &c.Outputs[i]
		if o.Name == name {
			return *o
		}
		if o.Name == "*" && wildcard == nil {
			wildcard = o
		}
	}
	if wildcard != nil {
		out := *wildcard
		out.Name = name
		return out
	}
	return OutputConfig{Name: name}
}

// SetOutputs replaces the output section and persists it
func SetOutputs(outputs []OutputConfig) error {
	c := Get()
	c.Outputs = outputs

	entries := make([]map[string]interface{}, 0, len(outputs))
	for _, o := range outputs {
		e := map[string]interface{}{"name": o.Name}
		if o.Enabled != nil {
			e["enabled"] = *o.Enabled
		}
		if o.Mode != "" {
			e["mode"] = o.Mode
		}
		entries = append(entries, e)
	}
	viper.Set("outputs", entries)
	return Save()
}

// ModeSpec is a parsed WIDTHxHEIGHT[@REFRESH] request. Refresh is in mHz,
// zero meaning "any".
type ModeSpec struct {
	Width   int
	Height  int
	Refresh int
}

// IsZero reports whether no explicit mode was requested.
func (m ModeSpec) IsZero() bool {
	return m.Width == 0 && m.Height == 0
}

func (m ModeSpec) String() string {
	if m.IsZero() {
		return "preferred"
	}
	if m.Refresh == 0 {
		return fmt.Sprintf("%dx%d", m.Width, m.Height)
	}
	return fmt.Sprintf("%dx%d@%.3f", m.Width, m.Height, float64(m.Refresh)/1000)
}

// ParseMode parses strings such as "1920x1080", "2560x1440@144" or
// "1920x1080@59.94". An empty string yields the zero spec.
func ParseMode(s string) (ModeSpec, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "preferred" {
		return ModeSpec{}, nil
	}

	var spec ModeSpec
	res, rate, hasRate := strings.Cut(s, "@")
	w, h, ok := strings.Cut(strings.ToLower(res), "x")
	if !ok {
		return ModeSpec{}, fmt.Errorf("invalid mode %q", s)
	}

	var err error
	if spec.Width, err = strconv.Atoi(w); err != nil || spec.Width <= 0 {
		return ModeSpec{}, fmt.Errorf("invalid mode width in %q", s)
	}
	if spec.Height, err = strconv.Atoi(h); err != nil || spec.Height <= 0 {
		return ModeSpec{}, fmt.Errorf("invalid mode height in %q", s)
	}
	if hasRate {
		hz, err := strconv.ParseFloat(strings.TrimSuffix(rate, "Hz"), 64)
		if err != nil || hz <= 0 {
			return ModeSpec{}, fmt.Errorf("invalid refresh rate in %q", s)
		}
		spec.Refresh = int(hz*1000 + 0.5)
	}
	return spec, nil
}
