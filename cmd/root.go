package cmd

import (
	"github.com/bnema/waykms/internal/config"
	"github.com/bnema/waykms/internal/logger"
	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	logLevel string

	rootCmd = &cobra.Command{
		Use:   "waykms",
		Short: "waykms - DRM/KMS display backend",
		Long: `waykms drives the displays of a Wayland compositor through kernel
mode-setting. It takes a seat through logind or a raw VT, discovers every GPU,
lights the configured outputs and follows hot-plug and session switches.`,
		SilenceUsage:      true,
		PersistentPreRunE: initConfig,
	}
)

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s\n" .Version}}`)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default: /etc/waykms/waykms.toml or ~/.config/waykms/waykms.toml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
}

// initConfig loads the configuration and applies the log level. The flag
// wins over logging.log_level, which wins over LOG_LEVEL.
func initConfig(cmd *cobra.Command, args []string) error {
	if cfgFile != "" {
		config.SetConfigPath(cfgFile)
	}
	if err := config.Init(); err != nil {
		return err
	}

	switch {
	case logLevel != "":
		logger.SetLevel(logLevel)
	case config.Get().Logging.LogLevel != "":
		logger.SetLevel(config.Get().Logging.LogLevel)
	}
	return nil
}

// SetVersion sets the string printed by --version.
func SetVersion(v string) {
	rootCmd.Version = v
}
