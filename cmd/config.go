package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/bnema/waykms/internal/config"
	"github.com/bnema/waykms/internal/logger"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage waykms configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Get()
		out := cmd.OutOrStdout()

		fmt.Fprintf(out, "Config file: %s\n\n", config.GetConfigPath())

		fmt.Fprintln(out, "[session]")
		fmt.Fprintf(out, "  backend: %s\n", cfg.Session.Backend)
		fmt.Fprintf(out, "  seat: %s\n", valueOr(cfg.Session.Seat, "$XDG_SEAT or seat0"))
		fmt.Fprintf(out, "  vt: %d\n", cfg.Session.VT)

		fmt.Fprintln(out, "\n[drm]")
		devices := "enumerate"
		if len(cfg.DRM.Devices) > 0 {
			devices = fmt.Sprint(cfg.DRM.Devices)
		}
		fmt.Fprintf(out, "  devices: %s\n", devices)
		fmt.Fprintf(out, "  no_atomic: %v\n", cfg.DRM.NoAtomic)
		fmt.Fprintf(out, "  no_modifiers: %v\n", cfg.DRM.NoModifiers)
		fmt.Fprintf(out, "  swapchain_depth: %d\n", cfg.DRM.SwapchainDepth)
		fmt.Fprintf(out, "  pixel_format: %s\n", cfg.DRM.PixelFormat)

		fmt.Fprintln(out, "\n[logging]")
		fmt.Fprintf(out, "  log_level: %s\n", valueOr(cfg.Logging.LogLevel, "$LOG_LEVEL or info"))

		if len(cfg.Outputs) > 0 {
			fmt.Fprintln(out, "\n[[outputs]]")
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			if _, err := fmt.Fprintln(w, "  Name\tEnabled\tMode"); err != nil {
				logger.Errorf("Failed to write header: %v", err)
			}
			for _, o := range cfg.Outputs {
				mode := valueOr(o.Mode, "preferred")
				if _, err := fmt.Fprintf(w, "  %s\t%v\t%s\n", o.Name, o.IsEnabled(), mode); err != nil {
					logger.Errorf("Failed to write output: %v", err)
				}
			}
			if err := w.Flush(); err != nil {
				logger.Errorf("Failed to flush writer: %v", err)
			}
		}
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration file with defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := config.GetConfigPath()
		if _, err := os.Stat(configPath); err == nil {
			force, _ := cmd.Flags().GetBool("force")
			if !force {
				logger.Infof("Configuration file already exists at: %s", configPath)
				logger.Info("Use --force to overwrite")
				return nil
			}
		}

		if err := config.Save(); err != nil {
			return err
		}
		logger.Infof("Configuration initialized at: %s", configPath)
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the configuration file path",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), config.GetConfigPath())
	},
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)

	configInitCmd.Flags().Bool("force", false, "Force overwrite existing configuration")

	rootCmd.AddCommand(configCmd)
}
