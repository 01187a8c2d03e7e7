package cmd

import (
	"context"
	"fmt"

	"github.com/bnema/waykms/internal/backend"
	"github.com/bnema/waykms/internal/config"
	"github.com/bnema/waykms/internal/ipc"
	"github.com/bnema/waykms/internal/logger"
	"github.com/bnema/waykms/internal/ui"
	"github.com/spf13/cobra"
)

var socketPath string

// controlHandler serves the control socket from a running backend.
type controlHandler struct {
	b *backend.Backend
}

func (h controlHandler) Status(ctx context.Context) ([]ipc.OutputStatus, error) {
	outputs, err := h.b.Outputs(ctx)
	if err != nil {
		return nil, err
	}
	return toStatus(outputs), nil
}

func (h controlHandler) ScheduleFrame(ctx context.Context, output string) error {
	return h.b.ScheduleFrame(ctx, output)
}

func (h controlHandler) Reload(ctx context.Context) error {
	return reloadConfig(ctx, h.b)
}

// reloadConfig re-reads the configuration file and hands it to the backend.
func reloadConfig(ctx context.Context, b *backend.Backend) error {
	if err := config.Init(); err != nil {
		return err
	}
	if err := b.Reload(ctx, config.Get()); err != nil {
		return err
	}
	logger.Info("configuration reloaded", "outputs", len(config.Get().Outputs))
	return nil
}

func toStatus(outputs []backend.OutputInfo) []ipc.OutputStatus {
	out := make([]ipc.OutputStatus, 0, len(outputs))
	for _, o := range outputs {
		out = append(out, ipc.OutputStatus{
			GPU:       o.GPU,
			Name:      o.Name,
			Connected: o.Connected,
			Enabled:   o.Enabled,
			State:     int(o.State),
			Mode:      o.Mode,
			CrtcID:    o.CrtcID,
			PlaneID:   o.PlaneID,
			Commits:   o.Commits,
			Flips:     o.Flips,
			Skipped:   o.Skipped,
			Locked:    o.Locked,
		})
	}
	return out
}

func fromStatus(status []ipc.OutputStatus) []backend.OutputInfo {
	out := make([]backend.OutputInfo, 0, len(status))
	for _, s := range status {
		out = append(out, backend.OutputInfo{
			GPU:       s.GPU,
			Name:      s.Name,
			Connected: s.Connected,
			Enabled:   s.Enabled,
			State:     backend.DisplayState(s.State),
			Mode:      s.Mode,
			CrtcID:    s.CrtcID,
			PlaneID:   s.PlaneID,
			Commits:   s.Commits,
			Flips:     s.Flips,
			Skipped:   s.Skipped,
			Locked:    s.Locked,
		})
	}
	return out
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the outputs of a running backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := ipc.NewClient(socketPath)
		if err != nil {
			return err
		}
		status, err := client.Status()
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), ui.FormatAppHeader("OUTPUTS", fmt.Sprintf("%d output(s)", len(status))))
		fmt.Fprintln(cmd.OutOrStdout(), ui.OutputTable(fromStatus(status)))
		return nil
	},
}

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Make a running backend re-read its configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := ipc.NewClient(socketPath)
		if err != nil {
			return err
		}
		if err := client.Reload(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), ui.FormatResult(true, "reload", ""))
		return nil
	},
}

var frameCmd = &cobra.Command{
	Use:   "frame <output>",
	Short: "Request a new frame on an output of a running backend",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := ipc.NewClient(socketPath)
		if err != nil {
			return err
		}
		return client.ScheduleFrame(args[0])
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", "", "control socket path (default: $XDG_RUNTIME_DIR/waykms.sock)")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(reloadCmd)
	rootCmd.AddCommand(frameCmd)
}
