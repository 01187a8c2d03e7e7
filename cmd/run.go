package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bnema/waykms/internal/backend"
	"github.com/bnema/waykms/internal/config"
	"github.com/bnema/waykms/internal/ipc"
	"github.com/bnema/waykms/internal/logger"
	"github.com/bnema/waykms/internal/session"
	"github.com/bnema/waykms/internal/ui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	runPattern        bool
	runStatusInterval time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Take a seat and drive every output",
	Long: `Take a seat through the session broker, bring up every GPU and light
the outputs described in the configuration. Hot-plug events and VT switches
are followed until SIGINT or SIGTERM. SIGHUP reloads the output configuration.`,
	RunE: runBackend,
}

func init() {
	runCmd.Flags().String("session", "", "session backend (auto, logind, direct)")
	runCmd.Flags().Int("vt", 0, "virtual terminal for the direct session backend")
	runCmd.Flags().Bool("no-atomic", false, "force the legacy commit path")
	runCmd.Flags().BoolVar(&runPattern, "pattern", true, "draw a test pattern on every output")
	runCmd.Flags().DurationVar(&runStatusInterval, "status", 0, "print the output table at this interval")

	// Bind flags to viper
	viper.BindPFlag("session.backend", runCmd.Flags().Lookup("session"))
	viper.BindPFlag("session.vt", runCmd.Flags().Lookup("vt"))
	viper.BindPFlag("drm.no_atomic", runCmd.Flags().Lookup("no-atomic"))

	rootCmd.AddCommand(runCmd)
}

func runBackend(cmd *cobra.Command, args []string) error {
	cfg := config.Get()

	broker, err := session.New(session.Options{
		Backend: cfg.Session.Backend,
		Seat:    cfg.Session.Seat,
		VT:      cfg.Session.VT,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := broker.Destroy(); err != nil {
			logger.Warn("failed to release session", "err", err)
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var terminated error
	opts := backend.Options{
		Config:  cfg,
		Session: broker,
		Terminate: func(err error) {
			terminated = err
			stop()
		},
	}
	if runPattern {
		opts.Frame = newPatternPainter().draw
	}

	b, err := backend.New(opts)
	if err != nil {
		return err
	}
	if err := b.Start(); err != nil {
		return err
	}
	logger.Info("backend started", "seat", broker.Seat(), "vt", broker.VT(), "gpus", len(b.GPUs()))

	control, err := ipc.NewSocketServer(socketPath, controlHandler{b: b})
	if err == nil {
		err = control.Start()
	}
	if err != nil {
		logger.Warn("control socket unavailable", "err", err)
	} else {
		defer control.Stop()
	}

	go watchReload(ctx, b)
	if runStatusInterval > 0 {
		go printStatus(ctx, b, runStatusInterval)
	}

	if err := b.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("backend shutdown: %w", err)
	}
	if terminated != nil {
		return terminated
	}
	logger.Info("backend stopped")
	return nil
}

// watchReload re-reads the configuration on SIGHUP and hands it to the
// backend loop.
func watchReload(ctx context.Context, b *backend.Backend) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := reloadConfig(ctx, b); err != nil {
				logger.Error("failed to reload configuration", "err", err)
			}
		}
	}
}

func printStatus(ctx context.Context, b *backend.Backend, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			outputs, err := b.Outputs(ctx)
			if err != nil {
				return
			}
			fmt.Println(ui.OutputTable(outputs))
		}
	}
}
