package ui

import (
	"context"
	"time"

	"github.com/bnema/waykms/internal/logger"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
)

// ProgramRunner runs a Bubble Tea program bound to a context.
type ProgramRunner struct {
	program *tea.Program
	log     *log.Logger
	done    chan struct{}
	grace   time.Duration
}

// NewProgramRunner creates a runner for model.
func NewProgramRunner(model tea.Model, opts ...tea.ProgramOption) *ProgramRunner {
	return &ProgramRunner{
		program: tea.NewProgram(model, opts...),
		log:     logger.With("component", "ui"),
		done:    make(chan struct{}),
		grace:   2 * time.Second,
	}
}

// Run blocks until the program exits or ctx is cancelled.
func (r *ProgramRunner) Run(ctx context.Context) error {
	defer close(r.done)

	errCh := make(chan error, 1)
	go func() {
		_, err := r.program.Run()
		errCh <- err
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		r.program.Quit()
		select {
		case err := <-errCh:
			return err
		case <-time.After(r.grace):
			r.log.Warn("UI did not exit, killing it")
			r.program.Kill()
			<-errCh
			return nil
		}
	}
}

// Send delivers msg to the running program. It is safe from any goroutine.
func (r *ProgramRunner) Send(msg tea.Msg) {
	r.program.Send(msg)
}

// Done is closed once Run has returned.
func (r *ProgramRunner) Done() <-chan struct{} {
	return r.done
}
