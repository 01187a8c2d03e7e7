package backend

import (
	"context"
	"errors"
	"time"

	"github.com/bnema/waykms/internal/drm"
	"github.com/bnema/waykms/internal/session"
	"github.com/bnema/waykms/internal/udev"
)

const readTimeout = 100 * time.Millisecond

var (
	errClosed         = errors.New("backend closed")
	errSessionRemoved = errors.New("session removed by the login service")
)

// flipBatch carries the events read from one GPU, or the read error that
// ended its reader.
type flipBatch struct {
	gpu    *GPU
	events []drm.Event
	err    error
}

// startReader runs a goroutine that forwards g's completion events to the
// loop.
func (b *Backend) startReader(g *GPU) {
	ctx, cancel := context.WithCancel(b.ctx)
	done := make(chan struct{})
	g.cancel, g.done = cancel, done

	b.readers.Go(func() {
		defer close(done)
		for ctx.Err() == nil {
			events, err := g.dev.ReadEvents(readTimeout)
			if err == nil && len(events) == 0 {
				continue
			}
			select {
			case b.flips <- flipBatch{gpu: g, events: events, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	})
}

// stopReader stops g's reader and waits for it to exit.
func (b *Backend) stopReader(g *GPU) {
	if g.cancel == nil {
		return
	}
	g.cancel()
	<-g.done
	g.cancel, g.done = nil, nil
}

// Run is the event loop. It returns after ctx is cancelled, once every CRTC
// has been restored and every device released.
func (b *Backend) Run(ctx context.Context) error {
	if !b.started {
		return errors.New("backend not started")
	}

	sessionEvents := b.session.Events()
	for {
		select {
		case <-ctx.Done():
			return b.close()
		case fn := <-b.calls:
			fn()
		case batch := <-b.flips:
			b.handleFlips(batch)
		case ev := <-b.uevents:
			b.handleUevent(ev)
		case ev, ok := <-sessionEvents:
			if !ok {
				sessionEvents = nil
				continue
			}
			b.handleSessionEvent(ev)
		}
	}
}

// Do runs fn on the loop goroutine and waits for it to finish.
func (b *Backend) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	select {
	case b.calls <- func() { defer close(done); fn() }:
	case <-ctx.Done():
		return ctx.Err()
	case <-b.ctx.Done():
		return errClosed
	}
	<-done
	return nil
}

func (b *Backend) queueUevent(ev udev.Event) {
	select {
	case b.uevents <- ev:
	case <-b.ctx.Done():
	}
}

func (b *Backend) hasGPU(g *GPU) bool {
	for _, other := range b.gpus {
		if other == g {
			return true
		}
	}
	return false
}

func (b *Backend) handleFlips(batch flipBatch) {
	g := batch.gpu
	if !b.hasGPU(g) {
		return
	}
	if batch.err != nil {
		g.log.Error("device read failed, removing GPU", "err", batch.err)
		if err := b.removeGPU(g); err != nil {
			g.log.Warn("failed to release device", "err", err)
		}
		return
	}

	for _, ev := range batch.events {
		if ev.Type != drm.EventFlipComplete {
			continue
		}
		crtcID := ev.CrtcID
		if crtcID == 0 {
			crtcID = uint32(ev.UserData)
		}
		d := g.displayForCRTC(crtcID)
		if d == nil {
			g.log.Debug("page flip for unclaimed CRTC", "crtc", crtcID)
			continue
		}
		d.handlePageFlip(crtcID, ev.Sequence, ev.Time)
	}
}

// handleSessionEvent pauses every GPU when the session goes inactive and
// re-arms every enabled display when it comes back. Discovery is not re-run.
// Each resume reconciles again: a seat with several GPUs resumes them one
// device at a time, and a display whose commit failed while its device was
// still revoked gets retried.
func (b *Backend) handleSessionEvent(ev session.Event) {
	ack := func() {
		if ev.Ack != nil {
			ev.Ack()
		}
	}

	switch ev.Kind {
	case session.EventRemoved:
		b.log.Error("session removed, terminating")
		b.terminate(errSessionRemoved)

	case session.EventActive:
		if !ev.Active {
			if b.active {
				b.active = false
				b.log.Info("session inactive, pausing outputs")
				for _, g := range b.gpus {
					g.suspend()
				}
			}
			ack()
			return
		}

		if !b.active {
			b.active = true
			b.log.Info("session active, resuming outputs")
		}
		ack()
		for _, g := range b.gpus {
			g.active = true
			g.reconcile(b.running())
		}
	}
}
