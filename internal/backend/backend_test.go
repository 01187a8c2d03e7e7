package backend

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bnema/waykms/internal/drm"
	"github.com/bnema/waykms/internal/session"
	"github.com/bnema/waykms/internal/udev"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func cardEvent(action, path string) udev.Event {
	return udev.Event{Action: action, Subsystem: "drm", DevName: path[len("/dev/"):], Env: map[string]string{"HOTPLUG": "1"}}
}

func TestNewRequiresSession(t *testing.T) {
	_, err := New(Options{})
	assert.ErrorIs(t, err, session.ErrNoSeat)
}

func TestStartWithoutDevices(t *testing.T) {
	h := newHarness(t, nil)
	err := h.b.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no usable GPU")
}

func TestStartSkipsBrokenGPU(t *testing.T) {
	good, _ := twoHeads()
	bad := newFakeDevice("/dev/dri/card1")
	bad.resourcesErr = errors.New("EIO")

	h := newHarness(t, nil, good, bad).start(t)
	require.Len(t, h.b.GPUs(), 1)
	assert.Equal(t, "card0", h.gpu().Name())
	assert.Equal(t, []string{"/dev/dri/card0", "/dev/dri/card1"}, h.broker.opened)
	assert.Len(t, h.broker.closed, 1, "the failed GPU's fd is released")
}

func TestBootVGAIsPrimary(t *testing.T) {
	a, _ := twoHeads()
	b, _ := twoHeads()
	b.path = "/dev/dri/card1"

	h := newHarness(t, nil, a, b)
	h.b.enumerate = func(string) ([]udev.Device, error) {
		return []udev.Device{
			{Name: "card0", DevNode: a.path},
			{Name: "card1", DevNode: b.path, BootVGA: true},
		}, nil
	}
	h.start(t)
	assert.Equal(t, "card1", h.b.Primary().Name())
}

func TestConfiguredDevicesSkipEnumeration(t *testing.T) {
	dev, _ := twoHeads()
	h := newHarness(t, nil, dev)
	h.cfg.DRM.Devices = []string{dev.path}
	h.b.enumerate = func(string) ([]udev.Device, error) { return nil, errors.New("not called") }
	h.start(t)
	assert.Len(t, h.b.GPUs(), 1)
}

func TestStartInactiveSessionDefersCommits(t *testing.T) {
	dev, conn := twoHeads()
	h := newHarness(t, nil, dev)
	h.broker.active = false
	h.b.active = false
	h.start(t)

	d := h.gpu().displays[conn]
	assert.Equal(t, StateDetached, d.State())
	assert.Empty(t, dev.commits)

	h.b.handleSessionEvent(session.Event{Kind: session.EventActive, Active: true})
	assert.Equal(t, StateActive, d.State())
	assert.Len(t, dev.commits, 1)
}

func TestResumeRetriesDeviceResumedLate(t *testing.T) {
	a, connA := twoHeads()
	b, connB := twoHeads()
	b.path = "/dev/dri/card1"
	h := newHarness(t, nil, a, b).start(t)
	ga, gb := h.b.gpuByPath(a.path), h.b.gpuByPath(b.path)
	da, db := ga.displays[connA], gb.displays[connB]
	h.flip(ga, da.crtc.ID)
	h.flip(gb, db.crtc.ID)

	h.b.handleSessionEvent(session.Event{Kind: session.EventActive, Active: false})
	h.b.handleSessionEvent(session.Event{Kind: session.EventActive, Active: false})

	// card1 is still revoked when card0 comes back
	b.commitErr = unix.EACCES
	h.b.handleSessionEvent(session.Event{Kind: session.EventActive, Active: true})
	assert.Len(t, a.commits, 2)
	assert.Len(t, b.commits, 1)
	assert.Equal(t, StateActive, db.State())

	b.commitErr = nil
	h.b.handleSessionEvent(session.Event{Kind: session.EventActive, Active: true})
	assert.Len(t, a.commits, 2, "a display with a commit in flight is left alone")
	require.Len(t, b.commits, 2)
	assert.NotZero(t, b.commits[1].flags&drm.AtomicAllowModeset)
}

func TestSessionRemovedTerminates(t *testing.T) {
	dev, _ := twoHeads()
	h := newHarness(t, nil, dev)
	var got error
	h.b.terminate = func(err error) { got = err }
	h.start(t)

	h.b.handleSessionEvent(session.Event{Kind: session.EventRemoved})
	assert.ErrorIs(t, got, errSessionRemoved)
}

func TestHotplugRemove(t *testing.T) {
	dev, conn := twoHeads()
	h := newHarness(t, nil, dev).start(t)
	g := h.gpu()
	d := g.displays[conn]
	crtc := d.crtc.ID

	h.b.handleUevent(cardEvent(udev.ActionRemove, dev.path))
	assert.Empty(t, h.b.GPUs())
	assert.Empty(t, g.displays)
	assert.Equal(t, []int{3}, h.broker.closed)

	// a late event from the removed device goes nowhere
	h.b.handleFlips(flipBatch{gpu: g, events: []drm.Event{flipEvent(crtc)}})
	assert.Zero(t, d.flips)
}

func TestHotplugOfflineMasksCommits(t *testing.T) {
	dev, conn := twoHeads()
	h := newHarness(t, nil, dev).start(t)
	g := h.gpu()
	d := g.displays[conn]
	h.flip(g, d.crtc.ID)

	h.b.handleUevent(cardEvent(udev.ActionOffline, dev.path))
	assert.True(t, g.masked)
	assert.Nil(t, g.cancel, "reader stopped")

	d.scheduleFrame()
	assert.Len(t, dev.commits, 1)
	assert.Equal(t, StateActive, d.State(), "state is kept while offline")

	h.b.handleUevent(cardEvent(udev.ActionOnline, dev.path))
	assert.False(t, g.masked)
	assert.NotNil(t, g.cancel)
	assert.Len(t, dev.commits, 2, "the pending frame is submitted on rescan")
}

func TestHotplugChangeLightsNewConnector(t *testing.T) {
	dev, conn := twoHeads()
	h := newHarness(t, nil, dev).start(t)
	g := h.gpu()
	h.flip(g, g.displays[conn].crtc.ID)

	conn2 := dev.addConnector(14, 1, true, 0b11, testMode(1366, 768, 60, true))
	h.b.handleUevent(cardEvent(udev.ActionChange, dev.path))

	d2 := g.displays[conn2]
	require.NotNil(t, d2)
	assert.Equal(t, "eDP-1", d2.Name())
	assert.Equal(t, StateActive, d2.State())
	assert.Len(t, dev.commits, 2, "the existing display is left alone")
}

func TestHotplugChangeScanFailureRemovesGPU(t *testing.T) {
	dev, _ := twoHeads()
	h := newHarness(t, nil, dev).start(t)

	dev.resourcesErr = errors.New("EIO")
	h.b.handleUevent(cardEvent(udev.ActionChange, dev.path))
	assert.Empty(t, h.b.GPUs())
}

func TestHotplugChangeKeepsOutputOnConnectorError(t *testing.T) {
	dev, conn := twoHeads()
	h := newHarness(t, nil, dev).start(t)
	g := h.gpu()
	d := g.displays[conn]
	require.Equal(t, StateActive, d.State())
	crtc := d.crtc.ID

	dev.connectorErrs[conn] = errors.New("EIO")
	h.b.handleUevent(cardEvent(udev.ActionChange, dev.path))

	assert.Same(t, d, g.displays[conn])
	assert.True(t, d.Connected())
	assert.Equal(t, StateActive, d.State())
	require.NotNil(t, d.crtc)
	assert.Equal(t, crtc, d.crtc.ID)
	assert.Equal(t, conn, g.crtcClaims[d.crtc.Index])

	delete(dev.connectorErrs, conn)
	h.b.handleUevent(cardEvent(udev.ActionChange, dev.path))
	assert.Equal(t, StateActive, d.State())
}

func TestHotplugAddNewGPU(t *testing.T) {
	dev, _ := twoHeads()
	h := newHarness(t, nil, dev).start(t)

	second, conn := twoHeads()
	second.path = "/dev/dri/card1"
	h.devs[second.path] = second

	h.b.handleUevent(cardEvent(udev.ActionAdd, second.path))
	require.Len(t, h.b.GPUs(), 2)
	g := h.b.gpuByPath(second.path)
	require.NotNil(t, g)
	assert.Equal(t, StateActive, g.displays[conn].State())

	h.b.handleUevent(cardEvent(udev.ActionAdd, second.path))
	assert.Len(t, h.b.GPUs(), 2, "adding twice is a no-op")
}

func TestHotplugIgnoresNonCardEvents(t *testing.T) {
	dev, _ := twoHeads()
	h := newHarness(t, nil, dev).start(t)

	h.b.handleUevent(udev.Event{Action: udev.ActionRemove, Subsystem: "drm", DevName: "dri/renderD128"})
	assert.Len(t, h.b.GPUs(), 1)
}

func TestReadErrorRemovesGPU(t *testing.T) {
	dev, _ := twoHeads()
	h := newHarness(t, nil, dev).start(t)
	g := h.gpu()

	h.b.handleFlips(flipBatch{gpu: g, err: errors.New("device hung up")})
	assert.Empty(t, h.b.GPUs())
}

func TestRunLoop(t *testing.T) {
	dev, conn := twoHeads()
	h := newHarness(t, nil, dev).start(t)
	crtc := h.gpu().displays[conn].crtc.ID

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- h.b.Run(ctx) }()

	outputs, err := h.b.Outputs(ctx)
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	assert.Equal(t, "HDMI-A-1", outputs[0].Name)
	assert.Equal(t, StateActive, outputs[0].State)
	assert.Equal(t, crtc, outputs[0].CrtcID)
	assert.Equal(t, 1, outputs[0].Locked)

	dev.events <- []drm.Event{flipEvent(crtc)}
	assert.Eventually(t, func() bool {
		out, err := h.b.Outputs(ctx)
		return err == nil && len(out) == 1 && out[0].Flips == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, h.b.ScheduleFrame(ctx, "HDMI-A-1"))
	assert.Error(t, h.b.ScheduleFrame(ctx, "DP-9"))

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.NotEmpty(t, dev.setCrtcs, "CRTC restored on shutdown")
	assert.Empty(t, dev.dumbs)
	assert.Equal(t, []int{3}, h.broker.closed)

	err = h.b.Do(context.Background(), func() {})
	assert.ErrorIs(t, err, errClosed)
}

func TestRunRequiresStart(t *testing.T) {
	h := newHarness(t, nil)
	assert.Error(t, h.b.Run(context.Background()))
}
