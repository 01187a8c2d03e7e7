package backend

import (
	"path/filepath"
	"testing"

	"github.com/bnema/waykms/internal/config"
	"github.com/bnema/waykms/internal/drm"
	"github.com/bnema/waykms/internal/udev"
	"github.com/stretchr/testify/require"
)

type harness struct {
	b      *Backend
	broker *fakeBroker
	cfg    *config.Config
	devs   map[string]*fakeDevice
}

func newHarness(t *testing.T, cfg *config.Config, devs ...*fakeDevice) *harness {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	h := &harness{broker: newFakeBroker(), cfg: cfg, devs: make(map[string]*fakeDevice)}

	b, err := New(Options{Config: cfg, Session: h.broker, Terminate: func(error) {}})
	require.NoError(t, err)
	b.monitor = nil

	var list []udev.Device
	for _, d := range devs {
		h.devs[d.path] = d
		list = append(list, udev.Device{Name: filepath.Base(d.path), DevNode: d.path})
	}
	b.newDevice = func(_ int, path string) Device { return h.devs[path] }
	b.enumerate = func(string) ([]udev.Device, error) { return list, nil }
	h.b = b

	t.Cleanup(func() { b.close() })
	return h
}

func (h *harness) start(t *testing.T) *harness {
	t.Helper()
	require.NoError(t, h.b.Start())
	return h
}

func (h *harness) gpu() *GPU {
	return h.b.Primary()
}

// flip delivers a page-flip completion for crtc through the loop handler.
func (h *harness) flip(g *GPU, crtc uint32) {
	h.b.handleFlips(flipBatch{gpu: g, events: []drm.Event{flipEvent(crtc)}})
}
