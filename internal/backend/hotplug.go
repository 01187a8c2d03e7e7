package backend

import (
	"github.com/bnema/waykms/internal/udev"
)

// handleUevent applies the hot-plug policy to a DRM card event.
func (b *Backend) handleUevent(ev udev.Event) {
	if !ev.IsCard() {
		return
	}
	path := ev.DevNode()
	g := b.gpuByPath(path)
	b.log.Debug("uevent", "action", ev.Action, "dev", path, "hotplug", ev.Hotplug())

	switch ev.Action {
	case udev.ActionAdd, udev.ActionOnline:
		if g == nil {
			if ev.Action == udev.ActionAdd && b.wantDevice(path) {
				b.hotplugGPU(path)
			}
			return
		}
		if g.masked {
			g.masked = false
			b.startReader(g)
			g.log.Info("device online")
		}
		b.rescan(g)

	case udev.ActionOffline:
		if g != nil && !g.masked {
			g.masked = true
			b.stopReader(g)
			g.log.Info("device offline, commits suppressed")
		}

	case udev.ActionRemove:
		if g != nil {
			if err := b.removeGPU(g); err != nil {
				g.log.Warn("failed to release device", "err", err)
			}
		}

	case udev.ActionChange:
		if g != nil && !g.masked {
			b.rescan(g)
		}
	}
}

func (b *Backend) wantDevice(path string) bool {
	if len(b.cfg.DRM.Devices) == 0 {
		return true
	}
	for _, p := range b.cfg.DRM.Devices {
		if p == path {
			return true
		}
	}
	return false
}

func (b *Backend) hotplugGPU(path string) {
	if err := b.addGPU(path, "", false); err != nil {
		b.log.Warn("failed to add GPU", "path", path, "err", err)
		return
	}
	if g := b.gpuByPath(path); g != nil {
		g.reconcile(b.running())
	}
}

// rescan re-enumerates g and reconciles its displays. A failed scan removes
// the GPU.
func (b *Backend) rescan(g *GPU) {
	if !g.checkResources() {
		g.log.Error("rescan failed, removing GPU")
		if err := b.removeGPU(g); err != nil {
			g.log.Warn("failed to release device", "err", err)
		}
		return
	}
	g.reconcile(b.running())
}
