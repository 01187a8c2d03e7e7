package backend

import (
	"fmt"
	"time"

	"github.com/bnema/waykms/internal/config"
	"github.com/bnema/waykms/internal/drm"
	"github.com/bnema/waykms/internal/logger"
	"github.com/charmbracelet/log"
)

// DisplayState is the lifecycle position of a display.
type DisplayState int

const (
	StateDetached DisplayState = iota
	StatePreparing
	StateActive
	StateStopping
)

func (s DisplayState) String() string {
	switch s {
	case StateDetached:
		return "detached"
	case StatePreparing:
		return "preparing"
	case StateActive:
		return "active"
	case StateStopping:
		return "stopping"
	}
	return "unknown"
}

// Display is one connector and the scanout pipeline driving it.
type Display struct {
	gpu *GPU
	log *log.Logger

	connectorID   uint32
	name          string
	connected     bool
	modes         []drm.ModeInfo
	possibleCrtcs uint32
	bootCrtcID    uint32
	props         PropertyTable

	state     DisplayState
	crtc      *CRTC
	plane     *Plane
	mode      *drm.ModeInfo // mode of the last accepted commit
	modeBlob  uint32
	slots     stateSlots
	swapchain *Swapchain

	// needsModeset forces ALLOW_MODESET on the next commit, set when the
	// session regained the device and the kernel state may have changed.
	needsModeset   bool
	frameRequested bool
	idle           bool

	commits  int
	flips    int
	skipped  int
	lastSeq  uint32
	lastFlip time.Duration
}

func newDisplay(g *GPU, conn *drm.Connector) *Display {
	name := conn.Name()
	return &Display{
		gpu:         g,
		log:         logger.With("gpu", g.name, "output", name),
		connectorID: conn.ID,
		name:        name,
		idle:        true,
	}
}

func (d *Display) Name() string          { return d.name }
func (d *Display) ConnectorID() uint32   { return d.connectorID }
func (d *Display) State() DisplayState   { return d.state }
func (d *Display) Connected() bool       { return d.connected }
func (d *Display) Modes() []drm.ModeInfo { return d.modes }

// Mode returns the mode of the last accepted commit, or nil.
func (d *Display) Mode() *drm.ModeInfo { return d.mode }

func (d *Display) config() config.OutputConfig {
	return d.gpu.cfg.FindOutput(d.name)
}

func (d *Display) shouldEnable() bool {
	if !d.connected {
		return false
	}
	if v, ok := d.props.Value(propNonDesktop); ok && d.props.Has(propNonDesktop) && v != 0 {
		return false
	}
	return d.config().IsEnabled()
}

func (d *Display) desiredMode() config.ModeSpec {
	want, err := config.ParseMode(d.config().Mode)
	if err != nil {
		d.log.Warn("ignoring invalid mode", "err", err)
		return config.ModeSpec{}
	}
	return want
}

// reconcile applies the transition policy for the current connection,
// enabled and running status. Calling it again without a status change
// issues no commit.
func (d *Display) reconcile(running bool) {
	enable := d.shouldEnable()
	switch {
	case !d.connected && running:
		d.remove()
	case d.state != StateActive && enable && running:
		d.start()
	case d.state == StateActive && enable && running:
		if err := d.present(false); err != nil {
			d.log.Warn("commit failed", "err", err)
		}
	case d.state == StateActive && !enable:
		d.stop()
	}
}

// start attaches a CRTC and primary plane and submits the first modeset.
func (d *Display) start() {
	d.state = StatePreparing
	if len(d.modes) == 0 {
		d.log.Warn("connector reports no modes")
		d.state = StateDetached
		return
	}

	crtc, plane, err := d.gpu.claim(d)
	if err != nil {
		d.log.Warn("cannot enable output", "err", err)
		d.state = StateDetached
		return
	}
	d.crtc, d.plane = crtc, plane
	d.gpu.saveCRTC(crtc, d.connectorID)
	d.mode = nil

	if err := d.present(false); err != nil {
		d.log.Error("modeset failed", "crtc", crtc.ID, "err", err)
		d.detach()
		d.state = StateDetached
		return
	}
	d.state = StateActive
	d.log.Info("output enabled", "crtc", crtc.ID, "plane", plane.ID, "mode", d.mode.String())
}

// present submits the next frame when something requires it: a mode change,
// an explicit frame request, or a frame drawn by the frame handler.
func (d *Display) present(wantFrame bool) error {
	if d.slots.next != nil {
		if wantFrame {
			d.frameRequested = true
		}
		return nil
	}

	mode, exact := selectMode(d.modes, d.desiredMode())
	if mode == nil {
		return fmt.Errorf("no usable mode")
	}
	modeChanged := d.needsModeset || !sameMode(mode, d.mode)
	if !modeChanged && !wantFrame && !d.frameRequested {
		d.idle = true
		return nil
	}
	if modeChanged && !exact {
		d.log.Warn("requested mode not available, using preferred", "mode", mode.String())
	}

	if err := d.ensureSwapchain(mode); err != nil {
		return err
	}
	img, err := d.swapchain.acquire()
	if err != nil {
		d.skipped++
		d.idle = true
		d.log.Debug("frame skipped", "err", err)
		if modeChanged {
			return err
		}
		return nil
	}

	drew := d.frameRequested
	if h := d.gpu.frameHandler(); h != nil {
		drew = h(d, img) || drew
	}
	if !drew && !modeChanged {
		d.swapchain.recycle(img)
		d.idle = true
		return nil
	}

	return d.commit(mode, modeChanged, img)
}

func (d *Display) ensureSwapchain(mode *drm.ModeInfo) error {
	w, h := uint32(mode.Hdisplay), uint32(mode.Vdisplay)
	if sc := d.swapchain; sc != nil && sc.width == w && sc.height == h {
		return nil
	}
	if d.swapchain != nil {
		if err := d.swapchain.destroy(); err != nil {
			d.log.Warn("failed to destroy swapchain", "err", err)
		}
	}

	depth := d.gpu.cfg.DRM.SwapchainDepth
	if depth == 0 {
		depth = config.MaxSwapchainDepth
	}
	sc, err := newSwapchain(d.gpu.alloc, w, h, d.gpu.format, d.scanoutModifiers(), depth)
	if err != nil {
		return err
	}
	d.swapchain = sc
	return nil
}

// scanoutModifiers returns the explicit modifiers the primary plane accepts
// for the GPU's format, or nil for implicit modifiers.
func (d *Display) scanoutModifiers() []uint64 {
	if d.gpu.cfg.DRM.NoModifiers || d.plane == nil {
		return nil
	}
	var mods []uint64
	for _, m := range d.plane.Formats[d.gpu.format] {
		if m != drm.ModInvalid {
			mods = append(mods, m)
		}
	}
	return mods
}

// commit stages and submits a state scanning out img. It takes ownership of
// img: on failure the image goes back to its swapchain.
func (d *Display) commit(mode *drm.ModeInfo, modeChanged bool, img *SwapImage) error {
	if !d.gpu.canCommit() {
		img.chain.recycle(img)
		return ErrInactive
	}
	fb, err := img.chain.framebuffer(img)
	if err != nil {
		img.chain.recycle(img)
		return err
	}

	st := &KMSState{
		CrtcID:      d.crtc.ID,
		Active:      true,
		Mode:        mode,
		ModeChanged: modeChanged,
		Image:       img,
		FbID:        fb,
	}
	if old := d.slots.stage(st); old != nil {
		d.dropState(old)
	}
	st, err = d.slots.submit()
	if err != nil {
		d.dropState(d.slots.stage(nil))
		return err
	}

	if err := d.gpu.committer.submit(d, st, commitFlags(st)); err != nil {
		d.dropState(d.slots.rollback())
		return err
	}

	d.commits++
	d.mode = mode
	d.needsModeset = false
	d.frameRequested = false
	d.idle = false
	d.log.Debug("commit submitted", "fb", fb, "modeset", modeChanged)
	return nil
}

// dropState returns the image of a state that never became current.
func (d *Display) dropState(st *KMSState) {
	if st == nil || st.Image == nil {
		return
	}
	if cur := d.slots.current; cur != nil && cur.Image == st.Image {
		return
	}
	st.Image.chain.recycle(st.Image)
}

// handlePageFlip retires the in-flight state when the event's CRTC matches
// it. Anything else is stale and ignored.
func (d *Display) handlePageFlip(crtcID, seq uint32, ts time.Duration) bool {
	next := d.slots.next
	if next == nil || next.CrtcID != crtcID {
		d.log.Debug("dropping stale page flip", "crtc", crtcID)
		return false
	}

	old, _ := d.slots.retire()
	if old != nil && old.Image != nil && old.Image != d.slots.current.Image {
		old.Image.chain.recycle(old.Image)
	}
	d.gpu.releaseRetained(crtcID)
	d.flips++
	d.lastSeq, d.lastFlip = seq, ts

	if d.state == StateActive && d.gpu.canCommit() {
		if err := d.present(d.gpu.frameHandler() != nil); err != nil {
			d.log.Warn("commit failed", "err", err)
		}
	}
	return true
}

// scheduleFrame asks for a new frame. It is submitted now when nothing is in
// flight, otherwise after the pending flip completes.
func (d *Display) scheduleFrame() {
	d.frameRequested = true
	if d.state != StateActive || d.slots.next != nil || !d.gpu.canCommit() {
		return
	}
	if err := d.present(true); err != nil {
		d.log.Warn("commit failed", "err", err)
	}
}

// stop detaches the CRTC and submits a deactivating commit. Resources are
// released even when the commit fails, except the image the CRTC still scans
// out, which the GPU keeps until something replaces it.
func (d *Display) stop() {
	d.state = StateStopping
	d.dropState(d.slots.rollback())

	crtc := d.crtc
	d.gpu.unclaim(d.connectorID)

	off := false
	if crtc != nil && d.gpu.canCommit() {
		st := &KMSState{CrtcID: crtc.ID}
		d.dropState(d.slots.stage(st))
		st, _ = d.slots.submit()
		if err := d.gpu.committer.submit(d, st, drm.AtomicAllowModeset); err != nil {
			d.log.Warn("failed to disable output", "crtc", crtc.ID, "err", err)
			d.slots.rollback()
		} else {
			off = true
			d.commits++
			if old, ok := d.slots.retire(); ok && old != nil && old.Image != nil {
				old.Image.chain.recycle(old.Image)
			}
			d.gpu.releaseRetained(crtc.ID)
		}
	}
	if !off && crtc != nil {
		if cur := d.slots.current; cur != nil && cur.Image != nil {
			d.gpu.retain(crtc.ID, cur.Image)
			cur.Image = nil
		}
	}

	d.detach()
	d.state = StateDetached
	d.log.Info("output disabled")
}

// detach releases every resource the display holds without touching the
// hardware.
func (d *Display) detach() {
	d.gpu.unclaim(d.connectorID)
	for _, st := range d.slots.clear() {
		if st.Image != nil {
			st.Image.chain.recycle(st.Image)
		}
	}
	if d.swapchain != nil {
		if err := d.swapchain.destroy(); err != nil {
			d.log.Warn("failed to destroy swapchain", "err", err)
		}
		d.swapchain = nil
	}
	if d.modeBlob != 0 && d.gpu.caps.Atomic {
		if err := d.gpu.dev.DestroyPropertyBlob(d.modeBlob); err != nil {
			d.log.Debug("failed to destroy mode blob", "err", err)
		}
	}
	d.modeBlob = 0
	d.crtc, d.plane, d.mode = nil, nil, nil
	d.needsModeset, d.frameRequested, d.idle = false, false, true
}

// remove stops the display if needed and deletes it from its GPU.
func (d *Display) remove() {
	if d.state == StateActive {
		d.stop()
	} else if d.crtc != nil {
		d.detach()
	}
	d.state = StateDetached
	delete(d.gpu.displays, d.connectorID)
	d.log.Info("output removed")
}

// suspend aborts the in-flight commit after the session lost the device.
// CRTC, plane and swapchain stay attached.
func (d *Display) suspend() {
	d.dropState(d.slots.rollback())
	if d.state == StateActive {
		d.needsModeset = true
	}
	d.idle = true
}
