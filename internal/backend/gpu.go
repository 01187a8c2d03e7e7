package backend

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/bnema/waykms/internal/config"
	"github.com/bnema/waykms/internal/drm"
	"github.com/bnema/waykms/internal/logger"
	"github.com/charmbracelet/log"
)

// Capabilities are the device features detected once at GPU creation.
type Capabilities struct {
	Atomic            bool
	DumbBuffer        bool
	PrimeImport       bool
	PrimeExport       bool
	Modifiers         bool
	CrtcInVBlankEvent bool
}

// CRTC is a timing generator. Index is its bit position in possible_crtcs
// masks.
type CRTC struct {
	ID    uint32
	Index int
	Props PropertyTable

	// saved is the state found before the first attach, restored on close.
	saved          *drm.Crtc
	savedConnector uint32
}

// Plane is a scanout surface and the formats it accepts.
type Plane struct {
	ID            uint32
	Type          uint64
	PossibleCrtcs uint32
	Formats       map[uint32][]uint64
	Props         PropertyTable
}

func (p *Plane) supports(crtc *CRTC) bool {
	return p.PossibleCrtcs&(1<<uint(crtc.Index)) != 0
}

// GPU is one DRM device together with the CRTC and plane pools it exposes.
type GPU struct {
	name    string
	path    string
	sysPath string
	dev     Device
	log     *log.Logger
	cfg     *config.Config

	caps      Capabilities
	committer committer
	alloc     allocator
	format    uint32

	crtcs    []*CRTC
	planes   []*Plane
	displays map[uint32]*Display // by connector id

	// crtcClaims maps a CRTC index to the connector id driving it. It is the
	// only link from a CRTC back to a display.
	crtcClaims  map[int]uint32
	planeClaims map[uint32]uint32
	// retained holds, by CRTC id, images still scanned out after a
	// deactivation that failed or could not be submitted.
	retained map[uint32]*SwapImage

	bootVGA bool
	// active mirrors the session; masked is set while udev reports the
	// device offline. Commits need active and not masked.
	active bool
	masked bool

	backend *Backend
	cancel  context.CancelFunc
	done    chan struct{}
}

func newGPU(dev Device, cfg *config.Config) (*GPU, error) {
	name := filepath.Base(dev.Path())
	g := &GPU{
		name:        name,
		path:        dev.Path(),
		dev:         dev,
		log:         logger.With("gpu", name),
		cfg:         cfg,
		displays:    make(map[uint32]*Display),
		crtcClaims:  make(map[int]uint32),
		planeClaims: make(map[uint32]uint32),
		retained:    make(map[uint32]*SwapImage),
		active:      true,
	}

	format, ok := drm.FormatByName(cfg.DRM.PixelFormat)
	if !ok {
		return nil, fmt.Errorf("unknown pixel format %q", cfg.DRM.PixelFormat)
	}
	g.format = format

	if err := g.detectCapabilities(); err != nil {
		return nil, err
	}
	return g, nil
}

// detectCapabilities reads the device caps and picks the commit and
// allocation strategies for the lifetime of the GPU.
func (g *GPU) detectCapabilities() error {
	capBool := func(c uint64) bool {
		v, err := g.dev.GetCap(c)
		return err == nil && v != 0
	}

	g.caps.DumbBuffer = capBool(drm.CapDumbBuffer)
	g.caps.Modifiers = capBool(drm.CapAddFB2Modifiers)
	g.caps.CrtcInVBlankEvent = capBool(drm.CapCrtcInVBlankEvent)
	if prime, err := g.dev.GetCap(drm.CapPrime); err == nil {
		g.caps.PrimeImport = prime&drm.PrimeCapImport != 0
		g.caps.PrimeExport = prime&drm.PrimeCapExport != 0
	}

	if !g.caps.DumbBuffer {
		return fmt.Errorf("%s: dumb buffers not supported", g.name)
	}
	if err := g.dev.SetClientCap(drm.ClientCapUniversalPlanes, 1); err != nil {
		return fmt.Errorf("%s: universal planes not supported: %w", g.name, err)
	}

	if g.cfg.DRM.NoAtomic {
		g.log.Info("atomic modesetting disabled by configuration")
	} else if err := g.dev.SetClientCap(drm.ClientCapAtomic, 1); err == nil {
		g.caps.Atomic = true
	} else {
		g.log.Debug("atomic modesetting unavailable", "err", err)
	}

	if g.caps.Atomic {
		g.committer = &atomicCommitter{dev: g.dev}
	} else {
		g.committer = &legacyCommitter{dev: g.dev}
	}
	g.alloc = newDumbAllocator(g.dev, g.caps.Modifiers && !g.cfg.DRM.NoModifiers)

	g.log.Info("GPU ready",
		"commit", g.committer.name(),
		"modifiers", g.caps.Modifiers,
		"prime_import", g.caps.PrimeImport,
		"prime_export", g.caps.PrimeExport)
	return nil
}

func (g *GPU) Name() string { return g.name }

func (g *GPU) Path() string { return g.path }

func (g *GPU) canCommit() bool {
	return g.active && !g.masked
}

func (g *GPU) frameHandler() FrameHandler {
	if g.backend == nil {
		return nil
	}
	return g.backend.frame
}

// sortedDisplays returns the displays ordered by connector id.
func (g *GPU) sortedDisplays() []*Display {
	out := make([]*Display, 0, len(g.displays))
	for _, d := range g.displays {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].connectorID < out[j].connectorID })
	return out
}

// reconcile runs the display transition policy for every display.
func (g *GPU) reconcile(running bool) {
	for _, d := range g.sortedDisplays() {
		d.reconcile(running && g.canCommit())
	}
}

// suspend aborts in-flight commits on every display.
func (g *GPU) suspend() {
	g.active = false
	for _, d := range g.sortedDisplays() {
		d.suspend()
	}
}

func (g *GPU) Capabilities() Capabilities { return g.caps }

func (g *GPU) crtcByID(id uint32) *CRTC {
	for _, c := range g.crtcs {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func (g *GPU) planeByID(id uint32) *Plane {
	for _, p := range g.planes {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// displayForCRTC follows the claim table from a CRTC id to its display.
func (g *GPU) displayForCRTC(crtcID uint32) *Display {
	c := g.crtcByID(crtcID)
	if c == nil {
		return nil
	}
	conn, ok := g.crtcClaims[c.Index]
	if !ok {
		return nil
	}
	return g.displays[conn]
}

// claim reserves a CRTC and a primary plane for d. The CRTC currently
// routed to the connector is preferred so the firmware image survives.
func (g *GPU) claim(d *Display) (*CRTC, *Plane, error) {
	var candidates []*CRTC
	if cur := g.crtcByID(d.bootCrtcID); cur != nil {
		candidates = append(candidates, cur)
	}
	candidates = append(candidates, g.crtcs...)

	var noPlane bool
	for _, c := range candidates {
		if d.possibleCrtcs&(1<<uint(c.Index)) == 0 {
			continue
		}
		if _, taken := g.crtcClaims[c.Index]; taken {
			continue
		}
		p := g.primaryPlaneFor(c)
		if p == nil {
			noPlane = true
			continue
		}
		g.crtcClaims[c.Index] = d.connectorID
		g.planeClaims[p.ID] = d.connectorID
		return c, p, nil
	}
	if noPlane {
		return nil, nil, ErrNoPlane
	}
	return nil, nil, ErrNoCRTC
}

func (g *GPU) primaryPlaneFor(c *CRTC) *Plane {
	for _, p := range g.planes {
		if p.Type != drm.PlaneTypePrimary || !p.supports(c) {
			continue
		}
		if _, taken := g.planeClaims[p.ID]; taken {
			continue
		}
		if _, ok := p.Formats[g.format]; !ok {
			continue
		}
		return p
	}
	return nil
}

// unclaim drops every claim held by connector conn.
func (g *GPU) unclaim(conn uint32) {
	for idx, owner := range g.crtcClaims {
		if owner == conn {
			delete(g.crtcClaims, idx)
		}
	}
	for id, owner := range g.planeClaims {
		if owner == conn {
			delete(g.planeClaims, id)
		}
	}
}

// retain keeps img alive while crtcID may still scan it out.
func (g *GPU) retain(crtcID uint32, img *SwapImage) {
	if old := g.retained[crtcID]; old != nil && old != img {
		old.chain.recycle(old)
	}
	g.retained[crtcID] = img
}

// releaseRetained frees the image left on crtcID once the CRTC scans out
// something else.
func (g *GPU) releaseRetained(crtcID uint32) {
	if img := g.retained[crtcID]; img != nil {
		img.chain.recycle(img)
		delete(g.retained, crtcID)
	}
}

func (g *GPU) releaseAllRetained() {
	for id := range g.retained {
		g.releaseRetained(id)
	}
}

// saveCRTC records the CRTC state found before we first program it.
func (g *GPU) saveCRTC(c *CRTC, conn uint32) {
	if c.saved != nil {
		return
	}
	saved, err := g.dev.Crtc(c.ID)
	if err != nil {
		g.log.Debug("failed to save CRTC state", "crtc", c.ID, "err", err)
		return
	}
	c.saved = saved
	c.savedConnector = conn
}

// restoreCRTCs puts back the CRTC configuration found at start-up for every
// CRTC we claimed.
func (g *GPU) restoreCRTCs() {
	for _, c := range g.crtcs {
		if c.saved == nil {
			continue
		}
		var mode *drm.ModeInfo
		var conns []uint32
		if c.saved.ModeValid {
			mode = &c.saved.Mode
			conns = []uint32{c.savedConnector}
		}
		if err := g.dev.SetCrtc(c.ID, c.saved.BufferID, c.saved.X, c.saved.Y, conns, mode); err != nil {
			g.log.Warn("failed to restore CRTC", "crtc", c.ID, "err", err)
		}
	}
}
