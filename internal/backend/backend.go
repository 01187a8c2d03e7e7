package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/bnema/waykms/internal/config"
	"github.com/bnema/waykms/internal/logger"
	"github.com/bnema/waykms/internal/session"
	"github.com/bnema/waykms/internal/udev"
	"github.com/charmbracelet/log"
	"github.com/sourcegraph/conc"
	"go.uber.org/multierr"
)

// FrameHandler draws a frame into img for display d. It returns false when
// it had nothing new to show; the image is then returned unused.
type FrameHandler func(d *Display, img *SwapImage) bool

// Options configures a Backend.
type Options struct {
	Config  *config.Config
	Session session.Broker
	// SysRoot overrides /sys for device enumeration.
	SysRoot string
	Frame   FrameHandler
	// Terminate is called when the session is removed. The default logs
	// fatally.
	Terminate func(error)
}

// hotplugMonitor is satisfied by *udev.Monitor.
type hotplugMonitor interface {
	Start(ctx context.Context, callback func(udev.Event)) error
	Stop()
}

// Backend owns every GPU and runs the event loop that drives them. All GPU
// and display state is touched only from the loop goroutine, or before Run
// is called.
type Backend struct {
	cfg       *config.Config
	session   session.Broker
	sysRoot   string
	frame     FrameHandler
	terminate func(error)
	log       *log.Logger

	gpus    []*GPU
	started bool
	active  bool

	newDevice func(fd int, path string) Device
	enumerate func(sysRoot string) ([]udev.Device, error)
	monitor   hotplugMonitor

	calls   chan func()
	flips   chan flipBatch
	uevents chan udev.Event
	readers conc.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a backend bound to a session. It does not touch any device
// until Start.
func New(opts Options) (*Backend, error) {
	if opts.Session == nil {
		return nil, session.ErrNoSeat
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = &config.DefaultConfig
	}
	terminate := opts.Terminate
	if terminate == nil {
		terminate = func(err error) { logger.Fatal("session lost", "err", err) }
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Backend{
		cfg:       cfg,
		session:   opts.Session,
		sysRoot:   opts.SysRoot,
		frame:     opts.Frame,
		terminate: terminate,
		log:       logger.With("component", "backend"),
		active:    opts.Session.Active(),
		newDevice: newCardDevice,
		enumerate: udev.Enumerate,
		monitor:   udev.NewMonitor(),
		calls:     make(chan func()),
		flips:     make(chan flipBatch, 16),
		uevents:   make(chan udev.Event, 16),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Start opens every GPU, starts hot-plug monitoring and lights the enabled
// outputs. At least one GPU must come up.
func (b *Backend) Start() error {
	if b.started {
		return errors.New("backend already started")
	}

	paths, err := b.devicePaths()
	if err != nil {
		return err
	}

	var errs error
	for _, p := range paths {
		if err := b.addGPU(p.path, p.sysPath, p.bootVGA); err != nil {
			b.log.Warn("skipping GPU", "path", p.path, "err", err)
			errs = multierr.Append(errs, err)
		}
	}
	if len(b.gpus) == 0 {
		if errs == nil {
			errs = errors.New("no DRM devices found")
		}
		return fmt.Errorf("no usable GPU: %w", errs)
	}

	if b.monitor != nil {
		if err := b.monitor.Start(b.ctx, b.queueUevent); err != nil {
			b.log.Warn("hot-plug monitoring unavailable", "err", err)
		}
	}

	b.started = true
	for _, g := range b.gpus {
		g.reconcile(b.running())
	}
	return nil
}

type devicePath struct {
	path    string
	sysPath string
	bootVGA bool
}

// devicePaths lists the configured cards, or the enumerated ones with the
// boot VGA device first.
func (b *Backend) devicePaths() ([]devicePath, error) {
	if len(b.cfg.DRM.Devices) > 0 {
		out := make([]devicePath, 0, len(b.cfg.DRM.Devices))
		for _, p := range b.cfg.DRM.Devices {
			out = append(out, devicePath{path: p})
		}
		return out, nil
	}

	devices, err := b.enumerate(b.sysRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate DRM devices: %w", err)
	}
	out := make([]devicePath, 0, len(devices))
	for _, d := range devices {
		out = append(out, devicePath{path: d.DevNode, sysPath: d.SysPath, bootVGA: d.BootVGA})
	}
	return out, nil
}

func (b *Backend) running() bool {
	return b.started && b.active
}

// addGPU opens a device through the session and scans it.
func (b *Backend) addGPU(path, sysPath string, bootVGA bool) error {
	if b.gpuByPath(path) != nil {
		return nil
	}

	fd, err := b.session.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	dev := b.newDevice(fd, path)

	g, err := newGPU(dev, b.cfg)
	if err != nil {
		b.session.Close(fd)
		return err
	}
	g.sysPath = sysPath
	g.bootVGA = bootVGA
	g.backend = b
	g.active = b.active

	if !g.checkResources() {
		b.session.Close(fd)
		return fmt.Errorf("%s: resource scan failed", path)
	}

	if bootVGA {
		b.gpus = append([]*GPU{g}, b.gpus...)
	} else {
		b.gpus = append(b.gpus, g)
	}
	b.startReader(g)
	g.log.Info("GPU added", "crtcs", len(g.crtcs), "planes", len(g.planes), "connectors", len(g.displays), "boot_vga", bootVGA)
	return nil
}

// removeGPU tears down every display of g, then g itself.
func (b *Backend) removeGPU(g *GPU) error {
	for _, d := range g.sortedDisplays() {
		d.remove()
	}
	g.releaseAllRetained()
	b.stopReader(g)

	for i, other := range b.gpus {
		if other == g {
			b.gpus = append(b.gpus[:i], b.gpus[i+1:]...)
			break
		}
	}
	err := b.session.Close(g.dev.Fd())
	g.log.Info("GPU removed")
	return err
}

func (b *Backend) gpuByPath(path string) *GPU {
	for _, g := range b.gpus {
		if g.path == path {
			return g
		}
	}
	return nil
}

// GPUs returns the GPUs in priority order, primary first.
func (b *Backend) GPUs() []*GPU {
	return append([]*GPU(nil), b.gpus...)
}

// Primary returns the boot VGA GPU, or the first one opened.
func (b *Backend) Primary() *GPU {
	if len(b.gpus) == 0 {
		return nil
	}
	return b.gpus[0]
}

// OutputInfo is a snapshot of one display.
type OutputInfo struct {
	GPU       string
	Name      string
	Connected bool
	Enabled   bool
	State     DisplayState
	Mode      string
	CrtcID    uint32
	PlaneID   uint32
	Commits   int
	Flips     int
	Skipped   int
	Locked    int
}

func (b *Backend) outputs() []OutputInfo {
	var out []OutputInfo
	for _, g := range b.gpus {
		for _, d := range g.sortedDisplays() {
			info := OutputInfo{
				GPU:       g.name,
				Name:      d.name,
				Connected: d.connected,
				Enabled:   d.shouldEnable(),
				State:     d.state,
				Commits:   d.commits,
				Flips:     d.flips,
				Skipped:   d.skipped,
			}
			if d.mode != nil {
				info.Mode = d.mode.String()
			}
			if d.crtc != nil {
				info.CrtcID = d.crtc.ID
			}
			if d.plane != nil {
				info.PlaneID = d.plane.ID
			}
			if d.swapchain != nil {
				info.Locked = d.swapchain.locked()
			}
			out = append(out, info)
		}
	}
	return out
}

// Outputs returns a snapshot of every display, taken on the loop.
func (b *Backend) Outputs(ctx context.Context) ([]OutputInfo, error) {
	var out []OutputInfo
	err := b.Do(ctx, func() { out = b.outputs() })
	return out, err
}

// ScheduleFrame requests a new frame on the named output.
func (b *Backend) ScheduleFrame(ctx context.Context, name string) error {
	var found bool
	err := b.Do(ctx, func() {
		for _, g := range b.gpus {
			for _, d := range g.displays {
				if d.name == name {
					found = true
					d.scheduleFrame()
				}
			}
		}
	})
	if err == nil && !found {
		err = fmt.Errorf("no output named %s", name)
	}
	return err
}

// Reload re-reads output configuration and reconciles every display.
func (b *Backend) Reload(ctx context.Context, cfg *config.Config) error {
	return b.Do(ctx, func() {
		b.cfg = cfg
		for _, g := range b.gpus {
			g.cfg = cfg
			g.reconcile(b.running())
		}
	})
}

// close restores the saved CRTCs and releases every GPU.
func (b *Backend) close() error {
	if b.monitor != nil && b.started {
		b.monitor.Stop()
	}
	b.cancel()

	var errs error
	for _, g := range b.gpus {
		if g.canCommit() {
			g.restoreCRTCs()
		}
		for _, d := range g.sortedDisplays() {
			d.dropState(d.slots.rollback())
			d.detach()
		}
		g.releaseAllRetained()
	}
	b.readers.Wait()
	for _, g := range b.gpus {
		errs = multierr.Append(errs, b.session.Close(g.dev.Fd()))
	}
	b.gpus = nil
	b.started = false
	return errs
}
