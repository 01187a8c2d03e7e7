package session

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/bnema/waykms/internal/drm"
	"github.com/bnema/waykms/internal/logger"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

// vtSignal is used for both release and acquire requests; the handler
// tells them apart from the current active state.
const vtSignal = syscall.SIGUSR2

// direct drives a virtual terminal itself: it switches the console to
// graphics mode, disables the kernel keyboard handling and takes part in
// the VT_PROCESS signal hand-off. It needs root or an owned tty.
type direct struct {
	tty       int
	vt        int
	seat      string
	oldKBMode int
	oldVTMode vtMode

	active atomic.Bool

	mu      sync.Mutex
	devices map[int]uint64 // fd -> rdev

	sigs   chan os.Signal
	events chan Event
	done   chan struct{}
}

func newDirect(opts Options) (Broker, error) {
	if opts.Seat != "" && opts.Seat != "seat0" {
		return nil, fmt.Errorf("direct session only supports seat0, not %s", opts.Seat)
	}

	vt := opts.VT
	if vt == 0 {
		vt = VTFromEnv()
	}
	if vt == 0 {
		var err error
		if vt, err = currentVT(); err != nil {
			return nil, err
		}
	}

	d := &direct{
		vt:      vt,
		seat:    "seat0",
		devices: make(map[int]uint64),
		sigs:    make(chan os.Signal, 4),
		events:  make(chan Event, 16),
		done:    make(chan struct{}),
	}
	if err := d.setupTTY(); err != nil {
		return nil, err
	}
	d.active.Store(true)

	signal.Notify(d.sigs, vtSignal)
	go d.handleSignals()
	return d, nil
}

func currentVT() (int, error) {
	fd, err := unix.Open("/dev/tty0", unix.O_RDWR|unix.O_CLOEXEC|unix.O_NOCTTY, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to open /dev/tty0: %w", err)
	}
	defer unix.Close(fd)
	return activeVT(fd)
}

func (d *direct) setupTTY() error {
	path := fmt.Sprintf("/dev/tty%d", d.vt)
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC|unix.O_NOCTTY, 0)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}

	mode, err := unix.IoctlGetInt(fd, kdGetMode)
	if err != nil {
		unix.Close(fd)
		return fmt.Errorf("%s is not a virtual terminal: %w", path, err)
	}
	if mode != kdText {
		unix.Close(fd)
		return fmt.Errorf("%s is already in graphics mode; is another display server running?", path)
	}

	if err := unix.IoctlSetInt(fd, vtActivate, d.vt); err != nil {
		logger.Debug("direct: VT_ACTIVATE failed", "err", err)
	}
	if err := unix.IoctlSetInt(fd, vtWaitActive, d.vt); err != nil {
		logger.Debug("direct: VT_WAITACTIVE failed", "err", err)
	}

	if d.oldKBMode, err = unix.IoctlGetInt(fd, kdGKBMode); err != nil {
		unix.Close(fd)
		return fmt.Errorf("failed to read keyboard mode: %w", err)
	}
	if err := unix.IoctlSetInt(fd, kdSKBMode, kOff); err != nil {
		unix.Close(fd)
		return fmt.Errorf("failed to disable keyboard: %w", err)
	}
	if err := unix.IoctlSetInt(fd, kdSetMode, kdGraphics); err != nil {
		unix.IoctlSetInt(fd, kdSKBMode, d.oldKBMode)
		unix.Close(fd)
		return fmt.Errorf("failed to set graphics mode: %w", err)
	}

	old, err := getVTMode(fd)
	if err == nil {
		var m vtMode
		if m, err = processMode(old, int16(vtSignal)); err == nil {
			err = setVTMode(fd, &m)
		}
	}
	if err != nil {
		unix.IoctlSetInt(fd, kdSetMode, kdText)
		unix.IoctlSetInt(fd, kdSKBMode, d.oldKBMode)
		unix.Close(fd)
		return fmt.Errorf("failed to take VT switching control: %w", err)
	}

	d.oldVTMode = old
	d.tty = fd
	return nil
}

func (d *direct) handleSignals() {
	defer close(d.events)
	for {
		select {
		case <-d.done:
			return
		case <-d.sigs:
			ev := d.toggle()
			select {
			case d.events <- ev:
			case <-d.done:
				return
			}
		}
	}
}

// toggle performs the VT hand-off. On release, master is dropped only after
// the backend acknowledges it has stopped committing.
func (d *direct) toggle() Event {
	if d.active.Load() {
		logger.Debug("direct: VT release requested", "vt", d.vt)
		d.active.Store(false)
		var once sync.Once
		return Event{Kind: EventActive, Active: false, Ack: func() {
			once.Do(func() {
				d.forEachDRM(drm.DropMasterFd)
				if err := unix.IoctlSetInt(d.tty, vtRelDisp, 1); err != nil {
					logger.Warn("direct: VT_RELDISP release failed", "err", err)
				}
			})
		}}
	}

	logger.Debug("direct: VT acquire requested", "vt", d.vt)
	if err := unix.IoctlSetInt(d.tty, vtRelDisp, vtAckAcq); err != nil {
		logger.Warn("direct: VT_RELDISP acquire failed", "err", err)
	}
	d.forEachDRM(drm.SetMasterFd)
	d.active.Store(true)
	return Event{Kind: EventActive, Active: true, Ack: func() {}}
}

func (d *direct) forEachDRM(fn func(int) error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for fd, rdev := range d.devices {
		if !drm.IsDRMDevice(rdev) {
			continue
		}
		if err := fn(fd); err != nil {
			logger.Warn("direct: DRM master change failed", "fd", fd, "err", err)
		}
	}
}

func (d *direct) Open(path string) (int, error) {
	rdev, err := deviceNumber(path)
	if err != nil {
		return -1, err
	}
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC|unix.O_NOCTTY|unix.O_NONBLOCK, 0)
	if err != nil {
		return -1, &os.PathError{Op: "open", Path: path, Err: err}
	}

	if drm.IsDRMDevice(rdev) {
		if err := drm.SetMasterFd(fd); err != nil && !errors.Is(err, unix.EBUSY) {
			logger.Warn("direct: failed to become DRM master", "path", path, "err", err)
		}
	}

	d.mu.Lock()
	d.devices[fd] = rdev
	d.mu.Unlock()
	return fd, nil
}

func (d *direct) Close(fd int) error {
	d.mu.Lock()
	rdev, ok := d.devices[fd]
	delete(d.devices, fd)
	d.mu.Unlock()

	var errs error
	if ok && drm.IsDRMDevice(rdev) && d.active.Load() {
		errs = multierr.Append(errs, drm.DropMasterFd(fd))
	}
	return multierr.Append(errs, unix.Close(fd))
}

func (d *direct) SwitchVT(vt int) bool {
	if err := unix.IoctlSetInt(d.tty, vtActivate, vt); err != nil {
		logger.Warn("direct: VT_ACTIVATE failed", "vt", vt, "err", err)
		return false
	}
	return true
}

func (d *direct) VT() int              { return d.vt }
func (d *direct) Seat() string         { return d.seat }
func (d *direct) Active() bool         { return d.active.Load() }
func (d *direct) Events() <-chan Event { return d.events }

// Destroy restores the console to text mode and automatic VT switching.
func (d *direct) Destroy() error {
	signal.Stop(d.sigs)
	close(d.done)

	var errs error
	d.mu.Lock()
	for fd := range d.devices {
		errs = multierr.Append(errs, unix.Close(fd))
		delete(d.devices, fd)
	}
	d.mu.Unlock()

	errs = multierr.Append(errs, unix.IoctlSetInt(d.tty, kdSKBMode, d.oldKBMode))
	errs = multierr.Append(errs, unix.IoctlSetInt(d.tty, kdSetMode, kdText))
	m := restoredMode(d.oldVTMode)
	errs = multierr.Append(errs, setVTMode(d.tty, &m))
	return multierr.Append(errs, unix.Close(d.tty))
}
