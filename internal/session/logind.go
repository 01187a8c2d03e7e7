package session

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/bnema/waykms/internal/drm"
	"github.com/bnema/waykms/internal/logger"
	"github.com/godbus/dbus/v5"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

// D-Bus constants for systemd-logind.
const (
	login1Bus       = "org.freedesktop.login1"
	login1Path      = "/org/freedesktop/login1"
	managerIface    = "org.freedesktop.login1.Manager"
	sessionIface    = "org.freedesktop.login1.Session"
	seatIface       = "org.freedesktop.login1.Seat"
	propertiesIface = "org.freedesktop.DBus.Properties"
)

// logind obtains device fds from systemd-logind. It takes control of the
// session so that logind revokes and restores DRM master on VT switches and
// reports them as PauseDevice/ResumeDevice.
type logind struct {
	conn        *dbus.Conn
	id          string
	sessionPath dbus.ObjectPath
	seat        string
	seatPath    dbus.ObjectPath
	vt          int

	active atomic.Bool

	mu      sync.Mutex
	devices map[uint64]int // rdev -> fd

	signals chan *dbus.Signal
	events  chan Event
	done    chan struct{}
}

func newLogind(opts Options) (Broker, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system bus: %w", err)
	}

	l := &logind{
		conn:    conn,
		devices: make(map[uint64]int),
		signals: make(chan *dbus.Signal, 16),
		events:  make(chan Event, 16),
		done:    make(chan struct{}),
	}
	if err := l.init(opts); err != nil {
		conn.Close()
		return nil, err
	}

	go l.dispatch()
	return l, nil
}

func (l *logind) init(opts Options) error {
	if err := l.findSession(); err != nil {
		return err
	}
	if opts.Seat != "" && opts.Seat != l.seat {
		return fmt.Errorf("session %s is on seat %s, not %s", l.id, l.seat, opts.Seat)
	}

	manager := l.conn.Object(login1Bus, login1Path)
	if err := manager.Call(managerIface+".GetSeat", 0, l.seat).Store(&l.seatPath); err != nil {
		return fmt.Errorf("GetSeat(%s): %w", l.seat, err)
	}

	session := l.conn.Object(login1Bus, l.sessionPath)
	if v, err := session.GetProperty(sessionIface + ".VTNr"); err == nil {
		if vt, ok := v.Value().(uint32); ok {
			l.vt = int(vt)
		}
	}

	if err := session.Call(sessionIface+".Activate", 0).Err; err != nil {
		logger.Warn("logind: failed to activate session", "err", err)
	}
	if err := session.Call(sessionIface+".TakeControl", 0, false).Err; err != nil {
		return fmt.Errorf("TakeControl: %w", err)
	}
	// SetType needs logind >= 246
	if err := session.Call(sessionIface+".SetType", 0, "wayland").Err; err != nil {
		logger.Debug("logind: SetType failed", "err", err)
	}

	if err := l.subscribe(); err != nil {
		session.Call(sessionIface+".ReleaseControl", 0)
		return err
	}

	active := true
	if v, err := session.GetProperty(sessionIface + ".Active"); err == nil {
		if b, ok := v.Value().(bool); ok {
			active = b
		}
	}
	l.active.Store(active)
	return nil
}

func (l *logind) findSession() error {
	manager := l.conn.Object(login1Bus, login1Path)

	id := os.Getenv("XDG_SESSION_ID")
	if id == "" {
		var path dbus.ObjectPath
		if err := manager.Call(managerIface+".GetSessionByPID", 0, uint32(os.Getpid())).Store(&path); err != nil {
			return fmt.Errorf("no XDG_SESSION_ID and GetSessionByPID failed: %w", err)
		}
		v, err := l.conn.Object(login1Bus, path).GetProperty(sessionIface + ".Id")
		if err != nil {
			return fmt.Errorf("failed to read session id: %w", err)
		}
		id, _ = v.Value().(string)
	}
	l.id = id

	if err := manager.Call(managerIface+".GetSession", 0, id).Store(&l.sessionPath); err != nil {
		return fmt.Errorf("GetSession(%s): %w", id, err)
	}

	v, err := l.conn.Object(login1Bus, l.sessionPath).GetProperty(sessionIface + ".Seat")
	if err != nil {
		return fmt.Errorf("failed to read session seat: %w", err)
	}
	seat, ok := seatName(v.Value())
	if !ok || seat == "" {
		return fmt.Errorf("session %s has no seat", id)
	}
	l.seat = seat
	return nil
}

// seatName extracts the name from the (so) Seat property.
func seatName(v interface{}) (string, bool) {
	fields, ok := v.([]interface{})
	if !ok || len(fields) == 0 {
		return "", false
	}
	name, ok := fields[0].(string)
	return name, ok
}

func (l *logind) subscribe() error {
	matches := [][]dbus.MatchOption{
		{dbus.WithMatchObjectPath(l.sessionPath), dbus.WithMatchInterface(sessionIface), dbus.WithMatchMember("PauseDevice")},
		{dbus.WithMatchObjectPath(l.sessionPath), dbus.WithMatchInterface(sessionIface), dbus.WithMatchMember("ResumeDevice")},
		{dbus.WithMatchObjectPath(l.sessionPath), dbus.WithMatchInterface(propertiesIface), dbus.WithMatchMember("PropertiesChanged")},
		{dbus.WithMatchObjectPath(login1Path), dbus.WithMatchInterface(managerIface), dbus.WithMatchMember("SessionRemoved")},
	}
	for _, m := range matches {
		if err := l.conn.AddMatchSignal(m...); err != nil {
			return fmt.Errorf("failed to add signal match: %w", err)
		}
	}
	l.conn.Signal(l.signals)
	return nil
}

type signalKind int

const (
	sigUnknown signalKind = iota
	sigPauseDevice
	sigResumeDevice
	sigActiveChanged
	sigActiveInvalidated
	sigSessionRemoved
)

// loginSignal is the decoded form of a login1 signal.
type loginSignal struct {
	kind         signalKind
	major, minor uint32
	pauseType    string // pause, force or gone
	fd           int
	active       bool
	sessionID    string
}

// parseSignal decodes the signals subscribed to in subscribe.
func parseSignal(sig *dbus.Signal) (loginSignal, bool) {
	switch sig.Name {
	case sessionIface + ".PauseDevice":
		if len(sig.Body) < 3 {
			return loginSignal{}, false
		}
		major, ok1 := sig.Body[0].(uint32)
		minor, ok2 := sig.Body[1].(uint32)
		typ, ok3 := sig.Body[2].(string)
		if !ok1 || !ok2 || !ok3 {
			return loginSignal{}, false
		}
		return loginSignal{kind: sigPauseDevice, major: major, minor: minor, pauseType: typ}, true

	case sessionIface + ".ResumeDevice":
		if len(sig.Body) < 3 {
			return loginSignal{}, false
		}
		major, ok1 := sig.Body[0].(uint32)
		minor, ok2 := sig.Body[1].(uint32)
		fd, ok3 := sig.Body[2].(dbus.UnixFD)
		if !ok1 || !ok2 || !ok3 {
			return loginSignal{}, false
		}
		return loginSignal{kind: sigResumeDevice, major: major, minor: minor, fd: int(fd)}, true

	case propertiesIface + ".PropertiesChanged":
		if len(sig.Body) < 3 {
			return loginSignal{}, false
		}
		if iface, _ := sig.Body[0].(string); iface != sessionIface {
			return loginSignal{}, false
		}
		if changed, ok := sig.Body[1].(map[string]dbus.Variant); ok {
			if v, ok := changed["Active"]; ok {
				if b, ok := v.Value().(bool); ok {
					return loginSignal{kind: sigActiveChanged, active: b}, true
				}
			}
		}
		if invalidated, ok := sig.Body[2].([]string); ok {
			for _, name := range invalidated {
				if name == "Active" {
					return loginSignal{kind: sigActiveInvalidated}, true
				}
			}
		}
		return loginSignal{}, false

	case managerIface + ".SessionRemoved":
		if len(sig.Body) < 1 {
			return loginSignal{}, false
		}
		id, ok := sig.Body[0].(string)
		if !ok {
			return loginSignal{}, false
		}
		return loginSignal{kind: sigSessionRemoved, sessionID: id}, true
	}
	return loginSignal{}, false
}

func (l *logind) dispatch() {
	defer close(l.events)
	for {
		select {
		case <-l.done:
			return
		case sig, ok := <-l.signals:
			if !ok {
				return
			}
			if ev, ok := l.handle(sig); ok {
				select {
				case l.events <- ev:
				case <-l.done:
					return
				}
			}
		}
	}
}

func (l *logind) handle(sig *dbus.Signal) (Event, bool) {
	s, ok := parseSignal(sig)
	if !ok {
		return Event{}, false
	}
	session := l.conn.Object(login1Bus, l.sessionPath)

	switch s.kind {
	case sigPauseDevice:
		logger.Debug("logind: PauseDevice", "major", s.major, "minor", s.minor, "type", s.pauseType)
		ack := func() {}
		if s.pauseType == "pause" {
			major, minor := s.major, s.minor
			ack = func() {
				if err := session.Call(sessionIface+".PauseDeviceComplete", 0, major, minor).Err; err != nil {
					logger.Warn("logind: PauseDeviceComplete failed", "err", err)
				}
			}
		}
		if s.major != drm.Major {
			ack()
			return Event{}, false
		}
		l.active.Store(false)
		return Event{Kind: EventActive, Active: false, Ack: ack}, true

	case sigResumeDevice:
		logger.Debug("logind: ResumeDevice", "major", s.major, "minor", s.minor)
		l.adoptResumedFd(unix.Mkdev(s.major, s.minor), s.fd)
		if s.major != drm.Major {
			return Event{}, false
		}
		l.active.Store(true)
		return Event{Kind: EventActive, Active: true, Ack: func() {}}, true

	case sigActiveChanged:
		if l.active.Swap(s.active) == s.active {
			return Event{}, false
		}
		return Event{Kind: EventActive, Active: s.active, Ack: func() {}}, true

	case sigActiveInvalidated:
		v, err := session.GetProperty(sessionIface + ".Active")
		if err != nil {
			return Event{}, false
		}
		active, _ := v.Value().(bool)
		if l.active.Swap(active) == active {
			return Event{}, false
		}
		return Event{Kind: EventActive, Active: active, Ack: func() {}}, true

	case sigSessionRemoved:
		if s.sessionID != l.id {
			return Event{}, false
		}
		logger.Warn("logind: session removed", "id", l.id)
		return Event{Kind: EventRemoved}, true
	}
	return Event{}, false
}

// adoptResumedFd keeps the fd number the backend already holds valid by
// duplicating the freshly delivered fd over it.
func (l *logind) adoptResumedFd(rdev uint64, fd int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	old, ok := l.devices[rdev]
	if !ok {
		unix.Close(fd)
		return
	}
	if err := unix.Dup3(fd, old, unix.O_CLOEXEC); err != nil {
		logger.Warn("logind: failed to adopt resumed fd", "err", err)
	}
	unix.Close(fd)
}

func (l *logind) Open(path string) (int, error) {
	rdev, err := deviceNumber(path)
	if err != nil {
		return -1, err
	}

	var fd dbus.UnixFD
	var inactive bool
	session := l.conn.Object(login1Bus, l.sessionPath)
	if err := session.Call(sessionIface+".TakeDevice", 0, unix.Major(rdev), unix.Minor(rdev)).Store(&fd, &inactive); err != nil {
		return -1, fmt.Errorf("TakeDevice(%s): %w", path, err)
	}

	l.mu.Lock()
	l.devices[rdev] = int(fd)
	l.mu.Unlock()

	logger.Debug("logind: took device", "path", path, "fd", int(fd), "inactive", inactive)
	return int(fd), nil
}

func (l *logind) Close(fd int) error {
	rdev, err := fdDeviceNumber(fd)
	if err != nil {
		return unix.Close(fd)
	}

	l.mu.Lock()
	delete(l.devices, rdev)
	l.mu.Unlock()

	session := l.conn.Object(login1Bus, l.sessionPath)
	callErr := session.Call(sessionIface+".ReleaseDevice", 0, unix.Major(rdev), unix.Minor(rdev)).Err
	if callErr != nil {
		callErr = fmt.Errorf("ReleaseDevice: %w", callErr)
	}
	return multierr.Append(callErr, unix.Close(fd))
}

func (l *logind) SwitchVT(vt int) bool {
	seat := l.conn.Object(login1Bus, l.seatPath)
	if err := seat.Call(seatIface+".SwitchTo", 0, uint32(vt)).Err; err != nil {
		logger.Warn("logind: SwitchTo failed", "vt", vt, "err", err)
		return false
	}
	return true
}

func (l *logind) VT() int              { return l.vt }
func (l *logind) Seat() string         { return l.seat }
func (l *logind) Active() bool         { return l.active.Load() }
func (l *logind) Events() <-chan Event { return l.events }

func (l *logind) Destroy() error {
	close(l.done)
	l.conn.RemoveSignal(l.signals)

	var errs error
	l.mu.Lock()
	for rdev, fd := range l.devices {
		errs = multierr.Append(errs, unix.Close(fd))
		delete(l.devices, rdev)
	}
	l.mu.Unlock()

	session := l.conn.Object(login1Bus, l.sessionPath)
	if err := session.Call(sessionIface+".ReleaseControl", 0).Err; err != nil {
		errs = multierr.Append(errs, fmt.Errorf("ReleaseControl: %w", err))
	}
	return multierr.Append(errs, l.conn.Close())
}
