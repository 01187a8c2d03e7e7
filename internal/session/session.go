// Package session brokers privileged access to device files. Two brokers
// implement the same contract: one mediated by systemd-logind over D-Bus,
// one driving the virtual terminal directly.
package session

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/bnema/waykms/internal/logger"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

// ErrNoSeat is returned when no broker could establish a seat.
var ErrNoSeat = errors.New("no session broker could take a seat")

// EventKind classifies broker notifications.
type EventKind int

const (
	// EventActive reports a change of the session's active state.
	EventActive EventKind = iota
	// EventRemoved reports that the session was terminated.
	EventRemoved
)

func (k EventKind) String() string {
	switch k {
	case EventActive:
		return "active"
	case EventRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Event is delivered on Broker.Events. For EventActive with Active false,
// Ack must be called once every GPU has stopped submitting commits; the
// device is revoked only after that.
type Event struct {
	Kind   EventKind
	Active bool
	Ack    func()
}

// Broker is the complete contract a session implementation satisfies.
type Broker interface {
	// Open opens a device node and returns its fd.
	Open(path string) (int, error)
	// Close releases a device fd returned by Open.
	Close(fd int) error
	// SwitchVT asks for a switch to virtual terminal vt.
	SwitchVT(vt int) bool
	// VT returns the virtual terminal the session runs on, 0 if none.
	VT() int
	// Seat returns the seat name.
	Seat() string
	// Active reports whether the session currently owns the devices.
	Active() bool
	// Events delivers active changes and session removal.
	Events() <-chan Event
	// Destroy releases the session.
	Destroy() error
}

// Options configures broker selection.
type Options struct {
	Backend string // auto, logind or direct
	Seat    string
	VT      int
}

type constructor struct {
	name string
	fn   func(Options) (Broker, error)
}

// constructors is replaced in tests.
var constructors = []constructor{
	{"logind", newLogind},
	{"direct", newDirect},
}

// New returns the first broker able to take a seat. Failing to obtain one
// is fatal for the caller: no display backend works without privileged
// device access.
func New(opts Options) (Broker, error) {
	if opts.Seat == "" {
		opts.Seat = SeatFromEnv()
	}

	var errs error
	for _, c := range constructors {
		if opts.Backend != "" && opts.Backend != "auto" && opts.Backend != c.name {
			continue
		}
		logger.Debugf("session: trying %s broker", c.name)
		b, err := c.fn(opts)
		if err == nil {
			logger.Info("session: seat acquired", "broker", c.name, "seat", b.Seat(), "vt", b.VT())
			return b, nil
		}
		logger.Debug("session: broker failed", "broker", c.name, "err", err)
		errs = multierr.Append(errs, fmt.Errorf("%s: %w", c.name, err))
	}
	if errs == nil {
		return nil, fmt.Errorf("%w: unknown session backend %q", ErrNoSeat, opts.Backend)
	}
	return nil, fmt.Errorf("%w: %v", ErrNoSeat, errs)
}

// SeatFromEnv returns $XDG_SEAT or "seat0".
func SeatFromEnv() string {
	if seat := os.Getenv("XDG_SEAT"); seat != "" {
		return seat
	}
	return "seat0"
}

// VTFromEnv returns $XDG_VTNR, or 0 when unset or invalid.
func VTFromEnv() int {
	vt, err := strconv.Atoi(os.Getenv("XDG_VTNR"))
	if err != nil || vt < 0 {
		return 0
	}
	return vt
}

// deviceNumber returns the rdev of a device node or open fd.
func deviceNumber(path string) (uint64, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0, &os.PathError{Op: "stat", Path: path, Err: err}
	}
	if st.Mode&unix.S_IFMT != unix.S_IFCHR {
		return 0, fmt.Errorf("%s is not a character device", path)
	}
	return uint64(st.Rdev), nil
}

func fdDeviceNumber(fd int) (uint64, error) {
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return 0, err
	}
	return uint64(st.Rdev), nil
}
