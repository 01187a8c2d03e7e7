package udev

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bnema/waykms/internal/logger"
	"golang.org/x/sys/unix"
)

const (
	groupKernel = 1
	groupUdev   = 2

	recvTimeout  = 500 * time.Millisecond
	pollInterval = 2 * time.Second
)

// Monitor delivers DRM uevents. It listens on the udev netlink group and
// falls back to polling /dev/dri when the socket cannot be opened.
type Monitor struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	fd        int
	devDir    string
	subsystem string
}

// NewMonitor creates a monitor filtering on the drm subsystem.
func NewMonitor() *Monitor {
	return &Monitor{fd: -1, devDir: "/dev/dri", subsystem: "drm"}
}

// Start begins monitoring. callback runs on the monitor's goroutine.
func (m *Monitor) Start(ctx context.Context, callback func(Event)) error {
	if m.cancel != nil {
		return errors.New("monitor already started")
	}
	m.ctx, m.cancel = context.WithCancel(ctx)

	fd, err := openNetlink(groupUdev)
	if err != nil {
		logger.Warn("udev: netlink unavailable, polling device nodes", "err", err)
		m.wg.Add(1)
		go m.poll(callback)
		return nil
	}
	m.fd = fd

	m.wg.Add(1)
	go m.receive(callback)
	logger.Debug("udev: monitor started", "subsystem", m.subsystem)
	return nil
}

// Stop stops the monitor and waits for its goroutine to exit.
func (m *Monitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	m.wg.Wait()
	if m.fd >= 0 {
		unix.Close(m.fd)
		m.fd = -1
	}
	logger.Debug("udev: monitor stopped")
}

func openNetlink(groups uint32) (int, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_RAW|unix.SOCK_CLOEXEC, unix.NETLINK_KOBJECT_UEVENT)
	if err != nil {
		return -1, fmt.Errorf("socket: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrNetlink{Family: unix.AF_NETLINK, Groups: groups}); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("bind: %w", err)
	}
	tv := unix.NsecToTimeval(recvTimeout.Nanoseconds())
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("setsockopt: %w", err)
	}
	return fd, nil
}

func (m *Monitor) receive(callback func(Event)) {
	defer m.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("udev monitor panic: %v", r)
		}
	}()

	buf := make([]byte, 8192)
	for {
		if m.ctx.Err() != nil {
			return
		}
		n, from, err := unix.Recvfrom(m.fd, buf, 0)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
				continue
			}
			logger.Warn("udev: receive failed", "err", err)
			return
		}
		// Only trust messages from udevd (pid != 0 on group 2) or the kernel.
		if sa, ok := from.(*unix.SockaddrNetlink); ok && sa.Groups == groupKernel && sa.Pid != 0 {
			continue
		}

		ev, err := ParseMessage(buf[:n])
		if err != nil {
			logger.Debug("udev: dropping message", "err", err)
			continue
		}
		if ev.Subsystem != m.subsystem {
			continue
		}
		callback(ev)
	}
}

// poll diffs the card nodes under devDir. Only add and remove can be
// derived this way; connector changes are not seen.
func (m *Monitor) poll(callback func(Event)) {
	defer m.wg.Done()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	last := m.cardNodes()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			current := m.cardNodes()
			for name := range current {
				if !last[name] {
					callback(m.nodeEvent(ActionAdd, name))
				}
			}
			for name := range last {
				if !current[name] {
					callback(m.nodeEvent(ActionRemove, name))
				}
			}
			last = current
		}
	}
}

func (m *Monitor) cardNodes() map[string]bool {
	nodes := make(map[string]bool)
	entries, err := os.ReadDir(m.devDir)
	if err != nil {
		return nodes
	}
	for _, e := range entries {
		if isCardName(e.Name()) {
			nodes[e.Name()] = true
		}
	}
	return nodes
}

func (m *Monitor) nodeEvent(action, name string) Event {
	return Event{
		Action:    action,
		DevPath:   "/devices/virtual/drm/" + name,
		Subsystem: m.subsystem,
		DevName:   filepath.Join("dri", name),
		Env:       map[string]string{},
	}
}
