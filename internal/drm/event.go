package drm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// Event is a page-flip or vblank completion read from the device file.
type Event struct {
	Type     uint32
	UserData uint64
	Sequence uint32
	CrtcID   uint32
	Time     time.Duration // CLOCK_MONOTONIC timestamp
}

const (
	eventHeaderLen = 8
	eventVBlankLen = 32
	eventBufSize   = 1024
)

// ParseEvents decodes a buffer filled by read(2) on a DRM fd. Unknown event
// types are skipped. When the kernel does not report the CRTC id
// (no CRTC_IN_VBLANK_EVENT capability) the caller can fall back to UserData.
func ParseEvents(buf []byte) ([]Event, error) {
	var events []Event
	le := binary.LittleEndian
	for len(buf) > 0 {
		if len(buf) < eventHeaderLen {
			return events, fmt.Errorf("short event header: %d bytes", len(buf))
		}
		typ := le.Uint32(buf[0:])
		length := le.Uint32(buf[4:])
		if length < eventHeaderLen || int(length) > len(buf) {
			return events, fmt.Errorf("invalid event length %d", length)
		}
		if (typ == EventVBlank || typ == EventFlipComplete) && length >= eventVBlankLen {
			sec := le.Uint32(buf[16:])
			usec := le.Uint32(buf[20:])
			events = append(events, Event{
				Type:     typ,
				UserData: le.Uint64(buf[8:]),
				Sequence: le.Uint32(buf[24:]),
				CrtcID:   le.Uint32(buf[28:]),
				Time:     time.Duration(sec)*time.Second + time.Duration(usec)*time.Microsecond,
			})
		}
		buf = buf[length:]
	}
	return events, nil
}

// ReadEvents waits up to timeout for the fd to become readable and decodes
// whatever events are pending. A timeout returns no events and no error.
func (c *Card) ReadEvents(timeout time.Duration) ([]Event, error) {
	fds := []unix.PollFd{{Fd: int32(c.fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, int(timeout/time.Millisecond))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil, nil
		}
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	if fds[0].Revents&(unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0 {
		return nil, fmt.Errorf("%s: device hung up", c.path)
	}

	buf := make([]byte, eventBufSize)
	n, err = unix.Read(c.fd, buf)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			return nil, nil
		}
		return nil, err
	}
	return ParseEvents(buf[:n])
}
