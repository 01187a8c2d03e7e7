// Package udev watches the kernel device tree for DRM hot-plug activity and
// enumerates the cards present at start-up.
package udev

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Actions carried by uevents.
const (
	ActionAdd     = "add"
	ActionRemove  = "remove"
	ActionChange  = "change"
	ActionOnline  = "online"
	ActionOffline = "offline"
	ActionBind    = "bind"
	ActionUnbind  = "unbind"
)

// Event is one decoded uevent.
type Event struct {
	Action    string
	DevPath   string
	Subsystem string
	DevName   string // relative to /dev, e.g. dri/card0
	Major     uint32
	Minor     uint32
	Env       map[string]string
}

// DevNode returns the absolute device node path, or "" for events without one.
func (e Event) DevNode() string {
	if e.DevName == "" {
		return ""
	}
	if strings.HasPrefix(e.DevName, "/") {
		return e.DevName
	}
	return "/dev/" + e.DevName
}

// IsCard reports whether the event concerns a primary DRM node (cardN), as
// opposed to a render node or a connector.
func (e Event) IsCard() bool {
	if e.Subsystem != "drm" {
		return false
	}
	name := e.DevName
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	return isCardName(name)
}

// Hotplug reports whether a change event signals a connector change.
func (e Event) Hotplug() bool {
	return e.Env["HOTPLUG"] == "1"
}

func (e Event) String() string {
	return fmt.Sprintf("%s %s (%s)", e.Action, e.DevPath, e.Subsystem)
}

func isCardName(name string) bool {
	if !strings.HasPrefix(name, "card") || len(name) == len("card") {
		return false
	}
	for _, c := range name[len("card"):] {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

const (
	libudevPrefix = "libudev\x00"
	libudevMagic  = 0xfeedcafe
)

var errShortMessage = errors.New("uevent message too short")

// ParseMessage decodes a netlink uevent datagram. Both the libudev framing
// (group 2) and the raw kernel "action@devpath" framing (group 1) are
// accepted.
func ParseMessage(buf []byte) (Event, error) {
	if len(buf) >= len(libudevPrefix) && string(buf[:len(libudevPrefix)]) == libudevPrefix {
		return parseLibudev(buf)
	}
	return parseKernel(buf)
}

func parseLibudev(buf []byte) (Event, error) {
	if len(buf) < 40 {
		return Event{}, errShortMessage
	}
	if magic := binary.BigEndian.Uint32(buf[8:12]); magic != libudevMagic {
		return Event{}, fmt.Errorf("bad libudev magic %#x", magic)
	}
	off := binary.LittleEndian.Uint32(buf[16:20])
	n := binary.LittleEndian.Uint32(buf[20:24])
	if uint64(off)+uint64(n) > uint64(len(buf)) {
		return Event{}, errShortMessage
	}
	return fromProperties(buf[off : off+n])
}

func parseKernel(buf []byte) (Event, error) {
	head, rest, ok := bytes.Cut(buf, []byte{0})
	if !ok || !bytes.Contains(head, []byte("@")) {
		return Event{}, fmt.Errorf("malformed kernel uevent")
	}
	return fromProperties(rest)
}

func fromProperties(buf []byte) (Event, error) {
	env := make(map[string]string)
	for _, field := range bytes.Split(buf, []byte{0}) {
		k, v, ok := bytes.Cut(field, []byte("="))
		if !ok || len(k) == 0 {
			continue
		}
		env[string(k)] = string(v)
	}

	ev := Event{
		Action:    env["ACTION"],
		DevPath:   env["DEVPATH"],
		Subsystem: env["SUBSYSTEM"],
		DevName:   env["DEVNAME"],
		Env:       env,
	}
	if ev.Action == "" || ev.DevPath == "" {
		return Event{}, fmt.Errorf("uevent without ACTION or DEVPATH")
	}
	if v, err := strconv.ParseUint(env["MAJOR"], 10, 32); err == nil {
		ev.Major = uint32(v)
	}
	if v, err := strconv.ParseUint(env["MINOR"], 10, 32); err == nil {
		ev.Minor = uint32(v)
	}
	return ev, nil
}
