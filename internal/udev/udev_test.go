package udev

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func props(kv ...string) []byte {
	return []byte(strings.Join(kv, "\x00") + "\x00")
}

func libudevMessage(p []byte) []byte {
	hdr := make([]byte, 40)
	copy(hdr, libudevPrefix)
	binary.BigEndian.PutUint32(hdr[8:12], libudevMagic)
	binary.LittleEndian.PutUint32(hdr[12:16], 40)
	binary.LittleEndian.PutUint32(hdr[16:20], 40)
	binary.LittleEndian.PutUint32(hdr[20:24], uint32(len(p)))
	return append(hdr, p...)
}

func TestParseMessage(t *testing.T) {
	body := props(
		"ACTION=change",
		"DEVPATH=/devices/pci0000:00/0000:00:02.0/drm/card0",
		"SUBSYSTEM=drm",
		"DEVNAME=dri/card0",
		"MAJOR=226",
		"MINOR=0",
		"HOTPLUG=1",
	)

	t.Run("libudev framing", func(t *testing.T) {
		ev, err := ParseMessage(libudevMessage(body))
		require.NoError(t, err)
		assert.Equal(t, ActionChange, ev.Action)
		assert.Equal(t, "drm", ev.Subsystem)
		assert.Equal(t, "/dev/dri/card0", ev.DevNode())
		assert.Equal(t, uint32(226), ev.Major)
		assert.True(t, ev.IsCard())
		assert.True(t, ev.Hotplug())
	})

	t.Run("kernel framing", func(t *testing.T) {
		msg := append([]byte("change@/devices/pci0000:00/0000:00:02.0/drm/card0\x00"), body...)
		ev, err := ParseMessage(msg)
		require.NoError(t, err)
		assert.Equal(t, ActionChange, ev.Action)
		assert.Equal(t, uint32(0), ev.Minor)
	})

	t.Run("bad magic", func(t *testing.T) {
		msg := libudevMessage(body)
		binary.BigEndian.PutUint32(msg[8:12], 0xdeadbeef)
		_, err := ParseMessage(msg)
		assert.Error(t, err)
	})

	t.Run("properties out of range", func(t *testing.T) {
		msg := libudevMessage(body)
		binary.LittleEndian.PutUint32(msg[20:24], 4096)
		_, err := ParseMessage(msg)
		assert.Error(t, err)
	})

	t.Run("missing action", func(t *testing.T) {
		_, err := ParseMessage(libudevMessage(props("DEVPATH=/x")))
		assert.Error(t, err)
	})
}

func TestIsCard(t *testing.T) {
	assert.True(t, Event{Subsystem: "drm", DevName: "dri/card1"}.IsCard())
	assert.False(t, Event{Subsystem: "drm", DevName: "dri/renderD128"}.IsCard())
	assert.False(t, Event{Subsystem: "drm", DevName: ""}.IsCard())
	assert.False(t, Event{Subsystem: "input", DevName: "dri/card1"}.IsCard())
	assert.False(t, isCardName("card0-HDMI-A-1"))
}

func writeCard(t *testing.T, root, name string, minor int, bootVGA string) {
	t.Helper()
	dir := filepath.Join(root, "class", "drm", name)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "device"), 0755))
	uevent := "MAJOR=226\nMINOR=" + string(rune('0'+minor)) + "\nDEVNAME=dri/" + name + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "uevent"), []byte(uevent), 0644))
	if bootVGA != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "device", "boot_vga"), []byte(bootVGA+"\n"), 0644))
	}
}

func TestEnumerate(t *testing.T) {
	root := t.TempDir()
	writeCard(t, root, "card0", 0, "0")
	writeCard(t, root, "card1", 1, "1")
	writeCard(t, root, "card2", 2, "")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "class", "drm", "card0-eDP-1"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "class", "drm", "renderD128"), 0755))

	devices, err := Enumerate(root)
	require.NoError(t, err)
	require.Len(t, devices, 3)

	assert.Equal(t, "card1", devices[0].Name)
	assert.True(t, devices[0].BootVGA)
	assert.Equal(t, "/dev/dri/card1", devices[0].DevNode)
	assert.Equal(t, uint32(1), devices[0].Minor)
	assert.Equal(t, "card0", devices[1].Name)
	assert.Equal(t, "card2", devices[2].Name)
}

func TestEnumerateMissingSysfs(t *testing.T) {
	_, err := Enumerate(t.TempDir())
	assert.Error(t, err)
}

func TestPollingFallbackDiff(t *testing.T) {
	dir := t.TempDir()
	m := NewMonitor()
	m.devDir = dir

	require.NoError(t, os.WriteFile(filepath.Join(dir, "card0"), nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "renderD128"), nil, 0644))

	nodes := m.cardNodes()
	assert.Equal(t, map[string]bool{"card0": true}, nodes)

	ev := m.nodeEvent(ActionAdd, "card0")
	assert.Equal(t, "/dev/dri/card0", ev.DevNode())
	assert.True(t, ev.IsCard())
}
