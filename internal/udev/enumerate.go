package udev

import (
	"bufio"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Device is a DRM card found in sysfs.
type Device struct {
	Name    string // card0
	SysPath string
	DevNode string // /dev/dri/card0
	Major   uint32
	Minor   uint32
	BootVGA bool
}

// Enumerate lists the cardN devices below sysRoot/class/drm, boot VGA first.
// An empty sysRoot means /sys.
func Enumerate(sysRoot string) ([]Device, error) {
	if sysRoot == "" {
		sysRoot = "/sys"
	}
	dir := filepath.Join(sysRoot, "class", "drm")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var devices []Device
	for _, e := range entries {
		if !isCardName(e.Name()) {
			continue
		}
		sys := filepath.Join(dir, e.Name())
		d := Device{Name: e.Name(), SysPath: sys, DevNode: filepath.Join("/dev/dri", e.Name())}

		env := readUevent(filepath.Join(sys, "uevent"))
		if name := env["DEVNAME"]; name != "" {
			d.DevNode = "/dev/" + name
		}
		if v, err := strconv.ParseUint(env["MAJOR"], 10, 32); err == nil {
			d.Major = uint32(v)
		}
		if v, err := strconv.ParseUint(env["MINOR"], 10, 32); err == nil {
			d.Minor = uint32(v)
		}
		if b, err := os.ReadFile(filepath.Join(sys, "device", "boot_vga")); err == nil {
			d.BootVGA = strings.TrimSpace(string(b)) == "1"
		}
		devices = append(devices, d)
	}

	sort.SliceStable(devices, func(i, j int) bool {
		if devices[i].BootVGA != devices[j].BootVGA {
			return devices[i].BootVGA
		}
		return cardIndex(devices[i].Name) < cardIndex(devices[j].Name)
	})
	return devices, nil
}

func cardIndex(name string) int {
	n, _ := strconv.Atoi(strings.TrimPrefix(name, "card"))
	return n
}

func readUevent(path string) map[string]string {
	env := make(map[string]string)
	f, err := os.Open(path)
	if err != nil {
		return env
	}
	defer f.Close()

	s := bufio.NewScanner(f)
	for s.Scan() {
		if k, v, ok := strings.Cut(s.Text(), "="); ok {
			env[k] = v
		}
	}
	return env
}
