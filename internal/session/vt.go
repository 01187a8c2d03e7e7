package session

import (
	"errors"
	"unsafe"

	"golang.org/x/sys/unix"
)

var errVTTaken = errors.New("VT switching is already controlled by another process")

// Console ioctls from linux/kd.h and linux/vt.h.
const (
	kdSetMode  = 0x4B3A
	kdGetMode  = 0x4B3B
	kdGKBMode  = 0x4B44
	kdSKBMode  = 0x4B45
	kdText     = 0x00
	kdGraphics = 0x01
	kOff       = 0x04

	vtGetMode    = 0x5601
	vtSetMode    = 0x5602
	vtGetState   = 0x5603
	vtRelDisp    = 0x5605
	vtActivate   = 0x5606
	vtWaitActive = 0x5607

	vtAuto    = 0x00
	vtProcess = 0x01
	vtAckAcq  = 0x02
)

// vtMode mirrors struct vt_mode.
type vtMode struct {
	mode   int8
	waitv  int8
	relsig int16
	acqsig int16
	frsig  int16
}

// vtStat mirrors struct vt_stat.
type vtStat struct {
	active uint16
	signal uint16
	state  uint16
}

func vtIoctlPtr(fd int, req uint, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(req), uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

func getVTMode(fd int) (vtMode, error) {
	var m vtMode
	err := vtIoctlPtr(fd, vtGetMode, unsafe.Pointer(&m))
	return m, err
}

// processMode returns the mode that hands VT switching to us through sig.
// A VT already in process mode belongs to another display server.
func processMode(old vtMode, sig int16) (vtMode, error) {
	if old.mode == vtProcess {
		return vtMode{}, errVTTaken
	}
	return vtMode{mode: vtProcess, relsig: sig, acqsig: sig}, nil
}

// restoredMode is the mode put back on exit: the saved one, with switching
// returned to the kernel.
func restoredMode(old vtMode) vtMode {
	old.mode = vtAuto
	old.relsig, old.acqsig = 0, 0
	return old
}

func setVTMode(fd int, m *vtMode) error {
	return vtIoctlPtr(fd, vtSetMode, unsafe.Pointer(m))
}

func activeVT(fd int) (int, error) {
	var st vtStat
	if err := vtIoctlPtr(fd, vtGetState, unsafe.Pointer(&st)); err != nil {
		return 0, err
	}
	return int(st.active), nil
}
