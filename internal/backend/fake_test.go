package backend

import (
	"encoding/binary"
	"fmt"
	"sort"
	"time"

	"github.com/bnema/waykms/internal/config"
	"github.com/bnema/waykms/internal/drm"
	"github.com/bnema/waykms/internal/session"
	"golang.org/x/sys/unix"
	"launchpad.net/gommap"
)

// fakeCommit is one recorded AtomicCommit.
type fakeCommit struct {
	flags    uint32
	userData uint64
	values   map[uint32]map[string]uint64 // object -> property name -> value
}

func (c fakeCommit) value(obj uint32, prop string) (uint64, bool) {
	v, ok := c.values[obj][prop]
	return v, ok
}

// fakeDevice is an in-memory Device. Property ids are allocated per name.
type fakeDevice struct {
	path string

	caps          map[uint64]uint64
	clientCaps    map[uint64]uint64
	rejectAtomic  bool
	resourcesErr  error
	connectorErrs map[uint32]error

	crtcs      []uint32
	crtcState  map[uint32]*drm.Crtc
	planes     []*drm.Plane
	connectors map[uint32]*drm.Connector
	encoders   map[uint32]*drm.Encoder

	objProps  map[uint32]map[string]uint64 // object -> property name -> value
	propIDs   map[string]uint32
	propNames map[uint32]string
	blobs     map[uint32][]byte
	nextID    uint32

	commitErr   error
	setCrtcErr  error
	pageFlipErr error
	cursorErr   error
	dpmsErr     error
	fbModErr    error

	commits   []fakeCommit
	setCrtcs  []uint32 // fb id per call
	pageFlips []uint32 // fb id per call
	dpms      []uint64
	calls     []string
	dumbs     map[uint32]*drm.DumbBuffer
	fbs       map[uint32]*drm.Framebuffer
	addFBs    int

	resourcesCalls int

	events chan []drm.Event
	closed bool
}

func newFakeDevice(path string) *fakeDevice {
	return &fakeDevice{
		path: path,
		caps: map[uint64]uint64{
			drm.CapDumbBuffer:        1,
			drm.CapAddFB2Modifiers:   1,
			drm.CapCrtcInVBlankEvent: 1,
			drm.CapPrime:             drm.PrimeCapImport | drm.PrimeCapExport,
		},
		clientCaps:    make(map[uint64]uint64),
		connectorErrs: make(map[uint32]error),
		crtcState:     make(map[uint32]*drm.Crtc),
		connectors:    make(map[uint32]*drm.Connector),
		encoders:      make(map[uint32]*drm.Encoder),
		objProps:      make(map[uint32]map[string]uint64),
		propIDs:       make(map[string]uint32),
		propNames:     make(map[uint32]string),
		blobs:         make(map[uint32][]byte),
		nextID:        1,
		dumbs:         make(map[uint32]*drm.DumbBuffer),
		fbs:           make(map[uint32]*drm.Framebuffer),
		events:        make(chan []drm.Event, 4),
	}
}

func (f *fakeDevice) id() uint32 {
	f.nextID++
	return f.nextID
}

func (f *fakeDevice) setProps(obj uint32, props map[string]uint64) {
	f.objProps[obj] = props
	for name := range props {
		if _, ok := f.propIDs[name]; !ok {
			id := 1000 + uint32(len(f.propIDs))
			f.propIDs[name] = id
			f.propNames[id] = name
		}
	}
}

func (f *fakeDevice) addCRTC() uint32 {
	id := f.id()
	f.crtcs = append(f.crtcs, id)
	f.crtcState[id] = &drm.Crtc{ID: id}
	f.setProps(id, map[string]uint64{propActive: 0, propModeID: 0})
	return id
}

func (f *fakeDevice) addPlane(typ uint64, possible uint32, formats ...uint32) uint32 {
	id := f.id()
	f.planes = append(f.planes, &drm.Plane{ID: id, PossibleCrtcs: possible, Formats: formats})
	props := map[string]uint64{propType: typ}
	for _, name := range planePropNames {
		if name != propType && name != propInFormats {
			props[name] = 0
		}
	}
	f.setProps(id, props)
	return id
}

func (f *fakeDevice) setInFormats(plane uint32, blob []byte) {
	id := f.id()
	f.blobs[id] = blob
	f.objProps[plane][propInFormats] = uint64(id)
	f.setProps(plane, f.objProps[plane])
}

func (f *fakeDevice) addConnector(typ, typeID uint32, connected bool, possible uint32, modes ...drm.ModeInfo) uint32 {
	id := f.id()
	enc := f.id()
	f.encoders[enc] = &drm.Encoder{ID: enc, PossibleCrtcs: possible}
	conn := &drm.Connector{ID: id, Type: typ, TypeID: typeID, Modes: modes, Encoders: []uint32{enc}}
	f.connectors[id] = conn
	f.setConnected(id, connected)
	f.setProps(id, map[string]uint64{propCrtcID: 0, propDPMS: drm.DPMSOn})
	return id
}

func (f *fakeDevice) setConnected(id uint32, connected bool) {
	if connected {
		f.connectors[id].Connection = drm.Connected
	} else {
		f.connectors[id].Connection = drm.Disconnected
	}
}

func (f *fakeDevice) Fd() int        { return 3 }
func (f *fakeDevice) Path() string   { return f.path }
func (f *fakeDevice) Close() error   { f.closed = true; return nil }
func (f *fakeDevice) String() string { return f.path }

func (f *fakeDevice) GetCap(c uint64) (uint64, error) {
	v, ok := f.caps[c]
	if !ok {
		return 0, unix.EINVAL
	}
	return v, nil
}

func (f *fakeDevice) SetClientCap(c, v uint64) error {
	if c == drm.ClientCapAtomic && f.rejectAtomic {
		return unix.EOPNOTSUPP
	}
	f.clientCaps[c] = v
	return nil
}

func (f *fakeDevice) Resources() (*drm.Resources, error) {
	f.resourcesCalls++
	if f.resourcesErr != nil {
		return nil, f.resourcesErr
	}
	var conns, encs []uint32
	for id := range f.connectors {
		conns = append(conns, id)
	}
	for id := range f.encoders {
		encs = append(encs, id)
	}
	sort.Slice(conns, func(i, j int) bool { return conns[i] < conns[j] })
	return &drm.Resources{Crtcs: append([]uint32(nil), f.crtcs...), Connectors: conns, Encoders: encs}, nil
}

func (f *fakeDevice) Connector(id uint32) (*drm.Connector, error) {
	if err := f.connectorErrs[id]; err != nil {
		return nil, err
	}
	c, ok := f.connectors[id]
	if !ok {
		return nil, unix.ENOENT
	}
	cp := *c
	return &cp, nil
}

func (f *fakeDevice) Encoder(id uint32) (*drm.Encoder, error) {
	e, ok := f.encoders[id]
	if !ok {
		return nil, unix.ENOENT
	}
	return e, nil
}

func (f *fakeDevice) Crtc(id uint32) (*drm.Crtc, error) {
	c, ok := f.crtcState[id]
	if !ok {
		return nil, unix.ENOENT
	}
	cp := *c
	return &cp, nil
}

func (f *fakeDevice) PlaneResources() ([]uint32, error) {
	ids := make([]uint32, 0, len(f.planes))
	for _, p := range f.planes {
		ids = append(ids, p.ID)
	}
	return ids, nil
}

func (f *fakeDevice) Plane(id uint32) (*drm.Plane, error) {
	for _, p := range f.planes {
		if p.ID == id {
			cp := *p
			return &cp, nil
		}
	}
	return nil, unix.ENOENT
}

func (f *fakeDevice) ObjectProperties(obj, _ uint32) ([]drm.PropertyValue, error) {
	props, ok := f.objProps[obj]
	if !ok {
		return nil, unix.ENOENT
	}
	out := make([]drm.PropertyValue, 0, len(props))
	for name, v := range props {
		out = append(out, drm.PropertyValue{ID: f.propIDs[name], Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeDevice) Property(id uint32) (*drm.Property, error) {
	name, ok := f.propNames[id]
	if !ok {
		return nil, unix.ENOENT
	}
	return &drm.Property{ID: id, Name: name}, nil
}

func (f *fakeDevice) PropertyBlob(id uint32) ([]byte, error) {
	b, ok := f.blobs[id]
	if !ok {
		return nil, unix.ENOENT
	}
	return b, nil
}

func (f *fakeDevice) CreatePropertyBlob(data []byte) (uint32, error) {
	id := f.id()
	f.blobs[id] = append([]byte(nil), data...)
	f.calls = append(f.calls, fmt.Sprintf("create_blob %d", id))
	return id, nil
}

func (f *fakeDevice) DestroyPropertyBlob(id uint32) error {
	if _, ok := f.blobs[id]; !ok {
		return unix.ENOENT
	}
	delete(f.blobs, id)
	f.calls = append(f.calls, fmt.Sprintf("destroy_blob %d", id))
	return nil
}

func (f *fakeDevice) AtomicCommit(r *drm.AtomicRequest, flags uint32, userData uint64) error {
	f.calls = append(f.calls, "atomic_commit")
	if f.commitErr != nil {
		return f.commitErr
	}
	objs, counts, props, values := r.Flatten()
	c := fakeCommit{flags: flags, userData: userData, values: make(map[uint32]map[string]uint64)}
	k := 0
	for i, obj := range objs {
		c.values[obj] = make(map[string]uint64)
		for j := uint32(0); j < counts[i]; j++ {
			c.values[obj][f.propNames[props[k]]] = values[k]
			k++
		}
	}
	f.commits = append(f.commits, c)
	return nil
}

func (f *fakeDevice) SetConnectorProperty(_, _ uint32, value uint64) error {
	f.calls = append(f.calls, "dpms")
	if f.dpmsErr != nil {
		return f.dpmsErr
	}
	f.dpms = append(f.dpms, value)
	return nil
}

func (f *fakeDevice) SetCrtc(crtcID, fbID, x, y uint32, _ []uint32, mode *drm.ModeInfo) error {
	f.calls = append(f.calls, "set_crtc")
	if f.setCrtcErr != nil {
		return f.setCrtcErr
	}
	f.setCrtcs = append(f.setCrtcs, fbID)
	st := f.crtcState[crtcID]
	st.BufferID, st.X, st.Y = fbID, x, y
	st.ModeValid = mode != nil
	if mode != nil {
		st.Mode = *mode
	}
	return nil
}

func (f *fakeDevice) PageFlip(_, fbID, _ uint32, _ uint64) error {
	f.calls = append(f.calls, "page_flip")
	if f.pageFlipErr != nil {
		return f.pageFlipErr
	}
	f.pageFlips = append(f.pageFlips, fbID)
	return nil
}

func (f *fakeDevice) SetCursor(_, _, _, _ uint32) error {
	f.calls = append(f.calls, "cursor")
	return f.cursorErr
}

func (f *fakeDevice) CreateDumb(w, h, bpp uint32) (*drm.DumbBuffer, error) {
	b := &drm.DumbBuffer{Width: w, Height: h, BPP: bpp, Handle: f.id(), Pitch: w * bpp / 8}
	b.Size = uint64(b.Pitch) * uint64(h)
	f.dumbs[b.Handle] = b
	return b, nil
}

func (f *fakeDevice) MapDumb(buf *drm.DumbBuffer) (gommap.MMap, error) {
	if _, ok := f.dumbs[buf.Handle]; !ok {
		return nil, unix.ENOENT
	}
	return make(gommap.MMap, 64), nil
}

func (f *fakeDevice) UnmapDumb(gommap.MMap) error { return nil }

func (f *fakeDevice) DestroyDumb(handle uint32) error {
	if _, ok := f.dumbs[handle]; !ok {
		return unix.ENOENT
	}
	delete(f.dumbs, handle)
	return nil
}

func (f *fakeDevice) AddFB2(fb *drm.Framebuffer) (uint32, error) {
	f.addFBs++
	if fb.Flags&drm.FBModifiers != 0 && f.fbModErr != nil {
		return 0, f.fbModErr
	}
	id := f.id()
	cp := *fb
	f.fbs[id] = &cp
	return id, nil
}

func (f *fakeDevice) RemoveFB(id uint32) error {
	if _, ok := f.fbs[id]; !ok {
		return unix.ENOENT
	}
	delete(f.fbs, id)
	return nil
}

func (f *fakeDevice) ReadEvents(timeout time.Duration) ([]drm.Event, error) {
	select {
	case evs := <-f.events:
		return evs, nil
	case <-time.After(timeout):
		return nil, nil
	}
}

// testMode builds a mode whose timings yield exactly hz*1000 mHz.
func testMode(w, h, hz int, preferred bool) drm.ModeInfo {
	m := drm.ModeInfo{
		Clock:    uint32(hz * 4000),
		Hdisplay: uint16(w),
		Vdisplay: uint16(h),
		Htotal:   2000,
		Vtotal:   2000,
		Vrefresh: uint32(hz),
	}
	if preferred {
		m.Type |= drm.ModeTypePreferred
	}
	copy(m.Name[:], fmt.Sprintf("%dx%d", w, h))
	return m
}

func flipEvent(crtc uint32) drm.Event {
	return drm.Event{Type: drm.EventFlipComplete, CrtcID: crtc, UserData: uint64(crtc), Sequence: 1}
}

// formatBlob encodes an IN_FORMATS blob where every format supports mods.
func formatBlob(formats []uint32, mods []uint64) []byte {
	const hdr = 24
	fmtOff := hdr
	modOff := fmtOff + 4*len(formats)
	buf := make([]byte, modOff+24*len(mods))
	le := binary.LittleEndian
	le.PutUint32(buf[0:], 1)
	le.PutUint32(buf[8:], uint32(len(formats)))
	le.PutUint32(buf[12:], uint32(fmtOff))
	le.PutUint32(buf[16:], uint32(len(mods)))
	le.PutUint32(buf[20:], uint32(modOff))
	for i, f := range formats {
		le.PutUint32(buf[fmtOff+4*i:], f)
	}
	mask := uint64(1)<<uint(len(formats)) - 1
	for i, m := range mods {
		o := modOff + 24*i
		le.PutUint64(buf[o:], mask)
		le.PutUint32(buf[o+8:], 0)
		le.PutUint64(buf[o+16:], m)
	}
	return buf
}

func testConfig() *config.Config {
	c := config.DefaultConfig
	c.Outputs = nil
	c.DRM.Devices = nil
	return &c
}

// twoHeads builds a device with two CRTCs, a primary plane for each and
// one connected HDMI connector usable on both.
func twoHeads() (*fakeDevice, uint32) {
	f := newFakeDevice("/dev/dri/card0")
	f.addCRTC()
	f.addCRTC()
	f.addPlane(drm.PlaneTypePrimary, 0b01, drm.FormatXRGB8888)
	f.addPlane(drm.PlaneTypePrimary, 0b10, drm.FormatXRGB8888)
	f.addPlane(drm.PlaneTypeCursor, 0b11, drm.FormatARGB8888)
	conn := f.addConnector(11, 1, true, 0b11,
		testMode(1920, 1080, 60, true),
		testMode(1280, 720, 60, false))
	return f, conn
}

// fakeBroker is an in-memory session.Broker.
type fakeBroker struct {
	active  bool
	events  chan session.Event
	opened  []string
	closed  []int
	openErr error
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{active: true, events: make(chan session.Event, 4)}
}

func (b *fakeBroker) Open(path string) (int, error) {
	if b.openErr != nil {
		return -1, b.openErr
	}
	b.opened = append(b.opened, path)
	return 3, nil
}

func (b *fakeBroker) Close(fd int) error           { b.closed = append(b.closed, fd); return nil }
func (b *fakeBroker) SwitchVT(int) bool            { return true }
func (b *fakeBroker) VT() int                      { return 1 }
func (b *fakeBroker) Seat() string                 { return "seat0" }
func (b *fakeBroker) Active() bool                 { return b.active }
func (b *fakeBroker) Events() <-chan session.Event { return b.events }
func (b *fakeBroker) Destroy() error               { return nil }

func itoa(v uint32) string { return fmt.Sprint(v) }
