package backend

import (
	"fmt"
)

// Property names looked up per object type.
const (
	propCrtcID     = "CRTC_ID"
	propDPMS       = "DPMS"
	propLinkStatus = "link-status"
	propNonDesktop = "non-desktop"

	propActive = "ACTIVE"
	propModeID = "MODE_ID"

	propType      = "type"
	propFbID      = "FB_ID"
	propSrcX      = "SRC_X"
	propSrcY      = "SRC_Y"
	propSrcW      = "SRC_W"
	propSrcH      = "SRC_H"
	propCrtcX     = "CRTC_X"
	propCrtcY     = "CRTC_Y"
	propCrtcW     = "CRTC_W"
	propCrtcH     = "CRTC_H"
	propInFormats = "IN_FORMATS"
)

var (
	connectorPropNames = []string{propCrtcID, propDPMS, propLinkStatus, propNonDesktop}
	crtcPropNames      = []string{propActive, propModeID}
	planePropNames     = []string{
		propType, propFbID, propCrtcID,
		propSrcX, propSrcY, propSrcW, propSrcH,
		propCrtcX, propCrtcY, propCrtcW, propCrtcH,
		propInFormats,
	}
)

// PropertyTable maps wanted property names to ids on one object. A name the
// driver does not expose maps to 0, which callers treat as "unsupported".
type PropertyTable struct {
	ids    map[string]uint32
	values map[string]uint64
}

// ID returns the property id for name, or 0 when absent.
func (t PropertyTable) ID(name string) uint32 {
	return t.ids[name]
}

// Value returns the value the property had when the table was read.
func (t PropertyTable) Value(name string) (uint64, bool) {
	v, ok := t.values[name]
	return v, ok
}

// Has reports whether the property exists.
func (t PropertyTable) Has(name string) bool {
	return t.ids[name] != 0
}

// IDs returns a copy of the name to id mapping.
func (t PropertyTable) IDs() map[string]uint32 {
	out := make(map[string]uint32, len(t.ids))
	for k, v := range t.ids {
		out[k] = v
	}
	return out
}

// readProperties resolves wanted property names on a mode object. Failing to
// list the object's properties is an error; a missing name is not.
func readProperties(dev Device, objID, objType uint32, wanted []string) (PropertyTable, error) {
	t := PropertyTable{
		ids:    make(map[string]uint32, len(wanted)),
		values: make(map[string]uint64, len(wanted)),
	}
	for _, name := range wanted {
		t.ids[name] = 0
	}

	props, err := dev.ObjectProperties(objID, objType)
	if err != nil {
		return t, fmt.Errorf("failed to list properties of object %d: %w", objID, err)
	}
	for _, pv := range props {
		p, err := dev.Property(pv.ID)
		if err != nil {
			continue
		}
		if _, ok := t.ids[p.Name]; ok {
			t.ids[p.Name] = p.ID
			t.values[p.Name] = pv.Value
		}
	}
	return t, nil
}
