package backend

import (
	"fmt"

	"github.com/bnema/waykms/internal/drm"
)

// committer submits a KMSState for a display. The strategy is chosen once
// per GPU in detectCapabilities.
type committer interface {
	name() string
	submit(d *Display, st *KMSState, flags uint32) error
}

// commitFlags returns the kernel flags for st: a mode change allows a
// modeset, anything else must not block. Active states ask for a completion
// event.
func commitFlags(st *KMSState) uint32 {
	var flags uint32
	if st.ModeChanged {
		flags |= drm.AtomicAllowModeset
	} else {
		flags |= drm.AtomicNonblock
	}
	if st.Active {
		flags |= drm.PageFlipEvent
	}
	return flags
}

type atomicCommitter struct {
	dev Device
}

func (c *atomicCommitter) name() string { return "atomic" }

// submit builds one transaction over the connector, CRTC and primary plane.
// A new MODE_ID blob is created before the commit; the blob it replaces is
// destroyed only after the kernel accepted the new one.
func (c *atomicCommitter) submit(d *Display, st *KMSState, flags uint32) error {
	crtc := d.crtc
	plane := d.plane
	if crtc == nil || plane == nil {
		return fmt.Errorf("%s: no CRTC or plane attached", d.name)
	}

	oldBlob := d.modeBlob
	blob := oldBlob
	newBlob := false
	if !st.Active {
		blob = 0
	} else if st.ModeChanged || blob == 0 {
		id, err := c.dev.CreatePropertyBlob(st.Mode.Bytes())
		if err != nil {
			return fmt.Errorf("failed to create mode blob: %w", err)
		}
		blob, newBlob = id, true
	}

	req := drm.NewAtomicRequest()
	if st.Active {
		req.Add(d.connectorID, d.props.ID(propCrtcID), uint64(crtc.ID))
		req.Add(crtc.ID, crtc.Props.ID(propModeID), uint64(blob))
		req.Add(crtc.ID, crtc.Props.ID(propActive), 1)

		w, h := uint64(st.Mode.Hdisplay), uint64(st.Mode.Vdisplay)
		req.Add(plane.ID, plane.Props.ID(propFbID), uint64(st.FbID))
		req.Add(plane.ID, plane.Props.ID(propCrtcID), uint64(crtc.ID))
		req.Add(plane.ID, plane.Props.ID(propSrcX), 0)
		req.Add(plane.ID, plane.Props.ID(propSrcY), 0)
		req.Add(plane.ID, plane.Props.ID(propSrcW), w<<16)
		req.Add(plane.ID, plane.Props.ID(propSrcH), h<<16)
		req.Add(plane.ID, plane.Props.ID(propCrtcX), 0)
		req.Add(plane.ID, plane.Props.ID(propCrtcY), 0)
		req.Add(plane.ID, plane.Props.ID(propCrtcW), w)
		req.Add(plane.ID, plane.Props.ID(propCrtcH), h)
	} else {
		req.Add(d.connectorID, d.props.ID(propCrtcID), 0)
		req.Add(crtc.ID, crtc.Props.ID(propModeID), 0)
		req.Add(crtc.ID, crtc.Props.ID(propActive), 0)
		req.Add(plane.ID, plane.Props.ID(propFbID), 0)
		req.Add(plane.ID, plane.Props.ID(propCrtcID), 0)
	}

	err := req.Err()
	if err == nil {
		err = c.dev.AtomicCommit(req, flags, uint64(crtc.ID))
	}
	if err != nil {
		if newBlob {
			if derr := c.dev.DestroyPropertyBlob(blob); derr != nil {
				d.log.Debug("failed to destroy unused mode blob", "blob", blob, "err", derr)
			}
		}
		return fmt.Errorf("atomic commit on CRTC %d: %w", crtc.ID, err)
	}

	st.modeBlob = blob
	d.modeBlob = blob
	if oldBlob != 0 && oldBlob != blob {
		if err := c.dev.DestroyPropertyBlob(oldBlob); err != nil {
			d.log.Debug("failed to destroy old mode blob", "blob", oldBlob, "err", err)
		}
	}
	return nil
}

type legacyCommitter struct {
	dev Device
}

func (c *legacyCommitter) name() string { return "legacy" }

// submit issues DPMS, SETCRTC (mode changes only), a cursor clear and a page
// flip. These are not transactional; a failure stops the sequence and is
// reported so the state is rolled back and retried later.
func (c *legacyCommitter) submit(d *Display, st *KMSState, flags uint32) error {
	crtc := d.crtc
	if crtc == nil {
		return fmt.Errorf("%s: no CRTC attached", d.name)
	}

	dpms := d.props.ID(propDPMS)
	if !st.Active {
		if dpms != 0 {
			if err := c.dev.SetConnectorProperty(d.connectorID, dpms, drm.DPMSOff); err != nil {
				d.log.Warn("failed to set DPMS off", "err", err)
			}
		}
		if err := c.dev.SetCrtc(crtc.ID, 0, 0, 0, nil, nil); err != nil {
			return fmt.Errorf("failed to disable CRTC %d: %w", crtc.ID, err)
		}
		return nil
	}

	if dpms != 0 {
		if err := c.dev.SetConnectorProperty(d.connectorID, dpms, drm.DPMSOn); err != nil {
			d.log.Warn("failed to set DPMS on", "err", err)
		}
	}

	if st.ModeChanged {
		if err := c.dev.SetCrtc(crtc.ID, st.FbID, 0, 0, []uint32{d.connectorID}, st.Mode); err != nil {
			return fmt.Errorf("failed to set mode on CRTC %d: %w", crtc.ID, err)
		}
	}

	if err := c.dev.SetCursor(crtc.ID, 0, 0, 0); err != nil {
		d.log.Debug("failed to clear cursor", "err", err)
	}

	var flipFlags uint32
	if flags&drm.PageFlipEvent != 0 {
		flipFlags |= drm.PageFlipEvent
	}
	if err := c.dev.PageFlip(crtc.ID, st.FbID, flipFlags, uint64(crtc.ID)); err != nil {
		return fmt.Errorf("page flip on CRTC %d: %w", crtc.ID, err)
	}
	return nil
}
