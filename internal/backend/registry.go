package backend

import (
	"github.com/bnema/waykms/internal/drm"
)

// checkResources re-enumerates CRTCs, planes and connectors. It returns false
// only when the device cannot be queried at all; the caller then tears the
// GPU down. Connectors that fail to query are skipped.
func (g *GPU) checkResources() bool {
	res, err := g.dev.Resources()
	if err != nil {
		g.log.Error("failed to query resources", "err", err)
		return false
	}

	if !g.scanCRTCs(res.Crtcs) {
		return false
	}
	if !g.scanPlanes() {
		return false
	}
	g.scanConnectors(res.Connectors)
	return true
}

func (g *GPU) scanCRTCs(ids []uint32) bool {
	crtcs := make([]*CRTC, 0, len(ids))
	for i, id := range ids {
		props, err := readProperties(g.dev, id, drm.ObjectCRTC, crtcPropNames)
		if err != nil {
			g.log.Error("failed to read CRTC properties", "crtc", id, "err", err)
			return false
		}
		c := &CRTC{ID: id, Index: i, Props: props}
		if old := g.crtcByID(id); old != nil {
			c.saved, c.savedConnector = old.saved, old.savedConnector
		}
		crtcs = append(crtcs, c)
	}
	g.crtcs = crtcs

	// displays hold CRTC pointers; rebind them to the fresh entries
	for _, d := range g.displays {
		if d.crtc != nil {
			d.crtc = g.crtcByID(d.crtc.ID)
		}
	}
	return true
}

func (g *GPU) scanPlanes() bool {
	ids, err := g.dev.PlaneResources()
	if err != nil {
		g.log.Error("failed to list planes", "err", err)
		return false
	}

	planes := make([]*Plane, 0, len(ids))
	for _, id := range ids {
		p, err := g.readPlane(id)
		if err != nil {
			g.log.Warn("skipping plane", "plane", id, "err", err)
			continue
		}
		planes = append(planes, p)
	}
	g.planes = planes

	for _, d := range g.displays {
		if d.plane != nil {
			d.plane = g.planeByID(d.plane.ID)
		}
	}
	return true
}

func (g *GPU) readPlane(id uint32) (*Plane, error) {
	kp, err := g.dev.Plane(id)
	if err != nil {
		return nil, err
	}
	props, err := readProperties(g.dev, id, drm.ObjectPlane, planePropNames)
	if err != nil {
		return nil, err
	}

	p := &Plane{
		ID:            id,
		Type:          drm.PlaneTypeOverlay,
		PossibleCrtcs: kp.PossibleCrtcs,
		Props:         props,
	}
	if v, ok := props.Value(propType); ok {
		p.Type = v
	}
	p.Formats = g.planeFormats(kp, props)
	return p, nil
}

// planeFormats reads the IN_FORMATS blob, falling back to one implicit
// modifier per entry of the plane's flat format list.
func (g *GPU) planeFormats(kp *drm.Plane, props PropertyTable) map[uint32][]uint64 {
	if blobID, ok := props.Value(propInFormats); ok && props.Has(propInFormats) && blobID != 0 {
		blob, err := g.dev.PropertyBlob(uint32(blobID))
		if err == nil {
			formats, err := drm.ParseFormatModifierBlob(blob)
			if err == nil {
				return formats
			}
			g.log.Debug("bad IN_FORMATS blob", "plane", kp.ID, "err", err)
		} else {
			g.log.Debug("failed to read IN_FORMATS blob", "plane", kp.ID, "err", err)
		}
	}

	formats := make(map[uint32][]uint64, len(kp.Formats))
	for _, f := range kp.Formats {
		formats[f] = []uint64{drm.ModInvalid}
	}
	return formats
}

func (g *GPU) scanConnectors(ids []uint32) {
	seen := make(map[uint32]bool, len(ids))
	for _, id := range ids {
		seen[id] = true
		conn, err := g.dev.Connector(id)
		if err != nil {
			// keep the last known state until a query succeeds
			g.log.Warn("failed to query connector", "connector", id, "err", err)
			continue
		}

		d := g.displays[id]
		if conn.Connection != drm.Connected {
			if d != nil && d.connected {
				d.log.Info("disconnected")
				d.connected = false
			}
			continue
		}

		if d == nil {
			d = newDisplay(g, conn)
			g.displays[id] = d
			d.log.Info("connected", "modes", len(conn.Modes))
		} else if !d.connected {
			d.log.Info("reconnected")
		}
		d.connected = true
		d.modes = conn.Modes
		d.possibleCrtcs = g.possibleCrtcs(conn)
		if props, err := readProperties(g.dev, id, drm.ObjectConnector, connectorPropNames); err == nil {
			d.props = props
		} else {
			g.log.Warn("failed to read connector properties", "connector", id, "err", err)
		}
	}

	// connectors that vanished entirely (MST unplug)
	for id, d := range g.displays {
		if !seen[id] && d.connected {
			d.log.Info("connector gone")
			d.connected = false
		}
	}
}

// possibleCrtcs is the union of the CRTC masks of the connector's encoders.
// The CRTC its current encoder drives is remembered as the preferred one.
func (g *GPU) possibleCrtcs(conn *drm.Connector) uint32 {
	var mask uint32
	for _, encID := range conn.Encoders {
		enc, err := g.dev.Encoder(encID)
		if err != nil {
			continue
		}
		mask |= enc.PossibleCrtcs
		if encID == conn.EncoderID && enc.CrtcID != 0 {
			if d := g.displays[conn.ID]; d != nil && d.bootCrtcID == 0 {
				d.bootCrtcID = enc.CrtcID
			}
		}
	}
	return mask
}
