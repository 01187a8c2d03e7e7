package backend

import (
	"fmt"
	"sort"

	"github.com/bnema/waykms/internal/config"
	"github.com/bnema/waykms/internal/drm"
)

// CardInfo describes a card as the registry sees it, without lighting any
// output.
type CardInfo struct {
	Path       string
	Commit     string
	Caps       Capabilities
	CRTCs      []uint32
	Planes     []PlaneInfo
	Connectors []ConnectorInfo
}

// PlaneInfo summarises one plane.
type PlaneInfo struct {
	ID            uint32
	Type          string
	PossibleCrtcs uint32
	Formats       int
	Modifiers     int
}

// ConnectorInfo summarises one connector, connected or not.
type ConnectorInfo struct {
	ID         uint32
	Name       string
	Connected  bool
	NonDesktop bool
	Modes      []drm.ModeInfo
}

// Preferred returns the preferred mode, or the first one.
func (c ConnectorInfo) Preferred() *drm.ModeInfo {
	return preferredMode(c.Modes)
}

func planeTypeName(t uint64) string {
	switch t {
	case drm.PlaneTypePrimary:
		return "primary"
	case drm.PlaneTypeCursor:
		return "cursor"
	case drm.PlaneTypeOverlay:
		return "overlay"
	}
	return "unknown"
}

// Probe runs capability detection and a resource scan on dev. It needs no
// DRM master and submits no commit.
func Probe(dev Device, cfg *config.Config) (*CardInfo, error) {
	if cfg == nil {
		cfg = &config.DefaultConfig
	}
	g, err := newGPU(dev, cfg)
	if err != nil {
		return nil, err
	}
	g.active = false
	if !g.checkResources() {
		return nil, fmt.Errorf("%s: resource scan failed", dev.Path())
	}

	info := &CardInfo{
		Path:   dev.Path(),
		Commit: g.committer.name(),
		Caps:   g.caps,
	}
	for _, c := range g.crtcs {
		info.CRTCs = append(info.CRTCs, c.ID)
	}
	for _, p := range g.planes {
		pi := PlaneInfo{
			ID:            p.ID,
			Type:          planeTypeName(p.Type),
			PossibleCrtcs: p.PossibleCrtcs,
			Formats:       len(p.Formats),
		}
		for _, mods := range p.Formats {
			pi.Modifiers += len(mods)
		}
		info.Planes = append(info.Planes, pi)
	}

	res, err := dev.Resources()
	if err != nil {
		return nil, err
	}
	for _, id := range res.Connectors {
		conn, err := dev.Connector(id)
		if err != nil {
			g.log.Warn("failed to query connector", "connector", id, "err", err)
			continue
		}
		ci := ConnectorInfo{
			ID:        id,
			Name:      conn.Name(),
			Connected: conn.Connection == drm.Connected,
			Modes:     conn.Modes,
		}
		if d := g.displays[id]; d != nil {
			v, _ := d.props.Value(propNonDesktop)
			ci.NonDesktop = v != 0
		}
		info.Connectors = append(info.Connectors, ci)
	}
	sort.Slice(info.Connectors, func(i, j int) bool { return info.Connectors[i].ID < info.Connectors[j].ID })
	return info, nil
}
