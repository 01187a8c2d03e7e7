package ui

import (
	"testing"

	"github.com/bnema/waykms/internal/backend"
	"github.com/bnema/waykms/internal/drm"
	"github.com/stretchr/testify/assert"
)

func sampleCard() *backend.CardInfo {
	mode := drm.ModeInfo{Hdisplay: 1920, Vdisplay: 1080, Clock: 148500, Htotal: 2200, Vtotal: 1125, Type: drm.ModeTypePreferred}
	return &backend.CardInfo{
		Path:   "/dev/dri/card0",
		Commit: "atomic",
		Caps:   backend.Capabilities{Atomic: true, Modifiers: true, DumbBuffer: true},
		CRTCs:  []uint32{41, 42},
		Planes: []backend.PlaneInfo{
			{ID: 31, Type: "primary", PossibleCrtcs: 0b01, Formats: 8, Modifiers: 20},
			{ID: 33, Type: "cursor", PossibleCrtcs: 0b11, Formats: 1, Modifiers: 1},
		},
		Connectors: []backend.ConnectorInfo{
			{ID: 77, Name: "HDMI-A-1", Connected: true, Modes: []drm.ModeInfo{mode}},
			{ID: 78, Name: "DP-1"},
		},
	}
}

func TestConnectorTable(t *testing.T) {
	out := ConnectorTable(sampleCard(), false)
	assert.Contains(t, out, "HDMI-A-1")
	assert.Contains(t, out, "DP-1")
	assert.Contains(t, out, "1920x1080")
	assert.Contains(t, out, "disconnected")
}

func TestPlaneTable(t *testing.T) {
	out := PlaneTable(sampleCard())
	assert.Contains(t, out, "primary")
	assert.Contains(t, out, "cursor")
	assert.Contains(t, out, "0,1")
}

func TestCapabilitiesLine(t *testing.T) {
	out := CapabilitiesLine(sampleCard())
	assert.Contains(t, out, "commit atomic")
	assert.Contains(t, out, "modifiers")
}

func TestOutputTable(t *testing.T) {
	out := OutputTable([]backend.OutputInfo{
		{GPU: "card0", Name: "HDMI-A-1", State: backend.StateActive, Mode: "1920x1080@60.000", CrtcID: 41, PlaneID: 31, Commits: 3, Flips: 2},
		{GPU: "card0", Name: "DP-1", State: backend.StateDetached},
	})
	assert.Contains(t, out, "active")
	assert.Contains(t, out, "41/31")
	assert.Contains(t, out, "3/2/0")
	assert.Contains(t, out, "detached")
}
