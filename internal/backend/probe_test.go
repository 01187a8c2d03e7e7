package backend

import (
	"testing"

	"github.com/bnema/waykms/internal/drm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProbe(t *testing.T) {
	dev, conn := twoHeads()
	off := dev.addConnector(10, 2, false, 0b11)

	info, err := Probe(dev, testConfig())
	require.NoError(t, err)

	assert.Equal(t, "atomic", info.Commit)
	assert.True(t, info.Caps.Atomic)
	assert.Len(t, info.CRTCs, 2)
	require.Len(t, info.Planes, 3)
	assert.Equal(t, "primary", info.Planes[0].Type)
	assert.Equal(t, "cursor", info.Planes[2].Type)

	require.Len(t, info.Connectors, 2)
	assert.Equal(t, conn, info.Connectors[0].ID)
	assert.Equal(t, "HDMI-A-1", info.Connectors[0].Name)
	assert.True(t, info.Connectors[0].Connected)
	assert.Equal(t, uint16(1920), info.Connectors[0].Preferred().Hdisplay)

	assert.Equal(t, off, info.Connectors[1].ID)
	assert.Equal(t, "DP-2", info.Connectors[1].Name)
	assert.False(t, info.Connectors[1].Connected)
	assert.Nil(t, info.Connectors[1].Preferred())

	assert.Empty(t, dev.commits)
	assert.Empty(t, dev.setCrtcs)
}

func TestProbeLegacy(t *testing.T) {
	dev, _ := twoHeads()
	dev.rejectAtomic = true

	info, err := Probe(dev, nil)
	require.NoError(t, err)
	assert.Equal(t, "legacy", info.Commit)
	assert.False(t, info.Caps.Atomic)
}

func TestProbeScanFailure(t *testing.T) {
	dev := newFakeDevice("/dev/dri/card0")
	dev.resourcesErr = assert.AnError
	_, err := Probe(dev, nil)
	assert.Error(t, err)
}

func TestPlaneTypeName(t *testing.T) {
	assert.Equal(t, "overlay", planeTypeName(drm.PlaneTypeOverlay))
	assert.Equal(t, "unknown", planeTypeName(7))
}
