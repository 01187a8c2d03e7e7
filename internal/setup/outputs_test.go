package setup

import (
	"testing"

	"github.com/bnema/waykms/internal/backend"
	"github.com/bnema/waykms/internal/config"
	"github.com/bnema/waykms/internal/drm"
	"github.com/charmbracelet/huh"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mode(w, h uint16, preferred bool) drm.ModeInfo {
	m := drm.ModeInfo{Hdisplay: w, Vdisplay: h, Htotal: 2000, Vtotal: 2000, Clock: 240000}
	if preferred {
		m.Type = drm.ModeTypePreferred
	}
	return m
}

func TestModeSpecRoundTrips(t *testing.T) {
	m := mode(1920, 1080, true)
	spec := ModeSpec(&m)
	assert.Equal(t, "1920x1080@60.000", spec)

	parsed, err := config.ParseMode(spec)
	require.NoError(t, err)
	assert.Equal(t, 60000, parsed.Refresh)
}

func TestModeOptions(t *testing.T) {
	conn := backend.ConnectorInfo{Name: "HDMI-A-1", Modes: []drm.ModeInfo{
		mode(1920, 1080, true),
		mode(1920, 1080, false),
		mode(1280, 720, false),
	}}
	opts := ModeOptions(conn)
	require.Len(t, opts, 3, "duplicates collapse")
	assert.Equal(t, preferredMode, opts[0].Value)
	assert.Equal(t, "1920x1080@60.000 (preferred)", opts[1].Key)
	assert.Equal(t, "1280x720@60.000", opts[2].Value)
}

func TestMergeOutputs(t *testing.T) {
	off := false
	existing := []config.OutputConfig{
		{Name: "*", Mode: "1280x720"},
		{Name: "DP-1", Enabled: &off},
		{Name: "HDMI-A-1", Mode: "1920x1080"},
	}
	got := MergeOutputs(existing, []OutputChoice{
		{Name: "HDMI-A-1", Enabled: true, Mode: preferredMode},
		{Name: "eDP-1", Enabled: false, Mode: "2560x1600@60.000"},
	})

	require.Len(t, got, 4)
	assert.Equal(t, "*", got[0].Name)
	assert.Equal(t, "DP-1", got[1].Name)
	assert.Equal(t, config.OutputConfig{Name: "HDMI-A-1"}, got[2])
	assert.Equal(t, "eDP-1", got[3].Name)
	assert.False(t, got[3].IsEnabled())
	assert.Equal(t, "2560x1600@60.000", got[3].Mode)
}

func TestOutputSetupRun(t *testing.T) {
	cfg := config.DefaultConfig
	cfg.Outputs = []config.OutputConfig{{Name: "HDMI-A-1", Mode: "1280x720"}}
	config.Set(&cfg)
	t.Cleanup(func() { config.Set(nil) })

	cards := []*backend.CardInfo{{
		Path: "/dev/dri/card0",
		Connectors: []backend.ConnectorInfo{
			{Name: "HDMI-A-1", Connected: true, Modes: []drm.ModeInfo{mode(1920, 1080, true)}},
			{Name: "DP-1"},
			{Name: "Virtual-1", Connected: true, NonDesktop: true},
		},
	}}

	var saved []config.OutputConfig
	s := NewOutputSetup(cards)
	s.run = func(*huh.Form) error { return nil }
	s.save = func(o []config.OutputConfig) error { saved = o; return nil }

	require.NoError(t, s.Run())
	require.Len(t, saved, 1)
	assert.Equal(t, "HDMI-A-1", saved[0].Name)
	assert.Equal(t, "1280x720", saved[0].Mode, "untouched form keeps the configured mode")
	assert.True(t, saved[0].IsEnabled())
}

func TestMatchMode(t *testing.T) {
	slow := mode(1920, 1080, false)
	slow.Clock = 120000
	conn := backend.ConnectorInfo{Name: "HDMI-A-1", Modes: []drm.ModeInfo{slow, mode(1920, 1080, true), mode(1280, 1024, false)}}

	tests := []struct {
		name       string
		configured string
		want       string
	}{
		{"empty", "", preferredMode},
		{"preferred keyword", "preferred", preferredMode},
		{"resolution only picks preferred", "1920x1080", "1920x1080@60.000"},
		{"closest refresh", "1920x1080@31", "1920x1080@30.000"},
		{"exact option", "1280x1024@60.000", "1280x1024@60.000"},
		{"unknown resolution kept", "1280x720", "1280x720"},
		{"unparsable kept", "huge", "huge"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, matchMode(conn, tt.configured))
		})
	}
}

func TestOutputSetupRunNormalisesMode(t *testing.T) {
	cfg := config.DefaultConfig
	cfg.Outputs = []config.OutputConfig{{Name: "HDMI-A-1", Mode: "1920x1080"}}
	config.Set(&cfg)
	t.Cleanup(func() { config.Set(nil) })

	cards := []*backend.CardInfo{{
		Path:       "/dev/dri/card0",
		Connectors: []backend.ConnectorInfo{{Name: "HDMI-A-1", Connected: true, Modes: []drm.ModeInfo{mode(1920, 1080, true)}}},
	}}

	var saved []config.OutputConfig
	s := NewOutputSetup(cards)
	s.run = func(*huh.Form) error { return nil }
	s.save = func(o []config.OutputConfig) error { saved = o; return nil }

	require.NoError(t, s.Run())
	require.Len(t, saved, 1)
	assert.Equal(t, "1920x1080@60.000", saved[0].Mode)
}

func TestOutputSetupNothingConnected(t *testing.T) {
	s := NewOutputSetup([]*backend.CardInfo{{Connectors: []backend.ConnectorInfo{{Name: "DP-1"}}}})
	s.run = func(*huh.Form) error { t.Fatal("form should not run"); return nil }
	assert.Error(t, s.Run())
}
