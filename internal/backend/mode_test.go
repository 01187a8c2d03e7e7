package backend

import (
	"testing"

	"github.com/bnema/waykms/internal/config"
	"github.com/bnema/waykms/internal/drm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectMode(t *testing.T) {
	modes := []drm.ModeInfo{
		testMode(1920, 1080, 60, true),
		testMode(1920, 1080, 144, false),
		testMode(1920, 1080, 50, false),
		testMode(2560, 1440, 60, false),
	}

	tests := []struct {
		name      string
		want      config.ModeSpec
		wantW     uint16
		wantHz    int
		wantExact bool
	}{
		{"preferred when unset", config.ModeSpec{}, 1920, 60, true},
		{"exact refresh", config.ModeSpec{Width: 1920, Height: 1080, Refresh: 144000}, 1920, 144, true},
		{"nearest refresh", config.ModeSpec{Width: 1920, Height: 1080, Refresh: 120000}, 1920, 144, true},
		{"size only picks preferred", config.ModeSpec{Width: 1920, Height: 1080}, 1920, 60, true},
		{"other size", config.ModeSpec{Width: 2560, Height: 1440}, 2560, 60, true},
		{"unknown size falls back", config.ModeSpec{Width: 800, Height: 600}, 1920, 60, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, exact := selectMode(modes, tt.want)
			require.NotNil(t, m)
			assert.Equal(t, tt.wantW, m.Hdisplay)
			assert.Equal(t, tt.wantHz*1000, m.RefreshMHz())
			assert.Equal(t, tt.wantExact, exact)
		})
	}
}

func TestSelectModeWithoutPreferred(t *testing.T) {
	modes := []drm.ModeInfo{testMode(1024, 768, 60, false), testMode(800, 600, 60, false)}
	m, _ := selectMode(modes, config.ModeSpec{})
	require.NotNil(t, m)
	assert.Equal(t, uint16(1024), m.Hdisplay)

	m, exact := selectMode(nil, config.ModeSpec{})
	assert.Nil(t, m)
	assert.False(t, exact)
}

func TestSameMode(t *testing.T) {
	a := testMode(1920, 1080, 60, true)
	b := a
	c := testMode(1920, 1080, 144, false)
	assert.True(t, sameMode(&a, &b))
	assert.False(t, sameMode(&a, &c))
	assert.False(t, sameMode(&a, nil))
	assert.True(t, sameMode(nil, nil))
}
