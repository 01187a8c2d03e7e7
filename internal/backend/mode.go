package backend

import (
	"github.com/bnema/waykms/internal/config"
	"github.com/bnema/waykms/internal/drm"
)

// selectMode picks the connector mode closest to want. Resolution must match
// exactly; among matching modes the nearest refresh wins, or the preferred
// one when no refresh was asked for. Without a match the preferred mode (or
// the first listed) is returned and exact is false.
func selectMode(modes []drm.ModeInfo, want config.ModeSpec) (mode *drm.ModeInfo, exact bool) {
	if len(modes) == 0 {
		return nil, false
	}

	if !want.IsZero() {
		var best *drm.ModeInfo
		bestDiff := -1
		for i := range modes {
			m := &modes[i]
			if int(m.Hdisplay) != want.Width || int(m.Vdisplay) != want.Height {
				continue
			}
			diff := 0
			if want.Refresh != 0 {
				diff = abs(m.RefreshMHz() - want.Refresh)
			} else if !m.Preferred() {
				diff = 1
			}
			if best == nil || diff < bestDiff || (diff == bestDiff && m.RefreshMHz() > best.RefreshMHz()) {
				best, bestDiff = m, diff
			}
		}
		if best != nil {
			return best, true
		}
	}

	return preferredMode(modes), want.IsZero()
}

func preferredMode(modes []drm.ModeInfo) *drm.ModeInfo {
	for i := range modes {
		if modes[i].Preferred() {
			return &modes[i]
		}
	}
	if len(modes) == 0 {
		return nil
	}
	return &modes[0]
}

func sameMode(a, b *drm.ModeInfo) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
