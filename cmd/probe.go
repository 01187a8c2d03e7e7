package cmd

import (
	"errors"
	"fmt"

	"github.com/bnema/waykms/internal/backend"
	"github.com/bnema/waykms/internal/config"
	"github.com/bnema/waykms/internal/drm"
	"github.com/bnema/waykms/internal/logger"
	"github.com/bnema/waykms/internal/udev"
	"go.uber.org/multierr"
)

// probedCard is one card opened directly for inspection.
type probedCard struct {
	info    *backend.CardInfo
	driver  drm.Version
	bootVGA bool
}

// cardPaths returns the configured cards, or the enumerated ones.
func cardPaths(cfg *config.Config) ([]udev.Device, error) {
	if len(cfg.DRM.Devices) > 0 {
		devices := make([]udev.Device, 0, len(cfg.DRM.Devices))
		for _, p := range cfg.DRM.Devices {
			devices = append(devices, udev.Device{DevNode: p})
		}
		return devices, nil
	}
	return udev.Enumerate("")
}

// probeCards opens every card without a session and reads its resources.
// Cards that cannot be opened are reported in the returned error; the rest
// are still returned.
func probeCards(cfg *config.Config) ([]probedCard, error) {
	devices, err := cardPaths(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate DRM devices: %w", err)
	}
	if len(devices) == 0 {
		return nil, errors.New("no DRM devices found")
	}

	var cards []probedCard
	var errs error
	for _, dev := range devices {
		card, err := probeCard(cfg, dev)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		cards = append(cards, card)
	}
	return cards, errs
}

func probeCard(cfg *config.Config, dev udev.Device) (probedCard, error) {
	card, err := drm.Open(dev.DevNode)
	if err != nil {
		return probedCard{}, err
	}
	defer func() {
		if err := card.Close(); err != nil {
			logger.Debug("failed to close card", "path", dev.DevNode, "err", err)
		}
	}()

	out := probedCard{bootVGA: dev.BootVGA}
	if out.driver, err = card.Version(); err != nil {
		logger.Debug("failed to read driver version", "path", dev.DevNode, "err", err)
	}
	if out.info, err = backend.Probe(card, cfg); err != nil {
		return probedCard{}, fmt.Errorf("%s: %w", dev.DevNode, err)
	}
	return out, nil
}

func cardInfos(cards []probedCard) []*backend.CardInfo {
	infos := make([]*backend.CardInfo, 0, len(cards))
	for _, c := range cards {
		infos = append(infos, c.info)
	}
	return infos
}
