package config

import (
	"context"

	"github.com/otiai10/copy"
	"github.com/rjeczalik/notify"
)

// lastGoodSuffix names the sibling file Watch keeps in sync with the most
// recently successfully parsed config, so an operator who breaks the live
// file can diff against what was actually last loaded.
const lastGoodSuffix = ".last-good"

// Watch reloads the config file whenever it changes on disk and invokes
// onReload with the freshly parsed Config. A bad edit (parse/validation
// failure) is logged and ignored, keeping the last-good Config in effect —
// config hot-reload must never crash a running driver over a typo.
func Watch(ctx context.Context, path string, onReload func(*Config)) error {
	events := make(chan notify.EventInfo, 4)
	if err := notify.Watch(path, events, notify.Write); err != nil {
		return err
	}
	go func() {
		defer notify.Stop(events)
		for {
			select {
			case <-ctx.Done():
				return
			case <-events:
				cfg, err := Load(path)
				if err != nil {
					logger.Warn("config reload failed, keeping previous config", "path", path, "err", err)
					continue
				}
				if err := copy.Copy(path, path+lastGoodSuffix); err != nil {
					logger.Warn("failed to snapshot last-good config", "path", path, "err", err)
				}
				logger.Info("config reloaded", "path", path)
				onReload(cfg)
			}
		}
	}()
	return nil
}
