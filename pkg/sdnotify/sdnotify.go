// Package sdnotify integrates with the systemd service manager: readiness
// and stopping notifications plus watchdog keepalives. Every call is a no-op
// when the process does not run under a systemd unit.
package sdnotify

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "tickd/pkg/logx"
)

// Ready tells systemd the service finished starting up (Type=notify).
func Ready(log logx.Logger) {
	notify(log, daemon.SdNotifyReady)
}

// Stopping tells systemd shutdown has begun.
func Stopping(log logx.Logger) {
	notify(log, daemon.SdNotifyStopping)
}

func notify(log logx.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		if !log.IsZero() {
			log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		}
		return
	}
	if !sent && !log.IsZero() {
		log.Debug("sd_notify skipped (no systemd socket)", logx.String("state", state))
	}
}

// Watchdog pings the systemd watchdog at half the configured interval until
// ctx is done. It returns nil immediately when no watchdog is configured, so
// it is safe to start unconditionally.
func Watchdog(ctx context.Context, log logx.Logger) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		if !log.IsZero() {
			log.Warn("systemd watchdog detection failed", logx.Err(err))
		}
		return nil
	}
	if interval <= 0 {
		return nil
	}

	if !log.IsZero() {
		log.Info("systemd watchdog enabled", logx.Duration("interval", interval))
	}
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil && !log.IsZero() {
				log.Warn("watchdog ping failed", logx.Err(err))
			}
		}
	}
}
