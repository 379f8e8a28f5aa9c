package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "slotwatch/pkg/logx"
)

// sdNotifier reports lifecycle state to the service manager. Every call is a
// no-op when disabled or when NOTIFY_SOCKET is unset.
type sdNotifier struct {
	enabled bool
	log     logx.Logger
	// notify is daemon.SdNotify; swapped in tests.
	notify func(unsetEnvironment bool, state string) (bool, error)
}

func newSDNotifier(enabled bool, log logx.Logger) *sdNotifier {
	return &sdNotifier{enabled: enabled, log: log, notify: daemon.SdNotify}
}

func (n *sdNotifier) send(state string) {
	if !n.enabled {
		return
	}
	sent, err := n.notify(false, state)
	if err != nil {
		n.log.Warn("systemd notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if !sent {
		n.log.Debug("systemd notify skipped (no NOTIFY_SOCKET)", logx.String("state", state))
	}
}

func (n *sdNotifier) Ready()    { n.send(daemon.SdNotifyReady) }
func (n *sdNotifier) Stopping() { n.send(daemon.SdNotifyStopping) }

// watchdogInterval returns half the unit's WatchdogSec, or 0 when the
// watchdog is off.
func (n *sdNotifier) watchdogInterval() time.Duration {
	if !n.enabled {
		return 0
	}
	d, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		n.log.Warn("systemd watchdog check failed", logx.Err(err))
		return 0
	}
	return d / 2
}

// Watchdog pings the service manager every interval until ctx ends.
func (n *sdNotifier) Watchdog(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	n.log.Info("systemd watchdog enabled", logx.Duration("interval", interval))
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n.send(daemon.SdNotifyWatchdog)
		}
	}
}
