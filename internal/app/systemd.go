package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "github.com/schuttebj/ampro-platform-sub001/pkg/logx"
)

// sdNotifier reports lifecycle state to systemd. Outside a Type=notify unit
// every call is a no-op.
type sdNotifier struct {
	enabled bool
	log     logx.Logger
	// send is daemon.SdNotify, swapped in tests.
	send func(unsetEnv bool, state string) (bool, error)
}

func newSDNotifier(enabled bool, log logx.Logger) *sdNotifier {
	return &sdNotifier{enabled: enabled, log: log, send: daemon.SdNotify}
}

func (n *sdNotifier) notify(state string) {
	if n == nil || !n.enabled {
		return
	}
	sent, err := n.send(false, state)
	switch {
	case err != nil:
		n.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
	case !sent:
		n.log.Debug("sd_notify skipped (NOTIFY_SOCKET unset)", logx.String("state", state))
	}
}

func (n *sdNotifier) Ready()    { n.notify(daemon.SdNotifyReady) }
func (n *sdNotifier) Stopping() { n.notify(daemon.SdNotifyStopping) }

func (n *sdNotifier) Status(msg string) { n.notify("STATUS=" + msg) }

// watchdogInterval returns half of WatchdogSec, or 0 when the unit has no
// watchdog configured.
func watchdogInterval() time.Duration {
	d, err := daemon.SdWatchdogEnabled(false)
	if err != nil || d <= 0 {
		return 0
	}
	return d / 2
}

// runWatchdog pings systemd until ctx ends. healthy gates each ping so a
// wedged engine lets the watchdog fire.
func (n *sdNotifier) runWatchdog(ctx context.Context, every time.Duration, healthy func() bool) {
	if n == nil || !n.enabled || every <= 0 {
		return
	}
	n.log.Info("systemd watchdog enabled", logx.Duration("interval", every))
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if healthy != nil && !healthy() {
				n.log.Warn("skipping watchdog ping: engine unhealthy")
				continue
			}
			n.notify(daemon.SdNotifyWatchdog)
		}
	}
}
