//go:build linux

// Package sdnotify wraps the systemd readiness and watchdog protocol.
// Outside systemd (NOTIFY_SOCKET unset) every call is a cheap no-op.
package sdnotify

import (
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Ready reports READY=1 to the service manager. Returns false when the
// process is not running under systemd supervision.
func Ready() bool {
	ok, _ := daemon.SdNotify(false, daemon.SdNotifyReady)
	return ok
}

// Stopping reports STOPPING=1 so the unit shows as deactivating while the
// broker drains.
func Stopping() bool {
	ok, _ := daemon.SdNotify(false, daemon.SdNotifyStopping)
	return ok
}

// Ping feeds the watchdog.
func Ping() bool {
	ok, _ := daemon.SdNotify(false, daemon.SdNotifyWatchdog)
	return ok
}

// WatchdogInterval returns the cadence Ping should run at (half of the
// unit's WatchdogSec), or 0 when no watchdog is armed.
func WatchdogInterval() time.Duration {
	d, err := daemon.SdWatchdogEnabled(false)
	if err != nil || d <= 0 {
		return 0
	}
	return d / 2
}
