package fs

import (
	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/godbus/dbus/v5"
)

// DesktopNotifier emits best-effort desktop/service-manager signals around
// mount lifecycle events (SPEC_FULL §1.5). Every method swallows its own
// failure: a missing session bus or a non-systemd init system must never
// fail a mount, so no method returns an error or a status.
type DesktopNotifier struct {
	conn *dbus.Conn
}

// NewDesktopNotifier dials the session bus if one is reachable; when none
// is available it returns a notifier with a nil conn, which every method
// below treats as a silent no-op.
func NewDesktopNotifier() *DesktopNotifier {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return &DesktopNotifier{}
	}
	return &DesktopNotifier{conn: conn}
}

// NotifyInvalidationBatch emits org.edenfs.Mount1.InvalidationBatch so a
// desktop shell can refresh any cached listing of the mount without
// polling (SPEC_FULL §1.5).
func (n *DesktopNotifier) NotifyInvalidationBatch(mountPath string, count int) {
	if n.conn == nil {
		return
	}
	_ = n.conn.Emit(dbus.ObjectPath("/org/edenfs/Mount1"), "org.edenfs.Mount1.InvalidationBatch", mountPath, count)
}

// Close releases the session bus connection, if one was opened.
func (n *DesktopNotifier) Close() error {
	if n.conn == nil {
		return nil
	}
	return n.conn.Close()
}

// NotifyReady tells systemd (if NOTIFY_SOCKET is set) that the mount has
// finished initializing and is serving requests. It is always safe to call
// under a non-systemd init: go-systemd reports unsent and we ignore it.
func NotifyReady() {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
}

// NotifyStopping tells systemd the mount is unwinding, letting a unit with
// TimeoutStopSec configured distinguish a graceful shutdown in progress
// from a hang.
func NotifyStopping() {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
}

// NotifyWatchdog pings the systemd watchdog if WATCHDOG_USEC was set for
// this unit; callers running a periodic health-check loop call this once
// per tick.
func NotifyWatchdog() {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
}
