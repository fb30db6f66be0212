// Package notify delivers desktop notifications for session events over
// the org.freedesktop.Notifications D-Bus interface.
package notify

import (
	"github.com/godbus/dbus/v5"

	"github.com/yllada/vpn-broker/common"
)

const (
	notifyDest   = "org.freedesktop.Notifications"
	notifyPath   = "/org/freedesktop/Notifications"
	notifyMethod = "org.freedesktop.Notifications.Notify"
)

// Kind classifies a notification for icon and urgency selection.
type Kind int

const (
	KindInfo Kind = iota
	KindSuccess
	KindWarning
	KindError
)

func (k Kind) icon() string {
	switch k {
	case KindSuccess:
		return "network-vpn"
	case KindWarning:
		return "dialog-warning"
	case KindError:
		return "dialog-error"
	default:
		return "network-vpn"
	}
}

// D-Bus urgency hint: 0 low, 1 normal, 2 critical.
func (k Kind) urgency() byte {
	switch k {
	case KindError:
		return 2
	case KindWarning:
		return 1
	default:
		return 0
	}
}

// Notifier sends notifications over the session bus. A nil or
// unconnected Notifier silently drops everything, so headless
// environments work without special-casing callers.
type Notifier struct {
	conn *dbus.Conn
}

var _ common.Notifier = (*Notifier)(nil)

// New connects to the session bus. The error is informational: the
// returned Notifier is always usable, it just no-ops when the bus is
// unreachable.
func New() (*Notifier, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return &Notifier{}, common.WrapError(err, "session bus unavailable")
	}
	return &Notifier{conn: conn}, nil
}

// Close releases the bus connection.
func (n *Notifier) Close() error {
	if n == nil || n.conn == nil {
		return nil
	}
	return n.conn.Close()
}

func (n *Notifier) send(kind Kind, title, message string) {
	if n == nil || n.conn == nil {
		return
	}
	hints := map[string]dbus.Variant{
		"urgency": dbus.MakeVariant(kind.urgency()),
	}
	obj := n.conn.Object(notifyDest, notifyPath)
	call := obj.Call(notifyMethod, 0,
		common.AppName, // app name
		uint32(0),      // no notification to replace
		kind.icon(),
		title,
		message,
		[]string{}, // no actions
		hints,
		int32(-1), // server-default expiry
	)
	if call.Err != nil {
		common.LogDebug("notification drop: %v", call.Err)
	}
}

// Notify sends an informational notification.
func (n *Notifier) Notify(title, message string) {
	n.send(KindInfo, title, message)
}

// NotifyUrgent sends a critical-urgency notification.
func (n *Notifier) NotifyUrgent(title, message string) {
	n.send(KindError, title, message)
}

// Connected announces an established tunnel.
func (n *Notifier) Connected(profileName string) {
	n.send(KindSuccess, "VPN Connected", "Connected to "+profileName)
}

// Disconnected announces a closed tunnel.
func (n *Notifier) Disconnected(profileName string) {
	n.send(KindInfo, "VPN Disconnected", "Disconnected from "+profileName)
}

// Failed announces a session error.
func (n *Notifier) Failed(profileName, errorMsg string) {
	n.send(KindError, "Connection Error", profileName+": "+errorMsg)
}
