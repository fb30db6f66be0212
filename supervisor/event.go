// Package supervisor owns the lifecycle of the external VPN client
// subprocess and translates its unstructured line output into typed events.
// At most one process is supervised at a time.
package supervisor

// EventKind identifies the type of a parsed process event.
type EventKind int

const (
	// KindDiagnostic is the catch-all for unrecognized output lines.
	// The line is preserved verbatim so nothing is lost silently.
	KindDiagnostic EventKind = iota
	// KindConnecting indicates the client started negotiating.
	KindConnecting
	// KindAuthRequested indicates the client is asking for credentials.
	KindAuthRequested
	// KindAuthFailed indicates the server rejected the credentials.
	KindAuthFailed
	// KindSessionPath carries the D-Bus session path of the new session.
	KindSessionPath
	// KindConnected indicates the tunnel is established.
	KindConnected
	// KindStats carries a byte-counter statistics line.
	KindStats
	// KindDisconnected indicates the session ended.
	KindDisconnected
	// KindExited is the final event: the supervised process exited.
	KindExited
)

// String returns a human-readable event kind.
func (k EventKind) String() string {
	switch k {
	case KindDiagnostic:
		return "Diagnostic"
	case KindConnecting:
		return "Connecting"
	case KindAuthRequested:
		return "AuthRequested"
	case KindAuthFailed:
		return "AuthFailed"
	case KindSessionPath:
		return "SessionPath"
	case KindConnected:
		return "Connected"
	case KindStats:
		return "Stats"
	case KindDisconnected:
		return "Disconnected"
	case KindExited:
		return "Exited"
	default:
		return "Unknown"
	}
}

// Event is a single parsed process event.
type Event struct {
	Kind EventKind
	// Line is the verbatim output line the event was parsed from.
	// Empty for KindExited.
	Line string
	// SessionPath is set for KindSessionPath.
	SessionPath string
	// Reason is set for KindDisconnected.
	Reason string
	// BytesIn and BytesOut are set for KindStats.
	BytesIn  uint64
	BytesOut uint64
	// ExitCode is set for KindExited.
	ExitCode int
}
