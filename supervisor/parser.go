package supervisor

import (
	"strconv"
	"strings"
)

// sessionPathPrefix is how openvpn3 names session objects.
const sessionPathPrefix = "/net/openvpn/v3/sessions/"

// ParseLine matches a single output line against the fixed set of
// recognized markers. Unrecognized lines become Diagnostic events;
// no line is ever dropped.
//
// The marker order matters: "Disconnected" contains "Connected", and
// auth failures must win over generic auth prompts.
func ParseLine(line string) Event {
	switch {
	case strings.Contains(line, "AUTH_FAILED") ||
		strings.Contains(line, "Authentication failed"):
		return Event{Kind: KindAuthFailed, Line: line}

	case isAuthPrompt(line):
		return Event{Kind: KindAuthRequested, Line: line}

	case strings.Contains(line, "Session path:"):
		return Event{Kind: KindSessionPath, Line: line, SessionPath: extractSessionPath(line)}

	case strings.Contains(line, "Disconnected") ||
		strings.Contains(line, "session closed") ||
		strings.Contains(line, "Session closed"):
		return Event{Kind: KindDisconnected, Line: line, Reason: strings.TrimSpace(line)}

	case strings.Contains(line, "Initialization Sequence Completed") ||
		strings.Contains(line, "Connection, Client connected") ||
		strings.HasPrefix(strings.TrimSpace(line), "Connected"):
		return Event{Kind: KindConnected, Line: line}

	case strings.Contains(line, "Connecting"):
		return Event{Kind: KindConnecting, Line: line}

	case strings.Contains(line, "BYTES_IN"):
		return Event{Kind: KindStats, Line: line, BytesIn: extractCounter(line)}

	case strings.Contains(line, "BYTES_OUT"):
		return Event{Kind: KindStats, Line: line, BytesOut: extractCounter(line)}

	default:
		return Event{Kind: KindDiagnostic, Line: line}
	}
}

// isAuthPrompt recognizes the openvpn3 credential prompts and the
// server-driven challenge markers.
func isAuthPrompt(line string) bool {
	for _, marker := range []string{
		"Auth User name",
		"Auth Password",
		"Enter Auth",
		"AUTH:CRV1",
		"CHALLENGE",
		"authentication required",
	} {
		if strings.Contains(line, marker) {
			return true
		}
	}
	return false
}

// extractSessionPath pulls the D-Bus object path out of a
// "Session path: /net/openvpn/v3/sessions/..." line.
func extractSessionPath(line string) string {
	for _, field := range strings.Fields(line) {
		if strings.HasPrefix(field, sessionPathPrefix) {
			return field
		}
	}
	return ""
}

// extractCounter parses statistics lines of the form
// "     BYTES_IN....................14305".
func extractCounter(line string) uint64 {
	trimmed := strings.TrimSpace(line)
	// The value is the trailing run of digits.
	end := len(trimmed)
	start := end
	for start > 0 && trimmed[start-1] >= '0' && trimmed[start-1] <= '9' {
		start--
	}
	if start == end {
		return 0
	}
	n, err := strconv.ParseUint(trimmed[start:end], 10, 64)
	if err != nil {
		return 0
	}
	return n
}
