package supervisor

import (
	"testing"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		name string
		line string
		want EventKind
	}{
		{"init complete", "Wed Jan 10 10:00:00 2024 Initialization Sequence Completed", KindConnected},
		{"client connected", ">> Connection, Client connected", KindConnected},
		{"connected status", "Connected", KindConnected},
		{"connecting", "Connecting to [vpn.example.com]:1194", KindConnecting},
		{"auth failed", "AUTH: Received control message: AUTH_FAILED", KindAuthFailed},
		{"auth failed text", "Authentication failed, server rejected credentials", KindAuthFailed},
		{"auth user prompt", "Auth User name:", KindAuthRequested},
		{"auth password prompt", "Auth Password:", KindAuthRequested},
		{"enter auth", "Enter Auth credentials", KindAuthRequested},
		{"crv1 challenge", "AUTH:CRV1:R,E:base64:base64:Enter OTP", KindAuthRequested},
		{"challenge", "CHALLENGE: please respond", KindAuthRequested},
		{"session path", "Session path: /net/openvpn/v3/sessions/5a1b", KindSessionPath},
		{"disconnected", "Disconnected by server", KindDisconnected},
		{"session closed", "Session closed", KindDisconnected},
		{"bytes in", "     BYTES_IN....................14305", KindStats},
		{"bytes out", "     BYTES_OUT...................9911", KindStats},
		{"unknown line", "some random log output nobody recognizes", KindDiagnostic},
		{"empty line", "", KindDiagnostic},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseLine(tt.line)
			if got.Kind != tt.want {
				t.Errorf("ParseLine(%q).Kind = %v, want %v", tt.line, got.Kind, tt.want)
			}
			if got.Line != tt.line {
				t.Errorf("ParseLine(%q).Line = %q, want verbatim input", tt.line, got.Line)
			}
		})
	}
}

func TestParseLine_SessionPath(t *testing.T) {
	ev := ParseLine("Session path: /net/openvpn/v3/sessions/5a1b2c3d")
	if ev.SessionPath != "/net/openvpn/v3/sessions/5a1b2c3d" {
		t.Errorf("SessionPath = %q", ev.SessionPath)
	}
}

func TestParseLine_StatsCounters(t *testing.T) {
	in := ParseLine("     BYTES_IN....................14305")
	if in.BytesIn != 14305 {
		t.Errorf("BytesIn = %d, want 14305", in.BytesIn)
	}

	out := ParseLine("     BYTES_OUT...................9911")
	if out.BytesOut != 9911 {
		t.Errorf("BytesOut = %d, want 9911", out.BytesOut)
	}

	malformed := ParseLine("     BYTES_IN....................")
	if malformed.BytesIn != 0 {
		t.Errorf("BytesIn for malformed line = %d, want 0", malformed.BytesIn)
	}
}

func TestEventKind_String(t *testing.T) {
	tests := []struct {
		kind     EventKind
		expected string
	}{
		{KindDiagnostic, "Diagnostic"},
		{KindConnecting, "Connecting"},
		{KindAuthRequested, "AuthRequested"},
		{KindAuthFailed, "AuthFailed"},
		{KindSessionPath, "SessionPath"},
		{KindConnected, "Connected"},
		{KindStats, "Stats"},
		{KindDisconnected, "Disconnected"},
		{KindExited, "Exited"},
		{EventKind(99), "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.kind.String(); got != tt.expected {
				t.Errorf("EventKind.String() = %v, want %v", got, tt.expected)
			}
		})
	}
}
