package common

import "time"

// Application metadata.
const (
	// AppID is the unique identifier for the application.
	AppID = "com.vpnbroker.app"
	// AppName is the display name of the application.
	AppName = "VPN Broker"
	// ConfigDirName is the name of the configuration directory.
	ConfigDirName = "vpn-broker"
)

// File names used by the application.
const (
	ProfilesFileName    = "profiles.yaml"
	ConfigFileName      = "config.yaml"
	CredentialsFileName = "credentials.enc"
	HistoryFileName     = "history.db"
	LogFileName         = "vpn-broker.log"
)

// Default timeouts and intervals.
const (
	// ConnectionTimeout is the maximum time to wait for a connection.
	ConnectionTimeout = 30 * time.Second
	// StopGracePeriod is how long to wait for graceful termination
	// before killing the VPN client process.
	StopGracePeriod = 5 * time.Second
	// BackendTimeout bounds calls into the secret backend.
	BackendTimeout = 5 * time.Second
	// MonitorInterval is how often to check connection health.
	MonitorInterval = 30 * time.Second
	// ReconnectDelay is the delay before attempting to reconnect.
	ReconnectDelay = 5 * time.Second
)

// Default retry bounds.
const (
	// AuthRetryLimit is how many credential retries are allowed
	// before a session resolves to the error state.
	AuthRetryLimit = 3
	// MaxReconnectAttempts bounds automatic reconnection.
	MaxReconnectAttempts = 5
	// DefaultHistoryKeep is how many finished sessions the history
	// database retains by default.
	DefaultHistoryKeep = 200
)

// VPNClientBinary is the external client this broker supervises.
const VPNClientBinary = "openvpn3"
