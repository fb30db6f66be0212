package broker

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/yllada/vpn-broker/common"
	"github.com/yllada/vpn-broker/session"
)

// MonitorConfig controls connectivity probing of an established tunnel.
type MonitorConfig struct {
	// Interval is how often to probe while a session is connected.
	Interval time.Duration
	// FailureThreshold is how many consecutive probe failures count as
	// a degraded tunnel.
	FailureThreshold int
	// AutoReconnect restarts the session once the tunnel degrades.
	AutoReconnect bool
	// ReconnectDelay is the pause before each reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectAttempts bounds automatic reconnection.
	MaxReconnectAttempts int
	// ProbeHosts are dialed in order until one answers.
	ProbeHosts []string
	// ProbeTimeout bounds a single dial.
	ProbeTimeout time.Duration
}

// DefaultMonitorConfig returns probing defaults. The probe hosts are
// well-known public DNS endpoints reachable through any usable tunnel.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Interval:             common.MonitorInterval,
		FailureThreshold:     3,
		AutoReconnect:        true,
		ReconnectDelay:       common.ReconnectDelay,
		MaxReconnectAttempts: common.MaxReconnectAttempts,
		ProbeHosts: []string{
			"8.8.8.8:53",
			"1.1.1.1:53",
		},
		ProbeTimeout: 5 * time.Second,
	}
}

// Monitor periodically probes connectivity while a session is connected
// and optionally reconnects a degraded tunnel.
type Monitor struct {
	broker *Broker
	cfg    MonitorConfig

	// dial is swapped out by tests.
	dial func(network, addr string, timeout time.Duration) (net.Conn, error)

	mu         sync.Mutex
	running    bool
	stopCh     chan struct{}
	fails      int
	reconnects int
	lastProbe  time.Time
	latency    time.Duration
}

// NewMonitor builds a monitor over a broker.
func NewMonitor(b *Broker, cfg MonitorConfig) *Monitor {
	return &Monitor{
		broker: b,
		cfg:    cfg,
		dial:   net.DialTimeout,
	}
}

// Start launches the probe loop. Starting a running monitor is a no-op.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	go m.run(m.stopCh)
}

// Stop halts the probe loop.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	m.running = false
	close(m.stopCh)
}

// IsRunning reports whether the probe loop is active.
func (m *Monitor) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Latency returns the last successful probe round-trip.
func (m *Monitor) Latency() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latency
}

func (m *Monitor) run(stop chan struct{}) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.check(stop)
		}
	}
}

// check probes the tunnel once. Only connected sessions are probed;
// anything else resets the failure counters.
func (m *Monitor) check(stop chan struct{}) {
	snap := m.broker.Status()
	if snap.State != session.Connected {
		m.mu.Lock()
		m.fails = 0
		m.mu.Unlock()
		return
	}

	latency, err := m.probe()

	m.mu.Lock()
	m.lastProbe = time.Now()
	if err == nil {
		m.fails = 0
		m.reconnects = 0
		m.latency = latency
		m.mu.Unlock()
		return
	}
	m.fails++
	fails := m.fails
	m.latency = 0
	m.mu.Unlock()

	common.LogWarn("Connectivity probe failed for %s (%d/%d): %v",
		snap.ProfileName, fails, m.cfg.FailureThreshold, err)

	if fails >= m.cfg.FailureThreshold && m.cfg.AutoReconnect {
		m.reconnect(snap, stop)
	}
}

// probe dials each host until one answers.
func (m *Monitor) probe() (time.Duration, error) {
	var lastErr error = common.ErrTimeout
	for _, host := range m.cfg.ProbeHosts {
		start := time.Now()
		conn, err := m.dial("tcp", host, m.cfg.ProbeTimeout)
		if err == nil {
			conn.Close()
			return time.Since(start), nil
		}
		lastErr = err
	}
	return 0, lastErr
}

func (m *Monitor) reconnect(snap session.Session, stop chan struct{}) {
	m.mu.Lock()
	if m.cfg.MaxReconnectAttempts > 0 && m.reconnects >= m.cfg.MaxReconnectAttempts {
		m.mu.Unlock()
		common.LogError("Giving up on reconnecting %s after %d attempts",
			snap.ProfileName, m.cfg.MaxReconnectAttempts)
		return
	}
	m.reconnects++
	attempt := m.reconnects
	m.fails = 0
	m.mu.Unlock()

	common.LogInfo("Reconnecting %s (attempt %d)", snap.ProfileName, attempt)

	ctx, cancel := context.WithTimeout(context.Background(), common.ConnectionTimeout)
	defer cancel()

	if err := m.broker.Disconnect(ctx); err != nil {
		common.LogWarn("Disconnect before reconnect failed: %v", err)
	}

	select {
	case <-stop:
		return
	case <-time.After(m.cfg.ReconnectDelay):
	}

	if _, err := m.broker.Connect(ctx, snap.ProfileID); err != nil {
		common.LogError("Reconnect attempt %d for %s failed: %v", attempt, snap.ProfileName, err)
	}
}
