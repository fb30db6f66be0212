package broker

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yllada/vpn-broker/session"
	"github.com/yllada/vpn-broker/supervisor"
)

func testMonitorConfig() MonitorConfig {
	cfg := DefaultMonitorConfig()
	cfg.Interval = 10 * time.Millisecond
	cfg.FailureThreshold = 1
	cfg.ReconnectDelay = 20 * time.Millisecond
	cfg.ProbeTimeout = 10 * time.Millisecond
	return cfg
}

func TestMonitor_StartStop(t *testing.T) {
	f := newFixture(t)
	m := NewMonitor(f.broker, testMonitorConfig())

	assert.False(t, m.IsRunning())
	m.Start()
	assert.True(t, m.IsRunning())
	m.Start() // second start is a no-op
	m.Stop()
	assert.False(t, m.IsRunning())
	m.Stop() // second stop is a no-op
}

func TestMonitor_ProbeSkipsIdleSession(t *testing.T) {
	f := newFixture(t)
	m := NewMonitor(f.broker, testMonitorConfig())

	dialed := false
	m.dial = func(string, string, time.Duration) (net.Conn, error) {
		dialed = true
		return nil, errors.New("unreachable")
	}

	m.check(make(chan struct{}))
	assert.False(t, dialed, "idle sessions must not be probed")
}

func TestMonitor_ProbeTriesHostsInOrder(t *testing.T) {
	f := newFixture(t)
	cfg := testMonitorConfig()
	cfg.ProbeHosts = []string{"first:53", "second:53"}
	m := NewMonitor(f.broker, cfg)

	var hosts []string
	m.dial = func(_, addr string, _ time.Duration) (net.Conn, error) {
		hosts = append(hosts, addr)
		if addr == "second:53" {
			c, s := net.Pipe()
			s.Close()
			return c, nil
		}
		return nil, errors.New("unreachable")
	}

	latency, err := m.probe()
	require.NoError(t, err)
	assert.Equal(t, []string{"first:53", "second:53"}, hosts)
	assert.GreaterOrEqual(t, latency, time.Duration(0))
}

func TestMonitor_DegradedTunnelReconnects(t *testing.T) {
	f := newFixture(t)
	f.sup.stopFinishes = true

	_, err := f.broker.Connect(context.Background(), f.profile.ID)
	require.NoError(t, err)
	f.handle.emit(supervisor.Event{Kind: supervisor.KindConnected})
	waitForState(t, f.broker, session.Connected)

	m := NewMonitor(f.broker, testMonitorConfig())
	m.dial = func(string, string, time.Duration) (net.Conn, error) {
		return nil, errors.New("unreachable")
	}

	m.check(make(chan struct{}))

	require.Eventually(t, func() bool {
		return f.sup.startCount() == 2
	}, time.Second, 5*time.Millisecond, "degraded tunnel should trigger a reconnect")
	assert.Equal(t, 1, f.sup.stopCount())
}

func TestMonitor_ReconnectBounded(t *testing.T) {
	f := newFixture(t)
	cfg := testMonitorConfig()
	cfg.MaxReconnectAttempts = 2
	m := NewMonitor(f.broker, cfg)
	m.reconnects = 2

	snap := session.Session{ProfileID: f.profile.ID, ProfileName: f.profile.Name, State: session.Connected}
	m.reconnect(snap, make(chan struct{}))

	assert.Equal(t, 0, f.sup.startCount(), "exhausted attempts must not reconnect")
}
