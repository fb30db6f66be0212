package supervisor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yllada/vpn-broker/common"
	"github.com/yllada/vpn-broker/credstore"
	"github.com/yllada/vpn-broker/registry"
)

func testProfile() *registry.Profile {
	return &registry.Profile{
		ID:         "profile-1",
		Name:       "office",
		ConfigPath: "/tmp/office.ovpn",
	}
}

func newTestSupervisor(proc *fakeProcess) (*Supervisor, *fakeRunner) {
	fr := newFakeRunner(proc)
	return &Supervisor{run: fr, grace: 100 * time.Millisecond}, fr
}

func collectEvents(t *testing.T, h *Handle) []Event {
	t.Helper()
	var events []Event
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-h.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("timed out draining events")
		}
	}
}

func TestStart_EventStream(t *testing.T) {
	proc := newFakeProcess()
	s, _ := newTestSupervisor(proc)

	h, err := s.Start(context.Background(), testProfile(), nil)
	require.NoError(t, err)

	proc.emit("Connecting to [vpn.example.com]:1194")
	proc.emit("Session path: /net/openvpn/v3/sessions/abc123")
	proc.emit("totally unrecognized chatter")
	proc.emit("Initialization Sequence Completed")
	proc.exit(0)

	events := collectEvents(t, h)
	require.Len(t, events, 5)
	assert.Equal(t, KindConnecting, events[0].Kind)
	assert.Equal(t, KindSessionPath, events[1].Kind)
	assert.Equal(t, KindDiagnostic, events[2].Kind)
	assert.Equal(t, "totally unrecognized chatter", events[2].Line)
	assert.Equal(t, KindConnected, events[3].Kind)
	assert.Equal(t, KindExited, events[4].Kind)
	assert.Equal(t, 0, events[4].ExitCode)

	assert.Equal(t, "/net/openvpn/v3/sessions/abc123", h.SessionPath())
}

func TestStart_AlreadyRunning(t *testing.T) {
	proc := newFakeProcess()
	s, _ := newTestSupervisor(proc)

	_, err := s.Start(context.Background(), testProfile(), nil)
	require.NoError(t, err)

	_, err = s.Start(context.Background(), testProfile(), nil)
	assert.ErrorIs(t, err, common.ErrAlreadyRunning)
}

func TestStart_AllowedAfterExit(t *testing.T) {
	proc := newFakeProcess()
	s, fr := newTestSupervisor(proc)

	h, err := s.Start(context.Background(), testProfile(), nil)
	require.NoError(t, err)

	proc.exit(0)
	<-h.Done()

	fr.proc = newFakeProcess()
	_, err = s.Start(context.Background(), testProfile(), nil)
	assert.NoError(t, err)
}

func TestStart_LaunchFailure(t *testing.T) {
	s, fr := newTestSupervisor(newFakeProcess())

	fr.lookPathErr = errors.New("not found")
	_, err := s.Start(context.Background(), testProfile(), nil)
	assert.ErrorIs(t, err, common.ErrLaunchFailure)

	fr.lookPathErr = nil
	fr.startErr = errors.New("permission denied")
	_, err = s.Start(context.Background(), testProfile(), nil)
	assert.ErrorIs(t, err, common.ErrLaunchFailure)
}

func TestStart_NoProfile(t *testing.T) {
	s, _ := newTestSupervisor(newFakeProcess())
	_, err := s.Start(context.Background(), nil, nil)
	assert.ErrorIs(t, err, common.ErrNoProfileSelected)
}

func TestStart_CredentialHandoff(t *testing.T) {
	proc := newFakeProcess()
	s, _ := newTestSupervisor(proc)

	cred := &credstore.Credential{Username: "alice", Secret: []byte("s3cret")}
	_, err := s.Start(context.Background(), testProfile(), cred)
	require.NoError(t, err)

	// Credentials went to stdin, in order, and stdin was closed.
	assert.Equal(t, []string{"alice", "s3cret"}, proc.sentInputs())
	assert.True(t, proc.inputClosed)

	// The secret was discarded after handoff.
	assert.Nil(t, cred.Secret)
}

func TestStop_GracefulViaSessionManage(t *testing.T) {
	proc := newFakeProcess()
	s, fr := newTestSupervisor(proc)

	h, err := s.Start(context.Background(), testProfile(), nil)
	require.NoError(t, err)

	proc.emit("Session path: /net/openvpn/v3/sessions/abc123")
	require.Eventually(t, func() bool {
		return h.SessionPath() != ""
	}, time.Second, 5*time.Millisecond)

	// The scripted disconnect makes the process exit, as the real
	// client would.
	done := make(chan struct{})
	go func() {
		defer close(done)
		require.NoError(t, s.Stop(context.Background(), h))
	}()

	// Give Stop a moment to issue the disconnect, then exit.
	time.Sleep(20 * time.Millisecond)
	proc.exit(0)
	<-done

	assert.True(t, fr.calledWith(
		"openvpn3 session-manage --session-path /net/openvpn/v3/sessions/abc123 --disconnect"))
	collectEvents(t, h)
}

func TestStop_TerminatesWithoutSessionPath(t *testing.T) {
	proc := newFakeProcess()
	s, _ := newTestSupervisor(proc)

	h, err := s.Start(context.Background(), testProfile(), nil)
	require.NoError(t, err)

	require.NoError(t, s.Stop(context.Background(), h))
	assert.True(t, proc.terminated)
	collectEvents(t, h)
}

func TestStop_Idempotent(t *testing.T) {
	proc := newFakeProcess()
	s, _ := newTestSupervisor(proc)

	// Stopping nothing is a no-op.
	require.NoError(t, s.Stop(context.Background(), nil))

	h, err := s.Start(context.Background(), testProfile(), nil)
	require.NoError(t, err)

	require.NoError(t, s.Stop(context.Background(), h))
	collectEvents(t, h)

	// Stopping an already-stopped handle is a no-op.
	require.NoError(t, s.Stop(context.Background(), h))
}

func TestActive(t *testing.T) {
	proc := newFakeProcess()
	s, _ := newTestSupervisor(proc)

	assert.Nil(t, s.Active())

	h, err := s.Start(context.Background(), testProfile(), nil)
	require.NoError(t, err)
	assert.Equal(t, h, s.Active())

	proc.exit(0)
	<-h.Done()
	assert.Nil(t, s.Active())
}
