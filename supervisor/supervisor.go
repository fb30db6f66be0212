package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/yllada/vpn-broker/common"
	"github.com/yllada/vpn-broker/credstore"
	"github.com/yllada/vpn-broker/registry"
)

// Supervisor owns at most one external VPN client subprocess.
type Supervisor struct {
	mu      sync.Mutex
	run     runner
	current *Handle
	grace   time.Duration
}

// New creates a Supervisor with the given graceful-stop period.
func New(grace time.Duration) *Supervisor {
	if grace <= 0 {
		grace = common.StopGracePeriod
	}
	return &Supervisor{run: execRunner{}, grace: grace}
}

// Handle identifies one supervised session process and carries its
// parsed event stream.
type Handle struct {
	profile *registry.Profile
	proc    process

	events chan Event
	done   chan struct{}

	mu          sync.Mutex
	sessionPath string
	finished    bool
}

// Profile returns the profile this session was started with.
func (h *Handle) Profile() *registry.Profile {
	return h.profile
}

// Events returns the handle's event stream. Events arrive in process
// output order, one per line, and the channel is closed after the final
// Exited event.
func (h *Handle) Events() <-chan Event {
	return h.events
}

// Done is closed when the supervised process has exited and the event
// stream has drained.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// SessionPath returns the D-Bus session path once the client reported
// one, or empty.
func (h *Handle) SessionPath() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sessionPath
}

// SendCredentials writes a username and secret to the client's stdin,
// then closes it and zeroes the secret. Used when the client asks for
// authentication after launch.
func (h *Handle) SendCredentials(username string, secret []byte) error {
	defer common.ZeroBytes(secret)

	if username != "" {
		if err := h.proc.SendInput(username); err != nil {
			return err
		}
	}
	if err := h.proc.SendInput(string(secret)); err != nil {
		return err
	}
	return h.proc.CloseInput()
}

func (h *Handle) isFinished() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.finished
}

// Start launches the VPN client for the given profile. Credentials, when
// provided, are delivered over stdin, never on the command line, and are
// zeroed after handoff.
//
// Fails with ErrAlreadyRunning while a supervised process exists and
// ErrLaunchFailure when the client binary is missing or cannot spawn.
func (s *Supervisor) Start(ctx context.Context, profile *registry.Profile, cred *credstore.Credential) (*Handle, error) {
	if profile == nil {
		return nil, common.ErrNoProfileSelected
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil && !s.current.isFinished() {
		return nil, common.ErrAlreadyRunning
	}

	if err := s.run.LookPath(common.VPNClientBinary); err != nil {
		return nil, fmt.Errorf("%w: %s is not installed", common.ErrLaunchFailure, common.VPNClientBinary)
	}

	common.LogInfo("Starting session for profile %s (%s)", profile.Name, profile.ConfigPath)

	proc, err := s.run.Start(common.VPNClientBinary, "session-start", "--config", profile.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrLaunchFailure, err)
	}

	h := &Handle{
		profile: profile,
		proc:    proc,
		events:  make(chan Event, 64),
		done:    make(chan struct{}),
	}

	if cred != nil {
		if err := h.SendCredentials(cred.Username, cred.Secret); err != nil {
			common.LogWarn("Could not hand off credentials: %v", err)
		}
		cred.Secret = nil
	}

	go h.pump()

	s.current = h
	return h, nil
}

// pump translates raw output lines into events, in order, until the
// process exits. The final Exited event closes the stream.
func (h *Handle) pump() {
	for line := range h.proc.Lines() {
		ev := ParseLine(line)
		if ev.Kind == KindSessionPath && ev.SessionPath != "" {
			h.mu.Lock()
			h.sessionPath = ev.SessionPath
			h.mu.Unlock()
		}
		common.LogDebug("%s: %s", common.VPNClientBinary, line)
		h.events <- ev
	}

	code := h.proc.Wait()
	common.LogInfo("VPN client exited with code %d", code)

	h.mu.Lock()
	h.finished = true
	h.mu.Unlock()

	h.events <- Event{Kind: KindExited, ExitCode: code}
	close(h.events)
	close(h.done)
}

// Stop requests graceful termination of the supervised process and
// escalates to a forced kill after the grace period. Stopping a handle
// that already stopped is a no-op. Stop does not block past the grace
// period plus a small margin.
func (s *Supervisor) Stop(ctx context.Context, h *Handle) error {
	if h == nil || h.isFinished() {
		return nil
	}

	// Prefer a clean client-side disconnect when the session is known.
	if path := h.SessionPath(); path != "" {
		cctx, cancel := context.WithTimeout(ctx, s.grace)
		_, err := s.run.Output(cctx, common.VPNClientBinary,
			"session-manage", "--session-path", path, "--disconnect")
		cancel()
		if err != nil {
			common.LogWarn("Graceful disconnect failed, terminating process: %v", err)
			_ = h.proc.Terminate()
		}
	} else {
		_ = h.proc.Terminate()
	}

	select {
	case <-h.Done():
		return nil
	case <-time.After(s.grace):
	}

	common.LogWarn("Grace period expired, killing VPN client")
	_ = h.proc.Kill()

	select {
	case <-h.Done():
	case <-time.After(time.Second):
		return common.ErrTimeout
	}
	return nil
}

// Active returns the currently supervised handle, or nil.
func (s *Supervisor) Active() *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil && s.current.isFinished() {
		return nil
	}
	return s.current
}
