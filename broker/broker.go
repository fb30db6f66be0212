// Package broker orchestrates VPN sessions: it resolves profiles,
// retrieves stored credentials, supervises the external client process
// and folds its output into the session state machine.
package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/yllada/vpn-broker/common"
	"github.com/yllada/vpn-broker/config"
	"github.com/yllada/vpn-broker/credstore"
	"github.com/yllada/vpn-broker/history"
	"github.com/yllada/vpn-broker/registry"
	"github.com/yllada/vpn-broker/session"
	"github.com/yllada/vpn-broker/supervisor"
)

// maxDiagnostics bounds the retained tail of unrecognized client output.
const maxDiagnostics = 100

// handle is the part of a supervised process the broker consumes.
// *supervisor.Handle satisfies it; tests substitute a scripted fake.
type handle interface {
	Events() <-chan supervisor.Event
	Done() <-chan struct{}
	SessionPath() string
	SendCredentials(username string, secret []byte) error
	Profile() *registry.Profile
}

// procSupervisor abstracts process lifecycle control.
type procSupervisor interface {
	Start(ctx context.Context, profile *registry.Profile, cred *credstore.Credential) (handle, error)
	Stop(ctx context.Context, h handle) error
	CleanupStale(ctx context.Context) (*supervisor.CleanupReport, error)
}

// supervisorAdapter bridges the concrete supervisor to procSupervisor.
type supervisorAdapter struct {
	sup *supervisor.Supervisor
}

func (a supervisorAdapter) Start(ctx context.Context, p *registry.Profile, cred *credstore.Credential) (handle, error) {
	h, err := a.sup.Start(ctx, p, cred)
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (a supervisorAdapter) Stop(ctx context.Context, h handle) error {
	sh, ok := h.(*supervisor.Handle)
	if !ok {
		return nil
	}
	return a.sup.Stop(ctx, sh)
}

func (a supervisorAdapter) CleanupStale(ctx context.Context) (*supervisor.CleanupReport, error) {
	return a.sup.CleanupStale(ctx)
}

// EventNotifier is the notification surface the broker emits to.
// *notify.Notifier satisfies it.
type EventNotifier interface {
	Connected(profileName string)
	Disconnected(profileName string)
	Failed(profileName, errorMsg string)
}

// Broker ties the profile registry, credential store, process
// supervisor and session state machine together behind one API.
type Broker struct {
	cfg      *config.Config
	reg      *registry.Registry
	creds    *credstore.Store
	sup      procSupervisor
	machine  *session.Machine
	hist     *history.Store
	notifier EventNotifier

	mu          sync.Mutex
	current     handle
	diagnostics []string

	subMu   sync.Mutex
	subs    map[int]chan session.Session
	nextSub int
}

// Option customizes a Broker.
type Option func(*Broker)

// WithHistory attaches a session history store.
func WithHistory(h *history.Store) Option {
	return func(b *Broker) { b.hist = h }
}

// WithNotifier attaches a desktop notifier.
func WithNotifier(n EventNotifier) Option {
	return func(b *Broker) { b.notifier = n }
}

// withSupervisor replaces the process supervisor. Test seam.
func withSupervisor(s procSupervisor) Option {
	return func(b *Broker) { b.sup = s }
}

// New builds a broker from loaded configuration.
func New(cfg *config.Config, reg *registry.Registry, creds *credstore.Store, opts ...Option) *Broker {
	b := &Broker{
		cfg:     cfg,
		reg:     reg,
		creds:   creds,
		sup:     supervisorAdapter{sup: supervisor.New(cfg.StopGracePeriod)},
		machine: session.NewMachine(cfg.AuthRetryLimit),
		subs:    make(map[int]chan session.Session),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Status returns the current session snapshot.
func (b *Broker) Status() session.Session {
	return b.machine.Snapshot()
}

// Diagnostics returns the retained tail of unrecognized client output,
// oldest first.
func (b *Broker) Diagnostics() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.diagnostics))
	copy(out, b.diagnostics)
	return out
}

// Subscribe registers for session snapshots on every state change. The
// returned cancel function must be called to release the subscription.
// The buffer holds more transitions than a session can produce, so
// subscribers that keep draining see every one; only an abandoned
// subscriber loses stat refreshes rather than blocking the event pump.
func (b *Broker) Subscribe() (<-chan session.Session, func()) {
	b.subMu.Lock()
	defer b.subMu.Unlock()

	id := b.nextSub
	b.nextSub++
	ch := make(chan session.Session, 64)
	b.subs[id] = ch

	cancel := func() {
		b.subMu.Lock()
		defer b.subMu.Unlock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

func (b *Broker) publish(snap session.Session) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- snap:
		default:
		}
	}
}

// resolveProfile accepts a profile ID or a profile name.
func (b *Broker) resolveProfile(ref string) (*registry.Profile, error) {
	if p, err := b.reg.Get(ref); err == nil {
		return p, nil
	}
	return b.reg.GetByName(ref)
}

// Connect starts a session for the given profile ID or name. Stored
// credentials, when present, are handed to the client immediately;
// otherwise the session parks in the authenticating state until
// SupplyCredentials is called.
func (b *Broker) Connect(ctx context.Context, profileRef string) (session.Session, error) {
	if profileRef == "" {
		return b.machine.Snapshot(), common.ErrNoProfileSelected
	}
	profile, err := b.resolveProfile(profileRef)
	if err != nil {
		return b.machine.Snapshot(), err
	}

	var cred *credstore.Credential
	stored, err := b.creds.Retrieve(ctx, profile.ID)
	switch {
	case err == nil:
		cred = stored
	case errors.Is(err, common.ErrNotFound):
		// Interactive authentication.
	default:
		common.LogWarn("Credential lookup for %s failed: %v", profile.Name, err)
	}

	snap, err := b.machine.Begin(common.GenerateID(), profile.ID, profile.Name)
	if err != nil {
		if cred != nil {
			cred.Zero()
		}
		return snap, err
	}

	h, err := b.sup.Start(ctx, profile, cred)
	if err != nil {
		snap, _ = b.machine.Apply(session.Event{Type: session.Failed, Message: err.Error()})
		b.publish(snap)
		return snap, err
	}

	b.mu.Lock()
	b.current = h
	b.diagnostics = nil
	b.mu.Unlock()

	_ = b.reg.MarkUsed(profile.ID)
	common.LogInfo("Session %s starting for profile %s", snap.ID, profile.Name)

	go b.pump(h)

	b.publish(snap)
	return snap, nil
}

// SupplyCredentials answers an authentication prompt on the live
// session. The secret is consumed and zeroed.
func (b *Broker) SupplyCredentials(username string, secret []byte) error {
	b.mu.Lock()
	h := b.current
	b.mu.Unlock()

	if h == nil {
		common.ZeroBytes(secret)
		return common.ErrNotRunning
	}
	if b.machine.Snapshot().State != session.Authenticating {
		common.ZeroBytes(secret)
		return common.ErrInvalidTransition
	}

	if err := h.SendCredentials(username, secret); err != nil {
		return err
	}
	snap, _ := b.machine.Apply(session.Event{Type: session.CredentialsSupplied})
	b.publish(snap)
	return nil
}

// Disconnect requests an orderly teardown of the live session.
func (b *Broker) Disconnect(ctx context.Context) error {
	b.mu.Lock()
	h := b.current
	b.mu.Unlock()

	if h == nil {
		return common.ErrNotRunning
	}

	if snap, changed := b.machine.Apply(session.Event{Type: session.DisconnectRequested}); changed {
		b.publish(snap)
	}
	return b.sup.Stop(ctx, h)
}

// CleanupStale disconnects leftover client sessions that do not belong
// to the live session.
func (b *Broker) CleanupStale(ctx context.Context) (*supervisor.CleanupReport, error) {
	return b.sup.CleanupStale(ctx)
}

// pump is the single consumer of a session's event stream. It maps
// process events onto state machine events and finalizes bookkeeping
// when the process exits.
func (b *Broker) pump(h handle) {
	profileName := ""
	if p := h.Profile(); p != nil {
		profileName = p.Name
	}

	for ev := range h.Events() {
		switch ev.Kind {
		case supervisor.KindConnecting:
			// Begin already put the machine in the connecting state.

		case supervisor.KindAuthRequested:
			if snap, changed := b.machine.Apply(session.Event{Type: session.AuthPrompt}); changed {
				b.publish(snap)
			}

		case supervisor.KindAuthFailed:
			snap, changed := b.machine.Apply(session.Event{Type: session.AuthFailed})
			if !changed {
				break
			}
			b.publish(snap)
			if snap.State == session.Error {
				// Out of auth retries; no point keeping the client up.
				b.stopAsync(h)
			}

		case supervisor.KindSessionPath:
			common.LogDebug("Session path registered: %s", ev.SessionPath)

		case supervisor.KindConnected:
			snap, changed := b.machine.Apply(session.Event{Type: session.Established})
			if !changed {
				break
			}
			if b.notifier != nil {
				b.notifier.Connected(profileName)
			}
			b.publish(snap)

		case supervisor.KindStats:
			b.publish(b.machine.RecordStats(ev.BytesIn, ev.BytesOut))

		case supervisor.KindDisconnected:
			// Server-side close counts as a disconnect in progress; the
			// exit event resolves the final state.
			if snap, changed := b.machine.Apply(session.Event{Type: session.DisconnectRequested}); changed {
				b.publish(snap)
			}

		case supervisor.KindExited:
			b.finalize(h, profileName, ev.ExitCode)

		default:
			b.keepDiagnostic(ev.Line)
		}
	}
}

func (b *Broker) stopAsync(h handle) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), b.cfg.StopGracePeriod+time.Second)
		defer cancel()
		if err := b.sup.Stop(ctx, h); err != nil {
			common.LogWarn("Stop after auth exhaustion failed: %v", err)
		}
	}()
}

func (b *Broker) keepDiagnostic(line string) {
	if line == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.diagnostics = append(b.diagnostics, line)
	if len(b.diagnostics) > maxDiagnostics {
		b.diagnostics = b.diagnostics[len(b.diagnostics)-maxDiagnostics:]
	}
}

// finalize resolves the session once the client process is gone,
// records history and releases the handle.
func (b *Broker) finalize(h handle, profileName string, exitCode int) {
	snap := b.machine.Snapshot()
	switch {
	case snap.State == session.Disconnecting:
		snap, _ = b.machine.Apply(session.Event{Type: session.Exited})
	case !snap.State.Terminal():
		msg := fmt.Sprintf("client exited unexpectedly with code %d", exitCode)
		snap, _ = b.machine.Apply(session.Event{Type: session.Failed, Message: msg})
	}

	b.mu.Lock()
	if b.current == h {
		b.current = nil
	}
	b.mu.Unlock()

	if b.notifier != nil {
		switch snap.State {
		case session.Error:
			b.notifier.Failed(profileName, snap.LastError)
		default:
			b.notifier.Disconnected(profileName)
		}
	}

	b.recordHistory(snap)
	common.LogInfo("Session %s finished: %s", snap.ID, snap.State)
	b.publish(snap)
}

func (b *Broker) recordHistory(snap session.Session) {
	if b.hist == nil || snap.ID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), common.BackendTimeout)
	defer cancel()

	entry := history.Entry{
		SessionID:   snap.ID,
		ProfileID:   snap.ProfileID,
		ProfileName: snap.ProfileName,
		StartedAt:   snap.StartedAt,
		EndedAt:     snap.StartedAt.Add(snap.Stats.Duration),
		Outcome:     snap.State.String(),
		LastError:   snap.LastError,
		BytesIn:     snap.Stats.BytesIn,
		BytesOut:    snap.Stats.BytesOut,
	}
	if err := b.hist.Record(ctx, entry); err != nil {
		common.LogWarn("History record failed: %v", err)
		return
	}
	if err := b.hist.Prune(ctx, b.cfg.HistoryKeep); err != nil {
		common.LogWarn("History prune failed: %v", err)
	}
}

// History returns the most recent finished sessions.
func (b *Broker) History(ctx context.Context, limit int) ([]history.Entry, error) {
	if b.hist == nil {
		return nil, nil
	}
	return b.hist.Recent(ctx, limit)
}

// Profiles lists the imported profiles.
func (b *Broker) Profiles() []*registry.Profile {
	return b.reg.List()
}

// ImportProfile copies a client configuration file into the registry.
func (b *Broker) ImportProfile(path string) (*registry.Profile, error) {
	return b.reg.Import(path)
}

// RemoveProfile deletes a profile and its stored credential.
func (b *Broker) RemoveProfile(ref string) error {
	profile, err := b.resolveProfile(ref)
	if err != nil {
		return err
	}
	if live := b.machine.Snapshot(); !live.State.Terminal() && live.ProfileID == profile.ID {
		return common.ErrAlreadyRunning
	}
	if err := b.creds.Delete(profile.ID); err != nil {
		return err
	}
	return b.reg.Remove(profile.ID)
}

// SetUsername stores the default username on a profile.
func (b *Broker) SetUsername(ref, username string) error {
	profile, err := b.resolveProfile(ref)
	if err != nil {
		return err
	}
	return b.reg.SetUsername(profile.ID, username)
}

// SaveCredential stores a credential for a profile. The secret is
// consumed and zeroed.
func (b *Broker) SaveCredential(ref, username string, secret []byte, prefer credstore.Backend) (credstore.Backend, error) {
	profile, err := b.resolveProfile(ref)
	if err != nil {
		common.ZeroBytes(secret)
		return prefer, err
	}
	backend, err := b.creds.Save(profile.ID, username, secret, prefer)
	if err != nil {
		return backend, err
	}
	if username != "" {
		_ = b.reg.SetUsername(profile.ID, username)
	}
	return backend, nil
}

// MigrateCredential moves a profile's credential from the encrypted
// local file into the system keyring.
func (b *Broker) MigrateCredential(ref string) error {
	profile, err := b.resolveProfile(ref)
	if err != nil {
		return err
	}
	return b.creds.Migrate(profile.ID)
}

// DeleteCredential removes a profile's stored credential.
func (b *Broker) DeleteCredential(ref string) error {
	profile, err := b.resolveProfile(ref)
	if err != nil {
		return err
	}
	return b.creds.Delete(profile.ID)
}

// HasCredential reports whether a credential is stored for a profile.
func (b *Broker) HasCredential(ref string) bool {
	profile, err := b.resolveProfile(ref)
	if err != nil {
		return false
	}
	return b.creds.Exists(profile.ID)
}

// Close releases broker-owned resources.
func (b *Broker) Close() error {
	if b.hist != nil {
		return b.hist.Close()
	}
	return nil
}
