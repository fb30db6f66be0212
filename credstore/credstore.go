// Package credstore provides secure credential storage for VPN profiles.
// It prefers the system keyring and falls back to an encrypted local file
// when no keyring service is reachable. Secrets are zeroed as soon as they
// have been handed off and are never written to disk in plaintext.
package credstore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/zalando/go-keyring"

	"github.com/yllada/vpn-broker/common"
)

// serviceName is the identifier used in the system keyring.
const serviceName = "vpn-broker"

// Backend identifies where a credential is stored.
type Backend int

const (
	// BackendAuto lets the store pick: system keyring first, local fallback.
	BackendAuto Backend = iota
	// BackendKeyring is the OS secret service.
	BackendKeyring
	// BackendLocal is the encrypted local file.
	BackendLocal
)

// String returns a human-readable backend name.
func (b Backend) String() string {
	switch b {
	case BackendKeyring:
		return "system-keyring"
	case BackendLocal:
		return "encrypted-local"
	default:
		return "auto"
	}
}

// Credential is secret material retrieved for a profile.
// Call Zero once the secret has been handed off.
type Credential struct {
	ProfileID string
	Username  string
	Secret    []byte
	Backend   Backend
}

// Zero discards the secret material in place.
func (c *Credential) Zero() {
	common.ZeroBytes(c.Secret)
	c.Secret = nil
}

// record is the stored form of a credential.
type record struct {
	Username string `json:"username,omitempty"`
	Secret   string `json:"secret"`
}

func encodeRecord(username string, secret []byte) (string, error) {
	data, err := json.Marshal(record{
		Username: username,
		Secret:   base64.StdEncoding.EncodeToString(secret),
	})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeRecord(data string) (string, []byte, error) {
	var rec record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return "", nil, err
	}
	secret, err := base64.StdEncoding.DecodeString(rec.Secret)
	if err != nil {
		return "", nil, err
	}
	return rec.Username, secret, nil
}

// Store persists and retrieves connection secrets.
type Store struct {
	local   *localBackend
	timeout time.Duration
}

// New creates a Store using the default local file location.
func New(timeout time.Duration) (*Store, error) {
	configDir, err := common.GetConfigDir()
	if err != nil {
		return nil, err
	}
	return NewAt(configDir, timeout)
}

// NewAt creates a Store with the encrypted local file under dir.
func NewAt(dir string, timeout time.Duration) (*Store, error) {
	local, err := newLocalBackend(dir)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = common.BackendTimeout
	}
	return &Store{local: local, timeout: timeout}, nil
}

// Save stores a credential for a profile. With BackendAuto the system
// keyring is tried first and the encrypted local file is used as a
// fallback. The backend actually used is returned. The secret slice is
// zeroed before Save returns.
func (s *Store) Save(profileID, username string, secret []byte, prefer Backend) (Backend, error) {
	defer common.ZeroBytes(secret)

	if profileID == "" {
		return prefer, fmt.Errorf("profile ID cannot be empty")
	}
	if len(secret) == 0 {
		return prefer, fmt.Errorf("secret cannot be empty")
	}

	data, err := encodeRecord(username, secret)
	if err != nil {
		return prefer, err
	}

	switch prefer {
	case BackendLocal:
		if err := s.local.set(profileID, data); err != nil {
			return BackendLocal, err
		}
		return BackendLocal, nil

	case BackendKeyring:
		if err := s.keyringSet(profileID, data); err != nil {
			return BackendKeyring, fmt.Errorf("%w: %v", common.ErrBackendUnavailable, err)
		}
		return BackendKeyring, nil

	default:
		if err := s.keyringSet(profileID, data); err != nil {
			common.LogWarn("System keyring unavailable, using encrypted local storage: %v", err)
			if lerr := s.local.set(profileID, data); lerr != nil {
				return BackendLocal, lerr
			}
			return BackendLocal, nil
		}
		return BackendKeyring, nil
	}
}

// Retrieve returns the credential stored for a profile.
// Returns ErrNotFound when no backend holds one and ErrBackendUnavailable
// when the system keyring cannot be reached within the store's timeout.
func (s *Store) Retrieve(ctx context.Context, profileID string) (*Credential, error) {
	if profileID == "" {
		return nil, fmt.Errorf("profile ID cannot be empty")
	}

	// The local file is definitive and cheap; check it first.
	if data, ok := s.local.get(profileID); ok {
		username, secret, err := decodeRecord(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", common.ErrDecryption, err)
		}
		return &Credential{
			ProfileID: profileID,
			Username:  username,
			Secret:    secret,
			Backend:   BackendLocal,
		}, nil
	}

	data, err := s.keyringGet(ctx, profileID)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", common.ErrBackendUnavailable, err)
	}

	username, secret, err := decodeRecord(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDecryption, err)
	}
	return &Credential{
		ProfileID: profileID,
		Username:  username,
		Secret:    secret,
		Backend:   BackendKeyring,
	}, nil
}

// Migrate moves a credential from the encrypted local file into the
// system keyring. On success the local copy is deleted; on failure the
// local copy is left untouched.
func (s *Store) Migrate(profileID string) error {
	data, ok := s.local.get(profileID)
	if !ok {
		// Nothing local. If the keyring already holds it the migration
		// has effectively happened; otherwise there is nothing to move.
		if _, err := s.keyringGet(context.Background(), profileID); err == nil {
			return nil
		}
		return common.ErrNotFound
	}

	if err := s.keyringSet(profileID, data); err != nil {
		return fmt.Errorf("%w: %v", common.ErrBackendUnavailable, err)
	}

	return s.local.delete(profileID)
}

// Delete removes a credential from whichever backend holds it.
// Deleting a credential that does not exist is a no-op.
func (s *Store) Delete(profileID string) error {
	if profileID == "" {
		return fmt.Errorf("profile ID cannot be empty")
	}

	if err := keyring.Delete(serviceName, profileID); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		common.LogDebug("Keyring delete for %s: %v", profileID, err)
	}

	return s.local.delete(profileID)
}

// Exists reports whether a credential is stored for the profile.
func (s *Store) Exists(profileID string) bool {
	if _, ok := s.local.get(profileID); ok {
		return true
	}
	_, err := keyring.Get(serviceName, profileID)
	return err == nil
}

// keyringSet calls into the system keyring with the store's timeout.
// Some secret-service implementations block indefinitely while the
// desktop prompts for an unlock.
func (s *Store) keyringSet(profileID, data string) error {
	done := make(chan error, 1)
	go func() {
		done <- keyring.Set(serviceName, profileID, data)
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(s.timeout):
		return common.ErrTimeout
	}
}

func (s *Store) keyringGet(ctx context.Context, profileID string) (string, error) {
	type result struct {
		data string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		data, err := keyring.Get(serviceName, profileID)
		done <- result{data, err}
	}()

	select {
	case res := <-done:
		return res.data, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(s.timeout):
		return "", common.ErrTimeout
	}
}
