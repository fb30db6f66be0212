package credstore

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/yllada/vpn-broker/common"
)

// Argon2id parameters for deriving the file key.
const (
	argonTime    uint32 = 3
	argonMemory  uint32 = 64 * 1024
	argonThreads uint8  = 1
	keyLen       uint32 = chacha20poly1305.KeySize
	saltLen             = 16
)

// localBackend stores credentials in a single encrypted file with
// owner-only permissions. On-disk layout:
//
//	salt (16 bytes) || nonce (24 bytes) || XChaCha20-Poly1305 ciphertext
//
// where the plaintext is a JSON map of profile ID to record data and the
// key is derived from machine-bound material plus the stored salt.
type localBackend struct {
	mu      sync.Mutex
	path    string
	entries map[string]string
	salt    []byte
}

func newLocalBackend(dir string) (*localBackend, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}

	b := &localBackend{
		path:    filepath.Join(dir, common.CredentialsFileName),
		entries: make(map[string]string),
	}

	if err := b.load(); err != nil {
		return nil, err
	}
	return b, nil
}

// machineSecret builds the passphrase the file key is derived from.
// Binding to the machine keeps a copied credentials file useless
// elsewhere, without prompting the user for a master password.
func machineSecret() []byte {
	machineID := "default-machine-id"
	if data, err := os.ReadFile("/etc/machine-id"); err == nil {
		machineID = strings.TrimSpace(string(data))
	}
	hostname, _ := os.Hostname()
	return []byte(fmt.Sprintf("vpn-broker-%s-%s-%d", machineID, hostname, os.Getuid()))
}

func deriveKey(salt []byte) []byte {
	return argon2.IDKey(machineSecret(), salt, argonTime, argonMemory, argonThreads, keyLen)
}

func (b *localBackend) load() error {
	data, err := os.ReadFile(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	if len(data) < saltLen+chacha20poly1305.NonceSizeX {
		return fmt.Errorf("%w: credentials file too short", common.ErrDecryption)
	}

	b.salt = data[:saltLen]
	nonce := data[saltLen : saltLen+chacha20poly1305.NonceSizeX]
	ciphertext := data[saltLen+chacha20poly1305.NonceSizeX:]

	aead, err := chacha20poly1305.NewX(deriveKey(b.salt))
	if err != nil {
		return err
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrDecryption, err)
	}
	defer common.ZeroBytes(plaintext)

	if err := json.Unmarshal(plaintext, &b.entries); err != nil {
		return fmt.Errorf("%w: %v", common.ErrDecryption, err)
	}
	return nil
}

// save writes the whole entry map with a fresh nonce. Caller holds the lock.
func (b *localBackend) save() error {
	if b.salt == nil {
		b.salt = make([]byte, saltLen)
		if _, err := io.ReadFull(rand.Reader, b.salt); err != nil {
			return err
		}
	}

	plaintext, err := json.Marshal(b.entries)
	if err != nil {
		return err
	}
	defer common.ZeroBytes(plaintext)

	aead, err := chacha20poly1305.NewX(deriveKey(b.salt))
	if err != nil {
		return err
	}

	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return err
	}

	out := make([]byte, 0, saltLen+len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, b.salt...)
	out = append(out, nonce...)
	out = append(out, aead.Seal(nil, nonce, plaintext, nil)...)

	if err := os.WriteFile(b.path, out, 0600); err != nil {
		return errors.Join(common.ErrEncryption, err)
	}
	return nil
}

func (b *localBackend) set(profileID, data string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[profileID] = data
	return b.save()
}

func (b *localBackend) get(profileID string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.entries[profileID]
	return data, ok
}

func (b *localBackend) delete(profileID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.entries[profileID]; !ok {
		return nil
	}
	delete(b.entries, profileID)
	return b.save()
}
