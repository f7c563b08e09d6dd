// Package store implements the encrypted key-value file store backing host
// definitions and command snippets.
//
// Each store is a single self-contained file: when a passphrase is
// configured, the file embeds a per-write random salt and a fernet token
// (which itself carries the IV and an HMAC over IV+ciphertext), so the file
// is independently decryptable given only the passphrase. Every mutation
// rewrites the whole file synchronously.
package store

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fernet/fernet-go"
	"github.com/google/uuid"
	"golang.org/x/crypto/argon2"
)

var (
	// ErrDecryption means the file could not be authenticated with the
	// configured passphrase: wrong passphrase, tampering, or a passphrase
	// mismatch between writer and reader.
	ErrDecryption = errors.New("store: decryption failed")

	// ErrCorruptStore means the persisted content is not a valid store
	// envelope. The caller may recover only by treating the store as empty.
	ErrCorruptStore = errors.New("store: corrupt content")
)

// Argon2id parameters for deriving the fernet key from the passphrase.
// Deliberately slow and memory-hard; the passphrase is never used directly.
const (
	kdfTime    = 1
	kdfMemory  = 64 * 1024 // KiB
	kdfThreads = 4
	saltSize   = 16
)

// envelope is the on-disk format. Exactly one of Data (plain mode) or
// Salt+Token (encrypted mode) is populated.
type envelope struct {
	Version int                        `json:"version"`
	Salt    []byte                     `json:"salt,omitempty"`
	Token   string                     `json:"token,omitempty"`
	Data    map[string]json.RawMessage `json:"data,omitempty"`
}

const envelopeVersion = 1

// Store is a durable string-keyed map with optional authenticated
// encryption at rest. All methods are safe for concurrent use.
type Store struct {
	mu         sync.Mutex
	path       string
	passphrase string
	values     map[string]json.RawMessage
}

// Open loads the store at path, creating an empty one if the file does not
// exist. An empty passphrase selects plain serialization.
//
// On ErrCorruptStore or ErrDecryption the returned store is usable but
// empty; the next mutation overwrites the damaged file. Callers should not
// proceed past ErrDecryption unless the operator explicitly accepts losing
// the previous content.
func Open(path, passphrase string) (*Store, error) {
	s := &Store{
		path:       path,
		passphrase: passphrase,
		values:     make(map[string]json.RawMessage),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("store: read %s: %w", path, err)
	}
	if len(data) == 0 {
		return s, nil
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return s, fmt.Errorf("%w: %s: %v", ErrCorruptStore, path, err)
	}

	switch {
	case passphrase == "" && env.Token != "":
		return s, fmt.Errorf("%w: %s is encrypted but no passphrase is configured", ErrDecryption, path)
	case passphrase != "" && env.Token == "":
		return s, fmt.Errorf("%w: %s is not encrypted but a passphrase is configured", ErrCorruptStore, path)
	}

	payload := data
	if env.Token != "" {
		if len(env.Salt) != saltSize {
			return s, fmt.Errorf("%w: %s: bad salt length %d", ErrCorruptStore, path, len(env.Salt))
		}
		key := deriveKey(passphrase, env.Salt)
		plain := fernet.VerifyAndDecrypt([]byte(env.Token), 0*time.Second, []*fernet.Key{key})
		if plain == nil {
			return s, fmt.Errorf("%w: %s", ErrDecryption, path)
		}
		payload = plain
		var values map[string]json.RawMessage
		if err := json.Unmarshal(payload, &values); err != nil {
			return s, fmt.Errorf("%w: %s: decrypted payload: %v", ErrCorruptStore, path, err)
		}
		s.values = values
		return s, nil
	}

	if env.Data == nil {
		return s, fmt.Errorf("%w: %s: missing data section", ErrCorruptStore, path)
	}
	s.values = env.Data
	return s, nil
}

// deriveKey stretches the passphrase into a 32-byte fernet key.
func deriveKey(passphrase string, salt []byte) *fernet.Key {
	var key fernet.Key
	raw := argon2.IDKey([]byte(passphrase), salt, kdfTime, kdfMemory, kdfThreads, 32)
	copy(key[:], raw)
	return &key
}

// Get unmarshals the value stored under key into out. The second return is
// false when the key is absent.
func (s *Store) Get(key string, out any) (bool, error) {
	s.mu.Lock()
	raw, ok := s.values[key]
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return true, fmt.Errorf("store: unmarshal %q: %w", key, err)
	}
	return true, nil
}

// Set upserts key and rewrites the backing file before returning.
func (s *Store) Set(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("store: marshal %q: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	prev, had := s.values[key]
	s.values[key] = raw
	if err := s.writeLocked(); err != nil {
		// Roll back the in-memory map so memory and disk stay consistent.
		if had {
			s.values[key] = prev
		} else {
			delete(s.values, key)
		}
		return err
	}
	return nil
}

// Remove deletes key. A missing key is a no-op and does not touch the file.
func (s *Store) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.values[key]
	if !ok {
		return nil
	}
	delete(s.values, key)
	if err := s.writeLocked(); err != nil {
		s.values[key] = prev
		return err
	}
	return nil
}

// Keys returns all stored keys in unspecified order.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	return keys
}

// Len returns the number of stored entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.values)
}

// NewKey returns a fresh collision-resistant identifier.
func NewKey() string {
	return uuid.New().String()
}

// writeLocked serializes the current map and atomically replaces the backing
// file. Caller must hold s.mu. A fresh salt (and, inside fernet, a fresh IV)
// is generated on every write.
func (s *Store) writeLocked() error {
	payload, err := json.Marshal(s.values)
	if err != nil {
		return fmt.Errorf("store: marshal: %w", err)
	}

	env := envelope{Version: envelopeVersion}
	if s.passphrase != "" {
		salt := make([]byte, saltSize)
		if _, err := io.ReadFull(rand.Reader, salt); err != nil {
			return fmt.Errorf("store: generate salt: %w", err)
		}
		token, err := fernet.EncryptAndSign(payload, deriveKey(s.passphrase, salt))
		if err != nil {
			return fmt.Errorf("store: encrypt: %w", err)
		}
		env.Salt = salt
		env.Token = string(token)
	} else {
		env.Data = s.values
	}

	data, err := json.Marshal(&env)
	if err != nil {
		return fmt.Errorf("store: marshal envelope: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("store: create directory %s: %w", dir, err)
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp*")
	if err != nil {
		return fmt.Errorf("store: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("store: write %s: %w", s.path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("store: sync %s: %w", s.path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("store: close %s: %w", s.path, err)
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return fmt.Errorf("store: chmod %s: %w", s.path, err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("store: replace %s: %w", s.path, err)
	}
	return nil
}
