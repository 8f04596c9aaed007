// Package keystore stores API keys and other secrets. The OS keychain is the
// primary backend; an AES-256-GCM encrypted file is the fallback when no
// keychain is reachable (headless sessions, stripped-down Linux).
package keystore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"sentra/internal/audit"
	"sentra/internal/domain"

	"github.com/zalando/go-keyring"
)

const (
	keychainService = "sentra"
	registryFile    = "keys.json"
	saltFile        = "keys.salt"
	probeKey        = "__sentra_probe__"
)

// registryEntry is the on-disk record for one key. Value is the fallback
// ciphertext; empty when the secret lives only in the keychain.
type registryEntry struct {
	Storage domain.KeyStorage `json:"storage"`
	Value   string            `json:"value,omitempty"`
}

// Store implements domain.SecretStore.
type Store struct {
	dir    string
	sink   domain.AuditSink
	logger *slog.Logger

	mu       sync.Mutex
	registry map[string]registryEntry

	probeOnce    sync.Once
	keychainOK   bool
	keyringSet   func(service, user, pass string) error
	keyringGet   func(service, user string) (string, error)
	keyringDel   func(service, user string) error
}

func New(dir string, sink domain.AuditSink, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("cannot create keystore directory %s: %w", dir, err)
	}
	s := &Store{
		dir:        dir,
		sink:       sink,
		logger:     logger,
		registry:   make(map[string]registryEntry),
		keyringSet: keyring.Set,
		keyringGet: keyring.Get,
		keyringDel: keyring.Delete,
	}
	if err := s.loadRegistry(); err != nil {
		return nil, err
	}
	return s, nil
}

// keychainAvailable probes the OS keychain once and caches the answer.
func (s *Store) keychainAvailable() bool {
	s.probeOnce.Do(func() {
		if err := s.keyringSet(keychainService, probeKey, "ok"); err != nil {
			s.logger.Info("OS keychain unavailable, using encrypted fallback", "err", err)
			return
		}
		_ = s.keyringDel(keychainService, probeKey)
		s.keychainOK = true
	})
	return s.keychainOK
}

func (s *Store) SetKey(name, value string) error {
	if name == "" {
		return fmt.Errorf("key name must not be empty")
	}

	entry := registryEntry{}
	if s.keychainAvailable() {
		if err := s.keyringSet(keychainService, name, value); err != nil {
			s.logger.Warn("keychain write failed, falling back to file", "key", name, "err", err)
		} else {
			entry.Storage = domain.StorageKeychain
		}
	}
	if entry.Storage == "" {
		ciphertext, err := s.sealFallback(value)
		if err != nil {
			s.audit("credential_store", name, false, err.Error())
			return err
		}
		entry.Storage = domain.StorageFallback
		entry.Value = ciphertext
	}

	s.mu.Lock()
	s.registry[name] = entry
	err := s.saveRegistryLocked()
	s.mu.Unlock()
	if err != nil {
		s.audit("credential_store", name, false, err.Error())
		return err
	}
	s.audit("credential_store", name, true, "stored in "+string(entry.Storage))
	return nil
}

func (s *Store) GetKey(name string) (string, bool, error) {
	s.mu.Lock()
	entry, ok := s.registry[name]
	s.mu.Unlock()
	if !ok {
		s.audit("credential_access", name, false, "key not found")
		return "", false, nil
	}

	switch entry.Storage {
	case domain.StorageKeychain:
		value, err := s.keyringGet(keychainService, name)
		if err != nil {
			s.audit("credential_access", name, false, "keychain read failed")
			return "", false, fmt.Errorf("keychain read for %s: %w", name, err)
		}
		s.audit("credential_access", name, true, "")
		return value, true, nil
	default:
		value, err := s.openFallback(entry.Value)
		if err != nil {
			s.audit("credential_access", name, false, "fallback decrypt failed")
			return "", false, fmt.Errorf("fallback read for %s: %w", name, err)
		}
		s.audit("credential_access", name, true, "")
		return value, true, nil
	}
}

func (s *Store) DeleteKey(name string) error {
	s.mu.Lock()
	entry, ok := s.registry[name]
	if ok {
		delete(s.registry, name)
	}
	var err error
	if ok {
		err = s.saveRegistryLocked()
	}
	s.mu.Unlock()

	if !ok {
		s.audit("credential_delete", name, false, "key not found")
		return fmt.Errorf("key %s not found", name)
	}
	if err != nil {
		return err
	}
	if entry.Storage == domain.StorageKeychain {
		if kerr := s.keyringDel(keychainService, name); kerr != nil {
			s.logger.Warn("keychain delete failed", "key", name, "err", kerr)
		}
	}
	s.audit("credential_delete", name, true, "")
	return nil
}

func (s *Store) ListKeys() ([]domain.StoredKeyInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	infos := make([]domain.StoredKeyInfo, 0, len(s.registry))
	for name, entry := range s.registry {
		infos = append(infos, domain.StoredKeyInfo{
			Name:     name,
			Storage:  entry.Storage,
			HasValue: entry.Storage == domain.StorageKeychain || entry.Value != "",
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

// ClearAllKeys wipes every stored secret. The fallback salt is deleted too,
// so any ciphertext that survives (backups, copies) can no longer be opened
// with state from this machine.
func (s *Store) ClearAllKeys() error {
	s.mu.Lock()
	names := make([]string, 0, len(s.registry))
	keychainNames := make([]string, 0)
	for name, entry := range s.registry {
		names = append(names, name)
		if entry.Storage == domain.StorageKeychain {
			keychainNames = append(keychainNames, name)
		}
	}
	s.registry = make(map[string]registryEntry)
	err := s.saveRegistryLocked()
	s.mu.Unlock()
	if err != nil {
		return err
	}

	for _, name := range keychainNames {
		if kerr := s.keyringDel(keychainService, name); kerr != nil {
			s.logger.Warn("keychain delete failed during clear", "key", name, "err", kerr)
		}
	}
	if rerr := os.Remove(filepath.Join(s.dir, saltFile)); rerr != nil && !os.IsNotExist(rerr) {
		s.logger.Warn("salt removal failed during clear", "err", rerr)
	}
	s.audit("credential_clear", fmt.Sprintf("%d keys", len(names)), true, "")
	return nil
}

func (s *Store) sealFallback(value string) (string, error) {
	key, err := s.fallbackKey(true)
	if err != nil {
		return "", err
	}
	return encrypt(key, value)
}

func (s *Store) openFallback(ciphertext string) (string, error) {
	key, err := s.fallbackKey(false)
	if err != nil {
		return "", err
	}
	return decrypt(key, ciphertext)
}

// fallbackKey loads or (when create is set) creates the salt and derives
// the file key from it.
func (s *Store) fallbackKey(create bool) ([]byte, error) {
	path := filepath.Join(s.dir, saltFile)
	salt, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		if !create {
			return nil, fmt.Errorf("fallback salt missing; secrets are unrecoverable")
		}
		salt, err = newSalt()
		if err != nil {
			return nil, err
		}
		if err := os.WriteFile(path, salt, 0o600); err != nil {
			return nil, fmt.Errorf("write salt: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("read salt: %w", err)
	}
	return deriveKey(salt)
}

func (s *Store) loadRegistry() error {
	data, err := os.ReadFile(filepath.Join(s.dir, registryFile))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read key registry: %w", err)
	}
	if err := json.Unmarshal(data, &s.registry); err != nil {
		return fmt.Errorf("parse key registry: %w", err)
	}
	return nil
}

func (s *Store) saveRegistryLocked() error {
	data, err := json.MarshalIndent(s.registry, "", "  ")
	if err != nil {
		return fmt.Errorf("serialize key registry: %w", err)
	}
	path := filepath.Join(s.dir, registryFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write key registry: %w", err)
	}
	return os.Rename(tmp, path)
}

func (s *Store) audit(action, name string, allowed bool, reason string) {
	if s.sink == nil {
		return
	}
	s.sink.Log(context.Background(), audit.CredentialEntry(action, name, allowed, reason))
}
