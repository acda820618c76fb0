package ledger

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// SecretKey is the secret store key holding the ledger signing secret
const SecretKey = "ledgerSecret"

// ErrSecretNotFound is returned by a SecretStore for an unknown key
var ErrSecretNotFound = errors.New("secret not found")

// SecretStore is workspace-scoped secure storage
type SecretStore interface {
	Get(ctx context.Context, key string) (string, error)
	Put(ctx context.Context, key, value string) error
}

// FileSecretStore keeps one secret per file in a 0700 directory
type FileSecretStore struct {
	dir string
}

// NewFileSecretStore returns a store rooted at dir
func NewFileSecretStore(dir string) *FileSecretStore {
	return &FileSecretStore{dir: dir}
}

// Get reads the secret for key
func (s *FileSecretStore) Get(_ context.Context, key string) (string, error) {
	path, err := s.path(key)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrSecretNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read secret %s: %w", key, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Put atomically writes the secret for key with 0600 permissions
func (s *FileSecretStore) Put(_ context.Context, key, value string) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return fmt.Errorf("failed to create secrets directory: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, "."+key+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp secret file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to restrict secret file: %w", err)
	}
	if _, err := tmp.WriteString(value); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write secret: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close secret file: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

func (s *FileSecretStore) path(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, `/\`) || strings.HasPrefix(key, ".") {
		return "", fmt.Errorf("invalid secret key %q", key)
	}
	return filepath.Join(s.dir, key), nil
}

// generateSecret returns 32 random bytes hex encoded
func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate ledger secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// usableSecret rejects empty, short and placeholder signing material
func usableSecret(s string) bool {
	s = strings.TrimSpace(s)
	if len(s) < 32 {
		return false
	}
	lower := strings.ToLower(s)
	for _, marker := range []string{"placeholder", "changeme", "stub"} {
		if strings.Contains(lower, marker) {
			return false
		}
	}
	return true
}

// MemorySecretStore holds secrets in process memory. Used for ephemeral
// workspaces and tests.
type MemorySecretStore struct {
	mu     sync.Mutex
	values map[string]string
}

// NewMemorySecretStore returns an empty store
func NewMemorySecretStore() *MemorySecretStore {
	return &MemorySecretStore{values: map[string]string{}}
}

// Get returns the secret for key
func (s *MemorySecretStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	if !ok {
		return "", ErrSecretNotFound
	}
	return v, nil
}

// Put stores value under key
func (s *MemorySecretStore) Put(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}
