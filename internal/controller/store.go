// Package controller holds the admin API's bearer-token store: the
// tokens that may call the diagnostics/dead-letter endpoints. Adapted
// from the teacher's internal/controller, which also carried user
// accounts and system configuration for its web login; SPEC_FULL.md's
// admin surface is machine-to-machine only, so the User/Config/session
// concepts are dropped and only the token bookkeeping survives.
package controller

import (
	"encoding/json"
	"errors"
	"os"
	"sync"

	"github.com/coffersTech/logpipe/internal/security"
)

// APIToken is a bearer credential allowed to call the admin API.
type APIToken struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	TokenHash string `json:"tokenHash"` // bcrypt hash of the raw token
	CreatedAt int64  `json:"createdAt"`
}

// metaData is the encrypted-at-rest container persisted to disk.
type metaData struct {
	Tokens []APIToken `json:"tokens"`
}

// Store holds and persists the set of admin API tokens.
type Store struct {
	filePath string
	mu       sync.RWMutex
	data     *metaData
}

// NewStore creates a token store backed by filePath.
func NewStore(filePath string) *Store {
	return &Store{filePath: filePath, data: &metaData{Tokens: make([]APIToken, 0)}}
}

// Load reads the token set from disk, decrypting via internal/security.
// A missing file is not an error: it means no tokens have been issued
// yet.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.filePath); os.IsNotExist(err) {
		return nil
	}

	encrypted, err := os.ReadFile(s.filePath)
	if err != nil {
		return err
	}
	if len(encrypted) == 0 {
		return nil
	}

	decrypted, err := security.Decrypt(encrypted)
	if err != nil {
		return errors.New("controller: failed to decrypt token store (invalid key or corrupted file): " + err.Error())
	}
	return json.Unmarshal(decrypted, s.data)
}

// Save writes the token set to disk, encrypted.
func (s *Store) Save() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	plain, err := json.Marshal(s.data)
	if err != nil {
		return err
	}
	encrypted, err := security.Encrypt(plain)
	if err != nil {
		return err
	}
	return os.WriteFile(s.filePath, encrypted, 0600)
}

// AddToken appends a new token and persists the store.
func (s *Store) AddToken(t APIToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Tokens = append(s.data.Tokens, t)
	return s.saveLocked()
}

// DeleteToken removes the token with the given id.
func (s *Store) DeleteToken(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, t := range s.data.Tokens {
		if t.ID == id {
			s.data.Tokens = append(s.data.Tokens[:i], s.data.Tokens[i+1:]...)
			return s.saveLocked()
		}
	}
	return os.ErrNotExist
}

// Tokens returns a copy of every known token, for bearer-token
// comparison at request time.
func (s *Store) Tokens() []APIToken {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]APIToken, len(s.data.Tokens))
	copy(out, s.data.Tokens)
	return out
}
