// Package security provides the AES-GCM-at-rest primitives shared by
// the dead-letter store and the admin API's token store. Adapted
// near-verbatim from the teacher's internal/pkg/security/crypto.go —
// the master-key resolution order (env, then file, then generate) and
// the AES-GCM seal/open shape survive unchanged; only the environment
// variable name and error-wrapping style moved to this module's
// conventions.
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// MasterKey is the process-wide 32-byte key used for at-rest encryption
// of dead-lettered batches and admin API tokens.
var MasterKey []byte

// InitMasterKey resolves the master key from LOGPIPE_MASTER_KEY, then
// keyPath, generating and persisting a fresh key if neither is present.
// Returns generated=true when a new key was written to keyPath.
func InitMasterKey(keyPath string) (generated bool, err error) {
	if envKey := os.Getenv("LOGPIPE_MASTER_KEY"); envKey != "" {
		key, err := hex.DecodeString(envKey)
		if err == nil && len(key) == 32 {
			MasterKey = key
			return false, nil
		}
	}

	if _, err := os.Stat(keyPath); err == nil {
		data, err := os.ReadFile(keyPath)
		if err != nil {
			return false, fmt.Errorf("security: read key file: %w", err)
		}
		key, err := hex.DecodeString(strings.TrimSpace(string(data)))
		if err == nil && len(key) == 32 {
			MasterKey = key
			return false, nil
		}
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return false, fmt.Errorf("security: generate master key: %w", err)
	}
	if err := os.WriteFile(keyPath, []byte(hex.EncodeToString(key)), 0600); err != nil {
		return false, fmt.Errorf("security: persist master key to %s: %w", keyPath, err)
	}
	MasterKey = key
	return true, nil
}

// Encrypt seals plaintext with AES-GCM under MasterKey, returning
// nonce||ciphertext.
func Encrypt(plaintext []byte) ([]byte, error) {
	gcm, err := gcmFromMasterKey()
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a nonce||ciphertext blob produced by Encrypt.
func Decrypt(data []byte) ([]byte, error) {
	gcm, err := gcmFromMasterKey()
	if err != nil {
		return nil, err
	}
	n := gcm.NonceSize()
	if len(data) < n {
		return nil, errors.New("security: ciphertext too short")
	}
	nonce, ciphertext := data[:n], data[n:]
	return gcm.Open(nil, nonce, ciphertext, nil)
}

func gcmFromMasterKey() (cipher.AEAD, error) {
	if len(MasterKey) != 32 {
		return nil, errors.New("security: master key not initialized")
	}
	block, err := aes.NewCipher(MasterKey)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
