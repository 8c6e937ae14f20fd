package crypto

import (
	"fmt"
	"os"
	"path/filepath"
)

// LoadOrCreateInstanceKey reads a 64-byte Ed25519 private key from path,
// generating and persisting a fresh one if the file does not yet exist.
// This backs each merchant instance's own signing keypair (spec §3).
func LoadOrCreateInstanceKey(path string) (*PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err == nil {
		return PrivateKeyFromBytes(raw)
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("crypto: read instance key %s: %w", path, err)
	}
	key, _, genErr := GenerateKeyPair()
	if genErr != nil {
		return nil, genErr
	}
	if mkErr := os.MkdirAll(filepath.Dir(path), 0o700); mkErr != nil {
		return nil, fmt.Errorf("crypto: create keyfile directory: %w", mkErr)
	}
	if writeErr := os.WriteFile(path, key.Bytes(), 0o600); writeErr != nil {
		return nil, fmt.Errorf("crypto: persist instance key %s: %w", path, writeErr)
	}
	return key, nil
}

// ErasePrivateKey overwrites and removes the keyfile at path. Deleting an
// instance erases its signing private key while preserving audit rows
// (spec §3), which this function implements at the filesystem layer.
func ErasePrivateKey(path string) error {
	if info, err := os.Stat(path); err == nil {
		_ = os.WriteFile(path, make([]byte, info.Size()), 0o600)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("crypto: erase instance key %s: %w", path, err)
	}
	return nil
}
