package identity

import (
	"crypto/ed25519"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
)

func loadPrivateKey(path string) (ed25519.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read node private key: %w", err)
	}

	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("decode node private key %q: no PEM block", path)
	}
	if block.Type != privatePEMType {
		return nil, fmt.Errorf("decode node private key %q: unexpected type %q", path, block.Type)
	}
	if len(block.Bytes) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("decode node private key %q: invalid key size %d", path, len(block.Bytes))
	}

	return ed25519.PrivateKey(block.Bytes), nil
}

func loadPublicKey(path string) (ed25519.PublicKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read node public key: %w", err)
	}

	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("decode node public key %q: no PEM block", path)
	}
	if block.Type != publicPEMType {
		return nil, fmt.Errorf("decode node public key %q: unexpected type %q", path, block.Type)
	}
	if len(block.Bytes) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("decode node public key %q: invalid key size %d", path, len(block.Bytes))
	}

	return ed25519.PublicKey(block.Bytes), nil
}

func savePrivateKey(path string, key ed25519.PrivateKey) error {
	if len(key) != ed25519.PrivateKeySize {
		return fmt.Errorf("save node private key: invalid key size %d", len(key))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create key directory: %w", err)
	}

	block := &pem.Block{Type: privatePEMType, Bytes: key}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		return fmt.Errorf("write node private key: %w", err)
	}

	return nil
}

func savePublicKey(path string, key ed25519.PublicKey) error {
	if len(key) != ed25519.PublicKeySize {
		return fmt.Errorf("save node public key: invalid key size %d", len(key))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create key directory: %w", err)
	}

	block := &pem.Block{Type: publicPEMType, Bytes: key}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o644); err != nil {
		return fmt.Errorf("write node public key: %w", err)
	}

	return nil
}
