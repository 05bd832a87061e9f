// Package identity manages the node's stable identity: the configured node
// ID plus an Ed25519 keypair whose fingerprint is published in the discovery
// advertisement so the pairing layer can correlate nodes.
package identity

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
)

const (
	privatePEMType = "ED25519 PRIVATE KEY"
	publicPEMType  = "ED25519 PUBLIC KEY"

	defaultPrivateKeyFile = "node_key.pem"
	defaultPublicKeyFile  = "node_key_pub.pem"
)

// Identity is the resolved local node identity.
type Identity struct {
	NodeID      string
	PrivateKey  ed25519.PrivateKey
	PublicKey   ed25519.PublicKey
	Fingerprint string
}

// Ensure loads the node keypair from disk, generating it on first run.
// privatePath and publicPath override the default key locations under
// dataDir/keys when non-empty (security.key_path / security.cert_path).
func Ensure(nodeID, dataDir, privatePath, publicPath string) (*Identity, error) {
	if strings.TrimSpace(nodeID) == "" {
		return nil, errors.New("node ID is required")
	}

	keysDir := filepath.Join(dataDir, "keys")
	if privatePath == "" {
		privatePath = filepath.Join(keysDir, defaultPrivateKeyFile)
	}
	if publicPath == "" {
		publicPath = filepath.Join(keysDir, defaultPublicKeyFile)
	}

	privateKey, publicKey, err := ensureKeyPair(privatePath, publicPath)
	if err != nil {
		return nil, err
	}

	return &Identity{
		NodeID:      nodeID,
		PrivateKey:  privateKey,
		PublicKey:   publicKey,
		Fingerprint: Fingerprint(publicKey),
	}, nil
}

func ensureKeyPair(privatePath, publicPath string) (ed25519.PrivateKey, ed25519.PublicKey, error) {
	privateKey, err := loadPrivateKey(privatePath)
	if err == nil {
		publicKey := privateKey.Public().(ed25519.PublicKey)

		stored, pubErr := loadPublicKey(publicPath)
		if pubErr != nil || !bytes.Equal(stored, publicKey) {
			if err := savePublicKey(publicPath, publicKey); err != nil {
				return nil, nil, err
			}
		}

		return privateKey, publicKey, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, nil, err
	}

	publicKey, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate node keypair: %w", err)
	}

	if err := savePrivateKey(privatePath, privateKey); err != nil {
		return nil, nil, err
	}
	if err := savePublicKey(publicPath, publicKey); err != nil {
		return nil, nil, err
	}

	return privateKey, publicKey, nil
}

// Fingerprint returns the truncated SHA-256 hex fingerprint of a public key.
func Fingerprint(publicKey ed25519.PublicKey) string {
	sum := sha256.Sum256(publicKey)
	return hex.EncodeToString(sum[:16])
}

// FormatFingerprint returns fingerprint text grouped in chunks of 4
// uppercase characters for operator display.
func FormatFingerprint(fingerprint string) string {
	clean := strings.ToUpper(strings.ReplaceAll(fingerprint, " ", ""))
	if clean == "" {
		return ""
	}

	var b strings.Builder
	for i := 0; i < len(clean); i += 4 {
		if i > 0 {
			b.WriteByte(' ')
		}

		end := i + 4
		if end > len(clean) {
			end = len(clean)
		}
		b.WriteString(clean[i:end])
	}

	return b.String()
}
