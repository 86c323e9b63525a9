package services

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	AlgorithmXChaCha20 = "xchacha20-poly1305"
	AlgorithmNone      = "none"

	keySaltBytes = 16
)

// KeyRing derives a per-document data key from a versioned master key with HKDF-SHA256.
// The key id stored on the document is "<version>:<hex salt>", so rotating the active
// version never strands older objects.
type KeyRing struct {
	masters map[string][]byte
	active  string
}

func NewKeyRing(masters map[string][]byte, active string) (*KeyRing, error) {
	if len(masters) == 0 {
		return nil, errors.New("keyring: no master keys")
	}
	for version, key := range masters {
		if len(key) != chacha20poly1305.KeySize {
			return nil, fmt.Errorf("keyring: master key %s must be %d bytes", version, chacha20poly1305.KeySize)
		}
	}
	if _, ok := masters[active]; !ok {
		return nil, fmt.Errorf("keyring: active version %q not found", active)
	}
	return &KeyRing{masters: masters, active: active}, nil
}

func (k *KeyRing) ActiveVersion() string {
	return k.active
}

// NewDataKey creates a fresh data key under the active master.
func (k *KeyRing) NewDataKey(userID, documentID string) (string, []byte, error) {
	salt := make([]byte, keySaltBytes)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", nil, err
	}
	keyID := k.active + ":" + hex.EncodeToString(salt)
	key, err := k.derive(k.masters[k.active], salt, userID, documentID)
	if err != nil {
		return "", nil, err
	}
	return keyID, key, nil
}

// DataKey re-derives the key for keyID. It fails with ErrKeyUnavailable when the
// version is unknown or the id is malformed.
func (k *KeyRing) DataKey(keyID, userID, documentID string) ([]byte, error) {
	version, saltHex, ok := strings.Cut(keyID, ":")
	if !ok {
		return nil, fmt.Errorf("%w: malformed key id", ErrKeyUnavailable)
	}
	master, ok := k.masters[version]
	if !ok {
		return nil, fmt.Errorf("%w: unknown key version %s", ErrKeyUnavailable, version)
	}
	salt, err := hex.DecodeString(saltHex)
	if err != nil || len(salt) != keySaltBytes {
		return nil, fmt.Errorf("%w: malformed key salt", ErrKeyUnavailable)
	}
	return k.derive(master, salt, userID, documentID)
}

func (k *KeyRing) derive(master, salt []byte, userID, documentID string) ([]byte, error) {
	info := []byte("kyc-document|" + userID + "|" + documentID)
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, salt, info), key); err != nil {
		return nil, err
	}
	return key, nil
}

func associatedData(userID, documentID string) []byte {
	return []byte(userID + "|" + documentID)
}

// seal returns nonce || ciphertext.
func seal(key, plaintext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plaintext, aad), nil
}

func openSealed(key, sealed, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrCiphertextTooShort
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	return aead.Open(nil, nonce, ciphertext, aad)
}
