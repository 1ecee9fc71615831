package settings

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// Key derivation parameters. Lighter than password hashing: the passphrase
// is a deployment secret and a seal happens once per login.
const (
	sealTime    = 1
	sealMemory  = 64 * 1024
	sealThreads = 4
	sealSaltLen = 16

	sealPrefix = "sealed:v1:"
)

// Sealer encrypts values at rest with XChaCha20-Poly1305 under a key
// derived from a passphrase with Argon2id. Each sealed value carries its own
// salt and nonce.
type Sealer struct {
	passphrase []byte
}

// NewSealer returns a Sealer for passphrase, or nil when passphrase is empty.
// A nil *Sealer stores values unsealed.
func NewSealer(passphrase string) *Sealer {
	if passphrase == "" {
		return nil
	}
	return &Sealer{passphrase: []byte(passphrase)}
}

// Seal encrypts plain. A nil Sealer returns plain unchanged.
func (s *Sealer) Seal(plain string) (string, error) {
	if s == nil || plain == "" {
		return plain, nil
	}

	salt := make([]byte, sealSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}
	aead, err := chacha20poly1305.NewX(s.key(salt))
	if err != nil {
		return "", fmt.Errorf("creating cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	out := make([]byte, 0, len(salt)+len(nonce)+len(plain)+aead.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	out = aead.Seal(out, nonce, []byte(plain), nil)
	return sealPrefix + base64.RawStdEncoding.EncodeToString(out), nil
}

// Open decrypts a value produced by Seal. Unsealed values pass through, so
// a key can be introduced on an existing store.
func (s *Sealer) Open(value string) (string, error) {
	encoded, sealed := strings.CutPrefix(value, sealPrefix)
	if !sealed {
		return value, nil
	}
	if s == nil {
		return "", ErrSealed
	}

	raw, err := base64.RawStdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decoding sealed value: %w", err)
	}
	if len(raw) < sealSaltLen+chacha20poly1305.NonceSizeX {
		return "", fmt.Errorf("sealed value too short")
	}
	salt := raw[:sealSaltLen]
	nonce := raw[sealSaltLen : sealSaltLen+chacha20poly1305.NonceSizeX]
	ciphertext := raw[sealSaltLen+chacha20poly1305.NonceSizeX:]

	aead, err := chacha20poly1305.NewX(s.key(salt))
	if err != nil {
		return "", fmt.Errorf("creating cipher: %w", err)
	}
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("opening sealed value: %w", err)
	}
	return string(plain), nil
}

func (s *Sealer) key(salt []byte) []byte {
	return argon2.IDKey(s.passphrase, salt, sealTime, sealMemory, sealThreads, chacha20poly1305.KeySize)
}
