package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

var ErrCiphertextTooShort = errors.New("ciphertext too short")

// Sealer encrypts reporter identities with AES-256-GCM.
// Output is base64(nonce || ciphertext).
type Sealer struct {
	gcm cipher.AEAD
}

// KeyFrom returns a 32-byte key.
// Priority:
// 1) encKey (base64-encoded 32 bytes, e.g. ANON_ENC_KEY)
// 2) sha256 of fallbackSecret (e.g. JWT_SECRET)
func KeyFrom(encKey, fallbackSecret string) ([]byte, error) {
	if v := strings.TrimSpace(encKey); v != "" {
		b, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return nil, fmt.Errorf("decode encryption key: %w", err)
		}
		if len(b) != 32 {
			return nil, errors.New("encryption key must decode to 32 bytes")
		}
		return b, nil
	}

	secret := strings.TrimSpace(fallbackSecret)
	if secret == "" {
		secret = "SUPER_SECRET_KEY_CHANGE_ME"
	}
	sum := sha256.Sum256([]byte(secret))
	return sum[:], nil
}

func NewSealer(key []byte) (*Sealer, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Sealer{gcm: gcm}, nil
}

func (s *Sealer) Seal(plaintext string) (string, error) {
	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	payload := s.gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(payload), nil
}

func (s *Sealer) Open(ciphertextB64 string) (string, error) {
	payload, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return "", err
	}

	ns := s.gcm.NonceSize()
	if len(payload) < ns {
		return "", ErrCiphertextTooShort
	}
	nonce, ct := payload[:ns], payload[ns:]

	pt, err := s.gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}
