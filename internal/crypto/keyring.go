package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

// Keyring holds the versioned AES-256 archive keys and the ledger signing secret
type Keyring struct {
	keys           map[int][]byte
	currentVersion int
	signingSecret  []byte
	mu             sync.RWMutex
}

// NewKeyring creates a keyring from base64 keys. Key i (0-based) gets version i+1.
func NewKeyring(keysBase64 []string, currentVersion int, signingSecretBase64 string) (*Keyring, error) {
	if len(keysBase64) == 0 {
		return nil, errors.New("at least one archive key is required")
	}

	keys := make(map[int][]byte, len(keysBase64))
	for i, keyB64 := range keysBase64 {
		key, err := base64.StdEncoding.DecodeString(keyB64)
		if err != nil {
			return nil, fmt.Errorf("failed to decode key %d: %w", i+1, err)
		}
		if len(key) != 32 {
			return nil, fmt.Errorf("key %d must be 32 bytes for AES-256, got %d", i+1, len(key))
		}
		keys[i+1] = key
	}
	if _, ok := keys[currentVersion]; !ok {
		return nil, fmt.Errorf("current version %d not found in keys", currentVersion)
	}

	secret, err := base64.StdEncoding.DecodeString(signingSecretBase64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode signing secret: %w", err)
	}
	if len(secret) == 0 {
		return nil, errors.New("signing secret is required")
	}

	return &Keyring{keys: keys, currentVersion: currentVersion, signingSecret: secret}, nil
}

// KeyVersion returns the version new ciphertexts and signatures are made with
func (k *Keyring) KeyVersion() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.currentVersion
}

// Seal encrypts plaintext with AES-256-GCM under the current key. The nonce is
// prepended to the ciphertext.
func (k *Keyring) Seal(plaintext []byte) (string, int, error) {
	k.mu.RLock()
	key := k.keys[k.currentVersion]
	version := k.currentVersion
	k.mu.RUnlock()

	gcm, err := newGCM(key)
	if err != nil {
		return "", 0, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", 0, fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), version, nil
}

// Open decrypts a value produced by Seal with the given key version
func (k *Keyring) Open(ciphertext string, keyVersion int) ([]byte, error) {
	k.mu.RLock()
	key, ok := k.keys[keyVersion]
	k.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("key version %d not found", keyVersion)
	}

	decoded, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("failed to decode ciphertext: %w", err)
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(decoded) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}
	nonce, body := decoded[:gcm.NonceSize()], decoded[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, body, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// Sign returns the hex HMAC-SHA256 of the pipe-joined fields
func (k *Keyring) Sign(fields ...string) string {
	h := hmac.New(sha256.New, k.signingSecret)
	h.Write([]byte(strings.Join(fields, "|")))
	return hex.EncodeToString(h.Sum(nil))
}

// VerifySignature checks a signature made by Sign over the same fields
func (k *Keyring) VerifySignature(signature string, fields ...string) bool {
	return hmac.Equal([]byte(k.Sign(fields...)), []byte(signature))
}

// ChainHash links a record to its predecessor: sha256(prevHash || data)
func ChainHash(prevHash string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(prevHash))
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// MaskPII masks a customer attribute for logging
func MaskPII(value string, piiType string) string {
	if value == "" {
		return ""
	}

	switch piiType {
	case "email":
		at := strings.IndexByte(value, '@')
		if at <= 0 {
			return "***"
		}
		return value[:1] + "***" + value[at:]
	case "phone":
		if len(value) < 4 {
			return "****"
		}
		return value[:2] + "***" + value[len(value)-4:]
	case "account":
		if len(value) < 4 {
			return "****"
		}
		return "****" + value[len(value)-4:]
	case "name":
		if len(value) < 2 {
			return "***"
		}
		return value[:1] + "***"
	default:
		return "***MASKED***"
	}
}
