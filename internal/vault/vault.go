package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/scrypt"
)

// Stored format is hex(iv):hex(tag):hex(ciphertext). The IV is 16 bytes and
// the GCM tag binds the fixed associated data below, so a credential blob
// cannot be replayed in another context.
const (
	ivSize         = 16
	associatedData = "payment-credentials"
)

// DecryptionError covers malformed ciphertext and failed authentication.
// Callers treat it as "credentials unavailable", never as partial plaintext.
type DecryptionError struct {
	Reason string
}

func (e *DecryptionError) Error() string {
	return "vault: decryption failed: " + e.Reason
}

// Vault encrypts and decrypts gateway secrets at rest. The AES-256 key is
// derived once at construction; key material is never logged.
type Vault struct {
	aead cipher.AEAD
}

// New derives the symmetric key from the master secret via scrypt and
// prepares the AEAD. Fails only on bad KDF parameters or cipher setup.
func New(masterSecret, salt string) (*Vault, error) {
	if masterSecret == "" {
		return nil, fmt.Errorf("vault: master secret required")
	}
	key, err := scrypt.Key([]byte(masterSecret), []byte(salt), 32768, 8, 1, 32)
	if err != nil {
		return nil, fmt.Errorf("vault: key derivation: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, ivSize)
	if err != nil {
		return nil, fmt.Errorf("vault: gcm: %w", err)
	}
	return &Vault{aead: aead}, nil
}

// Encrypt seals plaintext under a fresh random IV.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("vault: iv: %w", err)
	}
	sealed := v.aead.Seal(nil, iv, []byte(plaintext), []byte(associatedData))
	// Seal appends the tag to the ciphertext; split them for the stored format.
	tagStart := len(sealed) - v.aead.Overhead()
	ct, tag := sealed[:tagStart], sealed[tagStart:]
	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(tag) + ":" + hex.EncodeToString(ct), nil
}

// Decrypt opens a value produced by Encrypt.
func (v *Vault) Decrypt(encrypted string) (string, error) {
	parts := strings.Split(encrypted, ":")
	if len(parts) != 3 {
		return "", &DecryptionError{Reason: fmt.Sprintf("expected 3 segments, got %d", len(parts))}
	}
	iv, err := hex.DecodeString(parts[0])
	if err != nil || len(iv) != ivSize {
		return "", &DecryptionError{Reason: "malformed iv"}
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil || len(tag) != v.aead.Overhead() {
		return "", &DecryptionError{Reason: "malformed auth tag"}
	}
	ct, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", &DecryptionError{Reason: "malformed ciphertext"}
	}
	plaintext, err := v.aead.Open(nil, iv, append(ct, tag...), []byte(associatedData))
	if err != nil {
		return "", &DecryptionError{Reason: "authentication failed"}
	}
	return string(plaintext), nil
}

// Hash returns the hex sha256 digest of text, for one-way comparisons.
func Hash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
