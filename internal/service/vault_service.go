package service

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"webhook-relay/pkg/apperror"
)

const (
	vaultIVSize  = 16 // bytes, random per encryption call
	vaultTagSize = 16 // GCM authentication tag
	vaultKeySize = 32 // AES-256
)

// AESVault implements ports.SecretVault using AES-256-GCM.
// Tokens are encoded as ivHex:tagHex:cipherHex.
type AESVault struct {
	key []byte
}

// NewAESVault creates a vault from a 64-character hex key (32 bytes decoded).
// Missing or malformed keys are rejected here so misconfiguration fails at
// startup, never by silently storing plaintext.
func NewAESVault(hexKey string) (*AESVault, error) {
	if hexKey == "" {
		return nil, apperror.ErrNoEncryptionKey()
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, apperror.ErrInvalidEncryptionKey(err)
	}
	if len(key) != vaultKeySize {
		return nil, apperror.ErrInvalidEncryptionKey(
			fmt.Errorf("key must be %d bytes, got %d", vaultKeySize, len(key)))
	}
	return &AESVault{key: key}, nil
}

// Encrypt encrypts plaintext with a fresh random IV.
func (v *AESVault) Encrypt(plaintext string) (string, error) {
	aesGCM, err := v.newGCM()
	if err != nil {
		return "", err
	}

	iv := make([]byte, vaultIVSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", apperror.ErrEncryptionFailure(fmt.Errorf("generating iv: %w", err))
	}

	// Seal appends the tag to the ciphertext; split them for the token.
	sealed := aesGCM.Seal(nil, iv, []byte(plaintext), nil)
	cipherBytes := sealed[:len(sealed)-vaultTagSize]
	tag := sealed[len(sealed)-vaultTagSize:]

	return fmt.Sprintf("%s:%s:%s",
		hex.EncodeToString(iv),
		hex.EncodeToString(tag),
		hex.EncodeToString(cipherBytes),
	), nil
}

// Decrypt decodes and authenticates a token produced by Encrypt.
func (v *AESVault) Decrypt(token string) (string, error) {
	iv, tag, cipherBytes, ok := splitToken(token)
	if !ok {
		return "", apperror.ErrCiphertextMalformed()
	}

	aesGCM, err := v.newGCM()
	if err != nil {
		return "", err
	}

	plaintext, err := aesGCM.Open(nil, iv, append(cipherBytes, tag...), nil)
	if err != nil {
		return "", apperror.ErrCiphertextIntegrity(err)
	}
	return string(plaintext), nil
}

// IsEncrypted reports whether value has the ivHex:tagHex:cipherHex shape.
// Structural check only, used to recognize legacy plaintext secrets during
// migration, not to prove the value is genuine ciphertext.
func (v *AESVault) IsEncrypted(value string) bool {
	_, _, _, ok := splitToken(value)
	return ok
}

func (v *AESVault) newGCM() (cipher.AEAD, error) {
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return nil, apperror.ErrEncryptionFailure(fmt.Errorf("creating cipher: %w", err))
	}
	aesGCM, err := cipher.NewGCMWithNonceSize(block, vaultIVSize)
	if err != nil {
		return nil, apperror.ErrEncryptionFailure(fmt.Errorf("creating GCM: %w", err))
	}
	return aesGCM, nil
}

func splitToken(token string) (iv, tag, cipherBytes []byte, ok bool) {
	parts := strings.Split(token, ":")
	if len(parts) != 3 {
		return nil, nil, nil, false
	}
	iv, err := hex.DecodeString(parts[0])
	if err != nil || len(iv) != vaultIVSize {
		return nil, nil, nil, false
	}
	tag, err = hex.DecodeString(parts[1])
	if err != nil || len(tag) != vaultTagSize {
		return nil, nil, nil, false
	}
	cipherBytes, err = hex.DecodeString(parts[2])
	if err != nil {
		return nil, nil, nil, false
	}
	return iv, tag, cipherBytes, true
}
