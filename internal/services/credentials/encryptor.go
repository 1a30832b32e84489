package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const pbkdf2Iterations = 100_000

// AESEncryptor implements Encryptor with AES-256-GCM, keyed by a PBKDF2-SHA256
// derivation of a master key and salt (100,000 iterations), built on stdlib
// crypto/aes+crypto/cipher with golang.org/x/crypto/pbkdf2 for key derivation.
type AESEncryptor struct {
	gcm cipher.AEAD
}

// NewAESEncryptor derives a 256-bit key from masterKey/salt and constructs an
// AESEncryptor. masterKey must be at least 32 bytes and salt at least 16.
func NewAESEncryptor(masterKey, salt string) (*AESEncryptor, error) {
	if len(masterKey) < 32 {
		return nil, fmt.Errorf("encryption master key must be at least 32 characters")
	}
	if len(salt) < 16 {
		return nil, fmt.Errorf("encryption salt must be at least 16 characters")
	}

	key := pbkdf2.Key([]byte(masterKey), []byte(salt), pbkdf2Iterations, 32, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("construct aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("construct gcm: %w", err)
	}

	return &AESEncryptor{gcm: gcm}, nil
}

// Encrypt seals plaintext with a random nonce, prepending the nonce to the
// ciphertext so Decrypt is self-contained.
func (e *AESEncryptor) Encrypt(plaintext string) ([]byte, error) {
	if plaintext == "" {
		return nil, fmt.Errorf("cannot encrypt empty string")
	}

	nonce := make([]byte, e.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	sealed := e.gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return sealed, nil
}

// Decrypt reverses Encrypt, detecting tampering via the GCM authentication
// tag.
func (e *AESEncryptor) Decrypt(ciphertext []byte) (string, error) {
	if len(ciphertext) == 0 {
		return "", fmt.Errorf("cannot decrypt empty bytes")
	}

	nonceSize := e.gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := e.gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("decryption failed: %w", err)
	}
	return string(plaintext), nil
}
