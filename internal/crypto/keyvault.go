package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
)

// KeyVault encrypts an OwnIdentity's insert URI at rest using AES-256-GCM
// (spec §3 "insert_uri ... never revealed"). The master key is supplied by
// the operator (config.EngineConfig.KeyVaultMasterKey), never generated or
// read from the environment by this package itself.
type KeyVault struct {
	masterKey []byte // AES-256 key (32 bytes)
}

// NewKeyVault creates a KeyVault from a base64-encoded 32-byte master key.
func NewKeyVault(masterKeyBase64 string) (*KeyVault, error) {
	if masterKeyBase64 == "" {
		return nil, fmt.Errorf("master key is required")
	}

	masterKey, err := base64.StdEncoding.DecodeString(masterKeyBase64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode master key: %w", err)
	}

	if len(masterKey) != 32 {
		return nil, fmt.Errorf("master key must be 32 bytes (AES-256), got %d bytes", len(masterKey))
	}

	return &KeyVault{
		masterKey: masterKey,
	}, nil
}

// EncryptPrivateKey encrypts a plaintext value (here, an encoded InsertURI,
// see EncryptInsertURI) using AES-256-GCM.
func (kv *KeyVault) EncryptPrivateKey(privateKeyBase64 string) (string, error) {
	block, err := aes.NewCipher(kv.masterKey)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	// Generate a random nonce
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	// Encrypt the private key
	plaintext := []byte(privateKeyBase64)
	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)

	// Return base64-encoded encrypted data
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// DecryptPrivateKey decrypts a value encrypted by EncryptPrivateKey.
func (kv *KeyVault) DecryptPrivateKey(encryptedPrivateKey string) (string, error) {
	block, err := aes.NewCipher(kv.masterKey)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	// Decode base64
	ciphertext, err := base64.StdEncoding.DecodeString(encryptedPrivateKey)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}

	// Extract nonce
	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]

	// Decrypt
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}

	return string(plaintext), nil
}
