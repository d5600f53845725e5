package cryptoutil

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
)

// EncryptedBlob is the wire form of an AEAD-encrypted payload. All fields
// are base64 encoded.
type EncryptedBlob struct {
	IV         string `json:"iv" validate:"required"`
	Tag        string `json:"tag" validate:"required"`
	Ciphertext string `json:"ciphertext" validate:"required"`
}

// Encrypt encrypts plaintext with AES-GCM under key. A fresh random 96-bit
// IV is drawn per call; traffic keys are long-lived relative to message
// count, so the IV must never be reused under the same key.
func Encrypt(key, plaintext []byte) (*EncryptedBlob, error) {
	aesCipher, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}
	aesGCM, err := cipher.NewGCM(aesCipher)
	if err != nil {
		return nil, fmt.Errorf("creating AES-GCM: %w", err)
	}

	iv := make([]byte, aesGCM.NonceSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("generating iv: %w", err)
	}

	sealed := aesGCM.Seal(nil, iv, plaintext, nil)
	tagStart := len(sealed) - aesGCM.Overhead()

	return &EncryptedBlob{
		IV:         base64.StdEncoding.EncodeToString(iv),
		Tag:        base64.StdEncoding.EncodeToString(sealed[tagStart:]),
		Ciphertext: base64.StdEncoding.EncodeToString(sealed[:tagStart]),
	}, nil
}

// Decrypt decrypts an EncryptedBlob with AES-GCM under key. Authentication
// failure surfaces as an error from the AEAD open.
func Decrypt(key []byte, blob *EncryptedBlob) ([]byte, error) {
	iv, err := base64.StdEncoding.DecodeString(blob.IV)
	if err != nil {
		return nil, fmt.Errorf("decoding iv: %w", err)
	}
	tag, err := base64.StdEncoding.DecodeString(blob.Tag)
	if err != nil {
		return nil, fmt.Errorf("decoding tag: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(blob.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decoding ciphertext: %w", err)
	}

	aesCipher, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}
	aesGCM, err := cipher.NewGCM(aesCipher)
	if err != nil {
		return nil, fmt.Errorf("creating AES-GCM: %w", err)
	}

	return aesGCM.Open(nil, iv, append(ciphertext, tag...), nil)
}
