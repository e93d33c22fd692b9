package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"github.com/flagkit/flagkit-go/pkg/errors"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/sha3"
)

const (
	keyLengthBytes   = 32 // AES-256
	nonceLengthBytes = 12 // 96 bits, standard for GCM
	pbkdf2Iterations = 100_000
	cacheSalt        = "flagkit-v1-cache"
	encryptionVersion = 1
)

// EncryptedCache provides authenticated encryption for cached flag data
// with a key derived from the SDK credential via PBKDF2.
type EncryptedCache struct {
	key []byte
}

// NewEncryptedCache derives an AES-256 key from credential.
func NewEncryptedCache(credential string) *EncryptedCache {
	key := pbkdf2.Key([]byte(credential), []byte(cacheSalt), pbkdf2Iterations, keyLengthBytes, sha3.New256)
	return &EncryptedCache{key: key}
}

type encryptedBlob struct {
	IV      string `json:"iv"`
	Data    string `json:"data"`
	Version int    `json:"version"`
}

// Encrypt returns a JSON-encoded blob containing a fresh random nonce
// and the AES-256-GCM ciphertext of plaintext.
func (c *EncryptedCache) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", errors.Wrap(errors.SecurityEncryptionFailed, "constructing AES cipher", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, nonceLengthBytes)
	if err != nil {
		return "", errors.Wrap(errors.SecurityEncryptionFailed, "constructing GCM mode", err)
	}
	nonce := make([]byte, nonceLengthBytes)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", errors.Wrap(errors.SecurityEncryptionFailed, "generating nonce", err)
	}
	ciphertext := gcm.Seal(nil, nonce, []byte(plaintext), nil)

	blob := encryptedBlob{
		IV:      base64.StdEncoding.EncodeToString(nonce),
		Data:    base64.StdEncoding.EncodeToString(ciphertext),
		Version: encryptionVersion,
	}
	out, err := json.Marshal(blob)
	if err != nil {
		return "", errors.Wrap(errors.SecurityEncryptionFailed, "marshalling encrypted blob", err)
	}
	return string(out), nil
}

// Decrypt reverses Encrypt, failing with SECURITY_DECRYPTION_FAILED on
// any malformed blob, bad key, or tampered ciphertext.
func (c *EncryptedCache) Decrypt(encryptedJSON string) (string, error) {
	var blob encryptedBlob
	if err := json.Unmarshal([]byte(encryptedJSON), &blob); err != nil {
		return "", errors.Wrap(errors.SecurityDecryptionFailed, "malformed encrypted blob", err)
	}
	if blob.Version != encryptionVersion {
		return "", errors.New(errors.SecurityDecryptionFailed, fmt.Sprintf("unsupported encryption version %d", blob.Version))
	}
	nonce, err := base64.StdEncoding.DecodeString(blob.IV)
	if err != nil {
		return "", errors.Wrap(errors.SecurityDecryptionFailed, "decoding nonce", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(blob.Data)
	if err != nil {
		return "", errors.Wrap(errors.SecurityDecryptionFailed, "decoding ciphertext", err)
	}
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", errors.Wrap(errors.SecurityDecryptionFailed, "constructing AES cipher", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, nonceLengthBytes)
	if err != nil {
		return "", errors.Wrap(errors.SecurityDecryptionFailed, "constructing GCM mode", err)
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", errors.Wrap(errors.SecurityDecryptionFailed, "authentication failed", err)
	}
	return string(plaintext), nil
}
