// Package secret encrypts account and proxy credentials at rest.
//
// Ciphertext is encoded as "<ivHex>:<cipherHex>", AES-256-CBC with PKCS#7
// padding and a fresh random IV per call.
package secret

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// EnvKey is consulted when the config does not carry a key.
const EnvKey = "AIRDROP_ENCRYPTION_KEY"

// DefaultKey keeps development installs working. Production installs must
// override it.
const DefaultKey = "airdrop-manager-secret-key"

var ErrMalformed = errors.New("secret: malformed ciphertext")

type Cipher struct {
	block cipher.Block
}

// New derives a 32-byte key from key. A key that is already 32 bytes is used
// as is; anything else is hashed with SHA-256.
func New(key string) (*Cipher, error) {
	if key == "" {
		return nil, errors.New("secret: empty key")
	}
	raw := []byte(key)
	if len(raw) != 32 {
		sum := sha256.Sum256(raw)
		raw = sum[:]
	}
	block, err := aes.NewCipher(raw)
	if err != nil {
		return nil, err
	}
	return &Cipher{block: block}, nil
}

func (c *Cipher) Encrypt(plain string) (string, error) {
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("secret: read iv: %w", err)
	}
	buf := pad([]byte(plain), aes.BlockSize)
	out := make([]byte, len(buf))
	cipher.NewCBCEncrypter(c.block, iv).CryptBlocks(out, buf)
	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(out), nil
}

func (c *Cipher) Decrypt(encoded string) (string, error) {
	ivHex, dataHex, ok := strings.Cut(encoded, ":")
	if !ok {
		return "", ErrMalformed
	}
	iv, err := hex.DecodeString(ivHex)
	if err != nil || len(iv) != aes.BlockSize {
		return "", ErrMalformed
	}
	data, err := hex.DecodeString(dataHex)
	if err != nil || len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return "", ErrMalformed
	}
	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(c.block, iv).CryptBlocks(out, data)
	plain, err := unpad(out, aes.BlockSize)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

func pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(b []byte, size int) ([]byte, error) {
	if len(b) == 0 || len(b)%size != 0 {
		return nil, ErrMalformed
	}
	n := int(b[len(b)-1])
	if n == 0 || n > size || n > len(b) {
		return nil, ErrMalformed
	}
	for _, v := range b[len(b)-n:] {
		if int(v) != n {
			return nil, ErrMalformed
		}
	}
	return b[:len(b)-n], nil
}
