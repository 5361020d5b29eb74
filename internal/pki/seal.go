package pki

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

// envelope is a sealed record: AES-256-GCM over the plaintext, key derived
// from a passphrase with argon2id and a per-record salt.
type envelope struct {
	Ver        int    `json:"ver"`
	Scheme     string `json:"scheme"`
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

const sealScheme = "argon2id-aes256gcm"

// argon2id parameters: interactive-grade, keys are sealed once per issuance.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
)

// Sealer encrypts private key material at rest under the service master key.
type Sealer struct {
	master []byte
}

// NewSealer builds a Sealer from the configured master key. An empty master
// key is a configuration error surfaced at startup, not at issuance time.
func NewSealer(masterKey string) (*Sealer, error) {
	if masterKey == "" {
		return nil, errors.New("pki: master key is not configured")
	}
	return &Sealer{master: []byte(masterKey)}, nil
}

// Seal encrypts plaintext under the master key.
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	return seal(s.master, plaintext)
}

// Open decrypts a sealed record produced by Seal.
func (s *Sealer) Open(sealed []byte) ([]byte, error) {
	return open(s.master, sealed)
}

// SealWithPassword encrypts plaintext under a caller-supplied password.
// Used for the exported key-and-certificate bundle.
func SealWithPassword(password string, plaintext []byte) ([]byte, error) {
	if password == "" {
		return nil, errors.New("pki: bundle password is required")
	}
	return seal([]byte(password), plaintext)
}

// OpenWithPassword decrypts a bundle sealed with SealWithPassword.
func OpenWithPassword(password string, sealed []byte) ([]byte, error) {
	return open([]byte(password), sealed)
}

func seal(secret, plaintext []byte) ([]byte, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}
	key := argon2.IDKey(secret, salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	env := envelope{
		Ver:        1,
		Scheme:     sealScheme,
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: gcm.Seal(nil, nonce, plaintext, nil),
	}
	return json.Marshal(env)
}

func open(secret, sealed []byte) ([]byte, error) {
	var env envelope
	if err := json.Unmarshal(sealed, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPassword, err)
	}
	if env.Ver != 1 || env.Scheme != sealScheme {
		return nil, fmt.Errorf("%w: unsupported envelope %d/%s", ErrBadPassword, env.Ver, env.Scheme)
	}
	key := argon2.IDKey(secret, env.Salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, env.Nonce, env.Ciphertext, nil)
	if err != nil {
		return nil, ErrBadPassword
	}
	return plaintext, nil
}
