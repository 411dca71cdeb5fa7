package codec

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// KeySize is the required length, in bytes, of the master key passed to
// [Encrypt] and [Decrypt].
const KeySize = 32

// ErrBadKeyLength indicates the supplied key was not exactly [KeySize] bytes.
var ErrBadKeyLength = errors.New("codec: key must be exactly 32 bytes")

// ErrDecryptionFailed indicates the envelope failed authentication (a tag
// mismatch) or was malformed. Callers must treat the store as unusable on
// this error.
var ErrDecryptionFailed = errors.New("codec: decryption failed")

const (
	saltSize  = 16
	nonceSize = 12
)

// Envelope is the on-disk JSON representation of an encrypted snapshot, per
// the on-disk contract in spec §6: {"iv": hex, "tag": hex, "content": hex}.
//
// iv carries both the random per-snapshot HKDF salt and the AES-GCM nonce,
// concatenated and hex-encoded, so the wire shape stays exactly the three
// fields the contract names while still deriving a unique subkey per write
// (see [Encrypt]).
type Envelope struct {
	IV      string `json:"iv"`
	Tag     string `json:"tag"`
	Content string `json:"content"`
}

// Encrypt authenticates and encrypts plaintext with AES-256-GCM under a
// subkey derived from key via HKDF-SHA256, seeded by a fresh random salt.
// Deriving a fresh subkey per call means a GCM nonce never repeats under
// the same key, even if two snapshots are written within the same
// nanosecond-resolution clock tick. key must be exactly [KeySize] bytes.
func Encrypt(plaintext, key []byte) (Envelope, error) {
	if len(key) != KeySize {
		return Envelope{}, fmt.Errorf("%w: got %d bytes", ErrBadKeyLength, len(key))
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return Envelope{}, fmt.Errorf("codec: generating salt: %w", err)
	}

	subkey, err := deriveSubkey(key, salt)
	if err != nil {
		return Envelope{}, err
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return Envelope{}, fmt.Errorf("codec: generating nonce: %w", err)
	}

	block, err := aes.NewCipher(subkey)
	if err != nil {
		return Envelope{}, fmt.Errorf("codec: aes cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return Envelope{}, fmt.Errorf("codec: gcm: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	tagStart := len(sealed) - gcm.Overhead()
	ciphertext, tag := sealed[:tagStart], sealed[tagStart:]

	iv := append(append([]byte{}, salt...), nonce...)

	return Envelope{
		IV:      hex.EncodeToString(iv),
		Tag:     hex.EncodeToString(tag),
		Content: hex.EncodeToString(ciphertext),
	}, nil
}

// Decrypt authenticates and decrypts env under key. Returns
// [ErrDecryptionFailed] on any tag mismatch or malformed envelope field.
func Decrypt(env Envelope, key []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrBadKeyLength, len(key))
	}

	iv, err := hex.DecodeString(env.IV)
	if err != nil || len(iv) != saltSize+nonceSize {
		return nil, fmt.Errorf("%w: malformed iv", ErrDecryptionFailed)
	}

	tag, err := hex.DecodeString(env.Tag)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed tag", ErrDecryptionFailed)
	}

	ciphertext, err := hex.DecodeString(env.Content)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed content", ErrDecryptionFailed)
	}

	salt, nonce := iv[:saltSize], iv[saltSize:]

	subkey, err := deriveSubkey(key, salt)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecryptionFailed, err)
	}

	block, err := aes.NewCipher(subkey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecryptionFailed, err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecryptionFailed, err)
	}

	plaintext, err := gcm.Open(nil, nonce, append(ciphertext, tag...), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecryptionFailed, err)
	}

	return plaintext, nil
}

// deriveSubkey expands a 32-byte master key into a 32-byte AES-256 subkey
// using HKDF-SHA256, bound to salt so every encryption uses an
// independent key.
func deriveSubkey(masterKey, salt []byte) ([]byte, error) {
	reader := hkdf.New(sha256.New, masterKey, salt, []byte("jsondb-snapshot-v1"))

	subkey := make([]byte, KeySize)
	if _, err := io.ReadFull(reader, subkey); err != nil {
		return nil, fmt.Errorf("codec: hkdf expand: %w", err)
	}

	return subkey, nil
}

// MarshalEnvelope serializes env to the on-disk JSON form.
func MarshalEnvelope(env Envelope) ([]byte, error) {
	return json.MarshalIndent(env, "", "  ")
}

// UnmarshalEnvelope parses the on-disk JSON form into an [Envelope].
// Returns [ErrDecryptionFailed] if data is not a well-formed envelope.
func UnmarshalEnvelope(data []byte) (Envelope, error) {
	var env Envelope

	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", ErrDecryptionFailed, err)
	}

	if env.IV == "" || env.Tag == "" || env.Content == "" {
		return Envelope{}, fmt.Errorf("%w: missing envelope field", ErrDecryptionFailed)
	}

	return env, nil
}
