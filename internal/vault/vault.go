// Package vault serializes values into compressed, encrypted blobs.
//
// The key is derived once from a static passphrase shared by every record.
// This obfuscates data at rest; it is not access control against anyone
// holding the binary or its configuration.
package vault

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"

	"github.com/klauspost/compress/zstd"
	"github.com/rotisserie/eris"
	"golang.org/x/crypto/pbkdf2"
)

// Defaults used when configuration leaves the key material empty.
const (
	DefaultPassphrase = "prospect-cli:local-store"
	DefaultSalt       = "prospect-cli"
	DefaultIterations = 100_000
)

const keyLen = 32

var magic = []byte("PV1")

// ErrDecrypt is returned by Open when data is not a valid sealed blob.
var ErrDecrypt = eris.New("vault: decrypt failed")

// Sealer seals and opens blobs. It is safe for concurrent use.
type Sealer struct {
	aead cipher.AEAD
	enc  *zstd.Encoder
	dec  *zstd.Decoder
}

// NewSealer derives the AES-256 key from passphrase with PBKDF2-SHA256.
func NewSealer(passphrase, salt string, iterations int) (*Sealer, error) {
	if passphrase == "" {
		passphrase = DefaultPassphrase
	}
	if salt == "" {
		salt = DefaultSalt
	}
	if iterations <= 0 {
		iterations = DefaultIterations
	}

	key := pbkdf2.Key([]byte(passphrase), []byte(salt), iterations, keyLen, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, eris.Wrap(err, "vault: new cipher")
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, eris.Wrap(err, "vault: new gcm")
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, eris.Wrap(err, "vault: new zstd encoder")
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, eris.Wrap(err, "vault: new zstd decoder")
	}

	return &Sealer{aead: aead, enc: enc, dec: dec}, nil
}

// Seal marshals v to JSON, compresses and encrypts it.
func (s *Sealer) Seal(v any) ([]byte, error) {
	plain, err := json.Marshal(v)
	if err != nil {
		return nil, eris.Wrap(err, "vault: marshal")
	}
	compressed := s.enc.EncodeAll(plain, nil)

	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, eris.Wrap(err, "vault: nonce")
	}

	out := make([]byte, 0, len(magic)+len(nonce)+len(compressed)+s.aead.Overhead())
	out = append(out, magic...)
	out = append(out, nonce...)
	return s.aead.Seal(out, nonce, compressed, magic), nil
}

// Open reverses Seal into v. Any framing, authentication or decompression
// failure yields ErrDecrypt.
func (s *Sealer) Open(data []byte, v any) error {
	ns := s.aead.NonceSize()
	if len(data) < len(magic)+ns+s.aead.Overhead() || !bytes.HasPrefix(data, magic) {
		return ErrDecrypt
	}
	nonce := data[len(magic) : len(magic)+ns]
	compressed, err := s.aead.Open(nil, nonce, data[len(magic)+ns:], magic)
	if err != nil {
		return ErrDecrypt
	}
	plain, err := s.dec.DecodeAll(compressed, nil)
	if err != nil {
		return ErrDecrypt
	}
	if err := json.Unmarshal(plain, v); err != nil {
		return eris.Wrap(err, "vault: unmarshal")
	}
	return nil
}

// IsSealed reports whether data carries the sealed-blob header.
func IsSealed(data []byte) bool {
	return bytes.HasPrefix(data, magic)
}
