package sealer

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"

	"gorm.io/datatypes"
)

// Sealer is the authenticated-encryption capability used for data that must
// be encrypted at rest (API credentials, sensitive audit payloads). The key
// is derived from a deployment secret; rotation happens by re-sealing under
// a new secret.
type Sealer struct {
	key []byte
}

type envelope struct {
	Version    int    `json:"version"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

var (
	ErrKeyMissing      = errors.New("encryption_key_missing")
	ErrInvalidEnvelope = errors.New("invalid_sealed_payload")
)

// New derives the sealing key from secret. An empty secret yields a sealer
// that rejects every operation with ErrKeyMissing.
func New(secret string) *Sealer {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return &Sealer{}
	}
	sum := sha256.Sum256([]byte(secret))
	return &Sealer{key: sum[:]}
}

func (s *Sealer) Configured() bool {
	return s != nil && len(s.key) != 0
}

// Seal encrypts the payload and returns a JSON envelope suitable for a JSONB
// column.
func (s *Sealer) Seal(payload map[string]any) (datatypes.JSON, error) {
	if !s.Configured() {
		return nil, ErrKeyMissing
	}
	if len(payload) == 0 {
		return nil, ErrInvalidEnvelope
	}

	plain, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	ciphertext := gcm.Seal(nil, nonce, plain, nil)
	encoded := envelope{
		Version:    1,
		Nonce:      base64.RawStdEncoding.EncodeToString(nonce),
		Ciphertext: base64.RawStdEncoding.EncodeToString(ciphertext),
	}
	out, err := json.Marshal(encoded)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(out), nil
}

// Open decrypts a payload produced by Seal. Decrypted values live only in
// process memory; callers must not persist them.
func (s *Sealer) Open(sealed datatypes.JSON) (map[string]any, error) {
	if !s.Configured() {
		return nil, ErrKeyMissing
	}
	if len(sealed) == 0 {
		return nil, ErrInvalidEnvelope
	}

	var payload envelope
	if err := json.Unmarshal(sealed, &payload); err != nil {
		return nil, ErrInvalidEnvelope
	}
	if payload.Version != 1 {
		return nil, ErrInvalidEnvelope
	}

	nonce, err := base64.RawStdEncoding.DecodeString(payload.Nonce)
	if err != nil {
		return nil, ErrInvalidEnvelope
	}
	ciphertext, err := base64.RawStdEncoding.DecodeString(payload.Ciphertext)
	if err != nil {
		return nil, ErrInvalidEnvelope
	}

	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrInvalidEnvelope
	}

	var out map[string]any
	if err := json.Unmarshal(plain, &out); err != nil {
		return nil, ErrInvalidEnvelope
	}
	if len(out) == 0 {
		return nil, ErrInvalidEnvelope
	}
	return out, nil
}
