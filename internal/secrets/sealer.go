package secrets

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"documerge/internal/models"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	sealedPrefix = "v1:"
	nonceSize    = 24
	maskedMarker = "***"
)

var ErrUnsealFailed = errors.New("failed to unseal credentials")

// Sealer encrypts data-source credentials before they reach the database.
type Sealer struct {
	key [32]byte
}

func NewSealer(passphrase string) (*Sealer, error) {
	if strings.TrimSpace(passphrase) == "" {
		return nil, errors.New("credentials key is required")
	}
	return &Sealer{key: sha256.Sum256([]byte(passphrase))}, nil
}

func (s *Sealer) Seal(plaintext []byte) (string, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	box := secretbox.Seal(nonce[:], plaintext, &nonce, &s.key)
	return sealedPrefix + base64.StdEncoding.EncodeToString(box), nil
}

func (s *Sealer) Open(sealed string) ([]byte, error) {
	if !strings.HasPrefix(sealed, sealedPrefix) {
		return nil, fmt.Errorf("%w: unknown format", ErrUnsealFailed)
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(sealed, sealedPrefix))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsealFailed, err)
	}
	if len(raw) < nonceSize+secretbox.Overhead {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrUnsealFailed)
	}

	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	plaintext, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &s.key)
	if !ok {
		return nil, fmt.Errorf("%w: authentication failed", ErrUnsealFailed)
	}
	return plaintext, nil
}

// SealConfig returns "" for a nil config so templates without a data source
// store nothing.
func (s *Sealer) SealConfig(cfg *models.AirtableConfig) (string, error) {
	if cfg.IsZero() {
		return "", nil
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("failed to encode airtable config: %w", err)
	}
	return s.Seal(raw)
}

func (s *Sealer) OpenConfig(sealed string) (*models.AirtableConfig, error) {
	if sealed == "" {
		return nil, nil
	}
	raw, err := s.Open(sealed)
	if err != nil {
		return nil, err
	}
	var cfg models.AirtableConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsealFailed, err)
	}
	return &cfg, nil
}
