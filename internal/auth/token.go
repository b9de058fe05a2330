package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/99designs/keyring"

	"campusdesk.io/notify/internal/config"
	apperrors "campusdesk.io/notify/internal/pkg/errors"
)

// TokenSource resolves the bearer token: an explicitly configured token
// wins, otherwise the one saved in the OS keyring.
type TokenSource struct {
	static string
	key    string
	open   func() (keyring.Keyring, error)
}

// NewTokenSource creates a TokenSource for cfg.
func NewTokenSource(cfg config.AuthConfig) *TokenSource {
	service := cfg.KeyringService
	return &TokenSource{
		static: strings.TrimSpace(cfg.Token),
		key:    cfg.KeyringKey,
		open:   func() (keyring.Keyring, error) { return openKeyring(service) },
	}
}

// NewTokenSourceWithKeyring uses ring instead of the OS keyring.
func NewTokenSourceWithKeyring(static string, ring keyring.Keyring, key string) *TokenSource {
	return &TokenSource{
		static: strings.TrimSpace(static),
		key:    key,
		open:   func() (keyring.Keyring, error) { return ring, nil },
	}
}

func openKeyring(service string) (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: service,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/" + service + "/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt(service + "-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// Token returns the bearer token.
func (s *TokenSource) Token() (string, error) {
	if s.static != "" {
		return s.static, nil
	}

	ring, err := s.open()
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.CodeTokenMissing, "no bearer token configured", http.StatusUnauthorized)
	}
	item, err := ring.Get(s.key)
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return "", apperrors.Unauthorized(apperrors.CodeTokenMissing, "no bearer token configured")
		}
		return "", apperrors.Wrap(err, apperrors.CodeTokenMissing, "reading bearer token from keyring", http.StatusUnauthorized)
	}

	token := strings.TrimSpace(string(item.Data))
	if token == "" {
		return "", apperrors.Unauthorized(apperrors.CodeTokenMissing, "no bearer token configured")
	}
	return token, nil
}

// Store saves token in the keyring.
func (s *TokenSource) Store(token string) error {
	ring, err := s.open()
	if err != nil {
		return err
	}
	err = ring.Set(keyring.Item{
		Key:   s.key,
		Data:  []byte(strings.TrimSpace(token)),
		Label: "Campus Desk bearer token",
	})
	if err != nil {
		return fmt.Errorf("storing bearer token: %w", err)
	}
	return nil
}

// Clear removes the saved token. A missing token is not an error.
func (s *TokenSource) Clear() error {
	ring, err := s.open()
	if err != nil {
		return err
	}
	if err := ring.Remove(s.key); err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("removing bearer token: %w", err)
	}
	return nil
}
