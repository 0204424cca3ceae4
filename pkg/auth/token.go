package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// Token represents a stored VK API access token.
// Tokens are obtained by registering a standalone VK app; one token is
// one request pipe, so the harvester uses a single token per run.
type Token struct {
	Name         string    `json:"name"`
	AccessToken  string    `json:"access_token"`
	APIVersion   string    `json:"api_version,omitempty"`
	LastModified time.Time `json:"last_modified"`
}

// TokenStore is the interface for storing and retrieving access tokens
type TokenStore interface {
	// Store saves a token under its name
	Store(token *Token) error

	// Retrieve gets the token with the given name
	Retrieve(name string) (*Token, error)

	// List returns all stored tokens
	List() ([]*Token, error)

	// Delete removes the token with the given name
	Delete(name string) error

	// Exists checks if a token with the given name is stored
	Exists(name string) bool
}

// Manager handles token storage with fallback mechanisms
type Manager struct {
	stores []TokenStore
}

// NewManager creates a new token manager with appropriate storage backends
func NewManager() (*Manager, error) {
	var stores []TokenStore

	// Try keyring first (system keychain)
	keyringStore, err := NewKeyringStore()
	if err == nil {
		stores = append(stores, keyringStore)
	}

	// Always add encrypted file store as fallback
	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}

	encryptedStore, err := NewEncryptedFileStore(filepath.Join(configDir, "tokens.enc"))
	if err != nil {
		return nil, fmt.Errorf("failed to create encrypted store: %w", err)
	}
	stores = append(stores, encryptedStore)

	// Add environment store as last resort
	stores = append(stores, NewEnvironmentStore())

	return &Manager{stores: stores}, nil
}

// Store saves a token using the first available store
func (m *Manager) Store(token *Token) error {
	if token.Name == "" {
		return errors.New("token name is required")
	}
	if token.AccessToken == "" {
		return errors.New("access token is required")
	}

	token.LastModified = time.Now()

	var lastErr error
	for _, store := range m.stores {
		if err := store.Store(token); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}

	if lastErr != nil {
		return fmt.Errorf("failed to store token: %w", lastErr)
	}
	return errors.New("no available token stores")
}

// Retrieve gets a token from the first store that has it
func (m *Manager) Retrieve(name string) (*Token, error) {
	for _, store := range m.stores {
		if token, err := store.Retrieve(name); err == nil && token != nil {
			return token, nil
		}
	}
	return nil, fmt.Errorf("token not found: %s", name)
}

// RetrieveDefault gets the token named "default", the environment token,
// or the only stored token, in that order of preference.
func (m *Manager) RetrieveDefault() (*Token, error) {
	if envStore, ok := m.stores[len(m.stores)-1].(*EnvironmentStore); ok {
		if token, err := envStore.Retrieve(""); err == nil && token != nil {
			return token, nil
		}
	}

	if token, err := m.Retrieve("default"); err == nil {
		return token, nil
	}

	tokens, err := m.List()
	if err != nil {
		return nil, err
	}
	if len(tokens) == 1 {
		return tokens[0], nil
	}
	return nil, ErrTokenNotFound
}

// List returns all tokens across every store, deduplicated by name
func (m *Manager) List() ([]*Token, error) {
	seen := make(map[string]bool)
	var tokens []*Token

	for _, store := range m.stores {
		stored, err := store.List()
		if err != nil {
			continue
		}
		for _, token := range stored {
			if !seen[token.Name] {
				seen[token.Name] = true
				tokens = append(tokens, token)
			}
		}
	}

	return tokens, nil
}

// Delete removes a token from every store that has it
func (m *Manager) Delete(name string) error {
	var deleted bool
	for _, store := range m.stores {
		if err := store.Delete(name); err == nil {
			deleted = true
		}
	}
	if !deleted {
		return ErrTokenNotFound
	}
	return nil
}

// getConfigDir returns the configuration directory path
func getConfigDir() (string, error) {
	var configDir string

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configDir = filepath.Join(home, "Library", "Application Support", "vkharvest")
	case "windows":
		configDir = filepath.Join(os.Getenv("APPDATA"), "vkharvest")
	default: // Linux and others
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			configDir = filepath.Join(xdgConfig, "vkharvest")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			configDir = filepath.Join(home, ".config", "vkharvest")
		}
	}

	if err := os.MkdirAll(configDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	return configDir, nil
}

// Sanitize creates a copy of the token with the secret masked, for display
func Sanitize(token *Token) *Token {
	if token == nil {
		return nil
	}

	return &Token{
		Name:         token.Name,
		AccessToken:  maskString(token.AccessToken),
		APIVersion:   token.APIVersion,
		LastModified: token.LastModified,
	}
}

// maskString masks all but the first 4 and last 4 characters of a string
func maskString(s string) string {
	if len(s) <= 8 {
		return "********"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

// Errors
var (
	ErrTokenNotFound    = errors.New("token not found")
	ErrInvalidToken     = errors.New("invalid token")
	ErrStoreUnavailable = errors.New("token store unavailable")
)
