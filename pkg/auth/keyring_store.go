package auth

import (
	"encoding/json"
	"fmt"

	"github.com/zalando/go-keyring"
)

const (
	keyringService = "vkharvest"
	keyringPrefix  = "vk_token_"
)

// KeyringStore implements TokenStore using the system keychain
type KeyringStore struct{}

// NewKeyringStore creates a new keyring-based token store
func NewKeyringStore() (*KeyringStore, error) {
	// Test if keyring is available
	testKey := "test_availability"
	err := keyring.Set(keyringService, testKey, "test")
	if err != nil {
		return nil, fmt.Errorf("keyring not available: %w", err)
	}
	_ = keyring.Delete(keyringService, testKey)

	return &KeyringStore{}, nil
}

// Store saves a token to the system keychain
func (k *KeyringStore) Store(token *Token) error {
	if token == nil || token.Name == "" {
		return ErrInvalidToken
	}

	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}

	key := keyringPrefix + token.Name
	if err := keyring.Set(keyringService, key, string(data)); err != nil {
		return fmt.Errorf("failed to store in keyring: %w", err)
	}

	return nil
}

// Retrieve gets a token from the system keychain
func (k *KeyringStore) Retrieve(name string) (*Token, error) {
	if name == "" {
		return nil, ErrInvalidToken
	}

	key := keyringPrefix + name
	data, err := keyring.Get(keyringService, key)
	if err != nil {
		if err == keyring.ErrNotFound {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to retrieve from keyring: %w", err)
	}

	var token Token
	if err := json.Unmarshal([]byte(data), &token); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token: %w", err)
	}

	return &token, nil
}

// List returns all stored tokens from the keychain.
// go-keyring cannot enumerate keys, so only the "default" slot is probed;
// the encrypted file store below provides full listing.
func (k *KeyringStore) List() ([]*Token, error) {
	if token, err := k.Retrieve("default"); err == nil {
		return []*Token{token}, nil
	}
	return []*Token{}, nil
}

// Delete removes a token from the system keychain
func (k *KeyringStore) Delete(name string) error {
	if name == "" {
		return ErrInvalidToken
	}

	key := keyringPrefix + name
	if err := keyring.Delete(keyringService, key); err != nil {
		if err == keyring.ErrNotFound {
			return ErrTokenNotFound
		}
		return fmt.Errorf("failed to delete from keyring: %w", err)
	}

	return nil
}

// Exists checks if a token is stored in the keychain
func (k *KeyringStore) Exists(name string) bool {
	token, err := k.Retrieve(name)
	return err == nil && token != nil
}
