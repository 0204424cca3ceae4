package auth

import (
	"os"
	"time"
)

// EnvironmentStore implements TokenStore using environment variables.
// This mirrors the plain-text config.txt token of early harvester setups.
type EnvironmentStore struct{}

// NewEnvironmentStore creates a new environment-based token store
func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

// Store is not supported for environment variables
func (e *EnvironmentStore) Store(token *Token) error {
	return ErrStoreUnavailable
}

// Retrieve gets the token from environment variables
func (e *EnvironmentStore) Retrieve(name string) (*Token, error) {
	accessToken := os.Getenv("VKHARVEST_ACCESS_TOKEN")
	if accessToken == "" {
		return nil, ErrTokenNotFound
	}

	// Environment variables don't store a name, so use "default" or the provided one
	if name == "" {
		name = "default"
	}

	return &Token{
		Name:         name,
		AccessToken:  accessToken,
		APIVersion:   os.Getenv("VKHARVEST_API_VERSION"),
		LastModified: time.Now(),
	}, nil
}

// List returns a single token if the environment variable is set
func (e *EnvironmentStore) List() ([]*Token, error) {
	token, err := e.Retrieve("")
	if err != nil {
		return []*Token{}, nil
	}
	return []*Token{token}, nil
}

// Delete is not supported for environment variables
func (e *EnvironmentStore) Delete(name string) error {
	return ErrStoreUnavailable
}

// Exists checks if an environment token is set
func (e *EnvironmentStore) Exists(name string) bool {
	return os.Getenv("VKHARVEST_ACCESS_TOKEN") != ""
}
