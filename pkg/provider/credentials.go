package provider

import (
	"fmt"
	"os"
	"strings"
)

// CredentialStore resolves opaque access tokens by provider or platform
// identifier. The core never inspects or logs token contents.
type CredentialStore interface {
	Credential(id string) (string, error)
}

// EnvCredentials resolves credentials from environment variables named
// <prefix><ID>, with the id uppercased and dashes mapped to underscores.
type EnvCredentials struct {
	Prefix string
}

// NewEnvCredentials creates an env-backed credential store. An empty
// prefix defaults to "REELPIPE_TOKEN_".
func NewEnvCredentials(prefix string) *EnvCredentials {
	if prefix == "" {
		prefix = "REELPIPE_TOKEN_"
	}
	return &EnvCredentials{Prefix: prefix}
}

func (e *EnvCredentials) Credential(id string) (string, error) {
	key := e.Prefix + strings.ToUpper(strings.ReplaceAll(id, "-", "_"))
	token := os.Getenv(key)
	if token == "" {
		return "", fmt.Errorf("provider: no credential configured for %q", id)
	}
	return token, nil
}

// StaticCredentials is a fixed in-memory credential store, used by tests
// and single-tenant deployments.
type StaticCredentials map[string]string

func (s StaticCredentials) Credential(id string) (string, error) {
	token, ok := s[id]
	if !ok {
		return "", fmt.Errorf("provider: no credential configured for %q", id)
	}
	return token, nil
}
