// Package auth provides API-key authentication for the HTTP API.
package auth

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const defaultHeader = "X-API-Key"

type keyEntry struct {
	ID          string `yaml:"id"`
	Key         string `yaml:"key"`
	Description string `yaml:"description"`
	Role        string `yaml:"role"` // agent|operator|admin
}

// APIKeyAuth answers key lookups for the HTTP auth middleware. Keys
// are loaded once at startup; the map is read-only afterwards.
type APIKeyAuth struct {
	headerName string
	roleByKey  map[string]string
}

// LoadAPIKeys reads a YAML list of key entries. Entries without a key
// are skipped; entries without a role default to admin.
func LoadAPIKeys(keysFile, headerName string) (*APIKeyAuth, error) {
	if keysFile == "" {
		return nil, fmt.Errorf("api key auth enabled but keys_file is empty")
	}
	b, err := os.ReadFile(keysFile)
	if err != nil {
		return nil, fmt.Errorf("read api keys file: %w", err)
	}

	var entries []keyEntry
	if err := yaml.Unmarshal(b, &entries); err != nil {
		return nil, fmt.Errorf("parse api keys file: %w", err)
	}

	a := &APIKeyAuth{
		headerName: strings.TrimSpace(headerName),
		roleByKey:  make(map[string]string, len(entries)),
	}
	if a.headerName == "" {
		a.headerName = defaultHeader
	}
	for _, e := range entries {
		key := strings.TrimSpace(e.Key)
		if key == "" {
			continue
		}
		role := strings.ToLower(strings.TrimSpace(e.Role))
		if role == "" {
			role = "admin"
		}
		a.roleByKey[key] = role
	}
	if len(a.roleByKey) == 0 {
		return nil, fmt.Errorf("api keys file contains no keys")
	}
	return a, nil
}

func (a *APIKeyAuth) HeaderName() string { return a.headerName }

func (a *APIKeyAuth) IsAllowed(key string) bool {
	_, ok := a.roleByKey[key]
	return ok
}

// RoleForKey returns the role bound to key, or "" for unknown keys.
func (a *APIKeyAuth) RoleForKey(key string) string {
	if a == nil {
		return ""
	}
	return a.roleByKey[key]
}
