// Package backend maps deployment names to service endpoints. The
// built-in registry covers the public deployments; an optional TOML
// file can add private or self-hosted ones.
package backend

import (
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// DefaultName is the backend used when none is configured.
const DefaultName = "production"

// defaultRegistry lists the deployments this tool knows out of the box.
const defaultRegistry = `
[backends.production]
user_store_url = "https://www.notesvc.com/api/v1/user"
oauth_url = "https://www.notesvc.com/oauth/access"

[backends.sandbox]
user_store_url = "https://sandbox.notesvc.com/api/v1/user"
oauth_url = "https://sandbox.notesvc.com/oauth/access"

[backends.china]
user_store_url = "https://app.notesvc.cn/api/v1/user"
oauth_url = "https://app.notesvc.cn/oauth/access"
`

// Backend identifies one service deployment.
type Backend struct {
	Name         string `toml:"-"`
	UserStoreURL string `toml:"user_store_url"`
	OAuthURL     string `toml:"oauth_url"`
}

type registryFile struct {
	Backends map[string]Backend `toml:"backends"`
}

// Registry resolves backend names to endpoints.
type Registry struct {
	backends map[string]Backend
}

// Load builds the registry from the built-in table, then overlays the
// given TOML file if a path is supplied. Entries in the file replace
// built-ins with the same name.
func Load(overridePath string) (*Registry, error) {
	var file registryFile
	if _, err := toml.Decode(defaultRegistry, &file); err != nil {
		return nil, fmt.Errorf("failed to parse built-in backend registry: %w", err)
	}

	if overridePath != "" {
		var override registryFile
		if _, err := toml.DecodeFile(overridePath, &override); err != nil {
			return nil, fmt.Errorf("failed to load backend registry %s: %w", overridePath, err)
		}
		for name, b := range override.Backends {
			file.Backends[name] = b
		}
	}

	for name, b := range file.Backends {
		if b.UserStoreURL == "" {
			return nil, fmt.Errorf("backend %q has no user_store_url", name)
		}
		b.Name = name
		file.Backends[name] = b
	}

	return &Registry{backends: file.Backends}, nil
}

// Get resolves a backend by name.
func (r *Registry) Get(name string) (Backend, error) {
	if name == "" {
		name = DefaultName
	}
	b, ok := r.backends[name]
	if !ok {
		return Backend{}, fmt.Errorf("unknown backend %q (known: %s)", name, strings.Join(r.Names(), ", "))
	}
	return b, nil
}

// Names returns the known backend names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
