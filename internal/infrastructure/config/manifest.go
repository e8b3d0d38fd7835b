package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"

	"github.com/GriffinCanCode/microhost/internal/shared/types"
)

// Manifest lists the applications a host knows about ahead of time.
type Manifest struct {
	Apps         []types.AppOptions `yaml:"apps" toml:"apps"`
	Prefetch     []PrefetchEntry    `yaml:"prefetch" toml:"prefetch"`
	GlobalAssets GlobalAssets       `yaml:"global_assets" toml:"global_assets"`
}

// PrefetchEntry names an application to load during idle time.
type PrefetchEntry struct {
	Name            string `yaml:"name" toml:"name"`
	URL             string `yaml:"url" toml:"url"`
	DisableScopeCSS bool   `yaml:"disable_scope_css" toml:"disable_scope_css"`
	DisableSandbox  bool   `yaml:"disable_sandbox" toml:"disable_sandbox"`
}

// GlobalAssets are shared resources loaded once for every application.
type GlobalAssets struct {
	JS  []string `yaml:"js" toml:"js"`
	CSS []string `yaml:"css" toml:"css"`
}

// LoadManifest reads a YAML or TOML manifest, chosen by file extension.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return ParseManifest(data, filepath.Ext(path))
}

// ParseManifest decodes manifest bytes. ext is ".yaml", ".yml" or ".toml".
func ParseManifest(data []byte, ext string) (*Manifest, error) {
	var m Manifest
	switch strings.ToLower(ext) {
	case ".toml":
		if err := toml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("failed to parse TOML manifest: %w", err)
		}
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("failed to parse YAML manifest: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported manifest format: %s", ext)
	}

	for i := range m.Apps {
		opts, err := NormalizeOptions(m.Apps[i])
		if err != nil {
			return nil, fmt.Errorf("manifest app %d: %w", i, err)
		}
		m.Apps[i] = opts
	}
	return &m, nil
}

// Lookup returns the manifest options for a normalized name.
func (m *Manifest) Lookup(name string) (types.AppOptions, bool) {
	if m == nil {
		return types.AppOptions{}, false
	}
	for _, app := range m.Apps {
		if app.Name == name {
			return app, true
		}
	}
	return types.AppOptions{}, false
}
