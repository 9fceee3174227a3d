// Package config loads default command-line values for the ipasign CLI
// from a YAML file, so a team can commit shared defaults (identity,
// keychain, profile path) instead of retyping them on every invocation.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Defaults holds the subset of resign.Config that makes sense to
// default from a checked-in file. Explicit CLI flags always win.
type Defaults struct {
	Identity    string `yaml:"identity"`
	Keychain    string `yaml:"keychain"`
	ProfilePath string `yaml:"profile"`
	SignerTool  string `yaml:"tool"`
}

// Load reads and parses a YAML defaults file. A missing file is not an
// error; it returns a zero Defaults so callers can treat "no config"
// the same as "empty config".
func Load(path string) (Defaults, error) {
	if path == "" {
		return Defaults{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Defaults{}, nil
		}
		return Defaults{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	var d Defaults
	if err := yaml.Unmarshal(data, &d); err != nil {
		return Defaults{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return d, nil
}

// Merge overlays non-empty fields of override onto d, giving override
// priority. Used to apply CLI flags on top of file defaults.
func (d Defaults) Merge(override Defaults) Defaults {
	if override.Identity != "" {
		d.Identity = override.Identity
	}
	if override.Keychain != "" {
		d.Keychain = override.Keychain
	}
	if override.ProfilePath != "" {
		d.ProfilePath = override.ProfilePath
	}
	if override.SignerTool != "" {
		d.SignerTool = override.SignerTool
	}
	return d
}
