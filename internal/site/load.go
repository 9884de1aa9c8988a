package site

import (
	"fmt"
	"os"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	. "github.com/roelfdiedericks/chatrelay/internal/logging"
)

// Resolve returns the profile for a builtin name, optionally overlaid with a
// YAML profile file. An empty name with a file loads the file on its own.
func Resolve(name, file string) (*Profile, error) {
	if file != "" {
		return LoadFile(file, name)
	}
	if name == "" {
		return nil, fmt.Errorf("site: no profile name or file given")
	}
	p, err := Builtin(name)
	if err != nil {
		return nil, err
	}
	p.applyDefaults()
	return p, p.Validate()
}

// LoadFile reads a YAML profile. When the file (or fallbackBase) names a
// builtin base, the file's non-empty fields override the builtin's, role by role.
func LoadFile(path, fallbackBase string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("site: read %s: %w", path, err)
	}
	return Parse(data, fallbackBase)
}

// Parse decodes a YAML profile and applies any builtin base.
func Parse(data []byte, fallbackBase string) (*Profile, error) {
	var overlay Profile
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return nil, fmt.Errorf("site: parse profile: %w", err)
	}

	base := overlay.Base
	if base == "" {
		base = fallbackBase
	}

	var p *Profile
	if base != "" {
		b, err := Builtin(base)
		if err != nil {
			return nil, err
		}
		if err := mergo.Merge(b, overlay, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("site: merge onto %s: %w", base, err)
		}
		if overlay.Name == "" {
			b.Name = base
		}
		p = b
		L_debug("site: overlay applied", "base", base, "name", p.Name, "roles", len(overlay.Selectors))
	} else {
		p = &overlay
	}

	p.applyDefaults()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}
