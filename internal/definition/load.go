package definition

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Load reads the definition at path, merges its includes and fills in
// defaults. The format follows the file extension: .toml, .yaml or .yml.
func Load(path string) (*Definition, error) {
	d, err := load(path, map[string]bool{})
	if err != nil {
		return nil, err
	}

	base := filepath.Base(path)
	d.Name = strings.TrimSuffix(base, filepath.Ext(base))
	d.Include = nil
	d.applyDefaults()
	return d, nil
}

func load(path string, seen map[string]bool) (*Definition, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if seen[abs] {
		return nil, fmt.Errorf("include loop at %s", path)
	}
	seen[abs] = true
	defer delete(seen, abs)

	d, err := decode(abs)
	if err != nil {
		return nil, err
	}

	merged := &Definition{}
	for _, inc := range d.Include {
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(filepath.Dir(abs), inc)
		}
		included, err := load(inc, seen)
		if err != nil {
			return nil, err
		}
		merged.merge(included)
	}
	merged.merge(d)
	return merged, nil
}

func decode(path string) (*Definition, error) {
	/* #nosec G304 */
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var d Definition
	switch ext := filepath.Ext(path); ext {
	case ".toml":
		md, err := toml.NewDecoder(bytes.NewReader(data)).Decode(&d)
		if err != nil {
			return nil, fmt.Errorf("cannot parse %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("unknown keys in %s: %v", path, undecoded)
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&d); err != nil {
			return nil, fmt.Errorf("cannot parse %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported definition format '%s' of %s", ext, path)
	}
	return &d, nil
}

// merge lays other over d: lists are appended, set values replace.
func (d *Definition) merge(other *Definition) {
	d.Packages = append(d.Packages, other.Packages...)
	d.Groups = append(d.Groups, other.Groups...)
	d.ExcludePackages = append(d.ExcludePackages, other.ExcludePackages...)
	d.Repositories = append(d.Repositories, other.Repositories...)
	d.Post = append(d.Post, other.Post...)
	d.Network = append(d.Network, other.Network...)
	if other.Missing != "" {
		d.Missing = other.Missing
	}
	if other.RootSize != "" {
		d.RootSize = other.RootSize
	}

	s, o := &d.System, other.System
	if o.Lang != "" {
		s.Lang = o.Lang
	}
	if o.Keyboard != "" {
		s.Keyboard = o.Keyboard
	}
	if o.Timezone != nil {
		s.Timezone = o.Timezone
	}
	if o.Auth != "" {
		s.Auth = o.Auth
	}
	if o.Firewall != nil {
		s.Firewall = o.Firewall
	}
	if o.SELinux != "" {
		s.SELinux = o.SELinux
	}
	if o.RootPassword != nil {
		s.RootPassword = o.RootPassword
	}
	if o.Services != nil {
		if s.Services == nil {
			s.Services = &Services{}
		}
		s.Services.Enabled = append(s.Services.Enabled, o.Services.Enabled...)
		s.Services.Disabled = append(s.Services.Disabled, o.Services.Disabled...)
	}
	s.StartX = s.StartX || o.StartX
}
