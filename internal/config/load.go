package config

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Parse decodes a YAML or JSON document into a Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "config: decode")
	}
	return &cfg, nil
}

// ReadFile parses the config at path and loads every link relative to the
// config's directory.
func ReadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "config: read")
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "config: %s", path)
	}
	if err := LoadLinks(cfg, filepath.Dir(path)); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadLinks reads the content of every link whose content is not loaded yet.
func LoadLinks(cfg *Config, dir string) error {
	for _, l := range cfg.Links {
		if l.Content != nil {
			continue
		}
		src := l.Src
		if !filepath.IsAbs(src) {
			src = filepath.Join(dir, src)
		}
		content, err := os.ReadFile(src)
		if err != nil {
			return errors.Wrapf(err, "config: link %q", l.ID)
		}
		l.Content = content
	}
	return nil
}
