package calib

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"grism/internal/table"
)

// Load reads a calibration file. Sensitivity curves given as a path are
// resolved relative to the calibration file's directory.
func Load(path string) (*Config, error) {
	var cfg Config
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if !meta.IsDefined("instrument") {
		return nil, fmt.Errorf("%s: missing [instrument]", path)
	}
	if !meta.IsDefined("instrument", "name") || strings.TrimSpace(cfg.Instrument.Name) == "" {
		return nil, fmt.Errorf("%s: missing [instrument].name", path)
	}
	if !meta.IsDefined("order") {
		return nil, fmt.Errorf("%s: missing [[order]]", path)
	}
	if undec := meta.Undecoded(); len(undec) > 0 {
		return nil, fmt.Errorf("%s: unknown key %q", path, undec[0].String())
	}
	root := filepath.Dir(path)
	for i := range cfg.Order {
		o := &cfg.Order[i]
		if o.SensitivityFile == "" {
			continue
		}
		if len(o.SensitivityWave) > 0 {
			return nil, fmt.Errorf("%s: order %q sets both sensitivity arrays and sensitivity_file", path, o.Name)
		}
		sensPath := o.SensitivityFile
		if !filepath.IsAbs(sensPath) {
			sensPath = filepath.Join(root, filepath.FromSlash(sensPath))
		}
		o.SensitivityWave, o.Sensitivity, err = table.ReadColumns(sensPath)
		if err != nil {
			return nil, fmt.Errorf("%s: order %q: %w", path, o.Name, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &cfg, nil
}

// Digest returns a stable hash of the resolved calibration. Snapshots record
// it so that a model is only reused against the calibration it was built with.
func (c *Config) Digest() (string, error) {
	var buf bytes.Buffer
	resolved := *c
	resolved.Order = make([]OrderConfig, len(c.Order))
	for i, o := range c.Order {
		o.SensitivityFile = ""
		resolved.Order[i] = o
	}
	if err := toml.NewEncoder(&buf).Encode(resolved); err != nil {
		return "", fmt.Errorf("failed to encode calibration: %w", err)
	}
	sum := sha256.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:]), nil
}
