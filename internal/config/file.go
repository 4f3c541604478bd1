// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadFile overlays a YAML config file on top of the given base snapshot.
// Fields absent from the file keep their base values.
func LoadFile(path string, base Snapshot) (Snapshot, error) {
	raw, err := os.ReadFile(path) // #nosec G304 -- operator-supplied path
	if err != nil {
		return base, fmt.Errorf("config: read %s: %w", path, err)
	}

	merged := base
	if err := yaml.Unmarshal(raw, &merged); err != nil {
		return base, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := merged.Validate(); err != nil {
		return base, err
	}
	return merged, nil
}

// Load builds the effective snapshot: environment defaults, then the optional
// YAML file if path is non-empty.
func Load(path string) (Snapshot, error) {
	snap := FromEnv()
	if path == "" {
		return snap, snap.Validate()
	}
	return LoadFile(path, snap)
}
