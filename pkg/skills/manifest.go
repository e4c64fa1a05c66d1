// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package skills

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/jllopis/skillchain/pkg/core"
)

// LoadManifest reads capabilities from a YAML or JSON file. The document is
// either a list of capabilities or a mapping with a "capabilities" list.
func LoadManifest(path string) ([]core.Capability, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseManifest(data)
}

// ParseManifest decodes manifest bytes.
func ParseManifest(data []byte) ([]core.Capability, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if len(doc.Content) == 0 {
		return nil, errors.New("empty manifest")
	}
	root := doc.Content[0]

	var caps []core.Capability
	switch root.Kind {
	case yaml.SequenceNode:
		if err := root.Decode(&caps); err != nil {
			return nil, fmt.Errorf("decode manifest: %w", err)
		}
	case yaml.MappingNode:
		var wrapper struct {
			Capabilities []core.Capability `yaml:"capabilities"`
		}
		if err := root.Decode(&wrapper); err != nil {
			return nil, fmt.Errorf("decode manifest: %w", err)
		}
		caps = wrapper.Capabilities
	default:
		return nil, errors.New("manifest must be a list or a mapping with capabilities")
	}
	for i, c := range caps {
		if c.ID == "" {
			return nil, fmt.Errorf("manifest entry %d: id is required", i)
		}
	}
	return caps, nil
}

// RegisterManifest loads a manifest into reg.
func RegisterManifest(reg Registrar, path string) (int, error) {
	caps, err := LoadManifest(path)
	if err != nil {
		return 0, err
	}
	for i, c := range caps {
		if err := reg.Register(c); err != nil {
			return i, fmt.Errorf("%s: %w", path, err)
		}
	}
	return len(caps), nil
}
