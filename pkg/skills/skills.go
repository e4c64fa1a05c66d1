// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package skills bootstraps the capability registry from SKILL.md files and
// YAML/JSON manifests.
package skills

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/jllopis/skillchain/pkg/core"
)

// SkillSpec is a capability described by a SKILL.md file.
type SkillSpec struct {
	Name          string
	Title         string
	Description   string
	License       string
	Compatibility string
	Capabilities  []string
	Inputs        []core.Parameter
	Outputs       []core.Parameter
	Dependencies  []string
	Resources     []string
	Metadata      core.Metadata
	Body          string
	Path          string
	Dir           string
}

const (
	maxNameLen        = 64
	maxDescriptionLen = 1024
	maxCompatLen      = 500
	skillFile         = "SKILL.md"
)

var (
	namePattern     = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)
	categoryPattern = regexp.MustCompile(`^(\d+)-(.+)$`)
	titlePattern    = regexp.MustCompile(`(?m)^#\s+(.+)$`)
	headingPattern  = regexp.MustCompile(`(?m)^#{1,6}\s+(.+?)\s*#*\s*$`)
)

// DefaultRequiredSections are the body headings a SKILL.md is expected to carry.
var DefaultRequiredSections = []string{"Overview", "Best Practices"}

// Registrar receives loaded capabilities. *registry.Registry implements it.
type Registrar interface {
	Register(c core.Capability) error
}

// LoadDir walks root for SKILL.md files. Results follow lexical path order.
func LoadDir(root string) ([]SkillSpec, error) {
	var out []SkillSpec
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() != skillFile {
			return nil
		}
		skill, err := LoadFile(path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if skill.Metadata.Category == "" {
			skill.Metadata.Category = categoryFor(root, skill.Dir)
		}
		out = append(out, skill)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// LoadFile parses a single SKILL.md file.
func LoadFile(path string) (SkillSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SkillSpec{}, err
	}
	fm, body, err := splitFrontmatter(string(data))
	if err != nil {
		return SkillSpec{}, err
	}
	var parsed frontmatter
	if err := yaml.Unmarshal([]byte(fm), &parsed); err != nil {
		return SkillSpec{}, fmt.Errorf("parse frontmatter: %w", err)
	}
	dir := filepath.Dir(path)
	spec := SkillSpec{
		Name:          strings.TrimSpace(parsed.Name),
		Description:   strings.TrimSpace(parsed.Description),
		License:       parsed.License,
		Compatibility: parsed.Compatibility,
		Capabilities:  dedupe(parsed.Capabilities),
		Inputs:        parsed.Inputs,
		Outputs:       parsed.Outputs,
		Dependencies:  dedupe(parsed.Dependencies),
		Resources:     dedupe(parsed.Resources),
		Metadata:      parsed.Metadata.toCore(),
		Body:          strings.TrimSpace(body),
		Path:          path,
		Dir:           dir,
	}
	spec.Title = extractTitle(spec.Body, spec.Name)
	if err := Validate(spec); err != nil {
		return SkillSpec{}, err
	}
	return spec, nil
}

// Capability converts the skill into a registry entry keyed by its name.
func (s SkillSpec) Capability() core.Capability {
	return core.Capability{
		ID:           s.Name,
		Name:         s.Title,
		Description:  s.Description,
		Capabilities: s.Capabilities,
		Inputs:       s.Inputs,
		Outputs:      s.Outputs,
		Dependencies: s.Dependencies,
		Resources:    s.Resources,
		Metadata:     s.Metadata,
	}
}

// Validate enforces naming and length rules on a skill.
func Validate(spec SkillSpec) error {
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		return errors.New("name is required")
	}
	if utf8.RuneCountInString(name) > maxNameLen {
		return fmt.Errorf("name exceeds %d characters", maxNameLen)
	}
	if !namePattern.MatchString(name) {
		return fmt.Errorf("name must match %s", namePattern.String())
	}
	if spec.Dir != "" {
		if dirName := filepath.Base(spec.Dir); dirName != name {
			return fmt.Errorf("name must match directory name (%s)", dirName)
		}
	}
	desc := strings.TrimSpace(spec.Description)
	if desc == "" {
		return errors.New("description is required")
	}
	if utf8.RuneCountInString(desc) > maxDescriptionLen {
		return fmt.Errorf("description exceeds %d characters", maxDescriptionLen)
	}
	compat := strings.TrimSpace(spec.Compatibility)
	if compat != "" && utf8.RuneCountInString(compat) > maxCompatLen {
		return fmt.Errorf("compatibility exceeds %d characters", maxCompatLen)
	}
	for _, p := range append(append([]core.Parameter{}, spec.Inputs...), spec.Outputs...) {
		if strings.TrimSpace(p.Name) == "" {
			return errors.New("parameters must be named")
		}
	}
	return nil
}

// MissingSections returns the entries of required that no markdown heading
// of body names, in the order given. Heading text is compared case-insensitively.
func MissingSections(body string, required []string) []string {
	present := make(map[string]bool)
	for _, m := range headingPattern.FindAllStringSubmatch(body, -1) {
		present[strings.ToLower(strings.TrimSpace(m[1]))] = true
	}
	var missing []string
	for _, section := range required {
		if !present[strings.ToLower(strings.TrimSpace(section))] {
			missing = append(missing, section)
		}
	}
	return missing
}

// RegisterDir loads every skill under root into reg and returns how many were registered.
func RegisterDir(reg Registrar, root string) (int, error) {
	specs, err := LoadDir(root)
	if err != nil {
		return 0, err
	}
	return RegisterSpecs(reg, specs)
}

// RegisterSpecs registers already loaded skills in order.
func RegisterSpecs(reg Registrar, specs []SkillSpec) (int, error) {
	for i, spec := range specs {
		if err := reg.Register(spec.Capability()); err != nil {
			return i, fmt.Errorf("%s: %w", spec.Path, err)
		}
	}
	return len(specs), nil
}

type frontmatter struct {
	Name          string           `yaml:"name"`
	Description   string           `yaml:"description"`
	License       string           `yaml:"license"`
	Compatibility string           `yaml:"compatibility"`
	Capabilities  []string         `yaml:"capabilities"`
	Inputs        []core.Parameter `yaml:"inputs"`
	Outputs       []core.Parameter `yaml:"outputs"`
	Dependencies  []string         `yaml:"dependencies"`
	Resources     []string         `yaml:"resources"`
	Metadata      metadata         `yaml:"metadata"`
}

type metadata struct {
	Category string            `yaml:"category"`
	Version  string            `yaml:"version"`
	Owner    string            `yaml:"owner"`
	Author   string            `yaml:"author"`
	Cost     float64           `yaml:"cost"`
	Extra    map[string]string `yaml:",inline"`
}

func (m metadata) toCore() core.Metadata {
	owner := m.Owner
	if owner == "" {
		owner = m.Author
	}
	return core.Metadata{
		Category: m.Category,
		Version:  m.Version,
		Owner:    owner,
		Cost:     m.Cost,
		Extra:    m.Extra,
	}
}

func splitFrontmatter(content string) (string, string, error) {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "---") {
		return "", "", errors.New("missing frontmatter")
	}
	parts := strings.SplitN(trimmed, "---", 3)
	if len(parts) < 3 {
		return "", "", errors.New("invalid frontmatter")
	}
	fm := strings.TrimSpace(parts[1])
	body := strings.TrimSpace(parts[2])
	return fm, body, nil
}

// categoryFor returns the slug of the nearest NN-slug directory between root and dir.
func categoryFor(root, dir string) string {
	rel, err := filepath.Rel(root, dir)
	if err != nil {
		return ""
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	for i := len(parts) - 1; i >= 0; i-- {
		if m := categoryPattern.FindStringSubmatch(parts[i]); m != nil {
			return m[2]
		}
	}
	return ""
}

func extractTitle(body, fallback string) string {
	if m := titlePattern.FindStringSubmatch(body); m != nil {
		return strings.TrimSpace(m[1])
	}
	return fallback
}

func dedupe(items []string) []string {
	if len(items) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" || seen[item] {
			continue
		}
		seen[item] = true
		out = append(out, item)
	}
	return out
}
