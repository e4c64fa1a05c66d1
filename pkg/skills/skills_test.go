// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package skills

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/jllopis/skillchain/pkg/registry"
)

func writeSkill(t *testing.T, dir, content string) string {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	path := filepath.Join(dir, "SKILL.md")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := writeSkill(t, filepath.Join(dir, "pdf-processing"), `---
name: pdf-processing
description: Extracts text and tables from PDF files.
license: Apache-2.0
capabilities: [pdf, extract, pdf]
inputs:
  - name: document
    type: url
    required: true
outputs:
  - name: text
    type: string
dependencies: [ocr]
metadata:
  author: example-org
  version: "1.2"
  cost: 0.5
  tier: gold
---

# PDF Processing

Use this skill when dealing with PDFs.
`)

	skill, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if skill.Name != "pdf-processing" {
		t.Fatalf("unexpected name: %s", skill.Name)
	}
	if skill.Title != "PDF Processing" {
		t.Fatalf("unexpected title: %s", skill.Title)
	}
	if len(skill.Capabilities) != 2 {
		t.Fatalf("expected deduped capabilities, got %v", skill.Capabilities)
	}
	if skill.Metadata.Owner != "example-org" || skill.Metadata.Cost != 0.5 {
		t.Fatalf("unexpected metadata: %+v", skill.Metadata)
	}
	if skill.Metadata.Extra["tier"] != "gold" {
		t.Fatalf("expected extra metadata, got %v", skill.Metadata.Extra)
	}

	c := skill.Capability()
	if c.ID != "pdf-processing" || !c.Inputs[0].Required || c.Dependencies[0] != "ocr" {
		t.Fatalf("unexpected capability: %+v", c)
	}
}

func TestLoadFileValidation(t *testing.T) {
	tests := []struct {
		name    string
		dir     string
		content string
	}{
		{name: "missing frontmatter", dir: "x", content: "# Title only\n"},
		{name: "bad name", dir: "Bad_Name", content: "---\nname: Bad_Name\ndescription: d\n---\n"},
		{name: "dir mismatch", dir: "other", content: "---\nname: fetch\ndescription: d\n---\n"},
		{name: "missing description", dir: "fetch", content: "---\nname: fetch\n---\n"},
		{name: "unnamed input", dir: "fetch", content: "---\nname: fetch\ndescription: d\ninputs:\n  - type: url\n---\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeSkill(t, filepath.Join(t.TempDir(), tt.dir), tt.content)
			if _, err := LoadFile(path); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoadDirInfersCategory(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, filepath.Join(root, "01-data-access", "fetch"), `---
name: fetch
description: Fetch data from a URL.
---
`)
	writeSkill(t, filepath.Join(root, "02-processing", "nested", "transform"), `---
name: transform
description: Transform data.
metadata:
  category: custom
---
`)
	writeSkill(t, filepath.Join(root, "misc", "save"), `---
name: save
description: Save results.
---
`)

	specs, err := LoadDir(root)
	if err != nil {
		t.Fatalf("load dir: %v", err)
	}
	if len(specs) != 3 {
		t.Fatalf("expected 3 skills, got %d", len(specs))
	}
	got := map[string]string{}
	for _, s := range specs {
		got[s.Name] = s.Metadata.Category
	}
	if got["fetch"] != "data-access" {
		t.Errorf("expected data-access, got %q", got["fetch"])
	}
	if got["transform"] != "custom" {
		t.Errorf("explicit category must win, got %q", got["transform"])
	}
	if got["save"] != "" {
		t.Errorf("expected no category, got %q", got["save"])
	}
}

func TestMissingSections(t *testing.T) {
	body := `# Fetch

## overview

Fetches things.

### Best Practices ###

- Cache responses.
`
	if got := MissingSections(body, DefaultRequiredSections); len(got) != 0 {
		t.Errorf("expected no missing sections, got %v", got)
	}

	got := MissingSections("# Fetch\n\nBest Practices are listed below.\n", DefaultRequiredSections)
	if !reflect.DeepEqual(got, []string{"Overview", "Best Practices"}) {
		t.Errorf("prose mentions must not count as headings, got %v", got)
	}

	got = MissingSections("## Overview\n", []string{"Overview", "Examples"})
	if !reflect.DeepEqual(got, []string{"Examples"}) {
		t.Errorf("expected [Examples], got %v", got)
	}

	if got := MissingSections("", nil); got != nil {
		t.Errorf("no requirements means nothing missing, got %v", got)
	}
}

func TestRegisterDir(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, filepath.Join(root, "fetch"), "---\nname: fetch\ndescription: Fetch data.\n---\n")
	writeSkill(t, filepath.Join(root, "save"), "---\nname: save\ndescription: Save data.\n---\n")

	reg := registry.New()
	n, err := RegisterDir(reg, root)
	if err != nil {
		t.Fatalf("register dir: %v", err)
	}
	if n != 2 || reg.Len() != 2 {
		t.Fatalf("expected 2 registered, got %d/%d", n, reg.Len())
	}
	if _, err := RegisterDir(reg, root); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
}

func TestParseManifest(t *testing.T) {
	list := []byte(`
- id: fetch
  description: Fetch data
  outputs: [{name: data, type: list}]
- id: save
  inputs: [{name: result, type: list, required: true}]
`)
	caps, err := ParseManifest(list)
	if err != nil {
		t.Fatalf("parse list: %v", err)
	}
	if len(caps) != 2 || caps[1].Inputs[0].Name != "result" {
		t.Fatalf("unexpected capabilities: %+v", caps)
	}

	wrapped := []byte(`{"capabilities":[{"id":"fetch","dependencies":["auth"]}]}`)
	caps, err = ParseManifest(wrapped)
	if err != nil {
		t.Fatalf("parse json: %v", err)
	}
	if caps[0].Dependencies[0] != "auth" {
		t.Fatalf("unexpected dependencies: %v", caps[0].Dependencies)
	}

	if _, err := ParseManifest([]byte(`- description: no id`)); err == nil {
		t.Fatalf("expected missing id error")
	}
	if _, err := ParseManifest([]byte(`just a string`)); err == nil {
		t.Fatalf("expected shape error")
	}
}
