// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package planner

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LoadPlan loads a plan from a YAML or JSON file.
func LoadPlan(path string) (*Plan, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("plan path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		return ParseJSON(data)
	case ".yaml", ".yml":
		return ParseYAML(data)
	default:
		return parsePlanAuto(data)
	}
}

func parsePlanAuto(data []byte) (*Plan, error) {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "{") {
		if plan, err := ParseJSON(data); err == nil {
			return plan, nil
		}
	}
	plan, err := ParseYAML(data)
	if err == nil {
		return plan, nil
	}
	if plan, jsonErr := ParseJSON(data); jsonErr == nil {
		return plan, nil
	}
	return nil, fmt.Errorf("unsupported plan format: %w", err)
}
