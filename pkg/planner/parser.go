// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package planner

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// ParseJSON loads a plan from JSON and checks its structure. References and
// conditions are compiled while decoding.
func ParseJSON(data []byte) (*Plan, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty JSON payload")
	}
	var plan Plan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("parse json plan: %w", err)
	}
	if _, err := plan.Validate(nil); err != nil {
		return nil, err
	}
	return &plan, nil
}

// ParseYAML loads a plan from YAML and checks its structure.
func ParseYAML(data []byte) (*Plan, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty YAML payload")
	}
	var plan Plan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("parse yaml plan: %w", err)
	}
	if _, err := plan.Validate(nil); err != nil {
		return nil, err
	}
	return &plan, nil
}

// MarshalJSON serializes a plan to JSON. Use pretty for indented output.
func MarshalJSON(plan *Plan, pretty bool) ([]byte, error) {
	if plan == nil {
		return nil, fmt.Errorf("plan is nil")
	}
	if pretty {
		return json.MarshalIndent(plan, "", "  ")
	}
	return json.Marshal(plan)
}

// MarshalYAML serializes a plan to YAML.
func MarshalYAML(plan *Plan) ([]byte, error) {
	if plan == nil {
		return nil, fmt.Errorf("plan is nil")
	}
	return yaml.Marshal(plan)
}
