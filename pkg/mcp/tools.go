// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"context"
	"slices"
	"sort"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jllopis/skillchain/pkg/core"
)

// ToolLister is the part of Client used to import tools.
type ToolLister interface {
	ListTools(ctx context.Context) ([]mcp.Tool, error)
}

// Registrar receives imported capabilities.
type Registrar interface {
	Register(c core.Capability) error
}

// CapabilityFromTool describes an MCP tool as a capability. Inputs come from
// the input schema properties in name order; the tool name is the id.
func CapabilityFromTool(tool mcp.Tool) core.Capability {
	c := core.Capability{
		ID:          tool.Name,
		Name:        tool.Name,
		Description: tool.Description,
		Metadata:    core.Metadata{Category: "mcp"},
	}
	names := make([]string, 0, len(tool.InputSchema.Properties))
	for name := range tool.InputSchema.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		p := core.Parameter{Name: name, Required: slices.Contains(tool.InputSchema.Required, name)}
		if prop, ok := tool.InputSchema.Properties[name].(map[string]any); ok {
			p.Type = mapSchemaType(prop["type"])
			p.Description, _ = prop["description"].(string)
		}
		c.Inputs = append(c.Inputs, p)
	}
	return c
}

// ImportTools registers every tool the server lists and returns how many
// were added.
func ImportTools(ctx context.Context, lister ToolLister, reg Registrar) (int, error) {
	tools, err := lister.ListTools(ctx)
	if err != nil {
		return 0, err
	}
	for i, tool := range tools {
		if err := reg.Register(CapabilityFromTool(tool)); err != nil {
			return i, err
		}
	}
	return len(tools), nil
}

func mapSchemaType(v any) string {
	switch t, _ := v.(string); t {
	case "integer", "number":
		return "number"
	case "array":
		return "list"
	case "":
		return "any"
	default:
		return t
	}
}

func schemaType(parameterType string) string {
	switch parameterType {
	case "number", "integer", "float":
		return "number"
	case "boolean", "bool":
		return "boolean"
	case "list", "array":
		return "array"
	case "object":
		return "object"
	default:
		return "string"
	}
}
