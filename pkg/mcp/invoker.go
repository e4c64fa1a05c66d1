// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jllopis/skillchain/pkg/core"
	"github.com/jllopis/skillchain/pkg/errors"
)

// ToolCaller is the part of Client the invoker needs.
type ToolCaller interface {
	CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error)
}

// Invoker implements core.Invoker by calling the MCP tool named after the
// capability id, or the name mapped with MapTool.
type Invoker struct {
	caller ToolCaller

	mu    sync.RWMutex
	tools map[string]string
}

// NewInvoker creates an invoker over caller.
func NewInvoker(caller ToolCaller) *Invoker {
	return &Invoker{caller: caller, tools: make(map[string]string)}
}

// MapTool routes capabilityID to a differently named tool.
func (i *Invoker) MapTool(capabilityID, tool string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.tools[capabilityID] = tool
}

func (i *Invoker) toolFor(capabilityID string) string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if t, ok := i.tools[capabilityID]; ok {
		return t
	}
	return capabilityID
}

// Invoke implements core.Invoker. Inputs are sent as plain JSON arguments.
// Structured content comes back as Values; text content is decoded as a
// JSON object when possible and otherwise returned under "result".
func (i *Invoker) Invoke(ctx context.Context, capabilityID string, inputs core.Values) (core.Values, error) {
	tool := i.toolFor(capabilityID)
	res, err := i.caller.CallTool(ctx, tool, inputs.Plain())
	if err != nil {
		return nil, err
	}
	return resultValues(tool, res)
}

func resultValues(tool string, res *mcp.CallToolResult) (core.Values, error) {
	if res == nil {
		return nil, errors.Newf(errors.CodeToolExecution, "mcp tool %q returned no result", tool)
	}
	text := extractTextContent(res.Content)
	if res.IsError {
		return nil, errors.Newf(errors.CodeToolExecution, "mcp tool %q returned error: %s", tool, text).
			WithContext("tool", tool).
			WithRecoverable(true)
	}

	if res.StructuredContent != nil {
		return decodeObject(tool, res.StructuredContent)
	}
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "{") {
		var obj map[string]any
		if err := json.Unmarshal([]byte(trimmed), &obj); err == nil {
			return core.ValuesFromMap(obj)
		}
	}
	if trimmed == "" {
		return core.Values{}, nil
	}
	return core.Values{"result": core.String(text)}, nil
}

func decodeObject(tool string, structured any) (core.Values, error) {
	obj, ok := structured.(map[string]any)
	if !ok {
		raw, err := json.Marshal(structured)
		if err != nil {
			return nil, errors.New(errors.CodeToolExecution, fmt.Sprintf("mcp tool %q: unreadable structured content", tool), err)
		}
		if err := json.Unmarshal(raw, &obj); err != nil {
			v, convErr := core.FromAny(structured)
			if convErr != nil {
				return nil, errors.New(errors.CodeToolExecution, fmt.Sprintf("mcp tool %q: unreadable structured content", tool), convErr)
			}
			return core.Values{"result": v}, nil
		}
	}
	out, err := core.ValuesFromMap(obj)
	if err != nil {
		return nil, errors.New(errors.CodeToolExecution, fmt.Sprintf("mcp tool %q: unreadable structured content", tool), err)
	}
	return out, nil
}

func extractTextContent(items []mcp.Content) string {
	var parts []string
	for _, item := range items {
		switch content := item.(type) {
		case mcp.TextContent:
			parts = append(parts, content.Text)
		case *mcp.TextContent:
			parts = append(parts, content.Text)
		}
	}
	return strings.Join(parts, "\n")
}

var _ core.Invoker = (*Invoker)(nil)
