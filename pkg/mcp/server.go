// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jllopis/skillchain/pkg/core"
)

// Server publishes capability handlers as MCP tools.
type Server struct {
	mcpServer *server.MCPServer
}

// NewServer creates a new MCP server.
func NewServer(name, version string) *Server {
	return &Server{
		mcpServer: server.NewMCPServer(name, version),
	}
}

// RegisterCapability exposes handler as the tool c.ID. Declared inputs
// become schema properties; outputs are returned as structured content with
// a JSON text copy.
func (s *Server) RegisterCapability(c core.Capability, handler core.Handler) {
	opts := []mcp.ToolOption{mcp.WithDescription(c.Description)}
	for _, in := range c.Inputs {
		popts := []mcp.PropertyOption{mcp.Description(in.Description)}
		if in.Required {
			popts = append(popts, mcp.Required())
		}
		switch schemaType(in.Type) {
		case "number":
			opts = append(opts, mcp.WithNumber(in.Name, popts...))
		case "boolean":
			opts = append(opts, mcp.WithBoolean(in.Name, popts...))
		case "array":
			opts = append(opts, mcp.WithArray(in.Name, popts...))
		case "object":
			opts = append(opts, mcp.WithObject(in.Name, popts...))
		default:
			opts = append(opts, mcp.WithString(in.Name, popts...))
		}
	}

	s.mcpServer.AddTool(mcp.NewTool(c.ID, opts...), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := request.Params.Arguments.(map[string]interface{})
		inputs, err := core.ValuesFromMap(args)
		if err != nil {
			return errorResult(err), nil
		}
		out, err := core.SafeInvoke(ctx, core.Handlers{c.ID: handler}, c.ID, inputs)
		if err != nil {
			return errorResult(err), nil
		}
		plain := out.Plain()
		text, err := json.Marshal(plain)
		if err != nil {
			return errorResult(err), nil
		}
		return &mcp.CallToolResult{
			Content:           []mcp.Content{mcp.TextContent{Type: "text", Text: string(text)}},
			StructuredContent: plain,
		}, nil
	})
}

// MCPServer returns the underlying server, e.g. for an HTTP transport.
func (s *Server) MCPServer() *server.MCPServer { return s.mcpServer }

// ServeStdio starts the server on Stdio.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

func errorResult(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: err.Error()}},
		IsError: true,
	}
}
