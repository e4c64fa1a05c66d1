// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package mcp reaches capabilities served as Model Context Protocol tools:
// a retrying client, a core.Invoker that calls one tool per capability id
// and a small server that publishes handlers as tools.
package mcp

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	gocache "github.com/patrickmn/go-cache"

	"github.com/jllopis/skillchain/pkg/errors"
)

const (
	defaultTimeout  = 10 * time.Second
	defaultRetries  = 2
	defaultBackoff  = 200 * time.Millisecond
	defaultCacheTTL = 30 * time.Second

	toolsKey = "tools/list"
)

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithTimeout bounds every request sent to the server.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithRetry sets how many times a failed request is repeated and the base
// of the exponential wait between repetitions.
func WithRetry(retries int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		if retries >= 0 {
			c.retries = retries
		}
		if backoff > 0 {
			c.backoff = backoff
		}
	}
}

// WithToolCacheTTL keeps the tool list for ttl. Zero disables caching.
func WithToolCacheTTL(ttl time.Duration) ClientOption {
	return func(c *Client) {
		if ttl >= 0 {
			c.cacheTTL = ttl
		}
	}
}

// WithServerName labels the client in errors.
func WithServerName(name string) ClientOption {
	return func(c *Client) { c.serverName = name }
}

// Client wraps an mcp-go client with request timeouts, retries and a tool
// list cache.
type Client struct {
	conn       client.MCPClient
	serverName string
	timeout    time.Duration
	retries    int
	backoff    time.Duration
	cacheTTL   time.Duration
	tools      *gocache.Cache
}

// NewClient wraps an initialized connection.
func NewClient(conn client.MCPClient, opts ...ClientOption) *Client {
	c := &Client{
		conn:     conn,
		timeout:  defaultTimeout,
		retries:  defaultRetries,
		backoff:  defaultBackoff,
		cacheTTL: defaultCacheTTL,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cacheTTL > 0 {
		c.tools = gocache.New(c.cacheTTL, 2*c.cacheTTL)
	}
	return c
}

// NewClientWithStdio starts command and speaks MCP over its stdio.
func NewClientWithStdio(command string, args []string, opts ...ClientOption) (*Client, error) {
	return NewClientWithStdioProtocol(command, args, "", opts...)
}

// NewClientWithStdioProtocol is NewClientWithStdio with an explicit
// protocol version. An empty version means the latest one.
func NewClientWithStdioProtocol(command string, args []string, protocolVersion string, opts ...ClientOption) (*Client, error) {
	conn, err := client.NewStdioMCPClient(command, nil, args...)
	if err != nil {
		return nil, errors.New(errors.CodeToolExecution, "start mcp server "+command, err)
	}
	return connect(conn, protocolVersion, opts)
}

// NewClientWithStreamableHTTP connects to a server over streamable HTTP.
func NewClientWithStreamableHTTP(baseURL string, opts ...ClientOption) (*Client, error) {
	return NewClientWithStreamableHTTPProtocol(baseURL, "", opts...)
}

// NewClientWithStreamableHTTPProtocol is NewClientWithStreamableHTTP with
// an explicit protocol version.
func NewClientWithStreamableHTTPProtocol(baseURL, protocolVersion string, opts ...ClientOption) (*Client, error) {
	conn, err := client.NewStreamableHttpClient(baseURL)
	if err != nil {
		return nil, errors.New(errors.CodeToolExecution, "mcp transport "+baseURL, err)
	}
	if err := conn.Start(context.Background()); err != nil {
		return nil, errors.New(errors.CodeToolExecution, "mcp transport "+baseURL, err)
	}
	return connect(conn, protocolVersion, opts)
}

// connect runs the initialize handshake and closes conn when it fails.
func connect(conn *client.Client, protocolVersion string, opts []ClientOption) (*Client, error) {
	if protocolVersion == "" {
		protocolVersion = mcp.LATEST_PROTOCOL_VERSION
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = protocolVersion
	req.Params.ClientInfo = mcp.Implementation{Name: "skillchain", Version: "0.1.0"}
	if _, err := conn.Initialize(ctx, req); err != nil {
		_ = conn.Close()
		return nil, errors.New(errors.CodeToolExecution, "mcp initialize", err)
	}
	return NewClient(conn, opts...), nil
}

// ServerName returns the name set with WithServerName.
func (c *Client) ServerName() string { return c.serverName }

// ListTools returns the tools the server exposes, from cache when fresh.
func (c *Client) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	if c.tools != nil {
		if cached, ok := c.tools.Get(toolsKey); ok {
			return append([]mcp.Tool(nil), cached.([]mcp.Tool)...), nil
		}
	}
	resp, err := withRetry(ctx, c, "tools/list", func(ctx context.Context) (*mcp.ListToolsResult, error) {
		return c.conn.ListTools(ctx, mcp.ListToolsRequest{})
	})
	if err != nil {
		return nil, err
	}
	if c.tools != nil {
		c.tools.SetDefault(toolsKey, append([]mcp.Tool(nil), resp.Tools...))
	}
	return resp.Tools, nil
}

// CallTool invokes the tool name with args.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return withRetry(ctx, c, "tools/call "+name, func(ctx context.Context) (*mcp.CallToolResult, error) {
		return c.conn.CallTool(ctx, req)
	})
}

// Close releases the connection and, for stdio, the server process.
func (c *Client) Close() error {
	return c.conn.Close()
}

// withRetry makes up to retries+1 bounded requests. Cancellation is not
// retried.
func withRetry[T any](ctx context.Context, c *Client, op string, do func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	attempts := c.retries + 1
	for i := range attempts {
		reqCtx, cancel := ctx, context.CancelFunc(func() {})
		if c.timeout > 0 {
			reqCtx, cancel = context.WithTimeout(ctx, c.timeout)
		}
		res, err := do(reqCtx)
		cancel()
		if err == nil {
			return res, nil
		}
		if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
			return zero, errors.New(errors.CodeTimeout, "mcp "+op+" interrupted", err).
				WithContext("server", c.serverName).
				WithRecoverable(true)
		}
		lastErr = err
		if i == attempts-1 {
			break
		}
		wait := time.NewTimer(c.backoff << i)
		select {
		case <-ctx.Done():
			wait.Stop()
			return zero, errors.New(errors.CodeContextLost, "mcp "+op+" cancelled", ctx.Err())
		case <-wait.C:
		}
	}
	return zero, errors.New(errors.CodeToolExecution, "mcp "+op+" failed", lastErr).
		WithContext("server", c.serverName).
		WithContext("attempts", attempts).
		WithRecoverable(true)
}
