package proxy

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/namastexlabs/mcp-hub/internal/registry"
)

// ToolEvent is one unit of a streamed tool invocation result. The Hub
// forwards these to the client in arrival order (spec §5: "Preserve MCP
// event ordering strictly").
type ToolEvent struct {
	Content    []mcpsdk.Content
	IsError    bool
	StructData map[string]any
}

// ChildClient unifies the three ways an underlying tool server exposes
// MCP, so the Proxy's call pipeline never branches on transport kind
// (spec §4.11).
type ChildClient interface {
	ListTools(ctx context.Context) ([]*mcpsdk.Tool, error)
	Call(ctx context.Context, name string, args map[string]any) (ToolEvent, error)
	Close() error
}

// childSpec is derived from a tool's registry descriptor; env is the
// per-request merged {config ∪ credentials} materialized by the Proxy.
type childSpec struct {
	invocation registry.InvocationSpec
	env        map[string]string
}

func openChildClient(ctx context.Context, spec childSpec, inProcess InProcessRegistry) (ChildClient, error) {
	switch spec.invocation.Kind {
	case "in_process":
		return openInProcessClient(spec, inProcess)
	case "stdio":
		return openStdioClient(ctx, spec)
	case "http":
		return openHTTPClient(ctx, spec)
	default:
		return nil, fmt.Errorf("unknown invocation kind %q", spec.invocation.Kind)
	}
}

// --- in-process --------------------------------------------------------

// InProcessTool is implemented by tools compiled directly into the Hub
// binary — no child process or network hop, used for first-party tools
// that need no isolation boundary.
type InProcessTool interface {
	ListTools(ctx context.Context) ([]*mcpsdk.Tool, error)
	Call(ctx context.Context, env map[string]string, name string, args map[string]any) (ToolEvent, error)
}

// InProcessRegistry looks up an in-process tool implementation by name.
type InProcessRegistry interface {
	Get(toolName string) (InProcessTool, bool)
}

// StaticInProcessRegistry is a map-backed InProcessRegistry for the
// first-party tools compiled into the Hub binary, the in-process
// counterpart to vault.StaticProviderRegistry.
type StaticInProcessRegistry map[string]InProcessTool

func (r StaticInProcessRegistry) Get(toolName string) (InProcessTool, bool) {
	tool, ok := r[toolName]
	return tool, ok
}

type inProcessClient struct {
	tool InProcessTool
	env  map[string]string
}

func openInProcessClient(spec childSpec, reg InProcessRegistry) (ChildClient, error) {
	if reg == nil {
		return nil, fmt.Errorf("no in-process tool registry configured")
	}
	tool, ok := reg.Get(spec.invocation.Command)
	if !ok {
		return nil, fmt.Errorf("in-process tool %q not registered", spec.invocation.Command)
	}
	return &inProcessClient{tool: tool, env: spec.env}, nil
}

func (c *inProcessClient) ListTools(ctx context.Context) ([]*mcpsdk.Tool, error) {
	return c.tool.ListTools(ctx)
}

func (c *inProcessClient) Call(ctx context.Context, name string, args map[string]any) (ToolEvent, error) {
	return c.tool.Call(ctx, c.env, name, args)
}

func (c *inProcessClient) Close() error { return nil }

// --- stdio ---------------------------------------------------------------

type stdioClient struct {
	client  *mcpsdk.Client
	session *mcpsdk.ClientSession
}

func openStdioClient(ctx context.Context, spec childSpec) (ChildClient, error) {
	cmd := exec.CommandContext(ctx, spec.invocation.Command, spec.invocation.Args...)
	cmd.Env = append(os.Environ(), envSliceFromMap(spec.env)...)

	transport := &mcpsdk.CommandTransport{Command: cmd}
	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "mcp-hub", Version: "1.0"}, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start child tool process %q: %w", spec.invocation.Command, err)
	}
	return &stdioClient{client: client, session: session}, nil
}

func (c *stdioClient) ListTools(ctx context.Context) ([]*mcpsdk.Tool, error) {
	res, err := c.session.ListTools(ctx, &mcpsdk.ListToolsParams{})
	if err != nil {
		return nil, err
	}
	return res.Tools, nil
}

func (c *stdioClient) Call(ctx context.Context, name string, args map[string]any) (ToolEvent, error) {
	res, err := c.session.CallTool(ctx, &mcpsdk.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return ToolEvent{}, err
	}
	return ToolEvent{Content: res.Content, IsError: res.IsError}, nil
}

func (c *stdioClient) Close() error {
	return c.session.Close()
}

// --- http ------------------------------------------------------------

type httpClient struct {
	client  *mcpsdk.Client
	session *mcpsdk.ClientSession
}

// headerRoundTripper injects the materialized per-user env as request
// headers, so credentials never touch the URL or get logged by a proxy.
type headerRoundTripper struct {
	base    http.RoundTripper
	headers map[string]string
}

func (rt *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range rt.headers {
		req.Header.Set("X-Hub-Env-"+k, v)
	}
	return rt.base.RoundTrip(req)
}

func openHTTPClient(ctx context.Context, spec childSpec) (ChildClient, error) {
	httpCli := &http.Client{
		Timeout:   30 * time.Second,
		Transport: &headerRoundTripper{base: http.DefaultTransport, headers: spec.env},
	}
	transport := &mcpsdk.StreamableClientTransport{Endpoint: spec.invocation.URL, HTTPClient: httpCli}
	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "mcp-hub", Version: "1.0"}, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to child tool server %q: %w", spec.invocation.URL, err)
	}
	return &httpClient{client: client, session: session}, nil
}

func (c *httpClient) ListTools(ctx context.Context) ([]*mcpsdk.Tool, error) {
	res, err := c.session.ListTools(ctx, &mcpsdk.ListToolsParams{})
	if err != nil {
		return nil, err
	}
	return res.Tools, nil
}

func (c *httpClient) Call(ctx context.Context, name string, args map[string]any) (ToolEvent, error) {
	res, err := c.session.CallTool(ctx, &mcpsdk.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return ToolEvent{}, err
	}
	return ToolEvent{Content: res.Content, IsError: res.IsError}, nil
}

func (c *httpClient) Close() error {
	return c.session.Close()
}

func envSliceFromMap(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
