package child

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// ProtocolVersion is the MCP protocol version the gateway announces to
// every child during the initialize handshake.
const ProtocolVersion = "2025-11-25"

// GatewayName and GatewayVersion identify the gateway to its children.
const (
	GatewayName    = "mcpbox"
	GatewayVersion = "dev"
)

// Config describes one child process to spawn.
type Config struct {
	Name     string
	Command  string
	Args     []string
	Env      map[string]string
	Allowlist []string // empty means "serve every discovered tool"
	Debug    bool      // forward captured stderr to the logger
}

// Child is one managed MCP server subprocess and its discovered
// catalogue.
type Child struct {
	cfg    Config
	logger *slog.Logger

	mu    sync.RWMutex
	state State
	err   error

	transport *transport.Stdio
	client    *client.Client

	tools     []mcp.Tool
	resources []mcp.Resource
	prompts   []mcp.Prompt
}

// NewChild returns a Child in StateConfigured. Call Spawn to bring it up.
func NewChild(cfg Config, logger *slog.Logger) *Child {
	return &Child{cfg: cfg, logger: logger.With("child", cfg.Name), state: StateConfigured}
}

// Name returns the child's configured name, used as its namespace
// prefix.
func (c *Child) Name() string { return c.cfg.Name }

// State returns the child's current lifecycle state.
func (c *Child) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Err returns the reason the child is in StateFailed, if any.
func (c *Child) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

func (c *Child) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Child) fail(from State, err error) error {
	c.mu.Lock()
	c.state = StateFailed
	c.err = err
	c.mu.Unlock()
	c.logger.Error("child failed", "from", from, "error", err)
	return err
}

// mergedEnv builds the subprocess environment: the configured env
// merged atop a minimal default environment rather than the gateway's
// own (potentially secret-laden) environment.
func (c *Child) mergedEnv() []string {
	base := map[string]string{
		"PATH": "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin",
		"HOME": "/tmp",
	}
	for k, v := range c.cfg.Env {
		base[k] = v
	}
	env := make([]string, 0, len(base))
	for k, v := range base {
		env = append(env, k+"="+v)
	}
	return env
}

// Spawn executes the child's command, performs the MCP handshake, and
// discovers its catalogue. On any failure the child moves to
// StateFailed and the error is returned; callers should log and
// continue with the remaining children rather than treat this as fatal.
func (c *Child) Spawn(ctx context.Context) error {
	c.setState(StateSpawning)

	t := transport.NewStdio(c.cfg.Command, c.mergedEnv(), c.cfg.Args...)
	if err := t.Start(ctx); err != nil {
		return c.fail(StateSpawning, fmt.Errorf("spawn: %w", err))
	}
	c.transport = t
	go c.forwardStderr(t.Stderr())

	cl := client.NewClient(t)
	c.client = cl

	c.setState(StateHandshaking)
	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = ProtocolVersion
	initReq.Params.ClientInfo = mcp.Implementation{Name: GatewayName, Version: GatewayVersion}
	if _, err := cl.Initialize(ctx, initReq); err != nil {
		_ = t.Close()
		return c.fail(StateHandshaking, fmt.Errorf("handshake: %w", err))
	}

	if err := c.discoverCatalogue(ctx); err != nil {
		_ = t.Close()
		return c.fail(StateHandshaking, fmt.Errorf("catalogue discovery: %w", err))
	}

	c.setState(StateReady)
	c.logger.Info("child ready", "tools", len(c.tools), "resources", len(c.resources), "prompts", len(c.prompts))
	return nil
}

// discoverCatalogue runs the three best-effort catalogue calls in
// order: tools/list is mandatory, resources/list and prompts/list
// tolerate a missing capability.
func (c *Child) discoverCatalogue(ctx context.Context) error {
	toolsResult, err := c.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return fmt.Errorf("tools/list: %w", err)
	}
	c.tools = filterTools(toolsResult.Tools, c.cfg.Allowlist, c.logger)

	if resourcesResult, err := c.client.ListResources(ctx, mcp.ListResourcesRequest{}); err == nil {
		c.resources = resourcesResult.Resources
	} else {
		c.logger.Debug("resources/list not supported", "error", err)
	}

	if promptsResult, err := c.client.ListPrompts(ctx, mcp.ListPromptsRequest{}); err == nil {
		c.prompts = promptsResult.Prompts
	} else {
		c.logger.Debug("prompts/list not supported", "error", err)
	}

	return nil
}

// filterTools applies the child's allowlist, if any, and logs every
// allowlist entry that did not match a discovered tool.
func filterTools(tools []mcp.Tool, allowlist []string, logger *slog.Logger) []mcp.Tool {
	if len(allowlist) == 0 {
		return tools
	}
	allowed := make(map[string]bool, len(allowlist))
	for _, name := range allowlist {
		allowed[name] = false
	}
	kept := make([]mcp.Tool, 0, len(tools))
	for _, t := range tools {
		if _, ok := allowed[t.Name]; ok {
			allowed[t.Name] = true
			kept = append(kept, t)
		}
	}
	for name, matched := range allowed {
		if !matched {
			logger.Warn("allowlisted tool not found in child catalogue", "tool", name)
		}
	}
	return kept
}

// forwardStderr line-buffers the child's stderr and forwards each line
// to the logger when debug mode is on; otherwise it drains and
// discards the stream so the child is never blocked on a full pipe.
func (c *Child) forwardStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if c.cfg.Debug {
			c.logger.Debug("[mcp:"+c.cfg.Name+"] "+scanner.Text(), "child", c.cfg.Name)
		}
	}
}

// Tools, Resources, and Prompts return the child's post-filter,
// pre-namespacing catalogue.
func (c *Child) Tools() []mcp.Tool         { return c.tools }
func (c *Child) Resources() []mcp.Resource { return c.resources }
func (c *Child) Prompts() []mcp.Prompt     { return c.prompts }

// CallTool, ReadResource, GetPrompt, and Complete forward to the
// underlying MCP client using the child's original (de-namespaced)
// identifier.
func (c *Child) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return c.client.CallTool(ctx, req)
}

func (c *Child) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	req := mcp.ReadResourceRequest{}
	req.Params.URI = uri
	return c.client.ReadResource(ctx, req)
}

func (c *Child) GetPrompt(ctx context.Context, name string, args map[string]string) (*mcp.GetPromptResult, error) {
	req := mcp.GetPromptRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return c.client.GetPrompt(ctx, req)
}

func (c *Child) Complete(ctx context.Context, req mcp.CompleteRequest) (*mcp.CompleteResult, error) {
	return c.client.Complete(ctx, req)
}

func (c *Child) Ping(ctx context.Context) error {
	return c.client.Ping(ctx)
}

// newReadyChildForTest constructs a Child already in StateReady with a
// fixed catalogue, bypassing Spawn. Used by multiplexer_test.go, which
// exercises routing-index and filtering logic without a real
// subprocess.
func newReadyChildForTest(name string, tools []mcp.Tool, resources []mcp.Resource, prompts []mcp.Prompt) *Child {
	return &Child{
		cfg:       Config{Name: name},
		logger:    slog.New(slog.DiscardHandler),
		state:     StateReady,
		tools:     tools,
		resources: resources,
		prompts:   prompts,
		client:    client.NewClient(transport.NewInProcessTransport(server.NewMCPServer(name, "test"))),
	}
}

// Shutdown closes the child's stdio transport and waits briefly for the
// subprocess to exit.
func (c *Child) Shutdown(ctx context.Context) error {
	c.setState(StateStopping)
	defer c.setState(StateStopped)

	if c.client == nil {
		return nil
	}
	done := make(chan error, 1)
	go func() { done <- c.client.Close() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Second):
		return fmt.Errorf("timed out closing child %q", c.cfg.Name)
	}
}
