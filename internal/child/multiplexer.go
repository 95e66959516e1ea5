package child

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/2389/mcpbox/internal/namespace"
)

// skipNamespaceEnv disables the namespace codec entirely: discovered
// names pass through untouched. It exists only for conformance-suite
// runs against a single child and is deliberately not surfaced in
// configuration.
const skipNamespaceEnv = "__MCPBOX_SKIP_NAMESPACE"

// ErrUnknown is returned when a namespaced identifier does not resolve
// to any child's routing index.
var ErrUnknown = errors.New("unknown tool/resource/prompt")

// Multiplexer owns every configured child and the routing indexes that
// map a namespaced identifier back to the child that serves it.
type Multiplexer struct {
	logger        *slog.Logger
	skipNamespace bool

	mu        sync.RWMutex
	children  map[string]*Child
	order     []string // insertion order, for deterministic catalogue concatenation
	toolIndex map[string]string
	resIndex  map[string]string
	promIndex map[string]string
}

// New returns an empty Multiplexer. Call SpawnAll with the configured
// children to spawn them and build the merged catalogue.
func New(logger *slog.Logger) *Multiplexer {
	return &Multiplexer{
		logger:        logger,
		skipNamespace: os.Getenv(skipNamespaceEnv) != "",
		children:      make(map[string]*Child),
		toolIndex:     make(map[string]string),
		resIndex:      make(map[string]string),
		promIndex:     make(map[string]string),
	}
}

// SpawnAll spawns every configured child concurrently. A child that
// fails to spawn, connect, or handshake is logged and excluded from the
// catalogue; SpawnAll itself never fails because an empty catalogue is
// an acceptable outcome.
func (m *Multiplexer) SpawnAll(ctx context.Context, configs []Config) {
	type result struct {
		cfg   Config
		child *Child
	}
	results := make(chan result, len(configs))

	var wg sync.WaitGroup
	for _, cfg := range configs {
		wg.Add(1)
		go func(cfg Config) {
			defer wg.Done()
			c := NewChild(cfg, m.logger)
			if err := c.Spawn(ctx); err != nil {
				m.logger.Error("child did not become ready", "child", cfg.Name, "error", err)
			}
			results <- result{cfg: cfg, child: c}
		}(cfg)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	// Preserve configuration order for deterministic catalogue
	// concatenation, even though children spawn concurrently.
	byName := make(map[string]*Child, len(configs))
	for r := range results {
		byName[r.cfg.Name] = r.child
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cfg := range configs {
		c := byName[cfg.Name]
		m.children[cfg.Name] = c
		m.order = append(m.order, cfg.Name)
		if c.State() != StateReady {
			continue
		}
		m.indexChildLocked(c)
	}
}

// addChildForTest registers an already-built Child (e.g. one from
// newReadyChildForTest) and indexes its catalogue, bypassing SpawnAll.
func (m *Multiplexer) addChildForTest(c *Child) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.children[c.Name()] = c
	m.order = append(m.order, c.Name())
	if c.State() == StateReady {
		m.indexChildLocked(c)
	}
}

func (m *Multiplexer) namespaceFor(childName string) func(string) string {
	if m.skipNamespace {
		return func(name string) string { return name }
	}
	return func(name string) string { return namespace.Encode(childName, name) }
}

func (m *Multiplexer) indexChildLocked(c *Child) {
	encode := m.namespaceFor(c.Name())
	for _, t := range c.Tools() {
		m.toolIndex[encode(t.Name)] = c.Name()
	}
	for _, r := range c.Resources() {
		m.resIndex[encode(r.URI)] = c.Name()
	}
	for _, p := range c.Prompts() {
		m.promIndex[encode(p.Name)] = c.Name()
	}
}

// ListTools concatenates every ready child's tools, in configuration
// order, with names rewritten through the namespace codec.
func (m *Multiplexer) ListTools() []mcp.Tool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	encode := func(childName, name string) string { return m.namespaceFor(childName)(name) }
	var out []mcp.Tool
	for _, name := range m.order {
		c := m.children[name]
		if c.State() != StateReady {
			continue
		}
		for _, t := range c.Tools() {
			t.Name = encode(name, t.Name)
			out = append(out, t)
		}
	}
	return out
}

// ListResources concatenates every ready child's resources.
func (m *Multiplexer) ListResources() []mcp.Resource {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []mcp.Resource
	for _, name := range m.order {
		c := m.children[name]
		if c.State() != StateReady {
			continue
		}
		encode := m.namespaceFor(name)
		for _, r := range c.Resources() {
			r.URI = encode(r.URI)
			out = append(out, r)
		}
	}
	return out
}

// ListPrompts concatenates every ready child's prompts.
func (m *Multiplexer) ListPrompts() []mcp.Prompt {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []mcp.Prompt
	for _, name := range m.order {
		c := m.children[name]
		if c.State() != StateReady {
			continue
		}
		encode := m.namespaceFor(name)
		for _, p := range c.Prompts() {
			p.Name = encode(p.Name)
			out = append(out, p)
		}
	}
	return out
}

func (m *Multiplexer) resolve(index map[string]string, namespaced string) (*Child, string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	childName, ok := index[namespaced]
	if !ok {
		return nil, "", false
	}
	c := m.children[childName]
	original := namespaced
	if !m.skipNamespace {
		original = namespace.Strip(childName, namespaced)
	}
	return c, original, true
}

// CallTool resolves a namespaced tool name to its child and dispatches
// tools/call with the original name.
func (m *Multiplexer) CallTool(ctx context.Context, namespacedName string, args map[string]any) (*mcp.CallToolResult, error) {
	c, original, ok := m.resolve(m.toolIndex, namespacedName)
	if !ok {
		return nil, ErrUnknown
	}
	return c.CallTool(ctx, original, args)
}

// ReadResource resolves a namespaced resource URI to its child and
// dispatches resources/read with the original URI.
func (m *Multiplexer) ReadResource(ctx context.Context, namespacedURI string) (*mcp.ReadResourceResult, error) {
	c, original, ok := m.resolve(m.resIndex, namespacedURI)
	if !ok {
		return nil, ErrUnknown
	}
	return c.ReadResource(ctx, original)
}

// GetPrompt resolves a namespaced prompt name to its child and
// dispatches prompts/get with the original name.
func (m *Multiplexer) GetPrompt(ctx context.Context, namespacedName string, args map[string]string) (*mcp.GetPromptResult, error) {
	c, original, ok := m.resolve(m.promIndex, namespacedName)
	if !ok {
		return nil, ErrUnknown
	}
	return c.GetPrompt(ctx, original, args)
}

// Complete discriminates on the completion reference type — a prompt
// reference uses the prompt index, a resource reference uses the
// resource index — and dispatches completion/complete with the
// de-namespaced ref to the owning child.
func (m *Multiplexer) Complete(ctx context.Context, req mcp.CompleteRequest) (*mcp.CompleteResult, error) {
	var (
		c        *Child
		original string
		ok       bool
	)
	switch ref := req.Params.Ref.(type) {
	case mcp.PromptReference:
		if ref.Type == "ref/prompt" {
			c, original, ok = m.resolve(m.promIndex, ref.Name)
			if ok {
				ref.Name = original
				req.Params.Ref = ref
			}
		}
	case mcp.ResourceReference:
		if ref.Type == "ref/resource" {
			c, original, ok = m.resolve(m.resIndex, ref.URI)
			if ok {
				ref.URI = original
				req.Params.Ref = ref
			}
		}
	}
	if !ok {
		return nil, ErrUnknown
	}
	return c.Complete(ctx, req)
}

// ChildHealth reports on one child for the health probe endpoint.
type ChildHealth struct {
	Name      string `json:"name"`
	State     State  `json:"state"`
	Up        bool   `json:"up"`
	Tools     int    `json:"tools"`
	Resources int    `json:"resources"`
	Prompts   int    `json:"prompts"`
}

// Health pings every ready child and reports each child's status and
// catalogue size; a child that is not ready is reported as down without
// a ping.
func (m *Multiplexer) Health(ctx context.Context) []ChildHealth {
	m.mu.RLock()
	names := append([]string(nil), m.order...)
	m.mu.RUnlock()

	out := make([]ChildHealth, 0, len(names))
	for _, name := range names {
		m.mu.RLock()
		c := m.children[name]
		m.mu.RUnlock()

		up := c.State() == StateReady
		if up {
			up = c.Ping(ctx) == nil
		}
		out = append(out, ChildHealth{
			Name:      name,
			State:     c.State(),
			Up:        up,
			Tools:     len(c.Tools()),
			Resources: len(c.Resources()),
			Prompts:   len(c.Prompts()),
		})
	}
	return out
}

// Shutdown closes every child's stdio transport concurrently and
// clears all routing indexes. It reports every per-child close error
// via the returned slice rather than aborting on the first failure.
func (m *Multiplexer) Shutdown(ctx context.Context) []error {
	m.mu.Lock()
	children := make([]*Child, 0, len(m.children))
	for _, name := range m.order {
		children = append(children, m.children[name])
	}
	m.mu.Unlock()

	errs := make([]error, len(children))
	var wg sync.WaitGroup
	for i, c := range children {
		wg.Add(1)
		go func(i int, c *Child) {
			defer wg.Done()
			errs[i] = c.Shutdown(ctx)
		}(i, c)
	}
	wg.Wait()

	m.mu.Lock()
	m.children = make(map[string]*Child)
	m.order = nil
	m.toolIndex = make(map[string]string)
	m.resIndex = make(map[string]string)
	m.promIndex = make(map[string]string)
	m.mu.Unlock()

	var out []error
	for _, err := range errs {
		if err != nil {
			out = append(out, err)
		}
	}
	return out
}
