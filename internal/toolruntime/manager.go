// Package toolruntime implements C7: the tool runtime client. It is the
// source of truth for what tools exist and what calling one returns; the
// rest of the system only ever sees ToolDecl and an opaque result string, it
// never hard-codes tool names except for the two recognized special cases
// the orchestrator post-processes (search_knowledge_base and the
// graph-search family).
package toolruntime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	mcppkg "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	"github.com/manifold-chat/core/internal/apperr"
	"github.com/manifold-chat/core/internal/config"
	"github.com/manifold-chat/core/internal/version"
)

// ToolDecl is the declaration surface exposed to callers of list_tools: a
// name, a human description and a JSON Schema for its arguments.
type ToolDecl struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Manager owns the live MCP client sessions for every configured server and
// the registered ToolDecl set each session contributes.
type Manager struct {
	log      zerolog.Logger
	sessions map[string]*mcppkg.ClientSession
	tools    map[string]*boundTool // keyed by the runtime-visible tool name
}

// boundTool is one tool backed by a live MCP session.
type boundTool struct {
	server  string
	session *mcppkg.ClientSession
	tool    *mcppkg.Tool
}

// NewManager returns an empty Manager. Call RegisterServer for each
// configured MCP server before serving list_tools/call_tool.
func NewManager(log zerolog.Logger) *Manager {
	return &Manager{
		log:      log,
		sessions: make(map[string]*mcppkg.ClientSession),
		tools:    make(map[string]*boundTool),
	}
}

// Close tears down every live MCP session.
func (m *Manager) Close() {
	for name, s := range m.sessions {
		if err := s.Close(); err != nil {
			m.log.Warn().Str("server", name).Err(err).Msg("close mcp session")
		}
	}
}

// RegisterServer connects to one MCP server (stdio command or streamable
// HTTP) and registers every tool it advertises.
func (m *Manager) RegisterServer(ctx context.Context, srv config.MCPServerConfig) error {
	if strings.TrimSpace(srv.Name) == "" {
		return apperr.New(apperr.BadConfig, "mcp server name required")
	}
	m.removeServer(srv.Name)

	client := mcppkg.NewClient(&mcppkg.Implementation{Name: "manifold-chat-core", Version: version.Version}, nil)

	var session *mcppkg.ClientSession
	var err error
	switch {
	case strings.TrimSpace(srv.Command) != "":
		cleanCmd := filepath.Clean(srv.Command)
		if cleanCmd != srv.Command || filepath.IsAbs(cleanCmd) || strings.Contains(cleanCmd, string(os.PathSeparator)+"..") {
			return apperr.New(apperr.BadConfig, "invalid mcp server command path")
		}
		cmd := exec.Command(cleanCmd, srv.Args...)
		if len(srv.Env) > 0 {
			env := os.Environ()
			for k, v := range srv.Env {
				env = append(env, fmt.Sprintf("%s=%s", k, v))
			}
			cmd.Env = env
		}
		session, err = client.Connect(ctx, &mcppkg.CommandTransport{Command: cmd}, nil)
	case strings.TrimSpace(srv.URL) != "":
		transport := &mcppkg.StreamableClientTransport{Endpoint: srv.URL, HTTPClient: buildHTTPClient(srv)}
		session, err = client.Connect(ctx, transport, nil)
	default:
		return apperr.New(apperr.BadConfig, "mcp server needs either command or url")
	}
	if err != nil {
		return apperr.Wrap(apperr.ToolFailed, fmt.Sprintf("connect mcp server %q", srv.Name), err)
	}
	m.sessions[srv.Name] = session

	count := 0
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			m.log.Warn().Str("server", srv.Name).Err(err).Msg("list mcp tools")
			break
		}
		name := qualifiedName(srv.Name, tool.Name)
		m.tools[name] = &boundTool{server: srv.Name, session: session, tool: tool}
		count++
	}
	m.log.Info().Str("server", srv.Name).Int("tools", count).Msg("registered mcp server")
	return nil
}

func (m *Manager) removeServer(name string) {
	if s, ok := m.sessions[name]; ok {
		_ = s.Close()
		delete(m.sessions, name)
	}
	for toolName, bt := range m.tools {
		if bt.server == name {
			delete(m.tools, toolName)
		}
	}
}

// ListTools returns every registered tool's declaration.
func (m *Manager) ListTools() []ToolDecl {
	out := make([]ToolDecl, 0, len(m.tools))
	for name, bt := range m.tools {
		out = append(out, ToolDecl{
			Name:        name,
			Description: bt.tool.Description,
			Parameters:  jsonSchemaOf(bt.tool),
		})
	}
	return out
}

// CallTool invokes toolName with arguments and returns its result collapsed
// to an opaque string (JSON-encoded when the MCP result carries structured
// content, otherwise the concatenated text content).
func (m *Manager) CallTool(ctx context.Context, toolName string, arguments map[string]any) (string, error) {
	bt, ok := m.tools[toolName]
	if !ok {
		return "", apperr.New(apperr.NotFound, fmt.Sprintf("tool %q is not registered", toolName))
	}
	if arguments == nil {
		arguments = map[string]any{}
	}
	res, err := bt.session.CallTool(ctx, &mcppkg.CallToolParams{Name: bt.tool.Name, Arguments: arguments})
	if err != nil {
		return "", apperr.Wrap(apperr.ToolFailed, fmt.Sprintf("call tool %q", toolName), err)
	}
	if res.IsError {
		texts := textContent(res)
		return "", apperr.New(apperr.ToolFailed, strings.Join(texts, "\n"))
	}
	if res.StructuredContent != nil {
		b, err := json.Marshal(res.StructuredContent)
		if err == nil {
			return string(b), nil
		}
	}
	return strings.Join(textContent(res), "\n"), nil
}

func textContent(res *mcppkg.CallToolResult) []string {
	texts := make([]string, 0, len(res.Content))
	for _, c := range res.Content {
		if tc, ok := c.(*mcppkg.TextContent); ok {
			texts = append(texts, tc.Text)
		}
	}
	return texts
}

func qualifiedName(server, tool string) string {
	s := server + "_" + tool
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, ":", "_")
	return s
}

func buildHTTPClient(srv config.MCPServerConfig) *http.Client {
	tr := &http.Transport{}
	cli := &http.Client{Transport: &headerRoundTripper{base: tr, headers: srv.Headers}}
	return cli
}

type headerRoundTripper struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	if r.Header.Get("Accept") == "" {
		r.Header.Set("Accept", "application/json, text/event-stream")
	}
	for k, v := range t.headers {
		if r.Header.Get(k) == "" {
			r.Header.Set(k, v)
		}
	}
	return t.base.RoundTrip(r)
}
