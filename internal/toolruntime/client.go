package toolruntime

import "context"

// UserPreferences resolves which tools a given user has chosen to disable.
// A nil UserPreferences (or an empty result) means no filtering is applied.
type UserPreferences interface {
	DisabledTools(ctx context.Context, userID string) ([]string, error)
}

// Client is the C7 surface the orchestrator and group chat core call
// against: list_tools and call_tool, with list_tools narrowed per-user when
// a UserPreferences store is wired in.
type Client struct {
	manager *Manager
	prefs   UserPreferences
}

// NewClient wraps manager with optional per-user tool filtering.
func NewClient(manager *Manager, prefs UserPreferences) *Client {
	return &Client{manager: manager, prefs: prefs}
}

// ListTools returns every registered tool, minus any the user has disabled.
// sessionID is accepted for interface symmetry with call_tool and future
// session-scoped tool sets; this runtime has none today.
func (c *Client) ListTools(ctx context.Context, sessionID, userID string) ([]ToolDecl, error) {
	decls := c.manager.ListTools()
	if c.prefs == nil || userID == "" {
		return decls, nil
	}
	disabled, err := c.prefs.DisabledTools(ctx, userID)
	if err != nil || len(disabled) == 0 {
		return decls, nil
	}
	skip := make(map[string]bool, len(disabled))
	for _, name := range disabled {
		skip[name] = true
	}
	out := make([]ToolDecl, 0, len(decls))
	for _, d := range decls {
		if !skip[d.Name] {
			out = append(out, d)
		}
	}
	return out, nil
}

// CallTool invokes toolName regardless of per-user filtering — list_tools
// narrows what a caller is offered, it is not an authorization boundary the
// runtime re-checks on every call (matching spec.md's framing of list_tools
// filtering as a UX concern, not access control).
func (c *Client) CallTool(ctx context.Context, toolName string, arguments map[string]any, sessionID, userID string) (string, error) {
	return c.manager.CallTool(ctx, toolName, arguments)
}
