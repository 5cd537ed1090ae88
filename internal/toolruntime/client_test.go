package toolruntime

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcppkg "github.com/modelcontextprotocol/go-sdk/mcp"
)

type fakePrefs struct {
	disabled map[string][]string
}

func (f fakePrefs) DisabledTools(ctx context.Context, userID string) ([]string, error) {
	return f.disabled[userID], nil
}

func newTestManager(names ...string) *Manager {
	m := NewManager(zerolog.Nop())
	for _, n := range names {
		m.tools[n] = &boundTool{tool: &mcppkg.Tool{Name: n, Description: n}}
	}
	return m
}

func TestClient_ListTools_NoPrefsReturnsEverything(t *testing.T) {
	t.Parallel()
	c := NewClient(newTestManager("search", "fetch"), nil)
	decls, err := c.ListTools(context.Background(), "sess1", "user1")
	require.NoError(t, err)
	assert.Len(t, decls, 2)
}

func TestClient_ListTools_FiltersUserDisabledTools(t *testing.T) {
	t.Parallel()
	prefs := fakePrefs{disabled: map[string][]string{"user1": {"fetch"}}}
	c := NewClient(newTestManager("search", "fetch"), prefs)

	decls, err := c.ListTools(context.Background(), "sess1", "user1")
	require.NoError(t, err)
	require.Len(t, decls, 1)
	assert.Equal(t, "search", decls[0].Name)

	// A different user with no disabled tools still sees everything.
	decls, err = c.ListTools(context.Background(), "sess1", "user2")
	require.NoError(t, err)
	assert.Len(t, decls, 2)
}
