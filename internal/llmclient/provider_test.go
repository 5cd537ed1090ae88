package llmclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manifold-chat/core/internal/apperr"
	"github.com/manifold-chat/core/internal/model"
)

func TestRegistry_ResolveDefaultsToOpenAI(t *testing.T) {
	t.Parallel()
	oai := NewOpenAIProvider(nil)
	reg := NewRegistry(oai, nil)

	p, err := reg.Resolve(model.ModelSettings{})
	require.NoError(t, err)
	assert.Equal(t, oai, p)

	p, err = reg.Resolve(model.ModelSettings{Provider: "openai"})
	require.NoError(t, err)
	assert.Equal(t, oai, p)
}

func TestRegistry_ResolveAnthropic(t *testing.T) {
	t.Parallel()
	anth := NewAnthropicProvider(nil)
	reg := NewRegistry(nil, anth)

	p, err := reg.Resolve(model.ModelSettings{Provider: "Anthropic"})
	require.NoError(t, err)
	assert.Equal(t, anth, p)
}

func TestRegistry_ResolveUnconfiguredProviderFails(t *testing.T) {
	t.Parallel()
	reg := NewRegistry(nil, nil)

	_, err := reg.Resolve(model.ModelSettings{Provider: "openai"})
	assert.True(t, apperr.Is(err, apperr.BadConfig))

	_, err = reg.Resolve(model.ModelSettings{Provider: "anthropic"})
	assert.True(t, apperr.Is(err, apperr.BadConfig))
}

func TestRegistry_ResolveUnknownProvider(t *testing.T) {
	t.Parallel()
	reg := NewRegistry(NewOpenAIProvider(nil), NewAnthropicProvider(nil))
	_, err := reg.Resolve(model.ModelSettings{Provider: "llama-farm"})
	assert.True(t, apperr.Is(err, apperr.BadConfig))
}

func TestOrderToolCalls_SortsByIndex(t *testing.T) {
	t.Parallel()
	byIndex := map[int]*ToolCall{
		2: {ID: "c", Name: "third"},
		0: {ID: "a", Name: "first"},
		1: {ID: "b", Name: "second"},
	}
	ordered := orderToolCalls(byIndex)
	require.Len(t, ordered, 3)
	assert.Equal(t, []string{"first", "second", "third"}, []string{ordered[0].Name, ordered[1].Name, ordered[2].Name})
}
