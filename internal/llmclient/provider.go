// Package llmclient adapts the session-agnostic chat history/tool-schema
// shapes the streaming orchestrator (C8) works with onto the two real LLM
// wire protocols the teacher integrates: OpenAI-compatible chat completions
// and Anthropic messages.
package llmclient

import (
	"context"
	"strings"

	"github.com/manifold-chat/core/internal/apperr"
	"github.com/manifold-chat/core/internal/model"
)

// ToolCall is a provider-agnostic assistant tool invocation, accumulated
// from streamed deltas before being handed to the tool loop.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // raw JSON, possibly incrementally assembled
}

// ToolSchema is a provider-agnostic tool declaration.
type ToolSchema struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// StreamHandler receives the three step events the tool loop (§4.8) reasons
// over: a content delta, a batch of completed tool calls, or stream
// completion with the model's stated finish reason.
type StreamHandler interface {
	OnDelta(content string)
	OnToolCalls(calls []ToolCall)
	OnDone(reason string)
}

// Provider streams one chat turn against a concrete LLM backend.
type Provider interface {
	ChatStream(ctx context.Context, msgs []model.Message, tools []ToolSchema, settings model.ModelSettings, h StreamHandler) error
}

// Registry resolves a Provider by model.ModelSettings.Provider, mirroring
// the teacher's per-backend client selection in cmd/manifold wiring.
type Registry struct {
	openai    *OpenAIProvider
	anthropic *AnthropicProvider
}

// NewRegistry wires both backends. Either may be nil if its credentials are
// not configured; selecting an unconfigured provider fails at call time.
func NewRegistry(openai *OpenAIProvider, anthropic *AnthropicProvider) *Registry {
	return &Registry{openai: openai, anthropic: anthropic}
}

func (r *Registry) Resolve(settings model.ModelSettings) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(settings.Provider)) {
	case "", "openai":
		if r.openai == nil {
			return nil, apperr.New(apperr.BadConfig, "openai provider not configured")
		}
		return r.openai, nil
	case "anthropic":
		if r.anthropic == nil {
			return nil, apperr.New(apperr.BadConfig, "anthropic provider not configured")
		}
		return r.anthropic, nil
	default:
		return nil, apperr.New(apperr.BadConfig, "unknown model provider: "+settings.Provider)
	}
}
