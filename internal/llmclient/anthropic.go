package llmclient

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"github.com/manifold-chat/core/internal/apperr"
	"github.com/manifold-chat/core/internal/model"
)

const anthropicDefaultMaxTokens int64 = 4096

// AnthropicProvider streams Anthropic messages, adapted from the teacher's
// extended-thinking-capable client but slimmed to the three stream events
// the tool loop needs — no thought-summary or prompt-cache plumbing, since
// nothing in this runtime's scratch consumes them.
type AnthropicProvider struct {
	httpClient *http.Client
}

func NewAnthropicProvider(httpClient *http.Client) *AnthropicProvider {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &AnthropicProvider{httpClient: httpClient}
}

func (p *AnthropicProvider) client(settings model.ModelSettings) anthropic.Client {
	opts := []option.RequestOption{option.WithHTTPClient(p.httpClient)}
	if key, _ := settings.Params["api_key"].(string); key != "" {
		opts = append(opts, option.WithAPIKey(key))
	}
	if base := strings.TrimSuffix(strings.TrimSpace(settings.Endpoint), "/"); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	return anthropic.NewClient(opts...)
}

func (p *AnthropicProvider) ChatStream(ctx context.Context, msgs []model.Message, tools []ToolSchema, settings model.ModelSettings, h StreamHandler) error {
	sys, converted := adaptAnthropicMessages(msgs)
	maxTokens := anthropicDefaultMaxTokens
	if v, ok := settings.Params["max_tokens"].(float64); ok && v > 0 {
		maxTokens = int64(v)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(settings.Model),
		Messages:  converted,
		System:    sys,
		MaxTokens: maxTokens,
	}
	if len(tools) > 0 {
		params.Tools = adaptAnthropicTools(tools)
	}

	stream := p.client(settings).Messages.NewStreaming(ctx, params)
	defer func() { _ = stream.Close() }()

	type toolBuffer struct {
		id, name string
		args     strings.Builder
	}
	toolBuffers := make(map[int64]*toolBuffer)
	var finishReason string

	for stream.Next() {
		event := stream.Current()
		switch ev := event.AsAny().(type) {
		case anthropic.ContentBlockStartEvent:
			if block, ok := ev.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
				toolBuffers[ev.Index] = &toolBuffer{id: block.ID, name: block.Name}
			}
		case anthropic.ContentBlockDeltaEvent:
			switch delta := ev.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				if delta.Text != "" {
					h.OnDelta(delta.Text)
				}
			case anthropic.InputJSONDelta:
				if tb := toolBuffers[ev.Index]; tb != nil {
					tb.args.WriteString(delta.PartialJSON)
				}
			}
		case anthropic.MessageDeltaEvent:
			if ev.Delta.StopReason != "" {
				finishReason = string(ev.Delta.StopReason)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return apperr.Wrap(apperr.LLMTimeout, "anthropic messages stream", err)
	}

	if len(toolBuffers) > 0 {
		indices := make([]int64, 0, len(toolBuffers))
		for idx := range toolBuffers {
			indices = append(indices, idx)
		}
		for i := 1; i < len(indices); i++ {
			for j := i; j > 0 && indices[j-1] > indices[j]; j-- {
				indices[j-1], indices[j] = indices[j], indices[j-1]
			}
		}
		calls := make([]ToolCall, 0, len(indices))
		for _, idx := range indices {
			tb := toolBuffers[idx]
			args := tb.args.String()
			if strings.TrimSpace(args) == "" {
				args = "{}"
			}
			id := tb.id
			if id == "" {
				id = "call-" + strconv.FormatInt(idx, 10)
			}
			calls = append(calls, ToolCall{ID: id, Name: tb.name, Arguments: args})
		}
		h.OnToolCalls(calls)
	}
	h.OnDone(finishReason)
	return nil
}

func adaptAnthropicMessages(msgs []model.Message) ([]anthropic.TextBlockParam, []anthropic.MessageParam) {
	var system []anthropic.TextBlockParam
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case model.RoleSystem:
			if m.Content != "" {
				system = append(system, anthropic.TextBlockParam{Text: m.Content})
			}
		case model.RoleUser:
			if m.Content != "" {
				out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
			}
		case model.RoleAssistant:
			blocks := make([]anthropic.ContentBlockParamUnion, 0, 1+len(m.ToolCalls))
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for i, tc := range m.ToolCalls {
				id := tc.ID
				if id == "" {
					id = "call-" + strconv.Itoa(i+1)
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(id, decodeAnthropicArgs(tc.Arguments), tc.Name))
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			}
		case model.RoleTool:
			out = append(out, anthropic.NewUserMessage(anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false)))
		}
	}
	return system, out
}

func decodeAnthropicArgs(raw string) any {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return map[string]any{}
	}
	return v
}

func adaptAnthropicTools(tools []ToolSchema) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		schema := anthropic.ToolInputSchemaParam{Type: constant.ValueOf[constant.Object]()}
		extras := make(map[string]any, len(t.Parameters))
		for k, v := range t.Parameters {
			extras[k] = v
		}
		if props, ok := extras["properties"]; ok {
			schema.Properties = props
			delete(extras, "properties")
		}
		if req, ok := extras["required"].([]string); ok {
			schema.Required = req
			delete(extras, "required")
		}
		delete(extras, "type")
		if len(extras) > 0 {
			schema.ExtraFields = extras
		}
		param := anthropic.ToolParam{Name: t.Name, InputSchema: schema}
		if t.Description != "" {
			param.Description = anthropic.String(t.Description)
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &param})
	}
	return out
}
