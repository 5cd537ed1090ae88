package llmclient

import (
	"net/http"
	"strings"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"context"

	"github.com/manifold-chat/core/internal/apperr"
	"github.com/manifold-chat/core/internal/model"
)

// OpenAIProvider streams chat completions through an OpenAI-compatible
// endpoint. It deliberately drops the teacher's Gemini/self-hosted-SSE
// special cases — this runtime's tool loop only needs the three canonical
// stream events, not provider-specific thought-signature plumbing.
type OpenAIProvider struct {
	httpClient *http.Client
}

func NewOpenAIProvider(httpClient *http.Client) *OpenAIProvider {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &OpenAIProvider{httpClient: httpClient}
}

func (p *OpenAIProvider) client(settings model.ModelSettings) sdk.Client {
	opts := []option.RequestOption{option.WithHTTPClient(p.httpClient)}
	if key, _ := settings.Params["api_key"].(string); key != "" {
		opts = append(opts, option.WithAPIKey(key))
	}
	if base := strings.TrimSuffix(strings.TrimSpace(settings.Endpoint), "/"); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	return sdk.NewClient(opts...)
}

func (p *OpenAIProvider) ChatStream(ctx context.Context, msgs []model.Message, tools []ToolSchema, settings model.ModelSettings, h StreamHandler) error {
	client := p.client(settings)
	params := sdk.ChatCompletionNewParams{
		Model:    sdk.ChatModel(settings.Model),
		Messages: adaptOpenAIMessages(msgs),
	}
	if len(tools) > 0 {
		params.Tools = adaptOpenAITools(tools)
	}

	stream := client.Chat.Completions.NewStreaming(ctx, params)
	defer func() { _ = stream.Close() }()

	toolCalls := make(map[int]*ToolCall)
	var finishReason string

	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if choice.Delta.Content != "" {
			h.OnDelta(choice.Delta.Content)
		}
		for _, tc := range choice.Delta.ToolCalls {
			idx := int(tc.Index)
			cur := toolCalls[idx]
			if cur == nil {
				cur = &ToolCall{ID: tc.ID}
				toolCalls[idx] = cur
			}
			if tc.ID != "" {
				cur.ID = tc.ID
			}
			if tc.Function.Name != "" {
				cur.Name = tc.Function.Name
			}
			cur.Arguments += tc.Function.Arguments
		}
		if choice.FinishReason != "" {
			finishReason = choice.FinishReason
		}
	}
	if err := stream.Err(); err != nil {
		return apperr.Wrap(apperr.LLMTimeout, "openai chat stream", err)
	}

	if len(toolCalls) > 0 {
		ordered := orderToolCalls(toolCalls)
		h.OnToolCalls(ordered)
	}
	h.OnDone(finishReason)
	return nil
}

func orderToolCalls(byIndex map[int]*ToolCall) []ToolCall {
	indices := make([]int, 0, len(byIndex))
	for idx := range byIndex {
		indices = append(indices, idx)
	}
	for i := 1; i < len(indices); i++ {
		for j := i; j > 0 && indices[j-1] > indices[j]; j-- {
			indices[j-1], indices[j] = indices[j], indices[j-1]
		}
	}
	out := make([]ToolCall, 0, len(indices))
	for _, idx := range indices {
		out = append(out, *byIndex[idx])
	}
	return out
}

func adaptOpenAIMessages(msgs []model.Message) []sdk.ChatCompletionMessageParamUnion {
	out := make([]sdk.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case model.RoleSystem:
			out = append(out, sdk.SystemMessage(m.Content))
		case model.RoleUser:
			out = append(out, sdk.UserMessage(m.Content))
		case model.RoleAssistant:
			if len(m.ToolCalls) == 0 {
				out = append(out, sdk.AssistantMessage(m.Content))
				continue
			}
			var asst sdk.ChatCompletionAssistantMessageParam
			asst.Content.OfString = sdk.String(m.Content)
			for _, tc := range m.ToolCalls {
				fn := sdk.ChatCompletionMessageFunctionToolCallParam{
					ID: tc.ID,
					Function: sdk.ChatCompletionMessageFunctionToolCallFunctionParam{
						Arguments: tc.Arguments,
						Name:      tc.Name,
					},
				}
				asst.ToolCalls = append(asst.ToolCalls, sdk.ChatCompletionMessageToolCallUnionParam{OfFunction: &fn})
			}
			out = append(out, sdk.ChatCompletionMessageParamUnion{OfAssistant: &asst})
		case model.RoleTool:
			out = append(out, sdk.ToolMessage(m.Content, m.ToolCallID))
		}
	}
	return out
}

func adaptOpenAITools(tools []ToolSchema) []sdk.ChatCompletionToolUnionParam {
	out := make([]sdk.ChatCompletionToolUnionParam, 0, len(tools))
	for _, t := range tools {
		def := sdk.FunctionDefinitionParam{
			Name:        t.Name,
			Description: sdk.String(t.Description),
			Parameters:  t.Parameters,
		}
		out = append(out, sdk.ChatCompletionFunctionTool(def))
	}
	return out
}
