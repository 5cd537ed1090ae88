package orchestrator

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/manifold-chat/core/internal/apperr"
	"github.com/manifold-chat/core/internal/config"
	"github.com/manifold-chat/core/internal/llmclient"
	"github.com/manifold-chat/core/internal/logging"
	"github.com/manifold-chat/core/internal/model"
	"github.com/manifold-chat/core/internal/telemetry"
	"github.com/manifold-chat/core/internal/toolruntime"
)

var tracer = telemetry.Tracer("manifold-chat/orchestrator")

// ToolRuntime is the subset of *toolruntime.Client the orchestrator needs.
// Declared here, against the caller's concrete type, so tests can supply a
// fake without standing up a live MCP backend.
type ToolRuntime interface {
	ListTools(ctx context.Context, sessionID, userID string) ([]toolruntime.ToolDecl, error)
	CallTool(ctx context.Context, toolName string, arguments map[string]any, sessionID, userID string) (string, error)
}

// CapabilityStore is the subset of *modelcaps.Store the orchestrator needs.
type CapabilityStore interface {
	CheckSupportsTools(ctx context.Context, model string) bool
	MarkUnsupported(ctx context.Context, model string, errMsg string) error
}

// ProviderResolver is the subset of *llmclient.Registry the orchestrator
// needs; *llmclient.Registry satisfies this directly.
type ProviderResolver interface {
	Resolve(settings model.ModelSettings) (llmclient.Provider, error)
}

const separatorBetweenNarrationAndAnswer = "\n\n---\n\n"

const knowledgeBaseToolName = "search_knowledge_base"

func isGraphSearchTool(name string) bool {
	return strings.HasPrefix(name, "graph_")
}

// Emitter receives everything destined for the client on one session's
// outgoing stream: plain content deltas and sentinel-framed auxiliary
// events, in emission order.
type Emitter interface {
	Delta(text string)
	Frame(tag Tag, payload any)
}

// Orchestrator runs turns for sessions, wiring the LLM provider registry,
// the tool runtime client and the model-capability cache together per
// spec.md §4.8.
type Orchestrator struct {
	llm    ProviderResolver
	tools  ToolRuntime
	caps   CapabilityStore
	cfg    config.ToolConfig
	status StatusSink
	log    zerolog.Logger
}

func New(llm ProviderResolver, tools ToolRuntime, caps CapabilityStore, cfg config.ToolConfig, status StatusSink, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{llm: llm, tools: tools, caps: caps, cfg: cfg, status: status, log: log}
}

func (o *Orchestrator) publish(sessionID string, state State, detail string) {
	if o.status == nil {
		return
	}
	o.status.Publish(StatusNotification{SessionID: sessionID, State: state, Detail: detail})
}

// RunTurn drives one user turn to completion, appending every assistant and
// tool message it produces to sess.History, and returns the session's final
// answer text. emit receives content deltas and auxiliary frames as they
// are produced; emit may be nil for a non-interactive caller (e.g. a group
// chat AI reply that only wants the final text).
func (o *Orchestrator) RunTurn(ctx context.Context, sess *model.Session, userID string, emit Emitter) (string, error) {
	ctx, span := tracer.Start(ctx, "orchestrator.RunTurn", trace.WithAttributes(
		attribute.String("session_id", sess.ID),
		attribute.String("model", sess.Settings.Model),
	))
	defer span.End()

	answer, err := o.runTurn(ctx, sess, userID, emit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return answer, err
}

func (o *Orchestrator) runTurn(ctx context.Context, sess *model.Session, userID string, emit Emitter) (string, error) {
	o.publish(sess.ID, StateThinking, "")

	provider, err := o.llm.Resolve(sess.Settings)
	if err != nil {
		o.publish(sess.ID, StateError, err.Error())
		return "", err
	}

	useTools := o.tools != nil && o.caps.CheckSupportsTools(ctx, sess.Settings.Model)
	s := newScratch()

	var answer strings.Builder

	if !useTools {
		text, err := o.plainStream(ctx, provider, sess, emit)
		if err != nil {
			o.publish(sess.ID, StateError, err.Error())
			return "", err
		}
		o.publish(sess.ID, StateCompleted, "")
		return text, nil
	}

	decls, err := o.tools.ListTools(ctx, sess.ID, userID)
	if err != nil {
		return "", apperr.Wrap(apperr.ToolFailed, "list tools", err)
	}
	schemas := make([]llmclient.ToolSchema, 0, len(decls))
	for _, d := range decls {
		schemas = append(schemas, llmclient.ToolSchema{Name: d.Name, Description: d.Description, Parameters: d.Parameters})
	}

	maxIterations := o.cfg.MaxIterations
	if maxIterations <= 0 {
		maxIterations = 10
	}

	reachedDone := false
	for iter := 0; iter < maxIterations; iter++ {
		iterCtx, iterSpan := tracer.Start(ctx, "orchestrator.toolLoopIteration", trace.WithAttributes(
			attribute.String("session_id", sess.ID),
			attribute.Int("iteration", iter),
		))

		o.publish(sess.ID, StateGenerating, "")
		logging.WithTrace(iterCtx, o.log).Debug().Str("session_id", sess.ID).Int("iteration", iter).Msg("tool loop iteration")
		h := newCollectingHandler()
		streamErr := provider.ChatStream(iterCtx, sess.History, schemas, sess.Settings, h)
		if streamErr != nil {
			iterSpan.RecordError(streamErr)
			iterSpan.SetStatus(codes.Error, streamErr.Error())
			iterSpan.End()
			if unsupportedToolsError(streamErr) {
				_ = o.caps.MarkUnsupported(ctx, sess.Settings.Model, streamErr.Error())
				return o.plainStream(ctx, provider, sess, emit)
			}
			o.publish(sess.ID, StateError, streamErr.Error())
			return "", streamErr
		}

		if len(h.toolCalls) == 0 {
			if s.lastIterHadBoth && h.content != "" && emit != nil {
				emit.Delta(separatorBetweenNarrationAndAnswer)
			}
			if h.content != "" && emit != nil {
				emit.Delta(h.content)
			}
			answer.WriteString(h.content)
			sess.History = append(sess.History, model.Message{Role: model.RoleAssistant, Content: h.content})
			reachedDone = true
			iterSpan.End()
			break
		}

		if s.lastIterHadBoth && h.content != "" && emit != nil {
			emit.Delta(separatorBetweenNarrationAndAnswer)
		}
		if h.content != "" && emit != nil {
			emit.Delta(h.content)
		}
		answer.WriteString(h.content)
		s.lastIterHadBoth = h.content != "" && len(h.toolCalls) > 0

		o.publish(sess.ID, StateToolCalling, "")
		assistantMsg := model.Message{Role: model.RoleAssistant, Content: h.content}
		for _, tc := range h.toolCalls {
			assistantMsg.ToolCalls = append(assistantMsg.ToolCalls, model.ToolCall{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments})
		}
		sess.History = append(sess.History, assistantMsg)

		iterSpan.SetAttributes(attribute.Int("tool_calls", len(h.toolCalls)))
		toolResults := o.runToolCalls(iterCtx, s, h.toolCalls, userID, sess.ID, emit)
		sess.History = append(sess.History, toolResults...)

		all, fresh := s.dedupeAndRenumber()
		if len(fresh) > 0 && emit != nil {
			emit.Frame(TagReferences, ReferencesEvent{References: toReferencePairs(fresh)})
		}
		rewriteKnowledgeBaseResponses(sess.History, all)
		iterSpan.End()
	}

	if !reachedDone {
		if !o.cfg.ForceReplyOnMaxIterations {
			o.publish(sess.ID, StateCompleted, "max_iterations_reached")
			return answer.String(), nil
		}
		sess.History = append(sess.History, model.Message{
			Role:    model.RoleSystem,
			Content: "You have reached the maximum number of tool-calling iterations. Provide your best final answer now, in plain text, without calling any more tools.",
		})
		o.publish(sess.ID, StateGenerating, "force_reply")
		h := newCollectingHandler()
		if err := provider.ChatStream(ctx, sess.History, nil, sess.Settings, h); err != nil {
			o.publish(sess.ID, StateError, err.Error())
			return "", err
		}
		if h.content != "" && emit != nil {
			emit.Delta(h.content)
		}
		answer.WriteString(h.content)
		sess.History = append(sess.History, model.Message{Role: model.RoleAssistant, Content: h.content})
	}

	o.publish(sess.ID, StateCompleted, "")
	return answer.String(), nil
}

func (o *Orchestrator) plainStream(ctx context.Context, provider llmclient.Provider, sess *model.Session, emit Emitter) (string, error) {
	o.publish(sess.ID, StateGenerating, "")
	h := newCollectingHandler()
	if err := provider.ChatStream(ctx, sess.History, nil, sess.Settings, h); err != nil {
		return "", err
	}
	if h.content != "" && emit != nil {
		emit.Delta(h.content)
	}
	sess.History = append(sess.History, model.Message{Role: model.RoleAssistant, Content: h.content})
	return h.content, nil
}

func unsupportedToolsError(err error) bool {
	return apperr.Is(err, apperr.LLMUnsupportedTools)
}

// collectingHandler implements llmclient.StreamHandler, buffering one
// iteration's content and tool calls for the loop above.
type collectingHandler struct {
	content   string
	toolCalls []llmclient.ToolCall
	reason    string
}

func newCollectingHandler() *collectingHandler { return &collectingHandler{} }

func (h *collectingHandler) OnDelta(text string)                   { h.content += text }
func (h *collectingHandler) OnToolCalls(calls []llmclient.ToolCall) { h.toolCalls = calls }
func (h *collectingHandler) OnDone(reason string)                  { h.reason = reason }

func toReferencePairs(fresh []model.RichCitation) []referencePair {
	out := make([]referencePair, 0, len(fresh))
	for _, c := range fresh {
		out = append(out, referencePair{
			RefMarker: c.RefMarker,
			RefID:     c.RefID,
			Lean:      c.Citation,
			Rich:      c,
		})
	}
	return out
}

// rewriteKnowledgeBaseResponses replaces the content of every
// search_knowledge_base tool response already in history with the merged,
// deduped, globally-numbered citation set, so the next LLM iteration sees
// the same indexing the client was just shown.
func rewriteKnowledgeBaseResponses(history []model.Message, merged []model.RichCitation) {
	if len(merged) == 0 {
		return
	}
	payload, err := json.Marshal(merged)
	if err != nil {
		return
	}
	for i := range history {
		if history[i].Role == model.RoleTool && history[i].ToolName == knowledgeBaseToolName {
			history[i].Content = string(payload)
		}
	}
}
