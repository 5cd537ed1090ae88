package orchestrator

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manifold-chat/core/internal/config"
	"github.com/manifold-chat/core/internal/llmclient"
	"github.com/manifold-chat/core/internal/model"
	"github.com/manifold-chat/core/internal/toolruntime"
)

// fakeProvider replays one scripted turn per call, popping the next one off
// the front of a queue set up by the test.
type fakeProvider struct {
	turns []fakeTurn
	calls int
}

type fakeTurn struct {
	content   string
	toolCalls []llmclient.ToolCall
	err       error
}

func (p *fakeProvider) ChatStream(_ context.Context, _ []model.Message, _ []llmclient.ToolSchema, _ model.ModelSettings, h llmclient.StreamHandler) error {
	turn := p.turns[p.calls]
	p.calls++
	if turn.err != nil {
		return turn.err
	}
	if turn.content != "" {
		h.OnDelta(turn.content)
	}
	if len(turn.toolCalls) > 0 {
		h.OnToolCalls(turn.toolCalls)
	}
	h.OnDone("stop")
	return nil
}

type fakeResolver struct {
	provider llmclient.Provider
}

func (r *fakeResolver) Resolve(model.ModelSettings) (llmclient.Provider, error) { return r.provider, nil }

type fakeTools struct {
	decls   []toolruntime.ToolDecl
	results map[string]string
	calls   []string
}

func (f *fakeTools) ListTools(context.Context, string, string) ([]toolruntime.ToolDecl, error) {
	return f.decls, nil
}

func (f *fakeTools) CallTool(_ context.Context, toolName string, _ map[string]any, _, _ string) (string, error) {
	f.calls = append(f.calls, toolName)
	return f.results[toolName], nil
}

type fakeCaps struct {
	supportsTools bool
}

func (f *fakeCaps) CheckSupportsTools(context.Context, string) bool { return f.supportsTools }
func (f *fakeCaps) MarkUnsupported(context.Context, string, string) error { return nil }

type fakeEmitter struct {
	deltas []string
	frames []struct {
		tag     Tag
		payload any
	}
}

func (e *fakeEmitter) Delta(text string) { e.deltas = append(e.deltas, text) }
func (e *fakeEmitter) Frame(tag Tag, payload any) {
	e.frames = append(e.frames, struct {
		tag     Tag
		payload any
	}{tag, payload})
}

func newTestSession() *model.Session {
	return &model.Session{ID: "sess-1", Settings: model.ModelSettings{Provider: "openai", Model: "gpt-test"}}
}

func TestRunTurn_NoToolsPlainStream(t *testing.T) {
	t.Parallel()
	provider := &fakeProvider{turns: []fakeTurn{{content: "hello there"}}}
	o := New(&fakeResolver{provider: provider}, nil, &fakeCaps{}, config.ToolConfig{}, nil, zerolog.Nop())

	sess := newTestSession()
	emit := &fakeEmitter{}
	text, err := o.RunTurn(context.Background(), sess, "user-1", emit)

	require.NoError(t, err)
	assert.Equal(t, "hello there", text)
	assert.Equal(t, []string{"hello there"}, emit.deltas)
	require.Len(t, sess.History, 1)
	assert.Equal(t, model.RoleAssistant, sess.History[0].Role)
}

func TestRunTurn_SingleToolIterationThenDone(t *testing.T) {
	t.Parallel()
	provider := &fakeProvider{turns: []fakeTurn{
		{content: "let me check", toolCalls: []llmclient.ToolCall{{ID: "call-1", Name: "get_weather", Arguments: `{"city":"nyc"}`}}},
		{content: "it is sunny"},
	}}
	tools := &fakeTools{
		decls:   []toolruntime.ToolDecl{{Name: "get_weather", Description: "weather lookup"}},
		results: map[string]string{"get_weather": `{"temp_f":72}`},
	}
	o := New(&fakeResolver{provider: provider}, tools, &fakeCaps{supportsTools: true}, config.ToolConfig{}, nil, zerolog.Nop())

	sess := newTestSession()
	emit := &fakeEmitter{}
	text, err := o.RunTurn(context.Background(), sess, "user-1", emit)

	require.NoError(t, err)
	assert.Equal(t, "let me checkit is sunny", text)
	assert.Equal(t, []string{"get_weather"}, tools.calls)

	var sawToolResponse bool
	for _, m := range sess.History {
		if m.Role == model.RoleTool && m.ToolCallID == "call-1" {
			sawToolResponse = true
			assert.Equal(t, `{"temp_f":72}`, m.Content)
		}
	}
	assert.True(t, sawToolResponse)
}

func TestRunTurn_SeparatorInsertedWhenBothIterationsNarrate(t *testing.T) {
	t.Parallel()
	provider := &fakeProvider{turns: []fakeTurn{
		{content: "checking tool A", toolCalls: []llmclient.ToolCall{{ID: "c1", Name: "tool_a"}}},
		{content: "final answer"},
	}}
	tools := &fakeTools{
		decls:   []toolruntime.ToolDecl{{Name: "tool_a"}},
		results: map[string]string{"tool_a": "ok"},
	}
	o := New(&fakeResolver{provider: provider}, tools, &fakeCaps{supportsTools: true}, config.ToolConfig{}, nil, zerolog.Nop())

	emit := &fakeEmitter{}
	_, err := o.RunTurn(context.Background(), newTestSession(), "user-1", emit)
	require.NoError(t, err)

	require.Len(t, emit.deltas, 3)
	assert.Equal(t, "checking tool A", emit.deltas[0])
	assert.Equal(t, separatorBetweenNarrationAndAnswer, emit.deltas[1])
	assert.Equal(t, "final answer", emit.deltas[len(emit.deltas)-1])
}

func TestRunTurn_KnowledgeBaseCitationsDeduped(t *testing.T) {
	t.Parallel()
	hit := `[{"chunk_id":"chunk-1","doc_id":"doc-1","score":0.9,"kb_id":"kb-1","filename":"a.pdf","content":"some text"}]`
	provider := &fakeProvider{turns: []fakeTurn{
		{content: "searching", toolCalls: []llmclient.ToolCall{{ID: "c1", Name: knowledgeBaseToolName, Arguments: `{"query":"x"}`}}},
		{content: "answer with citation"},
	}}
	tools := &fakeTools{
		decls:   []toolruntime.ToolDecl{{Name: knowledgeBaseToolName}},
		results: map[string]string{knowledgeBaseToolName: hit},
	}
	o := New(&fakeResolver{provider: provider}, tools, &fakeCaps{supportsTools: true}, config.ToolConfig{}, nil, zerolog.Nop())

	emit := &fakeEmitter{}
	_, err := o.RunTurn(context.Background(), newTestSession(), "user-1", emit)
	require.NoError(t, err)

	var refFrames int
	for _, f := range emit.frames {
		if f.tag == TagReferences {
			refFrames++
			ev := f.payload.(ReferencesEvent)
			require.Len(t, ev.References, 1)
			assert.Equal(t, 1, ev.References[0].RefMarker)
		}
	}
	assert.Equal(t, 1, refFrames)
}

func TestRunTurn_ForceReplyOnMaxIterations(t *testing.T) {
	t.Parallel()
	tc := llmclient.ToolCall{ID: "c1", Name: "loop_tool"}
	provider := &fakeProvider{turns: []fakeTurn{
		{content: "", toolCalls: []llmclient.ToolCall{tc}},
		{content: "", toolCalls: []llmclient.ToolCall{tc}},
		{content: "final forced answer"},
	}}
	tools := &fakeTools{decls: []toolruntime.ToolDecl{{Name: "loop_tool"}}, results: map[string]string{"loop_tool": "ok"}}
	cfg := config.ToolConfig{MaxIterations: 2, ForceReplyOnMaxIterations: true}
	o := New(&fakeResolver{provider: provider}, tools, &fakeCaps{supportsTools: true}, cfg, nil, zerolog.Nop())

	text, err := o.RunTurn(context.Background(), newTestSession(), "user-1", nil)
	require.NoError(t, err)
	assert.Equal(t, "final forced answer", text)
}

func TestRunTurn_WithoutForceReplyStopsAtMaxIterations(t *testing.T) {
	t.Parallel()
	tc := llmclient.ToolCall{ID: "c1", Name: "loop_tool"}
	provider := &fakeProvider{turns: []fakeTurn{
		{content: "a", toolCalls: []llmclient.ToolCall{tc}},
		{content: "b", toolCalls: []llmclient.ToolCall{tc}},
	}}
	tools := &fakeTools{decls: []toolruntime.ToolDecl{{Name: "loop_tool"}}, results: map[string]string{"loop_tool": "ok"}}
	cfg := config.ToolConfig{MaxIterations: 2, ForceReplyOnMaxIterations: false}
	o := New(&fakeResolver{provider: provider}, tools, &fakeCaps{supportsTools: true}, cfg, nil, zerolog.Nop())

	text, err := o.RunTurn(context.Background(), newTestSession(), "user-1", nil)
	require.NoError(t, err)
	assert.Equal(t, "ab", text)
}

func TestRunToolCalls_RespectsSemaphore(t *testing.T) {
	t.Parallel()
	tools := &fakeTools{results: map[string]string{"a": "ra", "b": "rb"}}
	o := New(nil, tools, nil, config.ToolConfig{PerSessionConcurrency: 1}, nil, zerolog.Nop())

	s := newScratch()
	calls := []llmclient.ToolCall{{ID: "1", Name: "a"}, {ID: "2", Name: "b"}}
	results := o.runToolCalls(context.Background(), s, calls, "user-1", "sess-1", nil)

	require.Len(t, results, 2)
	assert.Equal(t, "ra", results[0].Content)
	assert.Equal(t, "rb", results[1].Content)
}
