package orchestrator

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/manifold-chat/core/internal/llmclient"
	"github.com/manifold-chat/core/internal/model"
)

const (
	defaultPerSessionConcurrency = 5
	defaultExecutionTimeout      = 10 * time.Minute
	defaultMaxToolResultSize     = 1 << 20 // 1 MiB
)

// runToolCalls executes every tool call from one LLM iteration concurrently,
// bounded by a per-session semaphore, and returns the tool-response messages
// to append to history in the same order the calls were issued.
func (o *Orchestrator) runToolCalls(ctx context.Context, s *scratch, calls []llmclient.ToolCall, userID, sessionID string, emit Emitter) []model.Message {
	concurrency := o.cfg.PerSessionConcurrency
	if concurrency <= 0 {
		concurrency = defaultPerSessionConcurrency
	}
	sem := make(chan struct{}, concurrency)

	results := make([]model.Message, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call llmclient.ToolCall) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				results[i] = o.toolErrorMessage(call, ctx.Err())
				return
			}
			defer func() { <-sem }()
			results[i] = o.runOneTool(ctx, s, call, userID, sessionID, emit)
		}(i, call)
	}
	wg.Wait()
	return results
}

func (o *Orchestrator) runOneTool(ctx context.Context, s *scratch, call llmclient.ToolCall, userID, sessionID string, emit Emitter) model.Message {
	if emit != nil {
		emit.Frame(TagToolStatus, ToolStatusEvent{ToolName: call.Name, Status: "started"})
	}

	cacheKey := call.Name + "\x00" + call.Arguments
	s.mu.Lock()
	cached, hit := s.toolCache[cacheKey]
	s.mu.Unlock()
	if hit {
		s.recordCall(call.Name, true, false)
		o.absorbToolResult(s, call, cached)
		if emit != nil {
			emit.Frame(TagToolStatus, ToolStatusEvent{ToolName: call.Name, Status: "succeeded", Detail: "cached"})
		}
		return model.Message{Role: model.RoleTool, Content: cached, ToolCallID: call.ID, ToolName: call.Name}
	}

	timeout := o.cfg.ExecutionTimeout
	if timeout <= 0 {
		timeout = defaultExecutionTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args, err := decodeToolArguments(call.Arguments)
	if err != nil {
		s.recordCall(call.Name, false, true)
		return o.toolErrorMessage(call, err)
	}
	result, err := o.tools.CallTool(callCtx, call.Name, args, sessionID, userID)
	if err != nil {
		s.recordCall(call.Name, false, true)
		if emit != nil {
			emit.Frame(TagToolStatus, ToolStatusEvent{ToolName: call.Name, Status: "failed", Detail: err.Error()})
		}
		if !o.cfg.AllowContinueOnError {
			return o.toolErrorMessage(call, err)
		}
		return model.Message{Role: model.RoleTool, Content: "tool error: " + err.Error(), ToolCallID: call.ID, ToolName: call.Name}
	}

	maxSize := o.cfg.MaxToolResultSize
	if maxSize <= 0 {
		maxSize = defaultMaxToolResultSize
	}
	if len(result) > maxSize {
		result = result[:maxSize]
	}

	s.recordCall(call.Name, false, false)
	s.mu.Lock()
	s.toolCache[cacheKey] = result
	s.mu.Unlock()

	o.absorbToolResult(s, call, result)

	if emit != nil {
		emit.Frame(TagToolStatus, ToolStatusEvent{ToolName: call.Name, Status: "succeeded"})
	}
	return model.Message{Role: model.RoleTool, Content: result, ToolCallID: call.ID, ToolName: call.Name}
}

func decodeToolArguments(raw string) (map[string]any, error) {
	args := make(map[string]any)
	if raw == "" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err
	}
	return args, nil
}

func (o *Orchestrator) toolErrorMessage(call llmclient.ToolCall, err error) model.Message {
	return model.Message{Role: model.RoleTool, Content: "tool error: " + err.Error(), ToolCallID: call.ID, ToolName: call.Name}
}

// absorbToolResult special-cases the two tool families that feed the
// orchestrator's cross-iteration state: knowledge-base search results turn
// into citations, graph-search results record their session id for the
// graph data side channel.
func (o *Orchestrator) absorbToolResult(s *scratch, call llmclient.ToolCall, result string) {
	switch {
	case call.Name == knowledgeBaseToolName:
		hits, err := parseKnowledgeBaseHits(result)
		if err == nil {
			s.addCitations(hits)
		}
	case isGraphSearchTool(call.Name):
		if id := parseGraphSessionID(result); id != "" {
			s.recordGraphSession(id)
		}
	}
}

type knowledgeBaseHit struct {
	DocID      string  `json:"doc_id"`
	ChunkID    string  `json:"chunk_id"`
	Score      float64 `json:"score"`
	KBID       string  `json:"kb_id"`
	Filename   string  `json:"filename"`
	DocumentNm string  `json:"document_name"`
	Content    string  `json:"content"`
}

func parseKnowledgeBaseHits(raw string) ([]model.RichCitation, error) {
	var hits []knowledgeBaseHit
	if err := json.Unmarshal([]byte(raw), &hits); err != nil {
		return nil, err
	}
	out := make([]model.RichCitation, 0, len(hits))
	for _, h := range hits {
		out = append(out, model.RichCitation{
			Citation: model.Citation{
				RefID:    refID(h.ChunkID, h.Content),
				DocID:    h.DocID,
				ChunkID:  h.ChunkID,
				Score:    h.Score,
				KBID:     h.KBID,
				Filename: h.Filename,
			},
			DocumentName: h.DocumentNm,
			Content:      h.Content,
		})
	}
	return out, nil
}

type graphSearchResult struct {
	SessionID string `json:"session_id"`
}

func parseGraphSessionID(raw string) string {
	var g graphSearchResult
	if err := json.Unmarshal([]byte(raw), &g); err != nil {
		return ""
	}
	return g.SessionID
}
