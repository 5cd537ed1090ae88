package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/manifold-chat/core/internal/convctl"
	"github.com/manifold-chat/core/internal/groupchat"
	"github.com/manifold-chat/core/internal/groupstore"
	"github.com/manifold-chat/core/internal/ingestion"
	"github.com/manifold-chat/core/internal/model"
	"github.com/manifold-chat/core/internal/modelcaps"
	"github.com/manifold-chat/core/internal/orchestrator"
	"github.com/manifold-chat/core/internal/resourcegen"
	"github.com/manifold-chat/core/internal/retriever"
	"github.com/manifold-chat/core/internal/taskqueue"
)

// server holds everything an HTTP handler needs; it owns no business logic
// of its own beyond request decoding and response framing, the way
// cmd/agentd/main.go's handlers are thin wrappers around *agent.Engine.
type server struct {
	logger     zerolog.Logger
	orch       *orchestrator.Orchestrator
	retr       *retriever.Retriever
	queue      *taskqueue.Queue
	dispatcher *groupchat.Dispatcher
	directory  *groupstore.MemoryDirectory
	conv       *convctl.Controller
	convCfg    convctl.Config
	resources  *resourcegen.Registry
	caps       *modelcaps.Store

	mu       sync.Mutex
	sessions map[string]*model.Session
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req ingestion.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	payload, err := json.Marshal(req)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	taskID, err := s.queue.Enqueue(r.Context(), "ingest_document", model.PriorityNormal, payload, 10*time.Minute)
	if err != nil {
		s.logger.Error().Err(err).Msg("enqueue ingest task")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": taskID})
}

func (s *server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	taskID := strings.TrimPrefix(r.URL.Path, "/v1/tasks/")
	if taskID == "" {
		http.Error(w, "missing task id", http.StatusBadRequest)
		return
	}
	record, ok := s.queue.Status(taskID)
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		KB        knowledgeBaseRequest `json:"kb"`
		Query     string               `json:"query"`
		TopK      int                  `json:"top_k"`
		Threshold *float64             `json:"threshold"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	hits, err := s.retr.RetrieveSingle(r.Context(), req.KB.toDomain(), req.Query, req.TopK, req.Threshold)
	if err != nil {
		s.logger.Error().Err(err).Msg("retrieve")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"hits": hits})
}

func (s *server) handleRetrieveMulti(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req multiRetrieveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	kbs := make([]model.KnowledgeBase, len(req.KBs))
	for i, kb := range req.KBs {
		kbs[i] = kb.toDomain()
	}
	opts := retriever.MultiOptions{
		Strategy:         retriever.MergeStrategy(req.Strategy),
		FinalTopK:        req.FinalTopK,
		SessionThreshold: req.SessionThreshold,
		Concurrency:      req.Concurrency,
	}
	hits, err := s.retr.RetrieveMulti(r.Context(), kbs, req.Query, opts)
	if err != nil {
		s.logger.Error().Err(err).Msg("retrieve multi")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"hits": hits})
}

// handleResourceGenerate serves POST /v1/resources/generate, the HTTP face
// of internal/resourcegen for group-chat AI members that want to attach
// generated media (images today) to a reply, the Go analogue of the
// original's resource_manager.generate_image entry point.
func (s *server) handleResourceGenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Generator string         `json:"generator"`
		Prompt    string         `json:"prompt"`
		Params    map[string]any `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	urls, err := s.resources.Generate(r.Context(), req.Generator, req.Prompt, req.Params)
	if err != nil {
		s.logger.Error().Err(err).Str("generator", req.Generator).Msg("generate resource")
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"urls": urls})
}

// handleResourceHealth serves GET /v1/resources/health, a snapshot of every
// registered generator's availability, the Go shape of the original's
// ResourceManager.health_check.
func (s *server) handleResourceHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.resources.Health(r.Context()))
}

// handleModelCapabilities serves GET /v1/models/capabilities, an operator
// view into the model-capability-memory cache (C4.11): every model known to
// be unsupported, every model with a confirmed supports_tools=true record,
// and (with ?model=) the durable record for one model, matching the
// original's get_all_unsupported_models/get_all_supported_models/
// get_model_info trio.
func (s *server) handleModelCapabilities(w http.ResponseWriter, r *http.Request) {
	if model := r.URL.Query().Get("model"); model != "" {
		info, ok, err := s.caps.GetModelInfo(r.Context(), model)
		if err != nil {
			s.logger.Error().Err(err).Str("model", model).Msg("get model info")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if !ok {
			http.Error(w, "unknown model", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, info)
		return
	}

	supported, err := s.caps.ListSupported(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("list supported models")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"unsupported": s.caps.ListUnsupported(),
		"supported":   supported,
	})
}

// handleSessionTurn serves POST /v1/sessions/{id}/turns, driving one
// orchestrator turn for a standalone (non-group) chat session. With
// Accept: text/event-stream it streams deltas as SSE, mirroring
// cmd/agentd/main.go's /agent/run dual-mode handler; otherwise it waits
// for the full answer and returns JSON.
func (s *server) handleSessionTurn(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/v1/sessions/"), "/")
	sessionID := parts[0]
	if sessionID == "" {
		http.Error(w, "missing session id", http.StatusBadRequest)
		return
	}

	if r.Method == http.MethodPut && len(parts) == 1 {
		var req sessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		sess := req.toDomain()
		sess.ID = sessionID
		s.mu.Lock()
		s.sessions[sessionID] = &sess
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
		return
	}

	if r.Method != http.MethodPost || len(parts) != 2 || parts[1] != "turns" {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	s.mu.Lock()
	sess := s.sessions[sessionID]
	s.mu.Unlock()
	if sess == nil {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	var req struct {
		UserID  string `json:"user_id"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	sess.History = append(sess.History, model.Message{Role: model.RoleUser, Content: req.Message})

	if r.Header.Get("Accept") == "text/event-stream" {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		fl, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}
		emit := &sseEmitter{w: w, flusher: fl}
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
		defer cancel()
		if _, err := s.orch.RunTurn(ctx, sess, req.UserID, emit); err != nil {
			emit.Frame(orchestrator.Tag("error"), map[string]string{"error": err.Error()})
		}
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()
	answer, err := s.orch.RunTurn(ctx, sess, req.UserID, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("run turn")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"answer": answer})
}

// handleGroupRoutes serves the member-registration and human-message
// ingress endpoints backing C9: POST /v1/groups/{id}/members and
// POST /v1/groups/{id}/messages.
func (s *server) handleGroupRoutes(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/v1/groups/"), "/")
	if len(parts) != 2 || r.Method != http.MethodPost {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	groupID, action := parts[0], parts[1]

	switch action {
	case "members":
		var req groupMemberRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		member := req.toDomain()
		s.directory.AddMember(groupID, &member)
		if member.IsAI && member.SessionID != "" {
			s.mu.Lock()
			sess := s.sessions[member.SessionID]
			s.mu.Unlock()
			if sess != nil {
				s.directory.BindSession(member.SessionID, sess)
			}
		}
		s.conv.Configure(groupID, s.convCfg)
		writeJSON(w, http.StatusOK, map[string]string{"status": "added"})
	case "messages":
		var req groupMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		msg := req.toDomain()
		msg.GroupID = groupID
		msg.SenderType = "human"
		msg.Timestamp = time.Now()
		if err := s.dispatcher.HandleHumanMessage(r.Context(), &msg); err != nil {
			s.logger.Error().Err(err).Msg("handle human message")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

// sseEmitter implements orchestrator.Emitter over a flushed HTTP response,
// the same "data: <json>\n\n" framing cmd/agentd/main.go writes for its
// delta/tool/final SSE events.
type sseEmitter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (e *sseEmitter) Delta(text string) {
	b, _ := json.Marshal(map[string]string{"type": "delta", "data": text})
	fmt.Fprintf(e.w, "data: %s\n\n", b)
	e.flusher.Flush()
}

func (e *sseEmitter) Frame(tag orchestrator.Tag, payload any) {
	b, _ := json.Marshal(map[string]any{"type": string(tag), "data": payload})
	fmt.Fprintf(e.w, "data: %s\n\n", b)
	e.flusher.Flush()
}
