package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manifold-chat/core/internal/convctl"
	"github.com/manifold-chat/core/internal/groupstore"
	"github.com/manifold-chat/core/internal/model"
	"github.com/manifold-chat/core/internal/modelcaps"
	"github.com/manifold-chat/core/internal/resourcegen"
	"github.com/manifold-chat/core/internal/taskqueue"
)

func buildTestServer(t *testing.T) *server {
	t.Helper()
	handlers := taskqueue.HandlerRegistry{
		"ingest_document": func(ctx context.Context, payload []byte, progress func(float64)) error {
			return nil
		},
	}
	queue := taskqueue.New(taskqueue.Config{}, handlers, nil, zerolog.Nop())

	return &server{
		logger:    zerolog.Nop(),
		queue:     queue,
		directory: groupstore.NewMemoryDirectory(),
		conv:      convctl.New(nil, zerolog.Nop()),
		convCfg:   convctl.Config{MaxAIConsecutiveReplies: 5},
		resources: resourcegen.New(zerolog.Nop()),
		caps:      modelcaps.New(nil, nil, zerolog.Nop()),
		sessions:  make(map[string]*model.Session),
	}
}

func TestHandleIngest_EnqueuesAndReturnsTaskID(t *testing.T) {
	t.Parallel()
	s := buildTestServer(t)

	body := bytes.NewBufferString(`{"UserID":"u1","DocID":"doc1","Filename":"a.txt","Text":"hello"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/ingest", body)
	rec := httptest.NewRecorder()

	s.handleIngest(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["task_id"])
}

func TestHandleIngest_RejectsNonPost(t *testing.T) {
	t.Parallel()
	s := buildTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/ingest", nil)
	rec := httptest.NewRecorder()

	s.handleIngest(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleTaskStatus_RoundTripsEnqueuedTask(t *testing.T) {
	t.Parallel()
	s := buildTestServer(t)

	taskID, err := s.queue.Enqueue(context.Background(), "ingest_document", model.PriorityNormal, []byte(`{}`), time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/v1/tasks/"+taskID, nil)
	rec := httptest.NewRecorder()

	s.handleTaskStatus(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var record model.TaskRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))
	assert.Equal(t, taskID, record.ID)
	assert.Equal(t, model.TaskPending, record.Status)
}

func TestHandleTaskStatus_UnknownTaskReturns404(t *testing.T) {
	t.Parallel()
	s := buildTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/tasks/does-not-exist", nil)
	rec := httptest.NewRecorder()

	s.handleTaskStatus(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleSessionTurn_PutSavesSession(t *testing.T) {
	t.Parallel()
	s := buildTestServer(t)

	body := bytes.NewBufferString(`{"id":"sess1","system_prompt":"be helpful"}`)
	req := httptest.NewRequest(http.MethodPut, "/v1/sessions/sess1", body)
	rec := httptest.NewRecorder()

	s.handleSessionTurn(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	s.mu.Lock()
	saved, ok := s.sessions["sess1"]
	s.mu.Unlock()
	require.True(t, ok)
	assert.Equal(t, "sess1", saved.ID)
}

func TestHandleSessionTurn_TurnsOnUnknownSessionReturns404(t *testing.T) {
	t.Parallel()
	s := buildTestServer(t)

	body := bytes.NewBufferString(`{"user_id":"u1","message":"hi"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/sessions/missing/turns", body)
	rec := httptest.NewRecorder()

	s.handleSessionTurn(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleGroupRoutes_AddsMemberAndConfiguresGroup(t *testing.T) {
	t.Parallel()
	s := buildTestServer(t)

	body := bytes.NewBufferString(`{"id":"u1","name":"Alice","is_ai":false}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/groups/group1/members", body)
	rec := httptest.NewRecorder()

	s.handleGroupRoutes(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	members, err := s.directory.OnlineAIMembers(context.Background(), "group1")
	require.NoError(t, err)
	assert.Empty(t, members) // the added member is human, not AI
}

func TestHandleRetrieveMulti_RejectsNonPost(t *testing.T) {
	t.Parallel()
	s := buildTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/retrieve/multi", nil)
	rec := httptest.NewRecorder()

	s.handleRetrieveMulti(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleRetrieveMulti_RejectsBadBody(t *testing.T) {
	t.Parallel()
	s := buildTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/retrieve/multi", bytes.NewBufferString(`not json`))
	rec := httptest.NewRecorder()

	s.handleRetrieveMulti(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleResourceGenerate_UnknownGeneratorReturnsBadGateway(t *testing.T) {
	t.Parallel()
	s := buildTestServer(t)

	body := bytes.NewBufferString(`{"generator":"does-not-exist","prompt":"a cat"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/resources/generate", body)
	rec := httptest.NewRecorder()

	s.handleResourceGenerate(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestHandleResourceHealth_ReportsEmptyRegistry(t *testing.T) {
	t.Parallel()
	s := buildTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/resources/health", nil)
	rec := httptest.NewRecorder()

	s.handleResourceHealth(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp)
}

func TestHandleModelCapabilities_ListsUnsupportedModels(t *testing.T) {
	t.Parallel()
	s := buildTestServer(t)
	require.NoError(t, s.caps.MarkUnsupported(context.Background(), "old-model", "no tool support"))

	req := httptest.NewRequest(http.MethodGet, "/v1/models/capabilities", nil)
	rec := httptest.NewRecorder()

	s.handleModelCapabilities(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Unsupported []string `json:"unsupported"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"old-model"}, resp.Unsupported)
}

func TestHandleModelCapabilities_UnknownModelQueryReturns404(t *testing.T) {
	t.Parallel()
	s := buildTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/models/capabilities?model=gpt-unknown", nil)
	rec := httptest.NewRecorder()

	s.handleModelCapabilities(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleGroupRoutes_UnknownActionReturns404(t *testing.T) {
	t.Parallel()
	s := buildTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/groups/group1/unknown", nil)
	rec := httptest.NewRecorder()

	s.handleGroupRoutes(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
