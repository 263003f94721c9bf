package handlers_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Ayash-Bera/intake/internal/api/handlers"
	"github.com/Ayash-Bera/intake/internal/clarify"
	"github.com/Ayash-Bera/intake/internal/fakes"
	"github.com/Ayash-Bera/intake/internal/health"
	"github.com/Ayash-Bera/intake/internal/middleware"
	"github.com/Ayash-Bera/intake/internal/repository"
	"github.com/Ayash-Bera/intake/internal/stream"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	Success   bool            `json:"success"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data"`
	Error     string          `json:"error"`
	RequestID string          `json:"request_id"`
}

type sessionData struct {
	SessionID    string  `json:"session_id"`
	Status       string  `json:"status"`
	Completeness float64 `json:"completeness"`
	CanFinalize  bool    `json:"can_finalize"`
	Threshold    float64 `json:"finalize_threshold"`
	Questions    []struct {
		ID  string `json:"id"`
		Key string `json:"key"`
	} `json:"questions"`
}

func newRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	store := repository.NewMemoryStore()
	svc := clarify.NewService(store, &fakes.Questions{}, &fakes.Thesis{}, nil, clarify.DefaultConfig(), logger)
	presenter := stream.NewPresenter(svc, stream.NewMemoryTracker(store, time.Hour), stream.Config{HeartbeatInterval: time.Hour}, logger)
	checker := health.NewHealthChecker([]health.Probe{{Name: "store", Check: store.Ping}}, time.Second, logger)

	r := gin.New()
	r.Use(middleware.RequestID())
	handlers.RegisterRoutes(r,
		handlers.NewClarifyHandler(svc, logger),
		handlers.NewStreamHandler(svc, presenter, logger),
		handlers.NewHealthHandler(checker),
	)
	return r
}

func do(t *testing.T, r http.Handler, method, path string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func decode(t *testing.T, env envelope, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(env.Data, v))
}

func start(t *testing.T, r http.Handler, query string) sessionData {
	t.Helper()
	rec, env := do(t, r, http.MethodPost, "/api/clarify/start", gin.H{"originalQuery": query})
	require.Equal(t, http.StatusOK, rec.Code, env.Error)
	var s sessionData
	decode(t, env, &s)
	return s
}

func TestClarifyLifecycleOverHTTP(t *testing.T) {
	r := newRouter(t)

	s := start(t, r, "Build me a landing page for X")
	assert.Equal(t, "presented", s.Status)
	assert.Len(t, s.Questions, 3)
	assert.Equal(t, 0.85, s.Threshold)
	assert.False(t, s.CanFinalize)

	rec, env := do(t, r, http.MethodPost, "/api/clarify/answer", gin.H{
		"sessionId": s.SessionID,
		"answers": []gin.H{
			{"key": "audience", "value": "devs"},
			{"questionId": s.Questions[1].ID, "value": "signup"},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, env.Error)
	var answered struct {
		Status       string  `json:"status"`
		Completeness float64 `json:"completeness"`
		CanFinalize  bool    `json:"can_finalize"`
	}
	decode(t, env, &answered)
	assert.Equal(t, "ready", answered.Status)
	assert.Equal(t, 1.0, answered.Completeness)
	assert.True(t, answered.CanFinalize)

	rec, env = do(t, r, http.MethodPost, "/api/clarify/approve", gin.H{"sessionId": s.SessionID, "filters": gin.H{"unit": "assets"}})
	require.Equal(t, http.StatusOK, rec.Code, env.Error)

	rec, env = do(t, r, http.MethodPost, "/api/clarify/finalize", gin.H{"sessionId": s.SessionID})
	require.Equal(t, http.StatusOK, rec.Code, env.Error)
	var final struct {
		Status  string          `json:"status"`
		Version int             `json:"version"`
		Thesis  json.RawMessage `json:"thesis"`
	}
	decode(t, env, &final)
	assert.Equal(t, "complete", final.Status)
	assert.Equal(t, 1, final.Version)
	assert.Contains(t, string(final.Thesis), "assets")

	rec, env = do(t, r, http.MethodGet, "/api/clarify/sessions/"+s.SessionID+"/events", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var events []struct {
		Type string `json:"type"`
	}
	decode(t, env, &events)
	var types []string
	for _, e := range events {
		types = append(types, e.Type)
	}
	assert.Equal(t, []string{"asked", "answered", "answered", "approved_filters", "finalized"}, types)

	rec, env = do(t, r, http.MethodPost, "/api/clarify/answer", gin.H{
		"sessionId": s.SessionID,
		"answers":   []gin.H{{"key": "audience", "value": "marketers"}},
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.False(t, env.Success)
}

func TestErrorMapping(t *testing.T) {
	r := newRouter(t)
	s := start(t, r, "Build me a landing page for X")

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		want   int
	}{
		{"short query", http.MethodPost, "/api/clarify/start", gin.H{"originalQuery": "hi"}, http.StatusBadRequest},
		{"missing field", http.MethodPost, "/api/clarify/start", gin.H{}, http.StatusBadRequest},
		{"bad uuid", http.MethodPost, "/api/clarify/finalize", gin.H{"sessionId": "nope"}, http.StatusBadRequest},
		{"unknown session", http.MethodPost, "/api/clarify/finalize", gin.H{"sessionId": uuid.NewString()}, http.StatusNotFound},
		{"unknown session view", http.MethodGet, "/api/clarify/sessions/" + uuid.NewString(), nil, http.StatusNotFound},
		{"invalid option", http.MethodPost, "/api/clarify/answer", gin.H{
			"sessionId": s.SessionID,
			"answers":   []gin.H{{"key": "audience", "value": "pirates"}},
		}, http.StatusBadRequest},
		{"empty answers", http.MethodPost, "/api/clarify/answer", gin.H{"sessionId": s.SessionID, "answers": []gin.H{}}, http.StatusBadRequest},
		{"short feedback", http.MethodPost, "/api/clarify/regenerate-thesis", gin.H{"sessionId": s.SessionID, "feedback": "too short"}, http.StatusBadRequest},
		{"bad decision", http.MethodPost, "/api/research/feedback", gin.H{"sessionId": s.SessionID, "decision": "maybe"}, http.StatusBadRequest},
		{"no thesis yet", http.MethodPost, "/api/research/feedback", gin.H{"sessionId": s.SessionID, "decision": "accept"}, http.StatusNotFound},
		{"questions without id", http.MethodGet, "/api/questions", nil, http.StatusBadRequest},
		{"recent without email", http.MethodGet, "/api/queries/recent", nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, env := do(t, r, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, env.Error)
			assert.False(t, env.Success)
			assert.NotEmpty(t, env.RequestID)
		})
	}
}

func TestQueryFlow(t *testing.T) {
	r := newRouter(t)

	rec, env := do(t, r, http.MethodPost, "/api/query", gin.H{
		"text":  "Build me a landing page for X",
		"email": "lead@acme.bio",
	})
	require.Equal(t, http.StatusOK, rec.Code, env.Error)
	var created struct {
		SessionID string `json:"session_id"`
		QueryID   string `json:"query_id"`
		Questions []struct {
			ID string `json:"id"`
		} `json:"questions"`
	}
	decode(t, env, &created)
	require.NotEmpty(t, created.QueryID)

	// Same query id reuses the open session.
	rec, env = do(t, r, http.MethodPost, "/api/query", gin.H{"query_id": created.QueryID})
	require.Equal(t, http.StatusOK, rec.Code, env.Error)
	var reused sessionData
	decode(t, env, &reused)
	assert.Equal(t, created.SessionID, reused.SessionID)

	rec, env = do(t, r, http.MethodGet, "/api/questions?query_id="+created.QueryID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var read sessionData
	decode(t, env, &read)
	assert.Equal(t, created.SessionID, read.SessionID)

	rec, env = do(t, r, http.MethodPost, "/api/answers", gin.H{"question_id": created.Questions[0].ID, "value": "devs"})
	require.Equal(t, http.StatusOK, rec.Code, env.Error)
	var answered struct {
		Status string `json:"status"`
	}
	decode(t, env, &answered)
	assert.Equal(t, "collecting", answered.Status)

	rec, env = do(t, r, http.MethodGet, "/api/queries/recent?email=lead@acme.bio", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var recent []struct {
		ID string `json:"id"`
	}
	decode(t, env, &recent)
	require.Len(t, recent, 1)
	assert.Equal(t, created.QueryID, recent[0].ID)
}

func TestThesisFeedbackFlow(t *testing.T) {
	r := newRouter(t)
	s := start(t, r, "orders last 30 days")
	assert.Equal(t, "ready", s.Status)

	rec, env := do(t, r, http.MethodPost, "/api/clarify/finalize", gin.H{"sessionId": s.SessionID})
	require.Equal(t, http.StatusOK, rec.Code, env.Error)

	rec, env = do(t, r, http.MethodPost, "/api/research/feedback", gin.H{
		"sessionId":      s.SessionID,
		"decision":       "reject",
		"reason":         "wrong unit",
		"changeRequests": "Focus on companies rather than assets please",
	})
	require.Equal(t, http.StatusOK, rec.Code, env.Error)
	var result struct {
		Version int `json:"version"`
	}
	decode(t, env, &result)
	assert.Equal(t, 2, result.Version)

	rec, env = do(t, r, http.MethodPost, "/api/research/feedback", gin.H{"sessionId": s.SessionID, "decision": "accept"})
	require.Equal(t, http.StatusOK, rec.Code, env.Error)

	rec, env = do(t, r, http.MethodGet, "/api/clarify/sessions/"+s.SessionID+"/theses", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var theses []struct {
		Version int    `json:"version"`
		Status  string `json:"status"`
	}
	decode(t, env, &theses)
	require.Len(t, theses, 2)
	assert.Equal(t, "rejected", theses[0].Status)
	assert.Equal(t, "accepted", theses[1].Status)
}

func TestStreamEndpoints(t *testing.T) {
	r := newRouter(t)

	rec, env := do(t, r, http.MethodPost, "/api/research/stream", gin.H{"userQuery": "Build me a landing page for X", "mode": "questions_only"})
	require.Equal(t, http.StatusOK, rec.Code, env.Error)
	var created struct {
		SessionID string `json:"sessionId"`
		SSEURL    string `json:"sseUrl"`
	}
	decode(t, env, &created)
	require.NotEmpty(t, created.SessionID)
	assert.Contains(t, created.SSEURL, "mode=questions_only")

	req := httptest.NewRequest(http.MethodGet, created.SSEURL, nil)
	sse := httptest.NewRecorder()
	r.ServeHTTP(sse, req)
	assert.Equal(t, http.StatusOK, sse.Code)
	assert.Equal(t, "text/event-stream", sse.Header().Get("Content-Type"))
	body := sse.Body.String()
	assert.Contains(t, body, "event:clarifying_questions")
	assert.Contains(t, body, "event:progress")
	assert.NotContains(t, body, "event:thesis_draft")

	rec, env = do(t, r, http.MethodPost, "/api/research/resume", gin.H{"sessionId": created.SessionID})
	require.Equal(t, http.StatusOK, rec.Code, env.Error)
	var last struct {
		Type string `json:"type"`
	}
	decode(t, env, &last)
	assert.Equal(t, "progress", last.Type)

	rec, _ = do(t, r, http.MethodGet, "/api/research/stream?sessionId="+created.SessionID+"&mode=sideways", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec, _ = do(t, r, http.MethodGet, "/api/research/stream?sessionId="+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec, _ = do(t, r, http.MethodGet, "/api/research/stream?sessionId="+created.SessionID+"&version=0", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	r := newRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var result health.OverallHealth
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, health.StatusHealthy, result.Status)
}


func TestLLMEventsDebugRoute(t *testing.T) {
	r := newRouter(t)
	s := start(t, r, "Build me a landing page for X")

	rec, env := do(t, r, http.MethodGet, "/api/debug/llm-events?session_id="+s.SessionID, nil)
	require.Equal(t, http.StatusOK, rec.Code, env.Error)
	var body struct {
		Count  int               `json:"count"`
		Latest json.RawMessage   `json:"latest"`
		Events []json.RawMessage `json:"events"`
	}
	decode(t, env, &body)
	assert.Equal(t, 0, body.Count, "canned generators make no provider calls")

	rec, _ = do(t, r, http.MethodGet, "/api/debug/llm-events?session_id="+uuid.New().String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = do(t, r, http.MethodGet, "/api/debug/llm-events?session_id=nope", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
