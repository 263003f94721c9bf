package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestOpenAIClient_Complete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-test", body.Model)
		require.Len(t, body.Messages, 2)
		assert.Equal(t, "system", body.Messages[0].Role)
		assert.Equal(t, "user", body.Messages[1].Role)
		require.NotNil(t, body.ResponseFormat)
		assert.Equal(t, "json_schema", body.ResponseFormat.Type)
		assert.Equal(t, "clarifier", body.ResponseFormat.JSONSchema.Name)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"content":"{\"ok\":true}"}}]}`))
	}))
	defer server.Close()

	client := NewOpenAIClient(server.URL+"/", "test-key", "gpt-test", quietLogger())
	out, err := client.Complete(context.Background(), Request{
		System:     "be terse",
		User:       "hello",
		JSONSchema: &Schema{Name: "clarifier", Schema: map[string]interface{}{"type": "object"}, Strict: true},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, out)
}

func TestOpenAIClient_JSONObjectAndModelOverride(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "override", body.Model)
		assert.Len(t, body.Messages, 1)
		assert.Equal(t, "json_object", body.ResponseFormat.Type)
		assert.Nil(t, body.ResponseFormat.JSONSchema)
		w.Write([]byte(`{"choices":[{"message":{"content":"{}"}}]}`))
	}))
	defer server.Close()

	client := NewOpenAIClient(server.URL, "k", "default", quietLogger())
	out, err := client.Complete(context.Background(), Request{Model: "override", User: "x", JSONObject: true})
	require.NoError(t, err)
	assert.Equal(t, "{}", out)
}

func TestOpenAIClient_ErrorHandling(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("Invalid request"))
	}))
	defer server.Close()

	client := NewOpenAIClient(server.URL, "k", "m", quietLogger())
	_, err := client.Complete(context.Background(), Request{User: "x"})
	require.Error(t, err)

	var status *StatusError
	require.True(t, errors.As(err, &status))
	assert.Equal(t, http.StatusBadRequest, status.Code)
	assert.Contains(t, err.Error(), "Invalid request")
	assert.False(t, Retryable(err))
}

func TestOpenAIClient_EmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	client := NewOpenAIClient(server.URL, "k", "m", quietLogger())
	_, err := client.Complete(context.Background(), Request{User: "x"})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestClients_FailClosedWithoutKey(t *testing.T) {
	openai := NewOpenAIClient("", "", "m", quietLogger())
	assert.False(t, openai.Configured())
	_, err := openai.Complete(context.Background(), Request{User: "x"})
	assert.ErrorIs(t, err, ErrNotConfigured)

	gemini, err := NewGeminiClient(context.Background(), "", "", quietLogger())
	require.NoError(t, err)
	assert.False(t, gemini.Configured())
	_, err = gemini.Complete(context.Background(), Request{User: "x"})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

type scripted struct {
	calls int32
	errs  []error
}

func (s *scripted) Configured() bool { return true }

func (s *scripted) Complete(ctx context.Context, req Request) (string, error) {
	n := atomic.AddInt32(&s.calls, 1)
	if int(n) <= len(s.errs) {
		return "", s.errs[n-1]
	}
	return "done", nil
}

func fastRetry(max int) RetryConfig {
	return RetryConfig{MaxRetries: max, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestRetrying_RetriesTransientFailures(t *testing.T) {
	next := &scripted{errs: []error{&StatusError{Code: 429}, &StatusError{Code: 503}}}
	r := NewRetrying(next, fastRetry(2), quietLogger())

	out, err := r.Complete(context.Background(), Request{User: "x"})
	require.NoError(t, err)
	assert.Equal(t, "done", out)
	assert.Equal(t, int32(3), next.calls)
}

func TestRetrying_StopsOnPermanentFailure(t *testing.T) {
	next := &scripted{errs: []error{&StatusError{Code: 401}}}
	r := NewRetrying(next, fastRetry(3), quietLogger())

	_, err := r.Complete(context.Background(), Request{User: "x"})
	require.Error(t, err)
	assert.Equal(t, int32(1), next.calls)

	next = &scripted{errs: []error{ErrNotConfigured}}
	_, err = NewRetrying(next, fastRetry(3), quietLogger()).Complete(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.Equal(t, int32(1), next.calls)
}

func TestRetrying_GivesUp(t *testing.T) {
	next := &scripted{errs: []error{&StatusError{Code: 500}, &StatusError{Code: 500}, &StatusError{Code: 500}}}
	r := NewRetrying(next, fastRetry(1), quietLogger())

	_, err := r.Complete(context.Background(), Request{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 1 retries")
	assert.Equal(t, int32(2), next.calls)
}

func TestRetrying_HonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	next := &scripted{}
	_, err := NewRetrying(next, fastRetry(2), quietLogger()).Complete(ctx, Request{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(0), next.calls)
}

func TestExtractJSONObject(t *testing.T) {
	tests := map[string]struct {
		in   string
		want string
		ok   bool
	}{
		"plain":     {`{"a":1}`, `{"a":1}`, true},
		"fenced":    {"```json\n{\"a\":1}\n```", `{"a":1}`, true},
		"prose":     {"Here you go: {\"a\":{\"b\":2}} hope it helps", `{"a":{"b":2}}`, true},
		"no object": {"sorry, no", "", false},
		"reversed":  {"} {", "", false},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			got, ok := ExtractJSONObject(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

type callLog struct {
	mu    sync.Mutex
	calls []Call
	err   error
}

func (l *callLog) RecordCall(ctx context.Context, call Call) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, call)
	return l.err
}

func TestRecording_RecordsEachCall(t *testing.T) {
	log := &callLog{}
	next := &scripted{errs: []error{&StatusError{Code: 503}}}
	r := NewRecording(next, "openai", "gpt-default", log, quietLogger())

	ctx := WithCallInfo(context.Background(), CallInfo{SessionID: "s-1", Purpose: "thesis"})
	_, err := r.Complete(ctx, Request{System: "sys", User: "hello"})
	require.Error(t, err)
	out, err := r.Complete(ctx, Request{Model: "gpt-override", User: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "done", out)

	require.Len(t, log.calls, 2)
	assert.Equal(t, "s-1", log.calls[0].SessionID)
	assert.Equal(t, "thesis", log.calls[0].Purpose)
	assert.Equal(t, "openai", log.calls[0].Provider)
	assert.Equal(t, "gpt-default", log.calls[0].Model)
	assert.Equal(t, 8, log.calls[0].PromptChars)
	assert.Error(t, log.calls[0].Err)

	assert.Equal(t, "gpt-override", log.calls[1].Model)
	assert.Equal(t, 4, log.calls[1].ResponseChars)
	assert.NoError(t, log.calls[1].Err)
}

func TestRecording_RecorderFailureDoesNotFailCall(t *testing.T) {
	log := &callLog{err: errors.New("db down")}
	r := NewRecording(&scripted{}, "gemini", "flash", log, quietLogger())

	out, err := r.Complete(context.Background(), Request{User: "x"})
	require.NoError(t, err)
	assert.Equal(t, "done", out)
	require.Len(t, log.calls, 1)
	assert.Empty(t, log.calls[0].SessionID)
}

func TestRetrying_OverRecordingRecordsEveryAttempt(t *testing.T) {
	log := &callLog{}
	next := &scripted{errs: []error{&StatusError{Code: 429}}}
	r := NewRetrying(NewRecording(next, "openai", "m", log, quietLogger()), fastRetry(2), quietLogger())

	_, err := r.Complete(context.Background(), Request{User: "x"})
	require.NoError(t, err)
	assert.Len(t, log.calls, 2)
}
