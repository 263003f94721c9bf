package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Ayash-Bera/intake/internal/llm"
	"github.com/Ayash-Bera/intake/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func newSession(t *testing.T, store *MemoryStore, queryID *uuid.UUID) *models.ClarificationSession {
	t.Helper()
	s := &models.ClarificationSession{
		QueryID:       queryID,
		OriginalQuery: "EGFR inhibitors in NSCLC",
		Status:        models.StatusGenerating,
	}
	require.NoError(t, store.CreateSession(context.Background(), s))
	return s
}

func TestMemoryStore_UpsertAnswerKeepsOneRow(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	s := newSession(t, store, nil)
	qID := uuid.New()

	first := &models.ClarificationAnswer{SessionID: s.ID, QuestionID: qID, Kind: "text", Value: datatypes.JSON(`"first"`)}
	require.NoError(t, store.UpsertAnswer(ctx, first))

	second := &models.ClarificationAnswer{SessionID: s.ID, QuestionID: qID, Kind: "text", Value: datatypes.JSON(`"second"`)}
	require.NoError(t, store.UpsertAnswer(ctx, second))

	answers, err := store.ListAnswers(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, answers, 1)
	assert.JSONEq(t, `"second"`, string(answers[0].Value))
	assert.Equal(t, first.ID, second.ID)
}

func TestMemoryStore_OneOpenSessionPerQuery(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	queryID := uuid.New()
	first := newSession(t, store, &queryID)

	dup := &models.ClarificationSession{QueryID: &queryID, OriginalQuery: "again", Status: models.StatusGenerating}
	err := store.CreateSession(ctx, dup)
	assert.ErrorIs(t, err, ErrConflict)

	complete := models.StatusComplete
	require.NoError(t, store.UpdateSession(ctx, first.ID, SessionUpdate{Status: &complete}))

	next := &models.ClarificationSession{QueryID: &queryID, OriginalQuery: "again", Status: models.StatusGenerating}
	require.NoError(t, store.CreateSession(ctx, next))

	open, err := store.FindOpenSession(ctx, queryID)
	require.NoError(t, err)
	assert.Equal(t, next.ID, open.ID)
}

func TestMemoryStore_UpdateSessionUnknown(t *testing.T) {
	store := NewMemoryStore()
	ready := models.StatusReady
	err := store.UpdateSession(context.Background(), uuid.New(), SessionUpdate{Status: &ready})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_QuestionsOrderedAndKeysUnique(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	s := newSession(t, store, nil)

	qs := []models.ClarificationQuestion{
		{SessionID: s.ID, OrderIndex: 1, Key: "b", Label: "B", Type: models.TypeText, Required: true},
		{SessionID: s.ID, OrderIndex: 0, Key: "a", Label: "A", Type: models.TypeText, Required: true},
	}
	require.NoError(t, store.CreateQuestions(ctx, qs))

	listed, err := store.ListQuestions(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, "a", listed[0].Key)
	assert.Equal(t, "b", listed[1].Key)

	err = store.CreateQuestions(ctx, []models.ClarificationQuestion{{SessionID: s.ID, Key: "a", Label: "dup", Type: models.TypeText}})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestMemoryStore_ThesisVersionsIncrement(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	s := newSession(t, store, nil)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tv := &models.ThesisVersion{SessionID: s.ID, Status: models.ThesisGenerated, Source: "finalize", Content: datatypes.JSON(`{}`)}
			assert.NoError(t, store.CreateThesisVersion(ctx, tv))
		}()
	}
	wg.Wait()

	versions, err := store.ListThesisVersions(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, versions, 5)
	for i, v := range versions {
		assert.Equal(t, i+1, v.Version)
	}

	require.NoError(t, store.UpdateThesisStatus(ctx, s.ID, 3, models.ThesisAccepted))
	got, err := store.GetThesisVersion(ctx, s.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, models.ThesisAccepted, got.Status)

	_, err = store.GetThesisVersion(ctx, s.ID, 9)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_EventsAppendOnly(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	s := newSession(t, store, nil)

	for _, typ := range []string{models.EventAsked, models.EventAnswered, models.EventFinalized} {
		require.NoError(t, store.AppendEvent(ctx, &models.ClarificationEvent{SessionID: s.ID, Type: typ, Payload: datatypes.JSON(`{}`)}))
	}

	events, err := store.ListEvents(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, models.EventAsked, events[0].Type)

	last, err := store.LatestEvent(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EventFinalized, last.Type)

	_, err = store.LatestEvent(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_RecentQueriesByEmail(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	a, b := "a@pharma.com", "b@bio.com"
	require.NoError(t, store.CreateQuery(ctx, &models.Query{Text: "KRAS G12C", Email: &a}))
	require.NoError(t, store.CreateQuery(ctx, &models.Query{Text: "ADC HER2", Email: &b}))
	require.NoError(t, store.CreateQuery(ctx, &models.Query{Text: "CAR-T CD19", Email: &a}))

	got, err := store.ListRecentQueries(ctx, a, 10)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	err = store.CreateQuery(ctx, &models.Query{Text: "  "})
	assert.Error(t, err)
}

func TestMemoryStore_StreamEventLog(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	s := newSession(t, store, nil)

	seq, err := store.MaxEventSeq(ctx, s.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), seq)

	for i, typ := range []string{models.EventProgress, models.EventClarifyingQuestion, models.EventProgress} {
		require.NoError(t, store.AppendEvent(ctx, &models.ClarificationEvent{SessionID: s.ID, Type: typ, Version: 1, Seq: int64(i + 1)}))
	}
	require.NoError(t, store.AppendEvent(ctx, &models.ClarificationEvent{SessionID: s.ID, Type: models.EventProgress, Version: 2, Seq: 40}))

	seq, err = store.MaxEventSeq(ctx, s.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), seq)

	seen, err := store.HasEvent(ctx, s.ID, 1, models.EventClarifyingQuestion)
	require.NoError(t, err)
	assert.True(t, seen)
	seen, err = store.HasEvent(ctx, s.ID, 2, models.EventClarifyingQuestion)
	require.NoError(t, err)
	assert.False(t, seen)

	dup := &models.ClarificationEvent{SessionID: s.ID, Type: models.EventClarifyingQuestion, Version: 1, Seq: 4}
	assert.ErrorIs(t, store.AppendEvent(ctx, dup), ErrConflict)
	require.NoError(t, store.AppendEvent(ctx, &models.ClarificationEvent{SessionID: s.ID, Type: models.EventClarifyingQuestion, Version: 2, Seq: 41}))
}

func TestLLMCallRecorder_StoresCallsPerSession(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	s := newSession(t, store, nil)
	recorder := NewLLMCallRecorder(store)

	require.NoError(t, recorder.RecordCall(ctx, llm.Call{
		CallInfo: llm.CallInfo{SessionID: s.ID.String(), Purpose: "questions"},
		Provider: "openai", Model: "gpt", Latency: 250 * time.Millisecond,
	}))
	require.NoError(t, recorder.RecordCall(ctx, llm.Call{
		CallInfo: llm.CallInfo{SessionID: s.ID.String(), Purpose: "thesis"},
		Provider: "openai", Model: "gpt", Err: errors.New("status 503"),
	}))
	require.NoError(t, recorder.RecordCall(ctx, llm.Call{Provider: "openai", Model: "gpt"}))

	events, err := store.ListLLMEvents(ctx, s.ID, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "thesis", events[0].Purpose, "newest first")
	assert.Equal(t, "status 503", events[0].Error)
	assert.Equal(t, int64(250), events[1].LatencyMs)

	limited, err := store.ListLLMEvents(ctx, s.ID, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}
