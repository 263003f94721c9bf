package repository

import (
	"context"

	"github.com/Ayash-Bera/intake/internal/llm"
	"github.com/Ayash-Bera/intake/internal/models"
	"github.com/google/uuid"
)

// LLMCallRecorder stores provider calls as llm_events rows.
type LLMCallRecorder struct {
	store Store
}

func NewLLMCallRecorder(store Store) *LLMCallRecorder {
	return &LLMCallRecorder{store: store}
}

func (r *LLMCallRecorder) RecordCall(ctx context.Context, call llm.Call) error {
	e := &models.LLMEvent{
		Provider:      call.Provider,
		Model:         call.Model,
		Purpose:       call.Purpose,
		LatencyMs:     call.Latency.Milliseconds(),
		PromptChars:   call.PromptChars,
		ResponseChars: call.ResponseChars,
	}
	if id, err := uuid.Parse(call.SessionID); err == nil {
		e.SessionID = &id
	}
	if call.Err != nil {
		e.Error = call.Err.Error()
	}
	return r.store.AppendLLMEvent(ctx, e)
}
