package llm

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

type callKey struct{}

// CallInfo ties a provider call to the session and step that made it.
type CallInfo struct {
	SessionID string
	Purpose   string
}

func WithCallInfo(ctx context.Context, info CallInfo) context.Context {
	return context.WithValue(ctx, callKey{}, info)
}

func CallInfoFrom(ctx context.Context) CallInfo {
	info, _ := ctx.Value(callKey{}).(CallInfo)
	return info
}

// Call is one finished provider request.
type Call struct {
	CallInfo
	Provider      string
	Model         string
	Latency       time.Duration
	PromptChars   int
	ResponseChars int
	Err           error
}

type CallRecorder interface {
	RecordCall(ctx context.Context, call Call) error
}

// Recording reports every call of the wrapped Completer to a CallRecorder.
// Recorder failures are logged and never fail the completion.
type Recording struct {
	next     Completer
	provider string
	model    string
	recorder CallRecorder
	logger   *logrus.Logger
}

func NewRecording(next Completer, provider, model string, recorder CallRecorder, logger *logrus.Logger) *Recording {
	return &Recording{next: next, provider: provider, model: model, recorder: recorder, logger: logger}
}

func (r *Recording) Configured() bool {
	return r.next.Configured()
}

func (r *Recording) Complete(ctx context.Context, req Request) (string, error) {
	start := time.Now()
	out, err := r.next.Complete(ctx, req)

	model := req.Model
	if model == "" {
		model = r.model
	}
	call := Call{
		CallInfo:      CallInfoFrom(ctx),
		Provider:      r.provider,
		Model:         model,
		Latency:       time.Since(start),
		PromptChars:   len(req.System) + len(req.User),
		ResponseChars: len(out),
		Err:           err,
	}
	// The caller's deadline may already be spent; the record outlives it.
	if rerr := r.recorder.RecordCall(context.WithoutCancel(ctx), call); rerr != nil {
		r.logger.WithError(rerr).WithFields(logrus.Fields{
			"provider": r.provider,
			"model":    model,
		}).Warn("Failed to record llm call")
	}
	return out, err
}
