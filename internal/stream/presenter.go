package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Ayash-Bera/intake/internal/clarify"
	"github.com/Ayash-Bera/intake/internal/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type Mode string

const (
	ModeAuto          Mode = "auto"
	ModeQuestionsOnly Mode = "questions_only"
	ModeThesisOnly    Mode = "thesis_only"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeAuto:
		return ModeAuto, nil
	case ModeQuestionsOnly, ModeThesisOnly:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown stream mode %q", s)
}

const milestoneQuestions = "clarifying_questions"

// Protocol is the part of the clarification service the presenter drives.
type Protocol interface {
	EnsureQuestions(ctx context.Context, sessionID uuid.UUID) (*clarify.SessionView, error)
	DraftThesis(ctx context.Context, sessionID uuid.UUID) (*clarify.ThesisResult, error)
	RecordStreamEvent(ctx context.Context, sessionID uuid.UUID, eventType string, payload interface{}, version int, seq int64) error
}

type Config struct {
	HeartbeatInterval time.Duration
	DraftETA          time.Duration
}

func DefaultConfig() Config {
	return Config{HeartbeatInterval: 5 * time.Second, DraftETA: 30 * time.Second}
}

type RunRequest struct {
	SessionID uuid.UUID
	Mode      Mode
	Version   int
}

// Presenter relays the clarification pipeline to a stream client. It makes
// no decisions of its own.
type Presenter struct {
	protocol Protocol
	tracker  Tracker
	cfg      Config
	logger   *logrus.Logger
}

func NewPresenter(protocol Protocol, tracker Tracker, cfg Config, logger *logrus.Logger) *Presenter {
	defaults := DefaultConfig()
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaults.HeartbeatInterval
	}
	if cfg.DraftETA <= 0 {
		cfg.DraftETA = defaults.DraftETA
	}
	return &Presenter{protocol: protocol, tracker: tracker, cfg: cfg, logger: logger}
}

type questionPayload struct {
	ID   uuid.UUID `json:"id"`
	Key  string    `json:"key"`
	Text string    `json:"text"`
	Why  string    `json:"why,omitempty"`
}

// emitter numbers, records and sends frames. Heartbeats and the pipeline
// share it, so sends are serialized.
type emitter struct {
	mu       sync.Mutex
	ctx      context.Context
	req      RunRequest
	sink     Sink
	protocol Protocol
	tracker  Tracker
	logger   *logrus.Logger
}

func (e *emitter) emit(eventType string, payload interface{}) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	seq, err := e.tracker.NextSeq(e.ctx, e.req.SessionID, e.req.Version)
	if err != nil {
		return err
	}
	if err := e.protocol.RecordStreamEvent(e.ctx, e.req.SessionID, eventType, payload, e.req.Version, seq); err != nil {
		if errors.Is(err, clarify.ErrConflict) {
			e.logger.WithFields(logrus.Fields{
				"session_id": e.req.SessionID,
				"event":      eventType,
			}).Debug("Event already in the log, not resending")
			return nil
		}
		e.logger.WithError(err).WithFields(logrus.Fields{
			"session_id": e.req.SessionID,
			"event":      eventType,
			"seq":        seq,
		}).Warn("Failed to record stream event")
	}
	return e.sink.Send(Frame{
		ID:      frameID(e.req.Version, seq),
		Type:    eventType,
		Payload: payload,
		Version: e.req.Version,
		Seq:     seq,
	})
}

func (e *emitter) progress(stage, message string, extra map[string]interface{}) error {
	payload := map[string]interface{}{"stage": stage}
	if message != "" {
		payload["message"] = message
	}
	for k, v := range extra {
		payload[k] = v
	}
	return e.emit(models.EventProgress, payload)
}

// Run executes the staged pipeline for one stream connection. A generator
// failure is reported as an error frame and returned.
func (p *Presenter) Run(ctx context.Context, req RunRequest, sink Sink) error {
	if req.Version <= 0 {
		req.Version = 1
	}
	if req.Mode == "" {
		req.Mode = ModeAuto
	}
	e := &emitter{
		ctx:      ctx,
		req:      req,
		sink:     sink,
		protocol: p.protocol,
		tracker:  p.tracker,
		logger:   p.logger,
	}

	log := p.logger.WithFields(logrus.Fields{
		"session_id": req.SessionID,
		"mode":       req.Mode,
		"version":    req.Version,
	})
	log.Info("Stream started")

	if err := p.pipeline(ctx, e); err != nil {
		log.WithError(err).Error("Stream pipeline failed")
		if ferr := e.emit(models.EventError, map[string]interface{}{"message": err.Error()}); ferr != nil {
			log.WithError(ferr).Warn("Failed to send error frame")
		}
		return err
	}
	log.Info("Stream completed")
	return nil
}

func (p *Presenter) pipeline(ctx context.Context, e *emitter) error {
	for _, stage := range []string{"plan", "search", "extract", "synthesize"} {
		if err := e.progress(stage, "", nil); err != nil {
			return err
		}
	}

	if e.req.Mode != ModeThesisOnly {
		if err := p.questions(ctx, e); err != nil {
			return err
		}
	}
	if e.req.Mode != ModeQuestionsOnly {
		if err := p.draft(ctx, e); err != nil {
			return err
		}
	}

	if err := e.progress("validate", "", nil); err != nil {
		return err
	}
	return e.progress("ready", "", nil)
}

func (p *Presenter) questions(ctx context.Context, e *emitter) error {
	if err := e.progress("question", "Preparing clarifying questions", nil); err != nil {
		return err
	}
	view, err := p.protocol.EnsureQuestions(ctx, e.req.SessionID)
	if err != nil {
		return err
	}

	first, err := p.tracker.MarkOnce(ctx, e.req.SessionID, e.req.Version, milestoneQuestions)
	if err != nil {
		// Without the marker a duplicate could reach the client.
		p.logger.WithError(err).WithField("session_id", e.req.SessionID).Warn("Milestone marker unavailable, skipping questions frame")
		return nil
	}
	if !first {
		p.logger.WithField("session_id", e.req.SessionID).Debug("Questions already streamed for this version")
		return nil
	}

	items := make([]questionPayload, 0, len(view.Questions))
	for _, q := range view.Questions {
		items = append(items, questionPayload{ID: q.ID, Key: q.Key, Text: q.Label, Why: q.Reason})
	}
	return e.emit(models.EventClarifyingQuestion, map[string]interface{}{
		"questions":       items,
		"proposedQueries": []string{},
	})
}

func (p *Presenter) draft(ctx context.Context, e *emitter) error {
	eta := p.cfg.DraftETA
	if err := e.progress("draft", "Drafting thesis", map[string]interface{}{"etaMs": eta.Milliseconds()}); err != nil {
		return err
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.heartbeat(ctx, e, eta, done)
	}()

	result, err := p.protocol.DraftThesis(ctx, e.req.SessionID)
	close(done)
	wg.Wait()
	if err != nil {
		return err
	}

	if err := e.emit(models.EventThesisDraft, map[string]interface{}{
		"version": result.Version,
		"thesis":  result.Thesis,
		"filters": result.Filters,
	}); err != nil {
		return err
	}
	return e.emit(models.EventSources, map[string]interface{}{"items": []interface{}{}})
}

func (p *Presenter) heartbeat(ctx context.Context, e *emitter, eta time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(p.cfg.HeartbeatInterval)
	defer ticker.Stop()
	start := time.Now()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			remaining := eta - time.Since(start)
			if remaining < 0 {
				remaining = 0
			}
			msg := fmt.Sprintf("Thesis ETA ~%ds", int(remaining.Round(time.Second).Seconds()))
			if err := e.progress("draft", msg, map[string]interface{}{"etaMs": remaining.Milliseconds()}); err != nil {
				p.logger.WithError(err).Debug("Heartbeat send failed")
				return
			}
		}
	}
}
