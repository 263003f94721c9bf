package stream

import (
	"fmt"
	"net/http"

	"github.com/gin-contrib/sse"
)

// Frame is one server-sent event. ID is "<version>:<seq>:" so a client can
// drop replays it has already applied. Questions travel as one batch frame,
// so the trailing question segment is always empty.
type Frame struct {
	ID      string
	Type    string
	Payload interface{}
	Version int
	Seq     int64
}

type frameData struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
	Version int         `json:"version"`
	Seq     int64       `json:"seq"`
}

func frameID(version int, seq int64) string {
	return fmt.Sprintf("%d:%d:", version, seq)
}

type Sink interface {
	Send(f Frame) error
}

// SSESink writes frames as text/event-stream and flushes after each one.
type SSESink struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func NewSSESink(w http.ResponseWriter) *SSESink {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-store")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	flusher, _ := w.(http.Flusher)
	return &SSESink{w: w, flusher: flusher}
}

func (s *SSESink) Send(f Frame) error {
	err := sse.Encode(s.w, sse.Event{
		Id:    f.ID,
		Event: f.Type,
		Data:  frameData{Type: f.Type, Payload: f.Payload, Version: f.Version, Seq: f.Seq},
	})
	if err != nil {
		return err
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}
