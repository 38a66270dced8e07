// Package events writes machine-readable progress for callers that drive
// slideprep from another process: one JSON object per line.
//
// Libraries take a *Writer unconditionally. When the caller did not ask for
// events it passes Discard, or nil, and every method becomes a no-op, so
// call sites never check whether events are enabled. The writer owns its
// stream: nothing else may write to it while events are on.
package events

import (
	"bufio"
	"encoding/json"
	"io"
	"sync"
)

// Event is one line of output.
type Event struct {
	Type     string         `json:"type"`
	Progress *Progress      `json:"progress,omitempty"`
	Payload  map[string]any `json:"payload,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// Progress reports how far a run has come.
type Progress struct {
	Current int     `json:"current"`
	Total   int     `json:"total"`
	Percent float64 `json:"percent"`
	Message string  `json:"message"`
	Item    string  `json:"item,omitempty"`
}

// Writer emits events. The zero value and a nil *Writer drop everything.
type Writer struct {
	enc *json.Encoder
	w   *bufio.Writer
	mu  sync.Mutex
}

// Discard is a Writer that emits nothing.
var Discard = &Writer{}

// NewWriter returns a Writer encoding onto w.
func NewWriter(writer io.Writer) *Writer {
	buf := bufio.NewWriter(writer)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	return &Writer{enc: enc, w: buf}
}

func (e *Writer) enabled() bool {
	return e != nil && e.enc != nil
}

func (e *Writer) emit(ev Event) {
	if !e.enabled() {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	_ = e.enc.Encode(ev)
	_ = e.w.Flush()
}

// Progress emits a progress event; percent is derived and clamped to 100.
func (e *Writer) Progress(p Progress) {
	if p.Percent <= 0 && p.Total > 0 {
		p.Percent = float64(p.Current) / float64(p.Total) * 100.0
	}
	if p.Percent > 100.0 {
		p.Percent = 100.0
	}
	e.emit(Event{Type: "progress", Progress: &p})
}

// Result emits the final payload of a run.
func (e *Writer) Result(payload map[string]any) {
	e.emit(Event{Type: "result", Payload: payload})
}

// Error emits a failure.
func (e *Writer) Error(err error) {
	if err == nil {
		return
	}
	e.emit(Event{Type: "error", Error: err.Error()})
}
