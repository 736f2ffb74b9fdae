package session

import (
	"fmt"
	"io"
	"net/http"

	"github.com/tbxark/formpilot/types"
)

// EventWriter delivers events to the client one at a time.
type EventWriter interface {
	WriteEvent(e types.Event) error
}

// NDJSONWriter writes one JSON object per line and flushes after each.
type NDJSONWriter struct {
	w       io.Writer
	flusher http.Flusher
}

func NewNDJSONWriter(w io.Writer) *NDJSONWriter {
	nw := &NDJSONWriter{w: w}
	if f, ok := w.(http.Flusher); ok {
		nw.flusher = f
	}
	return nw
}

func (nw *NDJSONWriter) WriteEvent(e types.Event) error {
	line, err := types.MarshalEvent(e)
	if err != nil {
		return err
	}
	line = append(line, '\n')
	if _, err := nw.w.Write(line); err != nil {
		return fmt.Errorf("write %s event: %w", e.EventType(), err)
	}
	if nw.flusher != nil {
		nw.flusher.Flush()
	}
	return nil
}

// SetStreamHeaders prepares an HTTP response for NDJSON streaming.
func SetStreamHeaders(h http.Header) {
	h.Set("Content-Type", "application/x-ndjson; charset=utf-8")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}
