package sse

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Flusher is implemented by buffered writers that can push pending bytes to
// the client. *bufio.Writer satisfies it.
type Flusher interface {
	Flush() error
}

// Writer encodes events onto an io.Writer in SSE wire format. Each Send is
// flushed immediately when the destination supports it, so deltas reach the
// client as they are produced rather than when the response ends.
type Writer struct {
	dest io.Writer
}

// NewWriter returns a Writer targeting dest.
func NewWriter(dest io.Writer) *Writer {
	return &Writer{dest: dest}
}

// Send writes one event and flushes.
func (w *Writer) Send(event Event) error {
	if event.Type != "" {
		if _, err := fmt.Fprintf(w.dest, "event: %s\n", event.Type); err != nil {
			return err
		}
	}
	if event.ID != "" {
		if _, err := fmt.Fprintf(w.dest, "id: %s\n", event.ID); err != nil {
			return err
		}
	}
	for _, line := range strings.Split(event.Data, "\n") {
		if _, err := fmt.Fprintf(w.dest, "data: %s\n", line); err != nil {
			return err
		}
	}
	if _, err := io.WriteString(w.dest, "\n"); err != nil {
		return err
	}
	return w.flush()
}

// SendJSON marshals payload and sends it as one event of the given type.
func (w *Writer) SendJSON(eventType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding sse payload: %w", err)
	}
	return w.Send(Event{Type: eventType, Data: string(data)})
}

// Comment writes an SSE comment line. Useful as a keep-alive.
func (w *Writer) Comment(text string) error {
	if _, err := fmt.Fprintf(w.dest, ": %s\n\n", text); err != nil {
		return err
	}
	return w.flush()
}

func (w *Writer) flush() error {
	if f, ok := w.dest.(Flusher); ok {
		return f.Flush()
	}
	return nil
}
