// Package sse provides a minimal, purpose-built SSE (Server-Sent Events)
// writer for streaming conversation turns to HTTP clients.
//
// This package intentionally does NOT provide SSE client or parsing
// capabilities.
//
// See the SSE specification:
// https://html.spec.whatwg.org/multipage/server-sent-events.html
package sse

// Event represents a single SSE event, delimited by a blank line in the
// output byte stream.
type Event struct {
	// Type is the SSE event type written as the "event:" field.
	// An empty string means the default "message" type per the SSE spec.
	Type string

	// Data is the event payload. Embedded newlines are split across
	// multiple "data:" lines (per the SSE spec, clients rejoin them with a
	// single newline).
	Data string

	// ID is the event ID written as the "id:" field, if present.
	ID string
}
