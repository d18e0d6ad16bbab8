// Package eventstream publishes pipeline events to an event stream backend.
package eventstream

import "context"

// Publisher publishes title-generation jobs to an event stream backend.
type Publisher interface {
	PublishTitleRequest(ctx context.Context, event *TitleRequestedEvent) error
	Close() error
}
