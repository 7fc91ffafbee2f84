package nop

import (
	"context"

	"github.com/murmurhq/murmur/pkg/eventstream"
)

// Publisher is a no-op eventstream publisher used for tests and disabled mode.
type Publisher struct{}

// NewPublisher creates a new no-op eventstream publisher.
func NewPublisher() *Publisher {
	return &Publisher{}
}

// PublishEntryIngested validates input and otherwise does nothing.
func (p *Publisher) PublishEntryIngested(_ context.Context, event *eventstream.EntryIngestedEvent) error {
	if event == nil {
		return eventstream.ErrNilEvent
	}
	return nil
}

// PublishEntryDeleted validates input and otherwise does nothing.
func (p *Publisher) PublishEntryDeleted(_ context.Context, event *eventstream.EntryDeletedEvent) error {
	if event == nil {
		return eventstream.ErrNilEvent
	}
	return nil
}

// PublishArtifactGenerated validates input and otherwise does nothing.
func (p *Publisher) PublishArtifactGenerated(_ context.Context, event *eventstream.ArtifactGeneratedEvent) error {
	if event == nil {
		return eventstream.ErrNilEvent
	}
	return nil
}

// Close is a no-op.
func (p *Publisher) Close() error {
	return nil
}
