package eventstream

import "context"

// Publisher publishes journal events to an event stream backend. Publishing
// is best-effort; a failed publish never fails the commit that produced it.
type Publisher interface {
	PublishEntryIngested(ctx context.Context, event *EntryIngestedEvent) error
	PublishEntryDeleted(ctx context.Context, event *EntryDeletedEvent) error
	PublishArtifactGenerated(ctx context.Context, event *ArtifactGeneratedEvent) error
	Close() error
}
