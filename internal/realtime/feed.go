package realtime

import (
	"context"

	"github.com/roach88/shopsync/internal/ir"
)

// Feed delivers server-pushed change events for one entity type per
// subscription. The returned channel closes when ctx ends or the feed is
// closed.
type Feed interface {
	Subscribe(ctx context.Context, t ir.EntityType) (<-chan ir.ChangeEvent, error)
}

// Publisher pushes change events into a feed. The server side (or a test)
// uses it; the engine itself only subscribes.
type Publisher interface {
	Publish(ctx context.Context, t ir.EntityType, ev ir.ChangeEvent) error
}

// DefaultTopicPrefix prefixes every per-type topic: "shopsync.changes.product".
const DefaultTopicPrefix = "shopsync.changes"

// Topic returns the topic name for an entity type.
func Topic(prefix string, t ir.EntityType) string {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return prefix + "." + string(t)
}
