package rabbitmq

import (
	"context"
	"log"
	"time"
)

type compactionPublisher interface {
	PublishCompaction(ctx context.Context, sessionID string) error
}

// CompactionTrigger hands compaction work to the worker fleet through the
// queue. Publishing failures are logged and dropped; the next completed
// turn on the session re-enqueues the same work.
type CompactionTrigger struct {
	pub compactionPublisher
}

func NewCompactionTrigger(pub *Publisher) *CompactionTrigger {
	return &CompactionTrigger{pub: pub}
}

// Trigger enqueues the session from a goroutine so a slow broker never
// delays the turn response.
func (t *CompactionTrigger) Trigger(sessionID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := t.pub.PublishCompaction(ctx, sessionID); err != nil {
			log.Printf("compaction enqueue for session %s failed: %v", sessionID, err)
		}
	}()
}
