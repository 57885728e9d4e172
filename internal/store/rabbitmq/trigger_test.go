package rabbitmq

import (
	"context"
	"testing"
	"time"
)

type stallingPublisher struct {
	release   chan struct{}
	published chan string
}

func (p *stallingPublisher) PublishCompaction(ctx context.Context, sessionID string) error {
	<-p.release
	p.published <- sessionID
	return nil
}

func TestTriggerDoesNotBlockOnSlowBroker(t *testing.T) {
	pub := &stallingPublisher{
		release:   make(chan struct{}),
		published: make(chan string, 1),
	}
	trig := &CompactionTrigger{pub: pub}

	done := make(chan struct{})
	go func() {
		trig.Trigger("S1")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Trigger blocked on a stalled publish")
	}

	// the publish still goes through once the broker responds
	close(pub.release)
	select {
	case got := <-pub.published:
		if got != "S1" {
			t.Fatalf("published session %q, want S1", got)
		}
	case <-time.After(time.Second):
		t.Fatal("publish never completed")
	}
}
