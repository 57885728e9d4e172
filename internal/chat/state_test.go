package chat

import (
	"context"
	"testing"

	"github.com/hyunsoo-dev/persona-chat/internal/prompt"
)

func intPtr(v int) *int       { return &v }
func strPtr(s string) *string { return &s }

func TestStateUpdateApply(t *testing.T) {
	base := SessionState{Mood: "calm", RelationshipLevel: 2, ProgressCounter: 1}

	got := StateUpdate{Mood: strPtr("tense"), Scene: strPtr("rooftop")}.Apply(base)
	if got.Mood != "tense" || got.Scene != "rooftop" {
		t.Fatalf("apply = %+v", got)
	}
	if got.RelationshipLevel != 2 || got.ProgressCounter != 1 {
		t.Fatalf("untouched fields changed: %+v", got)
	}
}

func TestStateUpdateClamps(t *testing.T) {
	base := SessionState{RelationshipLevel: 2, ProgressCounter: 3}

	got := StateUpdate{RelationshipLevel: intPtr(9), ProgressCounter: intPtr(0)}.Apply(base)
	if got.RelationshipLevel != 5 {
		t.Fatalf("relationship level = %d, want clamped to 5", got.RelationshipLevel)
	}
	if got.ProgressCounter != 1 {
		t.Fatalf("progress counter = %d, want clamped to 1", got.ProgressCounter)
	}

	got = StateUpdate{RelationshipLevel: intPtr(-3), ProgressCounter: intPtr(12)}.Apply(base)
	if got.RelationshipLevel != 0 {
		t.Fatalf("relationship level = %d, want clamped to 0", got.RelationshipLevel)
	}
	if got.ProgressCounter != 5 {
		t.Fatalf("progress counter = %d, want clamped to 5", got.ProgressCounter)
	}
}

func TestUpdateSessionStatePersists(t *testing.T) {
	prov := &fakeProvider{reply: "ok", tokens: 10}
	f := newFixture(t, prov)
	sess := f.newSession(t, prompt.ModeChat)

	updated, err := f.svc.UpdateSessionState(context.Background(), f.user.ID, sess.SessionID, StateUpdate{
		Mood:             strPtr("playful"),
		Scene:            strPtr("garden"),
		LastSceneSummary: strPtr("They planted seeds."),
	})
	if err != nil {
		t.Fatalf("update state: %v", err)
	}
	if updated.State.Mood != "playful" {
		t.Fatalf("mood = %q", updated.State.Mood)
	}

	var reloaded Session
	if err := f.db.First(&reloaded, "session_id = ?", sess.SessionID).Error; err != nil {
		t.Fatalf("reload session: %v", err)
	}
	if reloaded.State.Scene != "garden" || reloaded.State.LastSceneSummary != "They planted seeds." {
		t.Fatalf("state not persisted: %+v", reloaded.State)
	}
}

func TestUpdateSessionStateOwnership(t *testing.T) {
	prov := &fakeProvider{reply: "ok", tokens: 10}
	f := newFixture(t, prov)
	sess := f.newSession(t, prompt.ModeChat)

	_, err := f.svc.UpdateSessionState(context.Background(), f.creator.ID, sess.SessionID, StateUpdate{Mood: strPtr("x")})
	if err != ErrPermissionDenied {
		t.Fatalf("err = %v, want ErrPermissionDenied", err)
	}
}
