package memory

import (
	"context"
	"errors"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(gormsqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Summary{}, &UserNote{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func TestSaveSummaryDuplicateRangeIsNoOp(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	ctx := context.Background()

	first := &Summary{
		ID: "00000000-0000-0000-0000-000000000001", SessionID: "S1",
		StartIndex: 0, EndIndex: 20, SummaryText: "first writer",
	}
	if err := repo.SaveSummary(ctx, first); err != nil {
		t.Fatalf("first save: %v", err)
	}

	second := &Summary{
		ID: "00000000-0000-0000-0000-000000000002", SessionID: "S1",
		StartIndex: 0, EndIndex: 20, SummaryText: "second writer",
	}
	if err := repo.SaveSummary(ctx, second); err != nil {
		t.Fatalf("duplicate save should be silent: %v", err)
	}

	var rows []Summary
	if err := db.Where("session_id = ?", "S1").Find(&rows).Error; err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	if rows[0].SummaryText != "first writer" {
		t.Fatalf("first writer lost: %q", rows[0].SummaryText)
	}
}

func TestListRecentSummariesNewestFirst(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	ctx := context.Background()

	for i, id := range []string{"a", "b", "c", "d"} {
		s := &Summary{
			ID: id, SessionID: "S1",
			StartIndex: i * 20, EndIndex: (i + 1) * 20, SummaryText: id,
		}
		if err := repo.SaveSummary(ctx, s); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}

	got, err := repo.ListRecentSummaries(ctx, "S1", 3)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d, want 3", len(got))
	}
	if got[0].StartIndex != 60 || got[2].StartIndex != 20 {
		t.Fatalf("order wrong: %d, %d, %d", got[0].StartIndex, got[1].StartIndex, got[2].StartIndex)
	}
}

func TestListContextNotes(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	ctx := context.Background()

	seed := []UserNote{
		{UserID: 1, TargetType: NoteTargetSession, TargetID: "S1", Content: "session note", IncludeInContext: true},
		{UserID: 1, TargetType: NoteTargetCharacter, TargetID: "42", Content: "character note", IncludeInContext: true, Pinned: true},
		{UserID: 1, TargetType: NoteTargetSession, TargetID: "S1", Content: "hidden note", IncludeInContext: false},
		{UserID: 1, TargetType: NoteTargetSession, TargetID: "OTHER", Content: "other session", IncludeInContext: true},
		{UserID: 2, TargetType: NoteTargetSession, TargetID: "S1", Content: "someone else's note", IncludeInContext: true},
	}
	for i := range seed {
		if err := repo.CreateNote(ctx, &seed[i]); err != nil {
			t.Fatalf("seed note %d: %v", i, err)
		}
	}

	got, err := repo.ListContextNotes(ctx, 1, "S1", "42")
	if err != nil {
		t.Fatalf("list context notes: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d notes, want 2: %+v", len(got), got)
	}
	// pinned first
	if got[0].Content != "character note" || got[1].Content != "session note" {
		t.Fatalf("order wrong: %q, %q", got[0].Content, got[1].Content)
	}
}

func TestNoteOwnership(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	ctx := context.Background()

	n := &UserNote{UserID: 1, TargetType: NoteTargetCharacter, TargetID: "42", Content: "mine", IncludeInContext: true}
	if err := repo.CreateNote(ctx, n); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := repo.DeleteNote(ctx, 2, n.ID); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("delete by stranger: err = %v, want ErrNotOwner", err)
	}
	if err := repo.DeleteNote(ctx, 1, n.ID); err != nil {
		t.Fatalf("delete by owner: %v", err)
	}
}
